package core

import (
	"context"
	"time"
)

// TokenRecord is the persisted form of a token set.
type TokenRecord struct {
	ClientID     string    `json:"client_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UpdatedAt    int64     `json:"updated_at"`
}

// TokenStore defines the interface for persisting the token set of a client.
type TokenStore interface {
	SaveTokens(ctx context.Context, record *TokenRecord) error
	LoadTokens(ctx context.Context, clientID string) (*TokenRecord, error)
	DeleteTokens(ctx context.Context, clientID string) error
}
