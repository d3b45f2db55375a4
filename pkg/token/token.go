// Package token owns the client's token set: it applies token endpoint
// responses, hands out valid access tokens and refreshes them transparently.
package token

import (
	"strings"
	"time"

	"github.com/go-training/sevenpass-client/pkg/core"

	"golang.org/x/oauth2"
)

// Set is the token set held after a successful exchange or refresh.
type Set struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Scope        string
	Expiry       time.Time
}

// Expired reports whether the access token is missing or expires within skew
// of now. A zero Expiry means the provider gave no lifetime.
func (s Set) Expired(now time.Time, skew time.Duration) bool {
	if s.AccessToken == "" {
		return true
	}
	if s.Expiry.IsZero() {
		return false
	}
	return !now.Add(skew).Before(s.Expiry)
}

// OAuth2 converts the set into an *oauth2.Token.
func (s Set) OAuth2() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    s.TokenType,
		RefreshToken: s.RefreshToken,
		Expiry:       s.Expiry,
	}
	if s.IDToken != "" {
		tok = tok.WithExtra(map[string]any{"id_token": s.IDToken})
	}
	return tok
}

func (s Set) record(clientID string) *core.TokenRecord {
	return &core.TokenRecord{
		ClientID:     clientID,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		IDToken:      s.IDToken,
		TokenType:    s.TokenType,
		Scope:        s.Scope,
		ExpiresAt:    s.Expiry,
		UpdatedAt:    time.Now().Unix(),
	}
}

func setFromRecord(r *core.TokenRecord) Set {
	return Set{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		IDToken:      r.IDToken,
		TokenType:    r.TokenType,
		Scope:        r.Scope,
		Expiry:       r.ExpiresAt,
	}
}

// Response is a decoded token endpoint response. Optional fields are empty
// when the server omitted them.
type Response struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	Expiry       time.Time `json:"-"`
}

// ExpiryFrom resolves the absolute expiry of the response relative to now.
func (r Response) ExpiryFrom(now time.Time) time.Time {
	if !r.Expiry.IsZero() {
		return r.Expiry
	}
	if r.ExpiresIn > 0 {
		return now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return time.Time{}
}

// FromOAuth2 converts a token returned by golang.org/x/oauth2 into a Response,
// picking id_token and scope out of the raw extras.
func FromOAuth2(tok *oauth2.Token) Response {
	resp := Response{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	return resp
}

// RefreshTokenPolicy decides what happens to the held refresh token when a
// refresh response omits one.
type RefreshTokenPolicy int

const (
	// RetainRefreshToken keeps the previous refresh token (provider reuses tokens).
	RetainRefreshToken RefreshTokenPolicy = iota
	// RotateRefreshToken drops it (provider rotates and omission means none granted).
	RotateRefreshToken
)

// ParsePolicy parses "retain" or "rotate"; anything else yields RetainRefreshToken.
func ParsePolicy(s string) RefreshTokenPolicy {
	if strings.EqualFold(strings.TrimSpace(s), "rotate") {
		return RotateRefreshToken
	}
	return RetainRefreshToken
}

func (p RefreshTokenPolicy) String() string {
	if p == RotateRefreshToken {
		return "rotate"
	}
	return "retain"
}
