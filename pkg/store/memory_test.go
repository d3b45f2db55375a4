package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-training/sevenpass-client/pkg/core"
)

func testRecord(clientID string) *core.TokenRecord {
	return &core.TokenRecord{
		ClientID:     clientID,
		AccessToken:  "access_" + clientID,
		RefreshToken: "refresh_" + clientID,
		IDToken:      "id_" + clientID,
		TokenType:    "Bearer",
		Scope:        "openid profile",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		UpdatedAt:    time.Now().Unix(),
	}
}

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	if store == nil {
		t.Fatal("NewMemoryStore() returned nil")
	}
	if store.tokens == nil {
		t.Error("tokens map should be initialized")
	}
}

func TestMemoryStore_SaveTokens(t *testing.T) {
	tests := []struct {
		name    string
		record  *core.TokenRecord
		wantErr error
	}{
		{
			name:    "valid record",
			record:  testRecord("client_123"),
			wantErr: nil,
		},
		{
			name:    "record without refresh token",
			record:  &core.TokenRecord{ClientID: "client_456", AccessToken: "at"},
			wantErr: nil,
		},
		{
			name:    "nil record",
			record:  nil,
			wantErr: ErrNilRecord,
		},
		{
			name:    "empty client id",
			record:  &core.TokenRecord{AccessToken: "at"},
			wantErr: ErrEmptyClientID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			err := store.SaveTokens(context.Background(), tt.record)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SaveTokens() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemoryStore_LoadTokens(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	want := testRecord("client_123")
	if err := store.SaveTokens(ctx, want); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	got, err := store.LoadTokens(ctx, "client_123")
	if err != nil {
		t.Fatalf("LoadTokens() error = %v", err)
	}
	if *got != *want {
		t.Errorf("LoadTokens() = %+v, want %+v", got, want)
	}

	// Mutating the returned record must not affect the stored copy.
	got.AccessToken = "tampered"
	again, _ := store.LoadTokens(ctx, "client_123")
	if again.AccessToken != want.AccessToken {
		t.Errorf("stored record was aliased: got %q", again.AccessToken)
	}

	if _, err := store.LoadTokens(ctx, "missing"); !errors.Is(err, ErrTokensNotFound) {
		t.Errorf("LoadTokens(missing) error = %v, want %v", err, ErrTokensNotFound)
	}
	if _, err := store.LoadTokens(ctx, ""); !errors.Is(err, ErrEmptyClientID) {
		t.Errorf("LoadTokens(\"\") error = %v, want %v", err, ErrEmptyClientID)
	}
}

func TestMemoryStore_SaveTokensReplaces(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := testRecord("client_123")
	_ = store.SaveTokens(ctx, first)

	second := testRecord("client_123")
	second.AccessToken = "rotated"
	second.RefreshToken = ""
	_ = store.SaveTokens(ctx, second)

	got, err := store.LoadTokens(ctx, "client_123")
	if err != nil {
		t.Fatalf("LoadTokens() error = %v", err)
	}
	if got.AccessToken != "rotated" || got.RefreshToken != "" {
		t.Errorf("LoadTokens() = %+v, want replaced record", got)
	}
}

func TestMemoryStore_DeleteTokens(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.SaveTokens(ctx, testRecord("client_123"))

	if err := store.DeleteTokens(ctx, "client_123"); err != nil {
		t.Fatalf("DeleteTokens() error = %v", err)
	}
	if _, err := store.LoadTokens(ctx, "client_123"); !errors.Is(err, ErrTokensNotFound) {
		t.Errorf("LoadTokens() after delete error = %v, want %v", err, ErrTokensNotFound)
	}
	if err := store.DeleteTokens(ctx, "client_123"); err != nil {
		t.Errorf("DeleteTokens() twice error = %v, want nil", err)
	}
	if err := store.DeleteTokens(ctx, ""); !errors.Is(err, ErrEmptyClientID) {
		t.Errorf("DeleteTokens(\"\") error = %v, want %v", err, ErrEmptyClientID)
	}
}

func TestMemoryStore_Concurrency(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clientID := fmt.Sprintf("client_%d", i%5)
			_ = store.SaveTokens(ctx, testRecord(clientID))
			_, _ = store.LoadTokens(ctx, clientID)
			if i%7 == 0 {
				_ = store.DeleteTokens(ctx, clientID)
			}
		}(i)
	}
	wg.Wait()
}
