package store

import (
	"context"
	"errors"
	"testing"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupRedisContainer starts a throwaway Redis and returns its redis:// URL.
// The container is terminated when the test ends.
func setupRedisContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("Failed to setup Redis container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}
	return url
}

// setupRedisStore creates a RedisStore backed by a container.
// Skip tests if Docker is not available.
func setupRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	store, err := NewRedisStoreFromOptions(RedisOptions{URL: setupRedisContainer(t)})
	if err != nil {
		t.Skipf("Redis not available, skipping test: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestRedisStore_SaveAndLoadTokens(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	want := testRecord("client_123")
	if err := store.SaveTokens(ctx, want); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}

	got, err := store.LoadTokens(ctx, "client_123")
	if err != nil {
		t.Fatalf("LoadTokens() error = %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken || got.IDToken != want.IDToken {
		t.Errorf("LoadTokens() = %+v, want %+v", got, want)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}

	// A later save must be visible through the client-side cache.
	updated := testRecord("client_123")
	updated.AccessToken = "rotated"
	if err := store.SaveTokens(ctx, updated); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}
	got, err = store.LoadTokens(ctx, "client_123")
	if err != nil {
		t.Fatalf("LoadTokens() error = %v", err)
	}
	if got.AccessToken != "rotated" {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken, "rotated")
	}
}

func TestRedisStore_Errors(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	if err := store.SaveTokens(ctx, nil); !errors.Is(err, ErrNilRecord) {
		t.Errorf("SaveTokens(nil) error = %v, want %v", err, ErrNilRecord)
	}
	if _, err := store.LoadTokens(ctx, ""); !errors.Is(err, ErrEmptyClientID) {
		t.Errorf("LoadTokens(\"\") error = %v, want %v", err, ErrEmptyClientID)
	}
	if _, err := store.LoadTokens(ctx, "missing"); !errors.Is(err, ErrTokensNotFound) {
		t.Errorf("LoadTokens(missing) error = %v, want %v", err, ErrTokensNotFound)
	}
}

func TestRedisStore_DeleteTokens(t *testing.T) {
	store := setupRedisStore(t)
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
}

func TestNewRedisStoreFromOptions_InvalidURL(t *testing.T) {
	if _, err := NewRedisStoreFromOptions(RedisOptions{URL: "http://not-redis"}); err == nil {
		t.Error("NewRedisStoreFromOptions() with a non-redis URL should fail")
	}
}

func TestRedisStore_TTLWithoutRefreshToken(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()

	record := testRecord("short_lived")
	record.RefreshToken = ""
	if err := store.SaveTokens(ctx, record); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}
	ttl, err := store.client.Do(ctx, store.client.B().Ttl().Key(tokensPrefix+"short_lived").Build()).AsInt64()
	if err != nil {
		t.Fatalf("TTL error = %v", err)
	}
	if ttl <= 0 || ttl > 3600 {
		t.Errorf("TTL = %d, want within (0, 3600]", ttl)
	}

	if err := store.SaveTokens(ctx, testRecord("long_lived")); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}
	ttl, err = store.client.Do(ctx, store.client.B().Ttl().Key(tokensPrefix+"long_lived").Build()).AsInt64()
	if err != nil {
		t.Fatalf("TTL error = %v", err)
	}
	if ttl != -1 {
		t.Errorf("TTL = %d, want -1 (no expiry)", ttl)
	}
}
