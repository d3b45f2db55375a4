package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-training/sevenpass-client/pkg/core"

	"github.com/redis/rueidis"
)

const (
	// Key prefix for Redis storage
	tokensPrefix = "tokens:"

	// client-side cache lifetime for token reads
	cacheTTL = 10 * time.Second
)

// RedisStore implements the core.TokenStore interface using Redis via rueidis.
// Token sets survive process restarts and can be shared by several instances
// of the same client.
type RedisStore struct {
	client rueidis.Client
}

// NewRedisStore creates a new instance of RedisStore with the provided rueidis client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{
		client: client,
	}
}

// RedisOptions contains configuration for Redis connection.
// URL, when set, takes precedence over the other fields.
type RedisOptions struct {
	URL      string
	Addr     string
	Password string
	DB       int
}

// NewRedisStoreFromOptions creates a new RedisStore with simplified options.
func NewRedisStoreFromOptions(opts RedisOptions) (*RedisStore, error) {
	clientOpts := rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	}
	if opts.URL != "" {
		parsed, err := rueidis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		clientOpts = parsed
	}
	return NewRedisStoreFromClientOption(clientOpts)
}

// NewRedisStoreFromClientOption creates a new RedisStore with full rueidis client options.
func NewRedisStoreFromClientOption(opts rueidis.ClientOption) (*RedisStore, error) {
	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// Close closes the Redis client connection.
func (r *RedisStore) Close() {
	r.client.Close()
}

// SaveTokens stores the token set of record.ClientID as JSON. A set without a
// refresh token expires together with its access token; otherwise the key
// carries no TTL.
func (r *RedisStore) SaveTokens(ctx context.Context, record *core.TokenRecord) error {
	if record == nil {
		return ErrNilRecord
	}
	if record.ClientID == "" {
		return ErrEmptyClientID
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}

	key := tokensPrefix + record.ClientID
	cmd := r.client.B().Set().Key(key).Value(string(data)).Build()
	if record.RefreshToken == "" && !record.ExpiresAt.IsZero() {
		ttl := time.Until(record.ExpiresAt)
		if ttl < time.Second {
			ttl = time.Second
		}
		cmd = r.client.B().Set().Key(key).Value(string(data)).ExSeconds(int64(ttl.Seconds())).Build()
	}
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save tokens to redis: %w", err)
	}
	return nil
}

// LoadTokens retrieves the token set of clientID.
// It returns ErrTokensNotFound if the key does not exist.
// Uses client-side caching; writes from any instance invalidate it.
func (r *RedisStore) LoadTokens(ctx context.Context, clientID string) (*core.TokenRecord, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}

	cmd := r.client.B().Get().Key(tokensPrefix + clientID).Cache()
	result, err := r.client.DoCache(ctx, cmd, cacheTTL).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrTokensNotFound
		}
		return nil, fmt.Errorf("failed to get tokens from redis: %w", err)
	}

	var record core.TokenRecord
	if err := json.Unmarshal([]byte(result), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	return &record, nil
}

// DeleteTokens removes the token set of clientID. Deleting a missing set is not an error.
func (r *RedisStore) DeleteTokens(ctx context.Context, clientID string) error {
	if clientID == "" {
		return ErrEmptyClientID
	}

	cmd := r.client.B().Del().Key(tokensPrefix + clientID).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete tokens from redis: %w", err)
	}
	return nil
}
