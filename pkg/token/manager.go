package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-training/sevenpass-client/pkg/core"
	"github.com/go-training/sevenpass-client/pkg/store"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const defaultRefreshTimeout = 30 * time.Second

// Refresher trades a refresh token for a new token response.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Response, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithSkew treats access tokens as expired this long before their expiry.
func WithSkew(skew time.Duration) Option {
	return func(m *Manager) { m.skew = skew }
}

// WithPolicy sets the refresh token retention policy.
func WithPolicy(p RefreshTokenPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithStore persists the token set after every change.
func WithStore(s core.TokenStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRefreshTimeout bounds a single refresh round trip.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) { m.refreshTimeout = d }
}

// Manager is the only owner of the token set. All reads go through
// AccessToken or Snapshot and all writes through Apply or Clear.
type Manager struct {
	clientID       string
	refresher      Refresher
	store          core.TokenStore
	skew           time.Duration
	policy         RefreshTokenPolicy
	refreshTimeout time.Duration
	now            func() time.Time

	mu  sync.RWMutex
	set *Set
	// version increments on every Apply and Clear. A refresh only commits
	// when the version it started from is still current.
	version uint64

	group singleflight.Group
}

// NewManager creates an empty Manager for clientID.
func NewManager(clientID string, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		clientID:       clientID,
		refresher:      refresher,
		refreshTimeout: defaultRefreshTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetRefresher replaces the refresher, e.g. once discovery has resolved the
// token endpoint.
func (m *Manager) SetRefresher(r Refresher) {
	m.mu.Lock()
	m.refresher = r
	m.mu.Unlock()
}

// Snapshot returns a copy of the held set and whether one is held.
func (m *Manager) Snapshot() (Set, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.set == nil {
		return Set{}, false
	}
	return *m.set, true
}

// AccessToken returns a valid access token, refreshing first when the held one
// is missing or expired. Concurrent callers share a single refresh.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	set := m.set
	m.mu.RUnlock()

	if set != nil && !set.Expired(m.now(), m.skew) {
		return set.AccessToken, nil
	}
	if set == nil || set.RefreshToken == "" {
		return "", &Error{Kind: ReauthRequired, Reason: "no refresh token held"}
	}

	ch := m.group.DoChan("refresh", func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.refresh(refreshCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &Error{Kind: RefreshFailed, Reason: "waiting for refresh", Err: ctx.Err()}
	}
}

func (m *Manager) refresh(ctx context.Context) (accessToken string, err error) {
	m.mu.RLock()
	cur := m.set
	version := m.version
	refresher := m.refresher
	m.mu.RUnlock()

	if cur == nil || cur.RefreshToken == "" {
		return "", &Error{Kind: ReauthRequired, Reason: "no refresh token held"}
	}
	// A refresh that finished just before this one was scheduled already did the work.
	if !cur.Expired(m.now(), m.skew) {
		return cur.AccessToken, nil
	}
	if refresher == nil {
		return "", &Error{Kind: RefreshFailed, Reason: "no refresher configured"}
	}

	ctx, span := core.StartSpan(ctx, "token.refresh", attribute.String("oauth.client_id", m.clientID))
	defer func() { core.EndSpan(span, err) }()
	logger := core.LoggerFromCtx(ctx)

	resp, err := refresher.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		var srvErr *ServerError
		if errors.As(err, &srvErr) && srvErr.Unrecoverable() {
			logger.Warn("Refresh token rejected, clearing token set", "error", err)
			m.clearIfVersion(ctx, version)
			return "", &Error{Kind: ReauthRequired, Reason: "refresh token rejected", Err: &Error{Kind: RefreshFailed, Err: err}}
		}
		logger.Error("Token refresh failed", "error", err)
		return "", &Error{Kind: RefreshFailed, Err: err}
	}

	next, err := m.merge(cur, resp)
	if err != nil {
		return "", &Error{Kind: RefreshFailed, Err: err}
	}

	m.mu.Lock()
	if m.version != version {
		live := m.set
		m.mu.Unlock()
		if live == nil {
			return "", &Error{Kind: ReauthRequired, Reason: "token set cleared during refresh"}
		}
		// A newer set was applied while the refresh was in flight; it wins.
		logger.Debug("Discarding refresh result superseded by a newer token set")
		return live.AccessToken, nil
	}
	m.set = next
	m.version++
	m.mu.Unlock()

	m.persist(ctx, *next)
	logger.Info("Access token refreshed", "expires_at", next.Expiry)
	return next.AccessToken, nil
}

// Apply merges a token endpoint response into the held set. The access token
// and expiry always replace; the ID token replaces when present; the refresh
// token replaces when present and is otherwise handled by the policy. A
// response without an access token is rejected and leaves the set untouched.
func (m *Manager) Apply(ctx context.Context, resp Response) error {
	m.mu.Lock()
	next, err := m.merge(m.set, resp)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.set = next
	m.version++
	m.mu.Unlock()

	m.persist(ctx, *next)
	return nil
}

func (m *Manager) merge(cur *Set, resp Response) (*Set, error) {
	if resp.AccessToken == "" {
		return nil, ErrEmptyAccessToken
	}

	next := Set{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		Scope:       resp.Scope,
		Expiry:      resp.ExpiryFrom(m.now()),
	}
	if cur != nil {
		next.IDToken = cur.IDToken
		if next.Scope == "" {
			next.Scope = cur.Scope
		}
		if m.policy == RetainRefreshToken {
			next.RefreshToken = cur.RefreshToken
		}
	}
	if resp.IDToken != "" {
		next.IDToken = resp.IDToken
	}
	if resp.RefreshToken != "" {
		next.RefreshToken = resp.RefreshToken
	}
	return &next, nil
}

// Clear discards the held set and deletes any persisted copy.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	m.set = nil
	m.version++
	m.mu.Unlock()

	m.deletePersisted(ctx)
}

func (m *Manager) clearIfVersion(ctx context.Context, version uint64) {
	m.mu.Lock()
	if m.version != version {
		m.mu.Unlock()
		return
	}
	m.set = nil
	m.version++
	m.mu.Unlock()

	m.deletePersisted(ctx)
}

// Restore loads a persisted set, if a store is configured and holds one. An
// empty store is not an error.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	if m.store == nil {
		return false, nil
	}
	rec, err := m.store.LoadTokens(ctx, m.clientID)
	if errors.Is(err, store.ErrTokensNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load tokens: %w", err)
	}
	if rec == nil || rec.AccessToken == "" {
		return false, nil
	}
	set := setFromRecord(rec)
	m.mu.Lock()
	m.set = &set
	m.version++
	m.mu.Unlock()
	return true, nil
}

func (m *Manager) persist(ctx context.Context, set Set) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveTokens(ctx, set.record(m.clientID)); err != nil {
		core.LoggerFromCtx(ctx).Error("Failed to persist token set", "error", err)
	}
}

func (m *Manager) deletePersisted(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.store.DeleteTokens(ctx, m.clientID); err != nil {
		core.LoggerFromCtx(ctx).Warn("Failed to delete persisted token set", "error", err)
	}
}

// Token implements oauth2.TokenSource.
func (m *Manager) Token() (*oauth2.Token, error) {
	if _, err := m.AccessToken(context.Background()); err != nil {
		return nil, err
	}
	set, ok := m.Snapshot()
	if !ok {
		return nil, &Error{Kind: ReauthRequired, Reason: "token set cleared"}
	}
	return set.OAuth2(), nil
}

// IDTokenClaims decodes the claims of the held ID token without verifying its
// signature. It is meant for display only.
func (m *Manager) IDTokenClaims() (jwt.MapClaims, error) {
	set, ok := m.Snapshot()
	if !ok || set.IDToken == "" {
		return nil, errors.New("no id token held")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(set.IDToken, claims); err != nil {
		return nil, fmt.Errorf("failed to decode id token: %w", err)
	}
	return claims, nil
}
