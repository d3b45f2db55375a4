// Package logout revokes the held tokens and ends the provider session.
package logout

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-training/sevenpass-client/pkg/core"
	"github.com/go-training/sevenpass-client/pkg/discovery"
	"github.com/go-training/sevenpass-client/pkg/flow"
	"github.com/go-training/sevenpass-client/pkg/token"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const defaultRevokeTimeout = 30 * time.Second

// Token type hints sent to the revocation endpoint (RFC 7009).
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// HTTPDoer is the HTTP transport used for revocation. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenHolder is the token state logout reads and clears. *token.Manager
// satisfies it.
type TokenHolder interface {
	Snapshot() (token.Set, bool)
	Clear(ctx context.Context)
}

// EndSessionStarter presents an end-session request. *flow.Coordinator
// satisfies it.
type EndSessionStarter interface {
	StartEndSession(ctx context.Context, cfg discovery.ProviderConfiguration, clientID, idToken, postLogoutRedirectURI string) (*flow.PendingFlow, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHTTPClient sets the transport used for revocation.
func WithHTTPClient(c HTTPDoer) Option {
	return func(co *Coordinator) { co.httpClient = c }
}

// WithRevokeTimeout bounds the background revocation requests.
func WithRevokeTimeout(d time.Duration) Option {
	return func(co *Coordinator) { co.revokeTimeout = d }
}

// Coordinator logs the user out.
type Coordinator struct {
	tokens        TokenHolder
	flows         EndSessionStarter
	httpClient    HTTPDoer
	revokeTimeout time.Duration
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(tokens TokenHolder, flows EndSessionStarter, opts ...Option) *Coordinator {
	c := &Coordinator{
		tokens:        tokens,
		flows:         flows,
		revokeTimeout: defaultRevokeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.revokeTimeout}
	}
	return c
}

// Result is the outcome of Logout. EndSession is nil when no end-session
// flow was started.
type Result struct {
	EndSession *flow.PendingFlow

	done chan struct{}
	err  error
}

// WaitRevocations blocks until the background revocations finish and returns
// the first failure. Failures are already logged; callers need not wait.
func (r *Result) WaitRevocations(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Logout clears the local token set, revokes the tokens it held in the
// background and, when an ID token was held and the provider supports it,
// starts an end-session flow. Revocation never delays the end-session flow.
func (c *Coordinator) Logout(ctx context.Context, cfg discovery.ProviderConfiguration, clientID, postLogoutRedirectURI string) (*Result, error) {
	logger := core.LoggerFromCtx(ctx)

	set, held := c.tokens.Snapshot()
	c.tokens.Clear(ctx)

	res := &Result{done: make(chan struct{})}
	c.revokeAll(ctx, cfg, clientID, set, held, res)

	if !held || set.IDToken == "" || !cfg.SupportsEndSession() {
		logger.Info("Logged out locally", "end_session", false)
		return res, nil
	}

	f, err := c.flows.StartEndSession(ctx, cfg, clientID, set.IDToken, postLogoutRedirectURI)
	if err != nil {
		logger.Error("Failed to start end session flow", "error", err)
		return res, fmt.Errorf("failed to start end session: %w", err)
	}
	res.EndSession = f
	logger.Info("Logged out locally", "end_session", true, "flow_id", f.ID)
	return res, nil
}

func (c *Coordinator) revokeAll(ctx context.Context, cfg discovery.ProviderConfiguration, clientID string, set token.Set, held bool, res *Result) {
	if !held || !cfg.SupportsRevocation() {
		close(res.done)
		return
	}

	// Revocation outlives the caller's context.
	revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.revokeTimeout)

	var g errgroup.Group
	if set.AccessToken != "" {
		g.Go(func() error {
			return c.revoke(revokeCtx, cfg.RevocationEndpoint, clientID, set.AccessToken, HintAccessToken)
		})
	}
	if set.RefreshToken != "" {
		g.Go(func() error {
			return c.revoke(revokeCtx, cfg.RevocationEndpoint, clientID, set.RefreshToken, HintRefreshToken)
		})
	}

	go func() {
		defer cancel()
		res.err = g.Wait()
		close(res.done)
	}()
}

func (c *Coordinator) revoke(ctx context.Context, endpoint, clientID, tok, hint string) (err error) {
	ctx, span := core.StartSpan(ctx, "logout.revoke", attribute.String("oauth.token_type_hint", hint))
	defer func() { core.EndSpan(span, err) }()
	logger := core.LoggerFromCtx(ctx)

	data := url.Values{}
	data.Set("token", tok)
	data.Set("token_type_hint", hint)
	data.Set("client_id", clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("Token revocation failed", "hint", hint, "error", err)
		return fmt.Errorf("failed to revoke %s: %w", hint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("Token revocation rejected", "hint", hint, "status", resp.StatusCode)
		return fmt.Errorf("failed to revoke %s: status %d", hint, resp.StatusCode)
	}
	logger.Debug("Token revoked", "hint", hint, "token", core.MaskToken(tok))
	return nil
}
