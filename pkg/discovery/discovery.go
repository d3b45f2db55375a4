// Package discovery resolves and caches OpenID Connect provider metadata.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-training/sevenpass-client/pkg/core"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// WellKnownPath is appended to the issuer to locate the metadata document.
const WellKnownPath = "/.well-known/openid-configuration"

const defaultTimeout = 30 * time.Second

// HTTPDoer is the HTTP transport used to fetch metadata. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProviderConfiguration is the endpoint set advertised by an issuer. It is
// never mutated after the resolver returns it.
type ProviderConfiguration struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
}

// SupportsRevocation reports whether the provider exposes a revocation endpoint.
func (c ProviderConfiguration) SupportsRevocation() bool {
	return c.RevocationEndpoint != ""
}

// SupportsEndSession reports whether the provider exposes an end-session endpoint.
func (c ProviderConfiguration) SupportsEndSession() bool {
	return c.EndSessionEndpoint != ""
}

// Validate checks the required endpoints are present.
func (c ProviderConfiguration) Validate() error {
	var missing []string
	if c.AuthorizationEndpoint == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if c.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingEndpoint, strings.Join(missing, ", "))
	}
	return nil
}

// Resolver fetches provider metadata and caches it per issuer for the
// lifetime of the process.
type Resolver struct {
	httpClient   HTTPDoer
	fetchTimeout time.Duration

	mu    sync.RWMutex
	cache map[string]ProviderConfiguration
	group singleflight.Group
}

// NewResolver creates a Resolver. A nil httpClient uses an *http.Client with a
// 30 second timeout.
func NewResolver(httpClient HTTPDoer) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Resolver{
		httpClient:   httpClient,
		fetchTimeout: defaultTimeout,
		cache:        make(map[string]ProviderConfiguration),
	}
}

// Static seeds the cache with a configuration so Resolve never fetches it.
func (r *Resolver) Static(cfg ProviderConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return &Error{Issuer: cfg.Issuer, Err: err}
	}
	r.mu.Lock()
	r.cache[normalizeIssuer(cfg.Issuer)] = cfg
	r.mu.Unlock()
	return nil
}

// Resolve returns the configuration for issuer, fetching the metadata document
// on first use. Concurrent first calls for one issuer share a single fetch.
func (r *Resolver) Resolve(ctx context.Context, issuer string) (ProviderConfiguration, error) {
	key := normalizeIssuer(issuer)
	if key == "" {
		return ProviderConfiguration{}, &Error{Issuer: issuer, Err: ErrInvalidIssuer}
	}

	r.mu.RLock()
	cfg, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	// The fetch outlives any single caller so one cancellation does not fail
	// the others waiting on it.
	ch := r.group.DoChan(key, func() (any, error) {
		r.mu.RLock()
		cached, ok := r.cache[key]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()
		fetched, err := r.fetch(fetchCtx, key)
		if err != nil {
			return ProviderConfiguration{}, err
		}

		r.mu.Lock()
		r.cache[key] = fetched
		r.mu.Unlock()
		return fetched, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return ProviderConfiguration{}, res.Err
		}
		return res.Val.(ProviderConfiguration), nil
	case <-ctx.Done():
		return ProviderConfiguration{}, &Error{Issuer: key, Err: fmt.Errorf("%w: %v", ErrUnreachable, ctx.Err())}
	}
}

func (r *Resolver) fetch(ctx context.Context, issuer string) (cfg ProviderConfiguration, err error) {
	ctx, span := core.StartSpan(ctx, "discovery.fetch", attribute.String("oidc.issuer", issuer))
	defer func() { core.EndSpan(span, err) }()

	logger := core.LoggerFromCtx(ctx)
	logger.Debug("Fetching discovery document", "issuer", issuer)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+WellKnownPath, nil)
	if err != nil {
		return cfg, &Error{Issuer: issuer, Err: fmt.Errorf("%w: %v", ErrInvalidIssuer, err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return cfg, &Error{Issuer: issuer, Err: fmt.Errorf("%w: %v", ErrUnreachable, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cfg, &Error{Issuer: issuer, Err: fmt.Errorf("%w: failed to read body: %v", ErrUnreachable, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return cfg, &Error{Issuer: issuer, StatusCode: resp.StatusCode, Err: ErrStatus}
	}

	if err := json.Unmarshal(body, &cfg); err != nil {
		return cfg, &Error{Issuer: issuer, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if cfg.Issuer == "" {
		cfg.Issuer = issuer
	}
	if err := cfg.Validate(); err != nil {
		return ProviderConfiguration{}, &Error{Issuer: issuer, Err: err}
	}

	logger.Info("Discovery document resolved",
		"issuer", cfg.Issuer,
		"revocation_supported", cfg.SupportsRevocation(),
		"end_session_supported", cfg.SupportsEndSession(),
	)
	return cfg, nil
}

func normalizeIssuer(issuer string) string {
	return strings.TrimRight(strings.TrimSpace(issuer), "/")
}
