// Package devidp is a small OpenID Connect provider for local development and
// end-to-end tests. It signs every user in without a prompt, supports the
// authorization code flow with S256 PKCE only, and keeps all state in memory.
package devidp

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Endpoint paths relative to the issuer.
const (
	PathDiscovery  = "/.well-known/openid-configuration"
	PathAuthorize  = "/authorize"
	PathToken      = "/token"
	PathRevoke     = "/revoke"
	PathEndSession = "/end_session"
	PathUserinfo   = "/userinfo"
	PathAccount    = "/api/accounts/me"
)

// Options configures a Provider.
type Options struct {
	// Issuer is advertised in discovery and ID tokens. Empty derives it from
	// the request host.
	Issuer string
	// ClientID is the only client accepted.
	ClientID string
	// RedirectURIs lists allowed redirect and post-logout redirect URIs by
	// scheme, host and path prefix.
	RedirectURIs []string
	// Subject and Email describe the user every login signs in as.
	Subject string
	Email   string
	// AccessTokenTTL is the access token lifetime. Defaults to one hour.
	AccessTokenTTL time.Duration
	// RotateRefreshTokens issues a new refresh token on every refresh instead
	// of omitting it from the response.
	RotateRefreshTokens bool
	// SigningKey signs ID tokens with HS256. Random when empty.
	SigningKey []byte
}

type authCode struct {
	redirectURI   string
	codeChallenge string
	scope         string
	expiresAt     time.Time
}

type session struct {
	subject   string
	scope     string
	expiresAt time.Time
}

// Provider serves the provider endpoints.
type Provider struct {
	opts   Options
	router *gin.Engine
	now    func() time.Time

	mu      sync.Mutex
	codes   map[string]authCode
	access  map[string]session
	refresh map[string]session
	revoked map[string]struct{}
}

// New creates a Provider.
func New(opts Options) *Provider {
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = time.Hour
	}
	if opts.Subject == "" {
		opts.Subject = "dev-user"
	}
	if len(opts.SigningKey) == 0 {
		opts.SigningKey = []byte(generateToken())
	}

	p := &Provider{
		opts:    opts,
		now:     time.Now,
		codes:   make(map[string]authCode),
		access:  make(map[string]session),
		refresh: make(map[string]session),
		revoked: make(map[string]struct{}),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(PathDiscovery, p.handleDiscovery)
	r.GET(PathAuthorize, p.handleAuthorize)
	r.POST(PathToken, noStore, p.handleToken)
	r.POST(PathRevoke, p.handleRevoke)
	r.GET(PathEndSession, p.handleEndSession)

	api := r.Group("/", p.bearerAuth)
	{
		api.GET(PathUserinfo, p.handleUserinfo)
		api.GET(PathAccount, p.handleAccount)
	}
	p.router = r
	return p
}

// Handler returns the provider's HTTP handler.
func (p *Provider) Handler() http.Handler {
	return p.router
}

// Revoked reports whether tok was revoked.
func (p *Provider) Revoked(tok string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.revoked[tok]
	return ok
}

// ExpireAccessTokens makes every issued access token expired, forcing
// clients to refresh.
func (p *Provider) ExpireAccessTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	past := p.now().Add(-time.Second)
	for tok, s := range p.access {
		s.expiresAt = past
		p.access[tok] = s
	}
}

func generateToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
