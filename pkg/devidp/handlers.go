package devidp

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const codeTTL = 10 * time.Minute

type metadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	EndSessionEndpoint            string   `json:"end_session_endpoint"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	ScopesSupported               []string `json:"scopes_supported"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func (p *Provider) issuer(c *gin.Context) string {
	if p.opts.Issuer != "" {
		return strings.TrimRight(p.opts.Issuer, "/")
	}
	return "http://" + c.Request.Host
}

func (p *Provider) handleDiscovery(c *gin.Context) {
	iss := p.issuer(c)
	c.JSON(http.StatusOK, metadata{
		Issuer:                        iss,
		AuthorizationEndpoint:         iss + PathAuthorize,
		TokenEndpoint:                 iss + PathToken,
		RevocationEndpoint:            iss + PathRevoke,
		EndSessionEndpoint:            iss + PathEndSession,
		UserinfoEndpoint:              iss + PathUserinfo,
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported: []string{"S256"},
		ScopesSupported:               []string{"openid", "offline_access", "profile", "email"},
	})
}

// handleAuthorize approves every valid request at once. Errors found before
// the redirect URI is trusted are answered directly; later ones go back to
// the client.
func (p *Provider) handleAuthorize(c *gin.Context) {
	clientID := c.Query("client_id")
	redirectURI := c.Query("redirect_uri")
	state := c.Query("state")

	if clientID != p.opts.ClientID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_client"})
		return
	}
	if !isValidRedirectURI(redirectURI, p.opts.RedirectURIs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "redirect_uri not allowed"})
		return
	}

	if c.Query("response_type") != "code" {
		p.redirect(c, redirectURI, url.Values{"error": {"unsupported_response_type"}, "state": {state}})
		return
	}
	challenge := c.Query("code_challenge")
	if challenge == "" || c.Query("code_challenge_method") != "S256" {
		p.redirect(c, redirectURI, url.Values{
			"error":             {"invalid_request"},
			"error_description": {"S256 code_challenge required"},
			"state":             {state},
		})
		return
	}

	code := generateToken()
	p.mu.Lock()
	p.codes[code] = authCode{
		redirectURI:   redirectURI,
		codeChallenge: challenge,
		scope:         c.Query("scope"),
		expiresAt:     p.now().Add(codeTTL),
	}
	p.mu.Unlock()

	slog.Debug("Authorization approved", "client_id", clientID, "scope", c.Query("scope"))
	p.redirect(c, redirectURI, url.Values{"code": {code}, "state": {state}})
}

func (p *Provider) handleToken(c *gin.Context) {
	if c.PostForm("client_id") != p.opts.ClientID {
		tokenError(c, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}
	switch c.PostForm("grant_type") {
	case "authorization_code":
		p.exchangeCode(c)
	case "refresh_token":
		p.refreshToken(c)
	default:
		tokenError(c, http.StatusBadRequest, "unsupported_grant_type", "")
	}
}

func (p *Provider) exchangeCode(c *gin.Context) {
	code := c.PostForm("code")

	// Codes are single use, even when the exchange fails.
	p.mu.Lock()
	ac, ok := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()

	switch {
	case !ok || !p.now().Before(ac.expiresAt):
		tokenError(c, http.StatusBadRequest, "invalid_grant", "unknown or expired code")
		return
	case ac.redirectURI != c.PostForm("redirect_uri"):
		tokenError(c, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	case oauth2.S256ChallengeFromVerifier(c.PostForm("code_verifier")) != ac.codeChallenge:
		tokenError(c, http.StatusBadRequest, "invalid_grant", "code_verifier mismatch")
		return
	}

	resp, err := p.issue(c, ac.scope, true)
	if err != nil {
		tokenError(c, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (p *Provider) refreshToken(c *gin.Context) {
	rt := c.PostForm("refresh_token")

	p.mu.Lock()
	s, ok := p.refresh[rt]
	if ok && p.opts.RotateRefreshTokens {
		delete(p.refresh, rt)
	}
	p.mu.Unlock()
	if !ok {
		tokenError(c, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
		return
	}

	resp, err := p.issue(c, s.scope, p.opts.RotateRefreshTokens)
	if err != nil {
		tokenError(c, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

// issue mints an access token and, on request, a refresh token and ID token.
func (p *Provider) issue(c *gin.Context, scope string, withRefresh bool) (tokenResponse, error) {
	now := p.now()
	resp := tokenResponse{
		AccessToken: generateToken(),
		TokenType:   "Bearer",
		ExpiresIn:   int64(p.opts.AccessTokenTTL / time.Second),
		Scope:       scope,
	}
	s := session{subject: p.opts.Subject, scope: scope, expiresAt: now.Add(p.opts.AccessTokenTTL)}

	scopes := strings.Fields(scope)
	if withRefresh && slices.Contains(scopes, "offline_access") {
		resp.RefreshToken = generateToken()
	}
	if withRefresh && slices.Contains(scopes, "openid") {
		idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss":   p.issuer(c),
			"sub":   p.opts.Subject,
			"aud":   p.opts.ClientID,
			"email": p.opts.Email,
			"iat":   now.Unix(),
			"exp":   now.Add(p.opts.AccessTokenTTL).Unix(),
		}).SignedString(p.opts.SigningKey)
		if err != nil {
			return tokenResponse{}, err
		}
		resp.IDToken = idToken
	}

	p.mu.Lock()
	p.access[resp.AccessToken] = s
	if resp.RefreshToken != "" {
		p.refresh[resp.RefreshToken] = s
	}
	p.mu.Unlock()
	return resp, nil
}

// handleRevoke follows RFC 7009: unknown tokens are not an error.
func (p *Provider) handleRevoke(c *gin.Context) {
	if c.PostForm("client_id") != p.opts.ClientID {
		tokenError(c, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}
	tok := c.PostForm("token")
	p.mu.Lock()
	_, isAccess := p.access[tok]
	_, isRefresh := p.refresh[tok]
	if isAccess || isRefresh {
		delete(p.access, tok)
		delete(p.refresh, tok)
		p.revoked[tok] = struct{}{}
	}
	p.mu.Unlock()
	slog.Debug("Token revocation", "hint", c.PostForm("token_type_hint"), "known", isAccess || isRefresh)
	c.Status(http.StatusOK)
}

func (p *Provider) handleEndSession(c *gin.Context) {
	hint := c.Query("id_token_hint")
	if hint != "" {
		_, err := jwt.Parse(hint, func(*jwt.Token) (any, error) { return p.opts.SigningKey, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "invalid id_token_hint"})
			return
		}
	}

	target := c.Query("post_logout_redirect_uri")
	if target == "" {
		c.String(http.StatusOK, "Signed out")
		return
	}
	if !isValidRedirectURI(target, p.opts.RedirectURIs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "post_logout_redirect_uri not allowed"})
		return
	}
	params := url.Values{}
	if state := c.Query("state"); state != "" {
		params.Set("state", state)
	}
	p.redirect(c, target, params)
}

func (p *Provider) handleUserinfo(c *gin.Context) {
	s := c.MustGet(sessionKey).(session)
	claims := gin.H{"sub": s.subject}
	if slices.Contains(strings.Fields(s.scope), "email") && p.opts.Email != "" {
		claims["email"] = p.opts.Email
	}
	c.JSON(http.StatusOK, claims)
}

func (p *Provider) handleAccount(c *gin.Context) {
	s := c.MustGet(sessionKey).(session)
	c.JSON(http.StatusOK, gin.H{
		"id":    s.subject,
		"email": p.opts.Email,
	})
}

func (p *Provider) redirect(c *gin.Context, target string, params url.Values) {
	u, err := url.Parse(target)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			if v != "" {
				q.Add(k, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}

func tokenError(c *gin.Context, status int, code, description string) {
	body := gin.H{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	c.JSON(status, body)
}

func isValidRedirectURI(redirectURI string, allowedURIs []string) bool {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}

	for _, allowed := range allowedURIs {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}

		if u.Scheme == allowedURL.Scheme &&
			u.Host == allowedURL.Host &&
			strings.HasPrefix(u.Path, allowedURL.Path) {
			return true
		}
	}

	return false
}
