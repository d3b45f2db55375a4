package devidp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-training/sevenpass-client/pkg/apiclient"
	"github.com/go-training/sevenpass-client/pkg/discovery"
	"github.com/go-training/sevenpass-client/pkg/flow"
	"github.com/go-training/sevenpass-client/pkg/logout"
	"github.com/go-training/sevenpass-client/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testClientID     = "5913340f857a8245576ca7fd"
	testRedirectURI  = "http://127.0.0.1:8085/cb/authz"
	testLogoutURI    = "http://127.0.0.1:8085/cb/end_session"
	testAllowedBase  = "http://127.0.0.1:8085/cb/"
	testSubject      = "42"
	testEmail        = "jane@example.com"
	testFlowDeadline = 5 * time.Second
)

func newTestProvider(t *testing.T, opts Options) (*Provider, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	opts.ClientID = testClientID
	opts.RedirectURIs = []string{testAllowedBase}
	opts.Subject = testSubject
	opts.Email = testEmail
	p := New(opts)
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)
	return p, srv
}

func noRedirect(srv *httptest.Server) *http.Client {
	c := *srv.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &c
}

// browser plays the user agent: it follows the presented URL to the
// provider and hands the redirect back to the coordinator.
type browser struct {
	client *http.Client
	flows  *flow.Coordinator
	errs   chan error
}

func (b *browser) Present(_ context.Context, u string) error {
	go func() {
		resp, err := b.client.Get(u)
		if err != nil {
			b.errs <- err
			return
		}
		resp.Body.Close()
		_, _, err = b.flows.ResumeURL(resp.Header.Get("Location"))
		if err != nil {
			b.errs <- err
		}
	}()
	return nil
}

func (b *browser) Dismiss(context.Context) error { return nil }

func wait(t *testing.T, flows *flow.Coordinator, f *flow.PendingFlow, b *browser) flow.AuthorizationResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testFlowDeadline)
	defer cancel()
	resp, err := flows.Wait(ctx, f)
	if err != nil {
		select {
		case berr := <-b.errs:
			t.Fatalf("browser: %v", berr)
		default:
		}
	}
	require.NoError(t, err)
	return resp
}

func TestEndToEnd(t *testing.T) {
	idp, srv := newTestProvider(t, Options{})
	ctx := context.Background()

	provider, err := discovery.NewResolver(srv.Client()).Resolve(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, provider.Issuer)
	assert.True(t, provider.SupportsRevocation())
	assert.True(t, provider.SupportsEndSession())

	b := &browser{client: noRedirect(srv), errs: make(chan error, 2)}
	flows := flow.NewCoordinator(b, flow.WithHTTPClient(srv.Client()))
	b.flows = flows

	f, err := flows.StartLogin(ctx, provider, flow.LoginParams{
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
		Scopes:      []string{"openid", "offline_access", "email"},
	})
	require.NoError(t, err)
	resp := wait(t, flows, f, b)

	tr, err := flows.Exchange(ctx, provider, f, resp)
	require.NoError(t, err)
	require.NotEmpty(t, tr.RefreshToken)
	require.NotEmpty(t, tr.IDToken)

	var offset atomic.Int64
	clock := func() time.Time { return time.Now().Add(time.Duration(offset.Load())) }
	tokens := token.NewManager(testClientID,
		token.NewHTTPRefresher(srv.Client(), provider.TokenEndpoint, testClientID),
		token.WithClock(clock),
	)
	require.NoError(t, tokens.Apply(ctx, tr))

	claims, err := tokens.IDTokenClaims()
	require.NoError(t, err)
	sub, _ := claims.GetSubject()
	assert.Equal(t, testSubject, sub)

	api, err := apiclient.New(tokens, provider, apiclient.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	me, err := api.Get(ctx, "api/accounts/me", nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42","email":"jane@example.com"}`, string(me.Body))

	info, err := api.Get(ctx, provider.UserinfoEndpoint, nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sub":"42","email":"jane@example.com"}`, string(info.Body))

	// The provider expired the token before the client noticed.
	idp.ExpireAccessTokens()
	_, err = api.Get(ctx, "api/accounts/me", nil, nil)
	assert.ErrorIs(t, err, apiclient.ErrUnauthorized)

	// Once the client sees it expired too, it refreshes first.
	before, _ := tokens.Snapshot()
	offset.Store(int64(2 * time.Hour))
	_, err = api.Get(ctx, "api/accounts/me", nil, nil)
	require.NoError(t, err)
	after, ok := tokens.Snapshot()
	require.True(t, ok)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.Equal(t, before.RefreshToken, after.RefreshToken, "omitted refresh token is retained")
	assert.Equal(t, before.IDToken, after.IDToken)
	offset.Store(0)

	lo := logout.NewCoordinator(tokens, flows, logout.WithHTTPClient(srv.Client()))
	res, err := lo.Logout(ctx, provider, testClientID, testLogoutURI)
	require.NoError(t, err)
	require.NotNil(t, res.EndSession)
	wait(t, flows, res.EndSession, b)

	waitCtx, cancel := context.WithTimeout(ctx, testFlowDeadline)
	defer cancel()
	require.NoError(t, res.WaitRevocations(waitCtx))
	assert.True(t, idp.Revoked(after.AccessToken))
	assert.True(t, idp.Revoked(after.RefreshToken))

	_, held := tokens.Snapshot()
	assert.False(t, held)
	_, err = api.Get(ctx, "api/accounts/me", nil, nil)
	assert.ErrorIs(t, err, apiclient.ErrAuthFailed)
}

func authorize(t *testing.T, srv *httptest.Server, params url.Values) *http.Response {
	t.Helper()
	resp, err := noRedirect(srv).Get(srv.URL + PathAuthorize + "?" + params.Encode())
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func authorizeParams(verifier string) url.Values {
	return url.Values{
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"response_type":         {"code"},
		"scope":                 {"openid offline_access"},
		"state":                 {"xyz"},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(verifier)},
		"code_challenge_method": {"S256"},
	}
}

func postToken(t *testing.T, srv *httptest.Server, form url.Values) (int, map[string]any) {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+PathToken, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()
	body := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func codeFrom(t *testing.T, resp *http.Response) string {
	t.Helper()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	return loc.Query().Get("code")
}

func TestAuthorize_Rejections(t *testing.T) {
	_, srv := newTestProvider(t, Options{})

	params := authorizeParams("v")
	params.Set("redirect_uri", "https://evil.example.com/cb/authz")
	assert.Equal(t, http.StatusBadRequest, authorize(t, srv, params).StatusCode)

	params = authorizeParams("v")
	params.Set("client_id", "other")
	assert.Equal(t, http.StatusBadRequest, authorize(t, srv, params).StatusCode)

	params = authorizeParams("v")
	params.Del("code_challenge")
	resp := authorize(t, srv, params)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "invalid_request", loc.Query().Get("error"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	assert.Empty(t, loc.Query().Get("code"))
}

func TestToken_VerifierAndSingleUse(t *testing.T) {
	_, srv := newTestProvider(t, Options{})
	verifier := oauth2.GenerateVerifier()

	code := codeFrom(t, authorize(t, srv, authorizeParams(verifier)))
	status, body := postToken(t, srv, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"code":          {code},
		"code_verifier": {"wrong"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])

	code = codeFrom(t, authorize(t, srv, authorizeParams(verifier)))
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"code":          {code},
		"code_verifier": {verifier},
	}
	status, body = postToken(t, srv, form)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.NotEmpty(t, body["id_token"])

	status, body = postToken(t, srv, form)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestToken_RotatingRefresh(t *testing.T) {
	_, srv := newTestProvider(t, Options{RotateRefreshTokens: true})
	verifier := oauth2.GenerateVerifier()

	code := codeFrom(t, authorize(t, srv, authorizeParams(verifier)))
	_, body := postToken(t, srv, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"code":          {code},
		"code_verifier": {verifier},
	})
	first, _ := body["refresh_token"].(string)
	require.NotEmpty(t, first)

	refresh := url.Values{"grant_type": {"refresh_token"}, "client_id": {testClientID}, "refresh_token": {first}}
	status, body := postToken(t, srv, refresh)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["refresh_token"])
	assert.NotEqual(t, first, body["refresh_token"])

	status, body = postToken(t, srv, refresh)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestRevoke_UnknownTokenIsOK(t *testing.T) {
	idp, srv := newTestProvider(t, Options{})
	resp, err := srv.Client().PostForm(srv.URL+PathRevoke, url.Values{"token": {"nope"}, "client_id": {testClientID}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, idp.Revoked("nope"))
}

func TestUserinfo_RequiresBearer(t *testing.T) {
	_, srv := newTestProvider(t, Options{})

	resp, err := srv.Client().Get(srv.URL + PathUserinfo)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+PathUserinfo, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer unknown")
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "invalid_token")
}

func TestEndSession_RejectsUnknownRedirect(t *testing.T) {
	_, srv := newTestProvider(t, Options{})
	resp, err := noRedirect(srv).Get(srv.URL + PathEndSession + "?post_logout_redirect_uri=" + url.QueryEscape("https://evil.example.com/"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
