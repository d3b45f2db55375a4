package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMetadataServer(t *testing.T, status int, body func(issuer string) string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != WellKnownPath {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body(srv.URL)))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestResolve_AllEndpoints(t *testing.T) {
	srv, _ := newMetadataServer(t, http.StatusOK, func(issuer string) string {
		return `{
			"issuer": "` + issuer + `",
			"authorization_endpoint": "` + issuer + `/authorize",
			"token_endpoint": "` + issuer + `/token",
			"end_session_endpoint": "` + issuer + `/logout",
			"revocation_endpoint": "` + issuer + `/revoke",
			"userinfo_endpoint": "` + issuer + `/userinfo"
		}`
	})

	cfg, err := NewResolver(srv.Client()).Resolve(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, ProviderConfiguration{
		Issuer:                srv.URL,
		AuthorizationEndpoint: srv.URL + "/authorize",
		TokenEndpoint:         srv.URL + "/token",
		EndSessionEndpoint:    srv.URL + "/logout",
		RevocationEndpoint:    srv.URL + "/revoke",
		UserinfoEndpoint:      srv.URL + "/userinfo",
	}, cfg)
	assert.True(t, cfg.SupportsRevocation())
	assert.True(t, cfg.SupportsEndSession())
}

func TestResolve_OptionalEndpointsAbsent(t *testing.T) {
	srv, _ := newMetadataServer(t, http.StatusOK, func(issuer string) string {
		return `{"issuer":"` + issuer + `","authorization_endpoint":"a","token_endpoint":"t"}`
	})

	cfg, err := NewResolver(srv.Client()).Resolve(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, cfg.SupportsRevocation())
	assert.False(t, cfg.SupportsEndSession())
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"missing authorization endpoint", http.StatusOK, `{"token_endpoint":"t"}`, ErrMissingEndpoint},
		{"missing token endpoint", http.StatusOK, `{"authorization_endpoint":"a"}`, ErrMissingEndpoint},
		{"non-2xx status", http.StatusInternalServerError, `{}`, ErrStatus},
		{"not found", http.StatusNotFound, ``, ErrStatus},
		{"malformed json", http.StatusOK, `{"authorization_endpoint":`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newMetadataServer(t, tt.status, func(string) string { return tt.body })

			_, err := NewResolver(srv.Client()).Resolve(context.Background(), srv.URL)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var discErr *Error
			require.True(t, errors.As(err, &discErr))
			assert.NotEmpty(t, discErr.Error())
		})
	}
}

func TestResolve_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewResolver(nil).Resolve(context.Background(), url)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestResolve_EmptyIssuer(t *testing.T) {
	_, err := NewResolver(nil).Resolve(context.Background(), " ")
	assert.ErrorIs(t, err, ErrInvalidIssuer)
}

func TestResolve_CachesPerIssuer(t *testing.T) {
	srv, hits := newMetadataServer(t, http.StatusOK, func(issuer string) string {
		return `{"authorization_endpoint":"a","token_endpoint":"t"}`
	})
	r := NewResolver(srv.Client())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), srv.URL)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cfg, err := r.Resolve(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, srv.URL, cfg.Issuer)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResolve_FailureIsNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"authorization_endpoint":"a","token_endpoint":"t"}`))
	}))
	defer srv.Close()

	r := NewResolver(srv.Client())
	_, err := r.Resolve(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrStatus)

	fail.Store(false)
	_, err = r.Resolve(context.Background(), srv.URL)
	require.NoError(t, err)
}

func TestStatic(t *testing.T) {
	r := NewResolver(nil)
	require.NoError(t, r.Static(ProviderConfiguration{
		Issuer:                "https://idp.example/",
		AuthorizationEndpoint: "https://idp.example/authorize",
		TokenEndpoint:         "https://idp.example/token",
	}))

	cfg, err := r.Resolve(context.Background(), "https://idp.example")
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example/token", cfg.TokenEndpoint)

	err = r.Static(ProviderConfiguration{Issuer: "https://other.example"})
	assert.ErrorIs(t, err, ErrMissingEndpoint)
}

func TestResolve_CancelledCallerDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"authorization_endpoint":"` + srv.URL + `/authorize","token_endpoint":"` + srv.URL + `/token"}`))
	}))
	t.Cleanup(srv.Close)

	r := NewResolver(srv.Client())

	ctx1, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx1, srv.URL)
		first <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), srv.URL)
		second <- err
	}()

	cancel()
	err := <-first
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)

	close(release)
	require.NoError(t, <-second)
	assert.Equal(t, int32(1), hits.Load())

	cfg, err := r.Resolve(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/token", cfg.TokenEndpoint)
}
