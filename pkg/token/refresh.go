package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const requestTimeout = 30 * time.Second

// HTTPDoer is the HTTP transport used to reach the token endpoint.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPRefresher performs the refresh_token grant against a token endpoint as
// a public client.
type HTTPRefresher struct {
	httpClient HTTPDoer
	tokenURL   string
	clientID   string
	scopes     []string
}

// NewHTTPRefresher creates a refresher for tokenURL. A nil httpClient uses an
// *http.Client with a 30 second timeout.
func NewHTTPRefresher(httpClient HTTPDoer, tokenURL, clientID string, scopes ...string) *HTTPRefresher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &HTTPRefresher{
		httpClient: httpClient,
		tokenURL:   tokenURL,
		clientID:   clientID,
		scopes:     scopes,
	}
}

// Refresh posts grant_type=refresh_token and decodes the response.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (Response, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", r.clientID)
	if len(r.scopes) > 0 {
		data.Set("scope", strings.Join(r.scopes, " "))
	}
	return PostForm(ctx, r.httpClient, r.tokenURL, data)
}

// PostForm sends a form-encoded token request and decodes the JSON response.
// Non-2xx answers are returned as *ServerError.
func PostForm(ctx context.Context, httpClient HTTPDoer, tokenURL string, data url.Values) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return Response{}, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to call token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read token endpoint response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		srvErr := &ServerError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, srvErr)
		return Response{}, srvErr
	}

	var tokenResp Response
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return Response{}, ErrEmptyAccessToken
	}
	return tokenResp, nil
}
