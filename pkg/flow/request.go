package flow

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/go-training/sevenpass-client/pkg/discovery"
	"github.com/go-training/sevenpass-client/pkg/pkce"

	"golang.org/x/oauth2"
)

// ResponseTypeCode is the only response type this client requests.
const ResponseTypeCode = "code"

// ErrReservedParam is returned when an extra parameter would override one the
// request sets itself.
var ErrReservedParam = errors.New("reserved authorization parameter")

var reservedParams = map[string]struct{}{
	"client_id":             {},
	"redirect_uri":          {},
	"response_type":         {},
	"scope":                 {},
	"state":                 {},
	"code_challenge":        {},
	"code_challenge_method": {},
}

// IsReservedParam reports whether key is set by the request itself and cannot
// be supplied as an extra parameter.
func IsReservedParam(key string) bool {
	_, ok := reservedParams[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// LoginParams describes the authorization request to build.
type LoginParams struct {
	ClientID    string
	RedirectURI string
	Scopes      []string
	// Extra holds provider specific parameters such as prompt or fbapp_pres.
	Extra map[string]string
}

// AuthorizationRequest is an authorization code request with PKCE. The
// verifier never leaves the client: URL renders only the challenge.
type AuthorizationRequest struct {
	Endpoint            string
	ClientID            string
	Scopes              []string
	RedirectURI         string
	ResponseType        string
	CodeVerifier        string `json:"-"`
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	Extra               map[string]string
}

// NewAuthorizationRequest builds a request against cfg with a fresh PKCE pair
// and anti-forgery state. Extra parameters may not override protocol ones.
func NewAuthorizationRequest(cfg discovery.ProviderConfiguration, params LoginParams) (*AuthorizationRequest, error) {
	for k := range params.Extra {
		if IsReservedParam(k) {
			return nil, fmt.Errorf("%w: %s", ErrReservedParam, k)
		}
	}
	pair, err := pkce.Generate()
	if err != nil {
		return nil, err
	}
	extra := make(map[string]string, len(params.Extra))
	for k, v := range params.Extra {
		extra[k] = v
	}
	return &AuthorizationRequest{
		Endpoint:            cfg.AuthorizationEndpoint,
		ClientID:            params.ClientID,
		Scopes:              NormalizeScopes(params.Scopes),
		RedirectURI:         params.RedirectURI,
		ResponseType:        ResponseTypeCode,
		CodeVerifier:        pair.Verifier,
		CodeChallenge:       pair.Challenge,
		CodeChallengeMethod: pair.Method,
		State:               NewState(),
		Extra:               extra,
	}, nil
}

// NewState returns 32 random bytes encoded as unpadded base64url.
func NewState() string {
	return oauth2.GenerateVerifier()
}

// NormalizeScopes collapses duplicate and blank scopes keeping the first
// occurrence of each.
func NormalizeScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (r *AuthorizationRequest) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    r.ClientID,
		RedirectURL: r.RedirectURI,
		Scopes:      r.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   r.Endpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// URL renders the authorization URL.
func (r *AuthorizationRequest) URL() string {
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(r.CodeVerifier)}

	// sorted for a stable URL
	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		if IsReservedParam(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, oauth2.SetAuthURLParam(k, r.Extra[k]))
	}
	return r.oauth2Config().AuthCodeURL(r.State, opts...)
}

// AuthorizationResponse is the parsed callback of an authorization or
// end-session request.
type AuthorizationResponse struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ParseCallback reads code, state, error and error_description from the query
// of callbackURL. It does not validate them.
func ParseCallback(callbackURL string) (AuthorizationResponse, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return AuthorizationResponse{}, &Error{Kind: MalformedCallback, Err: err}
	}
	q := u.Query()
	return AuthorizationResponse{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}, nil
}

// EndSessionRequest is an RP-initiated logout request.
type EndSessionRequest struct {
	Endpoint              string
	ClientID              string
	IDTokenHint           string `json:"-"`
	PostLogoutRedirectURI string
	State                 string
}

// URL renders the end-session URL, keeping any query already on the endpoint.
func (r *EndSessionRequest) URL() (string, error) {
	u, err := url.Parse(r.Endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("client_id", r.ClientID)
	q.Set("id_token_hint", r.IDTokenHint)
	if r.PostLogoutRedirectURI != "" {
		q.Set("post_logout_redirect_uri", r.PostLogoutRedirectURI)
	}
	q.Set("state", r.State)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
