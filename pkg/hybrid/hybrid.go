// Package hybrid normalizes the callback of a social identity provider that
// delivers code and state either in the query (web login) or in the fragment
// (native app login), and forwards it to the provider's external callback.
package hybrid

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-training/sevenpass-client/pkg/core"
	"github.com/go-training/sevenpass-client/pkg/flow"
)

// AppType records where the social provider's response came from.
type AppType string

const (
	AppTypeWeb    AppType = "web"
	AppTypeNative AppType = "native"
)

// Result is a normalized social provider callback.
type Result struct {
	Code    string
	State   string
	AppType AppType
}

// Extract reads code and state from the query of callbackURL. When the query
// carries no state the response is taken to be fragment encoded: every '#'
// is replaced with '?' and the URL parsed again.
func Extract(callbackURL string) (Result, error) {
	q, err := query(callbackURL)
	if err != nil {
		return Result{}, err
	}
	res := Result{Code: q.Get("code"), State: q.Get("state"), AppType: AppTypeWeb}

	if res.State == "" {
		q, err = query(strings.ReplaceAll(callbackURL, "#", "?"))
		if err != nil {
			return Result{}, err
		}
		res = Result{Code: q.Get("code"), State: q.Get("state"), AppType: AppTypeNative}
	}

	if res.Code == "" || res.State == "" {
		return Result{}, &flow.Error{Kind: flow.MalformedCallback, Reason: "social callback has no code or state"}
	}
	return res, nil
}

func query(raw string) (url.Values, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &flow.Error{Kind: flow.MalformedCallback, Err: err}
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, &flow.Error{Kind: flow.MalformedCallback, Err: err}
	}
	return q, nil
}

// AppProbe reports whether the social provider's native app is installed.
type AppProbe func(ctx context.Context) bool

// Option configures an Adapter.
type Option func(*Adapter)

// WithAppProbe sets the probe behind LoginExtra.
func WithAppProbe(probe AppProbe) Option {
	return func(a *Adapter) { a.probe = probe }
}

// Adapter forwards social provider callbacks to the external callback URL.
type Adapter struct {
	callbackBase string
	appID        string
	presenter    flow.Presenter
	probe        AppProbe
}

// NewAdapter creates an Adapter forwarding to callbackBase for the social app
// appID.
func NewAdapter(callbackBase, appID string, presenter flow.Presenter, opts ...Option) *Adapter {
	a := &Adapter{
		callbackBase: callbackBase,
		appID:        appID,
		presenter:    presenter,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Scheme is the URL scheme prefix the social provider redirects to.
func (a *Adapter) Scheme() string {
	return "fb" + a.appID
}

// Matches reports whether rawURL is a social provider redirect for this app.
func (a *Adapter) Matches(rawURL string) bool {
	if a.appID == "" {
		return false
	}
	i := strings.Index(rawURL, ":")
	if i <= 0 {
		return false
	}
	return strings.HasPrefix(strings.ToLower(rawURL[:i]), a.Scheme())
}

// RedirectURL renders {callbackBase}?code=..&state=..&fbapp_type=..
func (a *Adapter) RedirectURL(res Result) string {
	q := url.Values{}
	q.Set("code", res.Code)
	q.Set("state", res.State)
	q.Set("fbapp_type", string(res.AppType))

	sep := "?"
	if strings.Contains(a.callbackBase, "?") {
		sep = "&"
	}
	return a.callbackBase + sep + q.Encode()
}

// Handle extracts the social provider response from callbackURL, dismisses
// the current presentation and presents the external callback instead. The
// provider then redirects to the client's own redirect URI, which resumes the
// flow; Handle never does.
func (a *Adapter) Handle(ctx context.Context, callbackURL string) (string, error) {
	logger := core.LoggerFromCtx(ctx)

	res, err := Extract(callbackURL)
	if err != nil {
		logger.Warn("Ignoring malformed social callback", "error", err)
		return "", err
	}

	target := a.RedirectURL(res)
	if err := a.presenter.Dismiss(ctx); err != nil {
		logger.Warn("Failed to dismiss presentation", "error", err)
	}
	if err := a.presenter.Present(ctx, target); err != nil {
		return "", fmt.Errorf("failed to present external callback: %w", err)
	}

	logger.Info("Forwarded social callback", "app_type", res.AppType)
	return target, nil
}

// LoginExtra returns the fbapp_pres parameter telling the provider whether
// the native app can be used.
func (a *Adapter) LoginExtra(ctx context.Context) map[string]string {
	pres := "0"
	if a.probe != nil && a.probe(ctx) {
		pres = "1"
	}
	return map[string]string{"fbapp_pres": pres}
}
