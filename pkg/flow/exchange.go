package flow

import (
	"context"
	"errors"

	"github.com/go-training/sevenpass-client/pkg/core"
	"github.com/go-training/sevenpass-client/pkg/discovery"
	"github.com/go-training/sevenpass-client/pkg/token"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
)

// ExchangeCode trades an authorization code and its PKCE verifier for tokens
// at the token endpoint of cfg. The client authenticates as a public client by
// sending client_id in the form body.
func (c *Coordinator) ExchangeCode(ctx context.Context, cfg discovery.ProviderConfiguration, clientID, redirectURI, code, verifier string) (resp token.Response, err error) {
	ctx, span := core.StartSpan(ctx, "flow.exchange_code",
		attribute.String("oauth.client_id", clientID),
		attribute.String("oauth.token_endpoint", cfg.TokenEndpoint),
	)
	defer func() { core.EndSpan(span, err) }()

	conf := &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthorizationEndpoint,
			TokenURL:  cfg.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		core.LoggerFromCtx(ctx).Error("Code exchange failed", "error", err)
		return token.Response{}, &token.Error{Kind: token.ExchangeFailed, Err: serverError(err)}
	}

	core.LoggerFromCtx(ctx).Info("Authorization code exchanged",
		"has_refresh_token", tok.RefreshToken != "",
		"expires_at", tok.Expiry,
	)
	return token.FromOAuth2(tok), nil
}

// Exchange completes a login flow resumed with resp.
func (c *Coordinator) Exchange(ctx context.Context, cfg discovery.ProviderConfiguration, f *PendingFlow, resp AuthorizationResponse) (token.Response, error) {
	if f.Kind != KindLogin || f.Request == nil {
		return token.Response{}, &token.Error{Kind: token.ExchangeFailed, Reason: "flow " + f.ID + " is not a login flow"}
	}
	return c.ExchangeCode(core.WithFlowID(ctx, f.ID), cfg, f.Request.ClientID, f.Request.RedirectURI, resp.Code, f.Request.CodeVerifier)
}

// serverError turns an *oauth2.RetrieveError into a *token.ServerError so
// callers see the OAuth error code and description.
func serverError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	srvErr := &token.ServerError{
		Code:        re.ErrorCode,
		Description: re.ErrorDescription,
	}
	if re.Response != nil {
		srvErr.StatusCode = re.Response.StatusCode
	}
	return srvErr
}
