package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"time"

	"github.com/go-training/sevenpass-client/pkg/apiclient"
	"github.com/go-training/sevenpass-client/pkg/callback"
	"github.com/go-training/sevenpass-client/pkg/config"
	"github.com/go-training/sevenpass-client/pkg/core"
	"github.com/go-training/sevenpass-client/pkg/discovery"
	"github.com/go-training/sevenpass-client/pkg/flow"
	"github.com/go-training/sevenpass-client/pkg/hybrid"
	"github.com/go-training/sevenpass-client/pkg/logger"
	"github.com/go-training/sevenpass-client/pkg/logout"
	"github.com/go-training/sevenpass-client/pkg/operation"
	"github.com/go-training/sevenpass-client/pkg/store"
	"github.com/go-training/sevenpass-client/pkg/token"

	"github.com/appleboy/graceful"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "sevenpass-client"
	serverVersion = "1.0.0"
)

// fatalError logs an error message and exits the program with status code 1
func fatalError(message string, err error) {
	slog.Error(message, "err", err)
	os.Exit(1)
}

// app holds everything one session needs.
type app struct {
	cfg        config.Config
	httpClient *http.Client
	store      core.TokenStore
	flows      *flow.Coordinator
	adapter    *hybrid.Adapter
	serveMCP   bool
	keep       bool
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		logger.New()
		fatalError("Invalid configuration", err)
	}

	var serveMCP, keep, nativeApp bool
	flag.StringVar(&cfg.Issuer, "issuer", cfg.Issuer, "OpenID Connect issuer")
	flag.StringVar(&cfg.ClientID, "client-id", cfg.ClientID, "OAuth client id")
	flag.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "account API base URL")
	flag.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "callback receiver address")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "token store (memory or redis)")
	flag.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis URL, e.g. redis://localhost:6379/0")
	flag.StringVar(&cfg.RefreshPolicy, "refresh-policy", cfg.RefreshPolicy, "refresh token policy when a refresh omits it (retain or rotate)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (DEBUG, INFO, WARN, ERROR)")
	flag.DurationVar(&cfg.FlowTimeout, "timeout", cfg.FlowTimeout, "how long to wait for the browser")
	flag.BoolVar(&serveMCP, "mcp", false, "serve the MCP tools over stdio after signing in")
	flag.BoolVar(&keep, "keep-session", false, "keep the session instead of logging out on exit")
	flag.BoolVar(&nativeApp, "native-social-app", false, "tell the provider the social login app can handle fb<app id>:// URLs")
	flag.Parse()

	logger.NewWithLevel(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		fatalError("Invalid configuration", err)
	}

	tokenStore, err := store.NewStore(cfg.StoreConfig())
	if err != nil {
		fatalError("Failed to create token store", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	presenter := browserPresenter{}
	flows := flow.NewCoordinator(presenter,
		flow.WithTimeout(cfg.FlowTimeout),
		flow.WithHTTPClient(httpClient),
	)
	adapter := hybrid.NewAdapter(cfg.ExternalCallbackURL, cfg.FacebookAppID, presenter,
		hybrid.WithAppProbe(func(context.Context) bool { return nativeApp }),
	)
	receiver := callback.New(cfg.ListenAddr, flows, adapter)

	a := &app{
		cfg:        cfg,
		httpClient: httpClient,
		store:      tokenStore,
		flows:      flows,
		adapter:    adapter,
		serveMCP:   serveMCP,
		keep:       keep,
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := graceful.NewManager(graceful.WithContext(ctx))

	m.AddRunningJob(func(context.Context) error {
		slog.Info("Callback receiver listening", "addr", cfg.ListenAddr)
		return receiver.ListenAndServe()
	})
	m.AddRunningJob(func(ctx context.Context) error {
		defer cancel()
		if err := a.run(ctx); err != nil {
			slog.Error("Session failed", "err", err)
			return err
		}
		return nil
	})
	m.AddShutdownJob(func() error {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return receiver.Shutdown(shutdownCtx)
	})
	m.AddShutdownJob(func() error {
		if c, ok := tokenStore.(io.Closer); ok {
			return c.Close()
		}
		return nil
	})

	<-m.Done()
}

func (a *app) run(ctx context.Context) error {
	resolver := discovery.NewResolver(a.httpClient)
	provider, err := resolver.Resolve(ctx, a.cfg.Issuer)
	if err != nil {
		return err
	}

	tokens := token.NewManager(a.cfg.ClientID,
		token.NewHTTPRefresher(a.httpClient, provider.TokenEndpoint, a.cfg.ClientID),
		token.WithSkew(a.cfg.RefreshSkew),
		token.WithPolicy(a.cfg.Policy()),
		token.WithStore(a.store),
	)

	restored, err := tokens.Restore(ctx)
	if err != nil {
		slog.Warn("Failed to restore persisted session", "err", err)
	}
	if !restored {
		if err := a.login(ctx, provider, tokens); err != nil {
			return err
		}
	}

	api, err := apiclient.New(tokens, provider,
		apiclient.WithHTTPClient(a.httpClient),
		apiclient.WithBaseURL(a.cfg.BaseURL),
	)
	if err != nil {
		return err
	}
	a.showAccount(ctx, api, provider, tokens)

	if a.serveMCP {
		s := operation.NewMCPServer(serverName, serverVersion, operation.Deps{
			Client:           api,
			Tokens:           tokens,
			UserinfoEndpoint: provider.UserinfoEndpoint,
		})
		slog.Info("Serving MCP tools over stdio")
		if err := server.ServeStdio(s); err != nil {
			slog.Error("MCP server error", "err", err)
		}
	}

	if a.keep {
		return nil
	}
	return a.logout(ctx, provider, tokens)
}

func (a *app) login(ctx context.Context, provider discovery.ProviderConfiguration, tokens *token.Manager) error {
	extra := maps.Clone(a.cfg.ExtraParams)
	if extra == nil {
		extra = map[string]string{}
	}
	maps.Copy(extra, a.adapter.LoginExtra(ctx))

	f, err := a.flows.StartLogin(ctx, provider, flow.LoginParams{
		ClientID:    a.cfg.ClientID,
		RedirectURI: a.cfg.RedirectURI,
		Scopes:      a.cfg.Scopes,
		Extra:       extra,
	})
	if err != nil {
		return err
	}
	slog.Info("Waiting for the browser to finish signing in", "flow_id", f.ID, "timeout", a.cfg.FlowTimeout)

	resp, err := a.flows.Wait(ctx, f)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			_ = a.flows.Cancel(context.Background(), f.ID)
		}
		return fmt.Errorf("authorization failed: %w", err)
	}

	tr, err := a.flows.Exchange(ctx, provider, f, resp)
	if err != nil {
		return err
	}
	if err := tokens.Apply(ctx, tr); err != nil {
		return err
	}
	slog.Info("Signed in")
	return nil
}

func (a *app) showAccount(ctx context.Context, api *apiclient.Client, provider discovery.ProviderConfiguration, tokens *token.Manager) {
	if claims, err := tokens.IDTokenClaims(); err == nil {
		sub, _ := claims.GetSubject()
		slog.Info("ID token", "sub", sub, "email", claims["email"])
	}

	if resp, err := api.Get(ctx, "me", nil, nil); err != nil {
		slog.Error("Failed to fetch account", "err", err)
	} else {
		slog.Info("Account", "body", string(resp.Body))
	}

	if provider.UserinfoEndpoint == "" {
		return
	}
	if resp, err := api.Get(ctx, provider.UserinfoEndpoint, nil, nil); err != nil {
		slog.Error("Failed to fetch userinfo", "err", err)
	} else {
		slog.Info("Userinfo", "body", string(resp.Body))
	}
}

func (a *app) logout(ctx context.Context, provider discovery.ProviderConfiguration, tokens *token.Manager) error {
	lo := logout.NewCoordinator(tokens, a.flows, logout.WithHTTPClient(a.httpClient))
	res, err := lo.Logout(ctx, provider, a.cfg.ClientID, a.cfg.PostLogoutRedirectURI)
	if err != nil {
		return err
	}
	if res.EndSession != nil {
		if _, err := a.flows.Wait(ctx, res.EndSession); err != nil {
			slog.Warn("End session did not complete", "err", err)
		}
	}
	if err := res.WaitRevocations(ctx); err != nil {
		slog.Warn("Token revocation failed", "err", err)
	}
	slog.Info("Signed out")
	return nil
}
