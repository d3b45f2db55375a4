// Command devidp runs a local OpenID Connect provider that signs every login
// in as a fixed user. Point sevenpass at it with -issuer.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-training/sevenpass-client/pkg/devidp"
	"github.com/go-training/sevenpass-client/pkg/logger"

	"github.com/appleboy/graceful"
)

func main() {
	var addr string
	var clientID string
	var redirectURIs string
	var subject string
	var email string
	var logLevel string
	var ttl time.Duration
	var rotate bool
	flag.StringVar(&addr, "addr", "127.0.0.1:9096", "address to listen on")
	flag.StringVar(&clientID, "client-id", "5913340f857a8245576ca7fd", "the accepted client id")
	flag.StringVar(&redirectURIs, "redirect-uris", "http://127.0.0.1:8085/cb/", "comma separated allowed redirect URI prefixes")
	flag.StringVar(&subject, "subject", "dev-user", "subject of the signed in user")
	flag.StringVar(&email, "email", "dev-user@example.com", "email of the signed in user")
	flag.StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR). Defaults to DEBUG in development, INFO in production")
	flag.DurationVar(&ttl, "access-token-ttl", time.Hour, "access token lifetime")
	flag.BoolVar(&rotate, "rotate-refresh-tokens", false, "issue a new refresh token on every refresh")
	flag.Parse()

	logger.NewWithLevel(logLevel)

	idp := devidp.New(devidp.Options{
		Issuer:              "http://" + addr,
		ClientID:            clientID,
		RedirectURIs:        strings.Split(redirectURIs, ","),
		Subject:             subject,
		Email:               email,
		AccessTokenTTL:      ttl,
		RotateRefreshTokens: rotate,
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      idp.Handler(),
		ReadTimeout:  10 * time.Second, // 10 seconds
		WriteTimeout: 10 * time.Second, // 10 seconds
		IdleTimeout:  60 * time.Second, // 60 seconds
	}

	m := graceful.NewManager()
	m.AddRunningJob(func(context.Context) error {
		slog.Info("Development provider listening", "issuer", "http://"+addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "err", err)
			return err
		}
		return nil
	})
	m.AddShutdownJob(func() error {
		slog.Info("Shutdown signal received, shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})

	<-m.Done()
	slog.Info("Server shutdown gracefully")
}
