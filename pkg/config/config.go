// Package config loads the client configuration from SEVENPASS_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-training/sevenpass-client/pkg/flow"
	"github.com/go-training/sevenpass-client/pkg/store"
	"github.com/go-training/sevenpass-client/pkg/token"

	"github.com/caarlos0/env/v11"
)

// Config is built once at startup and passed by value.
type Config struct {
	Issuer                string            `env:"SEVENPASS_ISSUER"                   envDefault:"https://op.qa.7pass.ctf.prosiebensat1.com"`
	BaseURL               string            `env:"SEVENPASS_BASE_URL"                 envDefault:"https://sso.qa.7pass.ctf.prosiebensat1.com/api/accounts/"`
	ClientID              string            `env:"SEVENPASS_CLIENT_ID"                envDefault:"5913340f857a8245576ca7fd"`
	RedirectURI           string            `env:"SEVENPASS_REDIRECT_URI"             envDefault:"http://127.0.0.1:8085/cb/authz"`
	PostLogoutRedirectURI string            `env:"SEVENPASS_POST_LOGOUT_REDIRECT_URI" envDefault:"http://127.0.0.1:8085/cb/end_session"`
	ExternalCallbackURL   string            `env:"SEVENPASS_EXTERNAL_CALLBACK_URL"    envDefault:"https://interaction.qa.7pass.ctf.prosiebensat1.com/externals/callback"`
	FacebookAppID         string            `env:"SEVENPASS_FACEBOOK_APP_ID"          envDefault:"734789116545825"`
	Scopes                []string          `env:"SEVENPASS_SCOPES"                   envDefault:"openid,offline_access,profile,email" envSeparator:","`
	ExtraParams           map[string]string `env:"SEVENPASS_EXTRA_PARAMS"             envDefault:"prompt:consent"`

	FlowTimeout   time.Duration `env:"SEVENPASS_FLOW_TIMEOUT"   envDefault:"10m"`
	RefreshSkew   time.Duration `env:"SEVENPASS_REFRESH_SKEW"   envDefault:"30s"`
	RefreshPolicy string        `env:"SEVENPASS_REFRESH_POLICY" envDefault:"retain"`
	HTTPTimeout   time.Duration `env:"SEVENPASS_HTTP_TIMEOUT"   envDefault:"30s"`

	ListenAddr string `env:"SEVENPASS_LISTEN_ADDR" envDefault:"127.0.0.1:8085"`
	LogLevel   string `env:"SEVENPASS_LOG_LEVEL"`

	Store         string `env:"SEVENPASS_STORE"          envDefault:"memory"`
	RedisURL      string `env:"SEVENPASS_REDIS_URL"`
	RedisAddr     string `env:"SEVENPASS_REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string `env:"SEVENPASS_REDIS_PASSWORD"`
	RedisDB       int    `env:"SEVENPASS_REDIS_DB"       envDefault:"0"`
}

// Parse reads the environment without validating it, so callers can apply
// overrides such as command line flags before calling Validate.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if err := absoluteURL("issuer", c.Issuer); err != nil {
		errs = append(errs, err)
	}
	if c.BaseURL != "" {
		if err := absoluteURL("base url", c.BaseURL); err != nil {
			errs = append(errs, err)
		}
	}
	if strings.TrimSpace(c.ClientID) == "" {
		errs = append(errs, errors.New("client id is required"))
	}
	if err := absoluteURL("redirect uri", c.RedirectURI); err != nil {
		errs = append(errs, err)
	}
	if c.PostLogoutRedirectURI != "" {
		if err := absoluteURL("post logout redirect uri", c.PostLogoutRedirectURI); err != nil {
			errs = append(errs, err)
		}
	}
	if c.FlowTimeout < 0 {
		errs = append(errs, errors.New("flow timeout must not be negative"))
	}
	if c.RefreshSkew < 0 {
		errs = append(errs, errors.New("refresh skew must not be negative"))
	}
	switch strings.ToLower(c.RefreshPolicy) {
	case "", "retain", "rotate":
	default:
		errs = append(errs, fmt.Errorf("unknown refresh policy %q", c.RefreshPolicy))
	}
	for k := range c.ExtraParams {
		if flow.IsReservedParam(k) {
			errs = append(errs, fmt.Errorf("extra params: %w: %s", flow.ErrReservedParam, k))
		}
	}
	if !store.StoreType(strings.ToLower(c.Store)).IsValid() {
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	return errors.Join(errs...)
}

func absoluteURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("%s %q must be absolute", name, raw)
	}
	return nil
}

// Policy returns the refresh token policy.
func (c Config) Policy() token.RefreshTokenPolicy {
	return token.ParsePolicy(c.RefreshPolicy)
}

// StoreConfig returns the token store configuration.
func (c Config) StoreConfig() store.Config {
	return store.Config{
		Type: store.ParseStoreType(c.Store),
		Redis: store.RedisOptions{
			URL:      c.RedisURL,
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		},
	}
}
