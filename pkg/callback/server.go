// Package callback runs the local HTTP receiver that redirect URIs point at
// and routes each callback to the flow or adapter that owns it.
package callback

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-training/sevenpass-client/pkg/core"
	"github.com/go-training/sevenpass-client/pkg/flow"
	"github.com/go-training/sevenpass-client/pkg/hybrid"

	"github.com/gin-gonic/gin"
)

// Routes served by the receiver.
const (
	PathAuthorize  = "/cb/authz"
	PathEndSession = "/cb/end_session"
	PathSocial     = "/cb/fb"
	PathOpenURL    = "/open"

	fragmentParam = "hybrid_fragment"
)

// Resumer completes the pending flow from a callback URL. *flow.Coordinator
// satisfies it.
type Resumer interface {
	ResumeURL(callbackURL string) (*flow.PendingFlow, flow.AuthorizationResponse, error)
}

// Server is the callback receiver.
type Server struct {
	flows   Resumer
	adapter *hybrid.Adapter
	router  *gin.Engine
	srv     *http.Server
}

// New creates a Server listening on addr. adapter may be nil when no social
// login is configured.
func New(addr string, flows Resumer, adapter *hybrid.Adapter) *Server {
	s := &Server{
		flows:   flows,
		adapter: adapter,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.SetHTMLTemplate(pages)

	cb := r.Group("/", noStore)
	{
		cb.GET(PathAuthorize, s.handleResume("Signed in", "You can now close this window and return to the application."))
		cb.GET(PathEndSession, s.handleResume("Signed out", "You have been signed out. You can close this window."))
		cb.GET(PathSocial, s.handleSocial)
		cb.GET(PathOpenURL, s.handleOpenURL)
	}
	s.router = r

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the receiver, waiting for in-flight callbacks.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleResume(title, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, _, err := s.flows.ResumeURL(c.Request.URL.String())
		if err != nil {
			_ = c.Error(err)
			c.HTML(statusFor(err), pageResult, gin.H{
				"Title":   "Sign-in failed",
				"Message": err.Error(),
			})
			return
		}
		core.LoggerFromCtx(core.WithFlowID(c.Request.Context(), f.ID)).Debug("Callback delivered", "kind", f.Kind)
		c.HTML(http.StatusOK, pageResult, gin.H{
			"Title":   title,
			"Message": message,
			"Close":   true,
		})
	}
}

// handleSocial forwards a social provider callback to the external callback
// URL. Fragment encoded responses arrive through the relay page first.
func (s *Server) handleSocial(c *gin.Context) {
	if s.adapter == nil {
		c.HTML(http.StatusNotFound, pageResult, gin.H{"Title": "Not found", "Message": "Social login is not configured."})
		return
	}

	q := c.Request.URL.Query()
	callbackURL := c.Request.URL.String()
	switch {
	case q.Has(fragmentParam):
		callbackURL = PathSocial + "#" + q.Get(fragmentParam)
	case !q.Has("state") && !q.Has("code") && !q.Has("error"):
		c.HTML(http.StatusOK, pageRelay, gin.H{"Path": PathSocial, "Param": fragmentParam})
		return
	}

	res, err := hybrid.Extract(callbackURL)
	if err != nil {
		_ = c.Error(err)
		c.HTML(http.StatusBadRequest, pageResult, gin.H{"Title": "Sign-in failed", "Message": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, s.adapter.RedirectURL(res))
}

// handleOpenURL dispatches a URL the way the operating system would hand a
// custom scheme URL to the application.
func (s *Server) handleOpenURL(c *gin.Context) {
	raw := c.Query("url")
	if _, err := url.Parse(raw); err != nil || raw == "" {
		c.HTML(http.StatusBadRequest, pageResult, gin.H{"Title": "Invalid URL", "Message": "The url parameter is missing or invalid."})
		return
	}

	if s.adapter != nil && s.adapter.Matches(raw) {
		if _, err := s.adapter.Handle(c.Request.Context(), raw); err != nil {
			_ = c.Error(err)
			c.HTML(http.StatusBadRequest, pageResult, gin.H{"Title": "Sign-in failed", "Message": err.Error()})
			return
		}
		c.HTML(http.StatusOK, pageResult, gin.H{"Title": "Continuing sign-in", "Message": "Forwarded to the identity provider."})
		return
	}

	if _, _, err := s.flows.ResumeURL(raw); err != nil {
		_ = c.Error(err)
		c.HTML(statusFor(err), pageResult, gin.H{"Title": "Sign-in failed", "Message": err.Error()})
		return
	}
	c.HTML(http.StatusOK, pageResult, gin.H{"Title": "Done", "Message": "You can close this window.", "Close": true})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, flow.ErrNoPendingFlow):
		return http.StatusNotFound
	case errors.Is(err, flow.ErrProviderError):
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}
