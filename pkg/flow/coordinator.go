// Package flow drives the authorization code flow: it builds the request,
// hands it to a Presenter, validates the callback and exchanges the code.
package flow

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-training/sevenpass-client/pkg/core"
	"github.com/go-training/sevenpass-client/pkg/discovery"

	"github.com/google/uuid"
)

// DefaultTimeout bounds how long a flow may stay pending.
const DefaultTimeout = 10 * time.Minute

// Presenter opens a URL in the user agent and can take it down again.
type Presenter interface {
	Present(ctx context.Context, url string) error
	Dismiss(ctx context.Context) error
}

// ReplacePolicy decides what StartLogin does while another flow is pending.
type ReplacePolicy int

const (
	// CancelAndReplace cancels the pending flow and starts the new one.
	CancelAndReplace ReplacePolicy = iota
	// RejectNew refuses the new flow with FlowInProgress.
	RejectNew
)

// FlowKind tells login flows from end-session flows.
type FlowKind int

const (
	KindLogin FlowKind = iota + 1
	KindEndSession
)

func (k FlowKind) String() string {
	if k == KindEndSession {
		return "end_session"
	}
	return "login"
}

// PendingFlow is an in-flight authorization or end-session flow. It completes
// exactly once.
type PendingFlow struct {
	ID        string
	Kind      FlowKind
	CreatedAt time.Time

	// Request is set for login flows and carries the PKCE verifier.
	Request *AuthorizationRequest
	// EndSession is set for end-session flows.
	EndSession *EndSessionRequest

	state string
	done  chan struct{}
	once  sync.Once
	timer *time.Timer
	resp  AuthorizationResponse
	err   error
}

func newPendingFlow(kind FlowKind, state string, now time.Time) *PendingFlow {
	return &PendingFlow{
		ID:        uuid.New().String(),
		Kind:      kind,
		CreatedAt: now,
		state:     state,
		done:      make(chan struct{}),
	}
}

// Done is closed once the flow has completed.
func (f *PendingFlow) Done() <-chan struct{} {
	return f.done
}

func (f *PendingFlow) complete(resp AuthorizationResponse, err error) bool {
	completed := false
	f.once.Do(func() {
		f.resp, f.err = resp, err
		close(f.done)
		completed = true
	})
	return completed
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithReplacePolicy sets what happens when a flow starts while one is pending.
func WithReplacePolicy(p ReplacePolicy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithTimeout sets how long a flow may stay pending. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithHTTPClient sets the client used for the token exchange.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) { c.httpClient = client }
}

// Coordinator holds at most one pending flow.
type Coordinator struct {
	presenter  Presenter
	httpClient *http.Client
	policy     ReplacePolicy
	timeout    time.Duration
	now        func() time.Time

	mu      sync.Mutex
	current *PendingFlow
}

// NewCoordinator creates a Coordinator presenting through presenter.
func NewCoordinator(presenter Presenter, opts ...Option) *Coordinator {
	c := &Coordinator{
		presenter: presenter,
		timeout:   DefaultTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartLogin builds an authorization request, registers it as the pending
// flow and presents its URL.
func (c *Coordinator) StartLogin(ctx context.Context, cfg discovery.ProviderConfiguration, params LoginParams) (*PendingFlow, error) {
	if cfg.AuthorizationEndpoint == "" {
		return nil, &discovery.Error{Issuer: cfg.Issuer, Err: discovery.ErrMissingEndpoint}
	}
	req, err := NewAuthorizationRequest(cfg, params)
	if err != nil {
		return nil, fmt.Errorf("failed to build authorization request: %w", err)
	}

	f := newPendingFlow(KindLogin, req.State, c.now())
	f.Request = req
	if err := c.start(ctx, f, req.URL()); err != nil {
		return nil, err
	}
	return f, nil
}

// StartEndSession builds an end-session request for idToken, registers it as
// the pending flow and presents its URL.
func (c *Coordinator) StartEndSession(ctx context.Context, cfg discovery.ProviderConfiguration, clientID, idToken, postLogoutRedirectURI string) (*PendingFlow, error) {
	if !cfg.SupportsEndSession() {
		return nil, &discovery.Error{Issuer: cfg.Issuer, Err: fmt.Errorf("%w: end_session_endpoint", discovery.ErrMissingEndpoint)}
	}
	req := &EndSessionRequest{
		Endpoint:              cfg.EndSessionEndpoint,
		ClientID:              clientID,
		IDTokenHint:           idToken,
		PostLogoutRedirectURI: postLogoutRedirectURI,
		State:                 NewState(),
	}
	u, err := req.URL()
	if err != nil {
		return nil, fmt.Errorf("failed to build end session request: %w", err)
	}

	f := newPendingFlow(KindEndSession, req.State, c.now())
	f.EndSession = req
	if err := c.start(ctx, f, u); err != nil {
		return nil, err
	}
	return f, nil
}

func (c *Coordinator) start(ctx context.Context, f *PendingFlow, u string) error {
	ctx = core.WithFlowID(ctx, f.ID)
	logger := core.LoggerFromCtx(ctx)

	if err := c.register(ctx, f); err != nil {
		return err
	}

	if err := c.presenter.Present(ctx, u); err != nil {
		logger.Error("Failed to present flow", "kind", f.Kind, "error", err)
		c.mu.Lock()
		if c.current == f {
			c.current = nil
		}
		c.mu.Unlock()
		f.complete(AuthorizationResponse{}, &Error{Kind: Cancelled, Reason: "presentation failed", Err: err})
		return fmt.Errorf("failed to present %s flow: %w", f.Kind, err)
	}

	logger.Info("Flow started", "kind", f.Kind)
	return nil
}

func (c *Coordinator) register(ctx context.Context, f *PendingFlow) error {
	c.mu.Lock()
	prev := c.current
	if prev != nil && c.policy == RejectNew {
		c.mu.Unlock()
		return &Error{Kind: FlowInProgress, Reason: "flow " + prev.ID + " is pending"}
	}
	if prev != nil && prev.timer != nil {
		prev.timer.Stop()
	}
	c.current = f
	if c.timeout > 0 {
		f.timer = time.AfterFunc(c.timeout, func() { c.expire(f) })
	}
	c.mu.Unlock()

	if prev != nil {
		core.LoggerFromCtx(ctx).Info("Replacing pending flow", "previous_flow_id", prev.ID)
		prev.complete(AuthorizationResponse{}, &Error{Kind: Cancelled, Reason: "replaced by flow " + f.ID})
	}
	return nil
}

func (c *Coordinator) expire(f *PendingFlow) {
	c.mu.Lock()
	if c.current == f {
		c.current = nil
	}
	c.mu.Unlock()

	if f.complete(AuthorizationResponse{}, &Error{Kind: Timeout, Reason: "no callback within " + c.timeout.String()}) {
		ctx := core.WithFlowID(context.Background(), f.ID)
		core.LoggerFromCtx(ctx).Warn("Flow timed out", "kind", f.Kind)
		c.dismiss(ctx)
	}
}

// take removes and returns the pending flow if its ID matches.
func (c *Coordinator) take(flowID string) *PendingFlow {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.ID != flowID {
		return nil
	}
	f := c.current
	c.current = nil
	if f.timer != nil {
		f.timer.Stop()
	}
	return f
}

// Pending returns the pending flow, if any.
func (c *Coordinator) Pending() (*PendingFlow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != nil
}

// Resume validates callbackURL against the pending flow flowID and completes
// it. The flow is consumed by any attempt, successful or not.
func (c *Coordinator) Resume(flowID, callbackURL string) (AuthorizationResponse, error) {
	f := c.take(flowID)
	if f == nil {
		return AuthorizationResponse{}, &Error{Kind: NoPendingFlow, Reason: "flow " + flowID}
	}

	resp, err := f.validate(callbackURL)
	f.complete(resp, err)

	logger := core.LoggerFromCtx(core.WithFlowID(context.Background(), f.ID))
	if err != nil {
		logger.Warn("Flow resumed with error", "kind", f.Kind, "error", err)
		return AuthorizationResponse{}, err
	}
	logger.Info("Flow resumed", "kind", f.Kind)
	return resp, nil
}

// ResumeURL resumes whichever flow is pending with callbackURL.
func (c *Coordinator) ResumeURL(callbackURL string) (*PendingFlow, AuthorizationResponse, error) {
	f, ok := c.Pending()
	if !ok {
		return nil, AuthorizationResponse{}, &Error{Kind: NoPendingFlow}
	}
	resp, err := c.Resume(f.ID, callbackURL)
	return f, resp, err
}

func (f *PendingFlow) validate(callbackURL string) (AuthorizationResponse, error) {
	resp, err := ParseCallback(callbackURL)
	if err != nil {
		return AuthorizationResponse{}, err
	}

	// An error response may omit state when the request itself was rejected.
	if resp.Error != "" && (resp.State == "" || resp.State == f.state) {
		return AuthorizationResponse{}, &Error{Kind: ProviderError, Code: resp.Error, Description: resp.ErrorDescription}
	}
	if resp.State != f.state {
		return AuthorizationResponse{}, &Error{Kind: StateMismatch}
	}
	if f.Kind == KindLogin && resp.Code == "" {
		return AuthorizationResponse{}, &Error{Kind: MalformedCallback, Reason: "callback has no code"}
	}
	return resp, nil
}

// Wait blocks until f completes or ctx is done. Giving up on ctx leaves the
// flow pending.
func (c *Coordinator) Wait(ctx context.Context, f *PendingFlow) (AuthorizationResponse, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return AuthorizationResponse{}, ctx.Err()
	}
}

// Cancel completes the pending flow flowID with Cancelled and dismisses its
// presentation.
func (c *Coordinator) Cancel(ctx context.Context, flowID string) error {
	f := c.take(flowID)
	if f == nil {
		return &Error{Kind: NoPendingFlow, Reason: "flow " + flowID}
	}
	f.complete(AuthorizationResponse{}, &Error{Kind: Cancelled, Reason: "cancelled by caller"})
	core.LoggerFromCtx(core.WithFlowID(ctx, f.ID)).Info("Flow cancelled", "kind", f.Kind)
	c.dismiss(ctx)
	return nil
}

func (c *Coordinator) dismiss(ctx context.Context) {
	if err := c.presenter.Dismiss(ctx); err != nil {
		core.LoggerFromCtx(ctx).Warn("Failed to dismiss presentation", "error", err)
	}
}
