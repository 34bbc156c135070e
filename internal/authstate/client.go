package authstate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"devforum/internal/metrics"
)

var ErrClosed = errors.New("authstate: client torn down")

// Resolver answers a yes/no question about an identity, failing closed.
type Resolver interface {
	Resolve(ctx context.Context, ident *Identity) bool
}

// profileApprover is implemented by resolvers that can skip their own
// admin check.
type profileApprover interface {
	ProfileApproved(ctx context.Context, ident *Identity) bool
}

// AdminCache is a Resolver whose answers can be dropped per identity.
type AdminCache interface {
	Resolver
	Invalidate(userID string)
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithPendingSessions keeps sessions of unapproved identities alive so a
// pending view can render. By default such sessions are signed out.
func WithPendingSessions(keep bool) Option {
	return func(c *Client) { c.keepPending = keep }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client is the auth context for one front-end process. It owns the
// session readout, keeps it in step with the provider's auth events and
// resolves approval and admin role for the current identity.
//
// Every applied event bumps a generation counter; a resolution commits only
// while its generation is current, so the last applied event always wins.
type Client struct {
	provider    Provider
	approval    Resolver
	admin       AdminCache
	log         *slog.Logger
	keepPending bool
	now         func() time.Time

	mu      sync.Mutex
	state   State
	gen     uint64
	changed chan struct{}
	closed  bool
	sub     *Subscription
	cancel  context.CancelFunc

	watchers Emitter[State]
}

func New(provider Provider, approval Resolver, admin AdminCache, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		approval: approval,
		admin:    admin,
		log:      discardLogger(),
		now:      time.Now,
		changed:  make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Bootstrap subscribes to auth events and fetches the current session
// without waiting on either. Whichever settles first settles the readout.
// Calling it again is a no-op.
func (c *Client) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.state.Loading = true
	startGen := c.gen
	snap := c.publishLocked()
	c.mu.Unlock()
	c.watchers.Emit(snap)

	sub := c.provider.OnAuthStateChange(func(ev Event) {
		c.apply(runCtx, ev, false, 0)
	})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Unsubscribe()
		return ErrClosed
	}
	c.sub = sub
	c.mu.Unlock()

	go func() {
		sess, err := c.provider.GetSession(runCtx)
		if err != nil {
			c.log.Warn("initial session fetch failed", "err", err)
			c.settleEmpty(startGen)
			return
		}
		c.apply(runCtx, Event{Kind: EventInitialSession, Session: sess}, true, startGen)
	}()
	return nil
}

// Teardown unsubscribes and stops in-flight work. Safe to call repeatedly
// and before Bootstrap.
func (c *Client) Teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub, cancel := c.sub, c.cancel
	c.sub, c.cancel = nil, nil
	c.mu.Unlock()

	sub.Unsubscribe()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Watch registers fn for every published readout. fn runs on the goroutine
// that changed the state and must not block. Readouts are delivered outside
// the client's lock, so concurrent updates may arrive out of order and the
// argument can already be stale; listeners that act on it should re-read
// State(), which is always current.
func (c *Client) Watch(fn func(State)) *Subscription {
	return c.watchers.Subscribe(fn)
}

// Await blocks until pred holds for the current readout or ctx is done.
func (c *Client) Await(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		c.mu.Lock()
		s, ch := c.state, c.changed
		c.mu.Unlock()
		if pred(s) {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-ch:
		}
	}
}

// Settled is an Await predicate for "no resolution in flight".
func Settled(s State) bool { return !s.Loading }

// HandleEvent applies one auth event. Applying the same event twice yields
// the same readout.
func (c *Client) HandleEvent(ctx context.Context, ev Event) {
	c.apply(ctx, ev, false, 0)
}

// SignIn authenticates and returns the readout once the resulting event has
// been resolved. An unapproved identity is a state, not an error.
func (c *Client) SignIn(ctx context.Context, email, password string) (State, error) {
	if _, err := c.provider.SignIn(ctx, email, password); err != nil {
		return c.State(), err
	}
	return c.Await(ctx, Settled)
}

func (c *Client) SignUp(ctx context.Context, email, password string, meta SignUpMetadata) (SignUpResult, error) {
	res, err := c.provider.SignUp(ctx, email, password, meta)
	if err != nil {
		return res, err
	}
	if res.Session != nil {
		_, err = c.Await(ctx, Settled)
	}
	return res, err
}

// SignOut ends the session. Local state is cleared even when the remote
// call fails, unless another identity signed in meanwhile.
func (c *Client) SignOut(ctx context.Context) error {
	var userID string
	if ident := c.State().Identity; ident != nil {
		userID = ident.ID
	}
	err := c.provider.SignOut(ctx)
	if err != nil {
		c.log.Warn("remote sign-out failed", "err", err)
	}
	if ident := c.State().Identity; ident != nil && ident.ID == userID {
		c.apply(ctx, Event{Kind: EventSignedOut}, false, 0)
	}
	return err
}

func (c *Client) apply(ctx context.Context, ev Event, conditional bool, expectGen uint64) {
	if ev.Session != nil && ev.Session.Expired(c.now(), 0) {
		c.log.Debug("ignoring expired session", "kind", ev.Kind)
		ev = Event{Kind: ev.Kind}
	}

	c.mu.Lock()
	if c.closed || (conditional && c.gen != expectGen) {
		c.mu.Unlock()
		return
	}
	metrics.AuthEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	c.gen++
	gen := c.gen
	prev := c.state.Identity

	if ev.Session == nil || ev.Kind == EventSignedOut || ev.Kind == EventUserDeleted {
		c.state = State{}
		snap := c.publishLocked()
		c.mu.Unlock()
		if prev != nil {
			c.admin.Invalidate(prev.ID)
		}
		c.watchers.Emit(snap)
		return
	}

	sess := *ev.Session
	ident := sess.Identity
	same := prev != nil && prev.ID == ident.ID
	c.state.Session = &sess
	c.state.Identity = &ident
	if !same {
		c.state.Loading = true
		c.state.Approved = false
		c.state.IsAdmin = false
	}
	snap := c.publishLocked()
	c.mu.Unlock()
	if !same && prev != nil {
		c.admin.Invalidate(prev.ID)
	}
	c.watchers.Emit(snap)

	isAdmin := c.admin.Resolve(ctx, &ident)
	approved := isAdmin
	if !isAdmin {
		approved = c.resolveApproval(ctx, &ident)
	}
	c.commit(ctx, gen, ident.ID, isAdmin, approved)
}

// resolveApproval runs the approval check without a second admin lookup
// when the resolver allows it.
func (c *Client) resolveApproval(ctx context.Context, ident *Identity) bool {
	if pa, ok := c.approval.(profileApprover); ok {
		return pa.ProfileApproved(ctx, ident)
	}
	return c.approval.Resolve(ctx, ident)
}

func (c *Client) commit(ctx context.Context, gen uint64, userID string, isAdmin, approved bool) {
	c.mu.Lock()
	if c.closed || c.gen != gen || c.state.Identity == nil || c.state.Identity.ID != userID {
		c.mu.Unlock()
		metrics.StaleResolutionsTotal.Inc()
		c.log.Debug("discarding stale resolution", "user_id", userID)
		return
	}
	terminate := !isAdmin && !approved && !c.keepPending
	if terminate {
		c.state.Loading = true
		c.state.Approved = false
		c.state.IsAdmin = false
	} else {
		c.state.Loading = false
		c.state.Approved = isAdmin || approved
		c.state.IsAdmin = isAdmin
	}
	snap := c.publishLocked()
	c.mu.Unlock()
	c.watchers.Emit(snap)

	if terminate {
		c.terminate(ctx, gen, userID)
	}
}

// terminate signs out an unapproved identity. If no newer event has been
// applied once the provider returns, the readout is cleared here.
func (c *Client) terminate(ctx context.Context, gen uint64, userID string) {
	c.log.Info("signing out unapproved identity", "user_id", userID)
	if err := c.provider.SignOut(ctx); err != nil {
		c.log.Warn("sign-out of unapproved identity failed", "user_id", userID, "err", err)
	}
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.state = State{}
	snap := c.publishLocked()
	c.mu.Unlock()
	c.admin.Invalidate(userID)
	c.watchers.Emit(snap)
}

// settleEmpty clears the readout after a failed initial fetch, unless an
// event has already been applied.
func (c *Client) settleEmpty(startGen uint64) {
	c.mu.Lock()
	if c.closed || c.gen != startGen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.state = State{}
	snap := c.publishLocked()
	c.mu.Unlock()
	c.watchers.Emit(snap)
}

func (c *Client) publishLocked() State {
	close(c.changed)
	c.changed = make(chan struct{})
	return c.state
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
