package authstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeUser struct {
	ident    Identity
	password string
}

type fakeProvider struct {
	events Emitter[Event]

	mu            sync.Mutex
	users         map[string]fakeUser
	session       *Session
	getErr        error
	getGate       chan struct{}
	getDone       chan struct{}
	signOutErr    error
	signOutCalls  int
	emitOnSignOut bool
	// duringSignOut runs while the remote revoke is in flight.
	duringSignOut func()
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{users: map[string]fakeUser{}, emitOnSignOut: true}
}

func (p *fakeProvider) addUser(id, email, password string) Identity {
	ident := Identity{ID: id, Email: email, CreatedAt: time.Unix(1700000000, 0).UTC()}
	p.mu.Lock()
	p.users[email] = fakeUser{ident: ident, password: password}
	p.mu.Unlock()
	return ident
}

func sessionFor(ident Identity) *Session {
	return &Session{
		AccessToken:  "at-" + ident.ID,
		RefreshToken: "rt-" + ident.ID,
		ExpiresAt:    time.Now().Add(time.Hour),
		Identity:     ident,
	}
}

func (p *fakeProvider) SignUp(ctx context.Context, email, password string, meta SignUpMetadata) (SignUpResult, error) {
	ident := p.addUser("new-"+email, email, password)
	return SignUpResult{Identity: &ident}, ConfirmationRequired("check your email")
}

func (p *fakeProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	p.mu.Lock()
	u, ok := p.users[email]
	if !ok || u.password != password {
		p.mu.Unlock()
		return nil, CredentialError("Invalid login credentials")
	}
	s := sessionFor(u.ident)
	p.session = s
	p.mu.Unlock()
	p.events.Emit(Event{Kind: EventSignedIn, Session: s})
	return s, nil
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.signOutCalls++
	p.session = nil
	err, emit, during := p.signOutErr, p.emitOnSignOut, p.duringSignOut
	p.mu.Unlock()
	if during != nil {
		during()
	}
	if emit {
		p.events.Emit(Event{Kind: EventSignedOut})
	}
	return err
}

func (p *fakeProvider) GetSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	gate, done := p.getGate, p.getDone
	p.mu.Unlock()
	if done != nil {
		defer close(done)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
	return p.session, nil
}

func (p *fakeProvider) OnAuthStateChange(fn func(Event)) *Subscription {
	return p.events.Subscribe(fn)
}

func (p *fakeProvider) signOuts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signOutCalls
}

type fakeData struct {
	mu           sync.Mutex
	profiles     map[string]Profile
	roles        map[string][]RoleAssignment
	profileErr   error
	roleErr      error
	roleFailNext int
	profileCalls int
	roleCalls    int
	gates        map[string]chan struct{}
	started      map[string]chan struct{}
}

func newFakeData() *fakeData {
	return &fakeData{
		profiles: map[string]Profile{},
		roles:    map[string][]RoleAssignment{},
		gates:    map[string]chan struct{}{},
		started:  map[string]chan struct{}{},
	}
}

func (d *fakeData) setProfile(id string, approved bool) {
	d.mu.Lock()
	d.profiles[id] = Profile{ID: id, Email: id + "@example.com", Approved: approved}
	d.mu.Unlock()
}

func (d *fakeData) setAdmin(id string) {
	d.mu.Lock()
	d.roles[id] = []RoleAssignment{{UserID: id, Role: RoleAdmin}}
	d.mu.Unlock()
}

// block makes the next profile lookups for id wait until the returned
// release func is called. The second return value is closed when a lookup
// starts waiting.
func (d *fakeData) block(id string) (release func(), started <-chan struct{}) {
	gate := make(chan struct{})
	st := make(chan struct{})
	d.mu.Lock()
	d.gates[id] = gate
	d.started[id] = st
	d.mu.Unlock()
	return func() { close(gate) }, st
}

func (d *fakeData) Profile(ctx context.Context, userID string) (Profile, error) {
	d.mu.Lock()
	d.profileCalls++
	gate, st := d.gates[userID], d.started[userID]
	delete(d.started, userID)
	d.mu.Unlock()
	if gate != nil {
		if st != nil {
			close(st)
		}
		<-gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.profileErr != nil {
		return Profile{}, d.profileErr
	}
	p, ok := d.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (d *fakeData) Roles(ctx context.Context, userID string) ([]RoleAssignment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roleCalls++
	if d.roleFailNext > 0 {
		d.roleFailNext--
		return nil, errBackend
	}
	if d.roleErr != nil {
		return nil, d.roleErr
	}
	return d.roles[userID], nil
}

func (d *fakeData) counts() (profiles, roles int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.profileCalls, d.roleCalls
}

var errBackend = errors.New("backend unavailable")

type harness struct {
	provider *fakeProvider
	data     *fakeData
	admin    *AdminResolver
	client   *Client
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	p := newFakeProvider()
	d := newFakeData()
	admin := NewAdminResolver(d, 16, time.Minute, nil)
	approval := NewApprovalResolver(d, admin, nil)
	c := New(p, approval, admin, opts...)
	t.Cleanup(c.Teardown)
	return &harness{provider: p, data: d, admin: admin, client: c}
}

func (h *harness) bootstrap(t *testing.T) State {
	t.Helper()
	if err := h.client.Bootstrap(t.Context()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return h.await(t, Settled)
}

func (h *harness) await(t *testing.T, pred func(State) bool) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	s, err := h.client.Await(ctx, pred)
	if err != nil {
		t.Fatalf("await: %v (state=%+v)", err, s)
	}
	return s
}
