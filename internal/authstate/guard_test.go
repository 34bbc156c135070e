package authstate

import (
	"sync"
	"testing"
)

func TestGuardEvaluate(t *testing.T) {
	g := NewGuard(Routes{Main: "/feed"})
	ident := &Identity{ID: "u1"}
	cases := []struct {
		name  string
		state State
		want  Decision
	}{
		{"loading wins", State{Loading: true, Identity: ident, IsAdmin: true, Approved: true},
			Decision{Phase: PhaseChecking, View: ViewLoading}},
		{"no identity", State{}, Decision{Phase: PhaseUnauthenticated, View: ViewLanding}},
		{"admin", State{Identity: ident, IsAdmin: true, Approved: true},
			Decision{Phase: PhaseAdmin, View: ViewAdmin, Redirect: "/admin"}},
		{"approved", State{Identity: ident, Approved: true},
			Decision{Phase: PhaseApproved, View: ViewMain, Redirect: "/feed"}},
		{"pending", State{Identity: ident}, Decision{Phase: PhasePending, View: ViewPending}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := g.Evaluate(tc.state); got != tc.want {
				t.Fatalf("Evaluate = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDecisionAllowed(t *testing.T) {
	for ph, want := range map[Phase]bool{
		PhaseChecking: false, PhaseUnauthenticated: false, PhasePending: false,
		PhaseAdmin: true, PhaseApproved: true,
	} {
		if got := (Decision{Phase: ph}).Allowed(); got != want {
			t.Fatalf("%v allowed = %v", ph, got)
		}
	}
}

func TestNavigatorReportsDistinctDecisions(t *testing.T) {
	h := newHarness(t)
	ident := h.provider.addUser("u1", "u1@example.com", "pw")
	h.data.setProfile("u1", true)

	var mu sync.Mutex
	var got []View
	nav := NewNavigator(h.client, NewGuard(Routes{}), func(d Decision) {
		mu.Lock()
		got = append(got, d.View)
		mu.Unlock()
	})
	nav.Start()
	defer nav.Stop()

	h.bootstrap(t)
	h.client.HandleEvent(t.Context(), Event{Kind: EventSignedIn, Session: sessionFor(ident)})
	h.client.HandleEvent(t.Context(), Event{Kind: EventTokenRefreshed, Session: sessionFor(ident)})

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(got); i++ {
		if got[i] == got[i-1] {
			t.Fatalf("duplicate navigation in %v", got)
		}
	}
	if len(got) == 0 || got[len(got)-1] != ViewMain {
		t.Fatalf("expected to end on main view, got %v", got)
	}
	if nav.Current().Redirect != "/forum" {
		t.Fatalf("current redirect = %q", nav.Current().Redirect)
	}
}

func TestSubscriptionUnsubscribeTwice(t *testing.T) {
	var e Emitter[int]
	calls := 0
	sub := e.Subscribe(func(int) { calls++ })
	other := e.Subscribe(func(int) {})
	e.Emit(1)
	sub.Unsubscribe()
	sub.Unsubscribe()
	e.Emit(2)
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
	if e.Len() != 1 {
		t.Fatalf("unsubscribing twice removed another listener: len=%d", e.Len())
	}
	other.Unsubscribe()
	var nilSub *Subscription
	nilSub.Unsubscribe()
}
