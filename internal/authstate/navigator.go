package authstate

import "sync"

// Navigator follows a Client through a Guard and reports each distinct
// decision once. Every change re-reads the client's latest state, so a
// burst of updates never replays an outdated redirect.
type Navigator struct {
	client   *Client
	guard    *Guard
	navigate func(Decision)

	mu   sync.Mutex
	last *Decision
	sub  *Subscription
}

// NewNavigator builds a navigator. navigate is called with n's lock held and
// must not call back into n.
func NewNavigator(c *Client, g *Guard, navigate func(Decision)) *Navigator {
	return &Navigator{client: c, guard: g, navigate: navigate}
}

// Start subscribes to the client and evaluates the current state.
func (n *Navigator) Start() {
	n.mu.Lock()
	if n.sub != nil {
		n.mu.Unlock()
		return
	}
	n.sub = n.client.Watch(func(State) { n.sync() })
	n.mu.Unlock()
	n.sync()
}

func (n *Navigator) Stop() {
	n.mu.Lock()
	sub := n.sub
	n.sub = nil
	n.mu.Unlock()
	sub.Unsubscribe()
}

// Current returns the last decision reported, evaluating one if none was.
func (n *Navigator) Current() Decision {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last != nil {
		return *n.last
	}
	return n.guard.Evaluate(n.client.State())
}

func (n *Navigator) sync() {
	n.mu.Lock()
	defer n.mu.Unlock()
	d := n.guard.Evaluate(n.client.State())
	if n.last != nil && *n.last == d {
		return
	}
	n.last = &d
	if n.navigate != nil {
		n.navigate(d)
	}
}
