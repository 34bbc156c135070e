package authstate

// State is the reactive readout of the session store. IsAdmin is the last
// resolved admin flag for Identity.
type State struct {
	Identity *Identity
	Session  *Session
	Loading  bool
	Approved bool
	IsAdmin  bool
}

// Phase is the route guard state for a readout.
type Phase int

const (
	PhaseChecking Phase = iota
	PhaseUnauthenticated
	PhaseAdmin
	PhaseApproved
	PhasePending
)

func (p Phase) String() string {
	switch p {
	case PhaseChecking:
		return "checking"
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAdmin:
		return "admin"
	case PhaseApproved:
		return "approved"
	case PhasePending:
		return "pending"
	default:
		return "unknown"
	}
}

// Phase evaluates the guard state machine. Loading always wins, so an
// in-flight resolution never shows a stale view.
func (s State) Phase() Phase {
	switch {
	case s.Loading:
		return PhaseChecking
	case s.Identity == nil:
		return PhaseUnauthenticated
	case s.IsAdmin:
		return PhaseAdmin
	case s.Approved:
		return PhaseApproved
	default:
		return PhasePending
	}
}

type View string

const (
	ViewLoading View = "loading"
	ViewLanding View = "landing"
	ViewAdmin   View = "admin"
	ViewMain    View = "main"
	ViewPending View = "pending"
)

type Routes struct {
	Landing string
	Main    string
	Admin   string
	Pending string
}

func DefaultRoutes() Routes {
	return Routes{
		Landing: "/",
		Main:    "/forum",
		Admin:   "/admin",
		Pending: "/pending",
	}
}

// Decision is what the guard wants rendered. Redirect is empty when the
// current view should render in place.
type Decision struct {
	Phase    Phase
	View     View
	Redirect string
}

// Allowed reports whether the decision admits forum content.
func (d Decision) Allowed() bool {
	return d.Phase == PhaseAdmin || d.Phase == PhaseApproved
}

type Guard struct {
	routes Routes
}

func NewGuard(routes Routes) *Guard {
	def := DefaultRoutes()
	if routes.Landing == "" {
		routes.Landing = def.Landing
	}
	if routes.Main == "" {
		routes.Main = def.Main
	}
	if routes.Admin == "" {
		routes.Admin = def.Admin
	}
	if routes.Pending == "" {
		routes.Pending = def.Pending
	}
	return &Guard{routes: routes}
}

func (g *Guard) Routes() Routes { return g.routes }

// Evaluate is pure: the same State always yields the same Decision.
func (g *Guard) Evaluate(s State) Decision {
	switch ph := s.Phase(); ph {
	case PhaseChecking:
		return Decision{Phase: ph, View: ViewLoading}
	case PhaseUnauthenticated:
		return Decision{Phase: ph, View: ViewLanding}
	case PhaseAdmin:
		return Decision{Phase: ph, View: ViewAdmin, Redirect: g.routes.Admin}
	case PhaseApproved:
		return Decision{Phase: ph, View: ViewMain, Redirect: g.routes.Main}
	default:
		return Decision{Phase: PhasePending, View: ViewPending}
	}
}
