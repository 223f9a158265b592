package session

// Transition classifies what a newly observed domain session id means
// relative to the currently open one.
type Transition int

const (
	// TransitionNone means the observed id matches the open one; no
	// network traffic or store mutation is warranted.
	TransitionNone Transition = iota

	// TransitionFirstOpen means no domain session is open yet; the new
	// one should be opened without closing anything first.
	TransitionFirstOpen

	// TransitionNavigate means a different domain session is open; it
	// must be closed before the new one is opened.
	TransitionNavigate
)

// String returns the transition name for logs.
func (t Transition) String() string {
	switch t {
	case TransitionNone:
		return "none"
	case TransitionFirstOpen:
		return "first_open"
	case TransitionNavigate:
		return "navigate"
	default:
		return "unknown"
	}
}

// ClassifyTransition compares the currently open domain session id
// against a newly observed one. An empty observation carries no visit
// and never disturbs the open session.
func ClassifyTransition(current, next string) Transition {
	switch {
	case next == "" || current == next:
		return TransitionNone
	case current == "":
		return TransitionFirstOpen
	default:
		return TransitionNavigate
	}
}
