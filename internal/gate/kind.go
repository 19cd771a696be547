// Package gate defines the endpoint kinds the service fronts.
package gate

// Kind selects which of the two public endpoints a request targets. It picks
// the configuration set and the storage namespace; everything keyed in Redis
// carries the kind's namespace string.
type Kind int

const (
	KindFeedback Kind = iota
	KindWhiteboard
)

// Route paths are fixed, not configurable.
const (
	FeedbackPath   = "/anonymous-feedback"
	WhiteboardPath = "/white-board"
)

// Namespace returns the stable string used in store keys, metrics labels and
// configuration lookups.
func (k Kind) Namespace() string {
	if k == KindWhiteboard {
		return "whiteboard"
	}
	return "feedback"
}

func (k Kind) String() string {
	return k.Namespace()
}

// SubjectPrefix is prepended to the submitted subject when building the
// private-message title.
func (k Kind) SubjectPrefix() string {
	if k == KindWhiteboard {
		return "wb: "
	}
	return "af: "
}

// Path returns the public route prefix for the kind.
func (k Kind) Path() string {
	if k == KindWhiteboard {
		return WhiteboardPath
	}
	return FeedbackPath
}

// Kinds lists all endpoint kinds in registration order.
func Kinds() []Kind {
	return []Kind{KindFeedback, KindWhiteboard}
}
