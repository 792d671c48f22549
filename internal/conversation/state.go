package conversation

// State is the activity of a conversation session. Listening, Processing
// and Speaking are mutually exclusive.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
	StateError
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateIdle:       {StateListening, StateProcessing},
	StateListening:  {StateIdle, StateProcessing, StateError},
	StateProcessing: {StateIdle, StateSpeaking, StateError},
	StateSpeaking:   {StateIdle},
	StateError:      {StateIdle},
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
