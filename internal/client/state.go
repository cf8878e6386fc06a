package client

// State is the lifecycle state of a Session.
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// canConnect reports whether an explicit Connect may start from s.
func (s State) canConnect() bool {
	return s == StateIdle || s == StateClosed || s == StateFailed
}
