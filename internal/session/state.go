package session

type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateJoiningMedia
	StateJoined
	StateLeaving
	StateLeft
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateJoiningMedia:
		return "joining_media"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateLeft:
		return "left"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// joining reports whether a join call is still in flight.
func (s State) joining() bool {
	return s == StateAuthenticating || s == StateJoiningMedia
}
