package irc

// State is the handshake progress of a Session. Transitions only move forward:
// Disconnected -> Registering -> Authenticating -> Joining -> Ready.
// Close returns the session to Disconnected.
type State int32

const (
	StateDisconnected State = iota
	StateRegistering
	StateAuthenticating
	StateJoining
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateRegistering:
		return "registering"
	case StateAuthenticating:
		return "authenticating"
	case StateJoining:
		return "joining"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}
