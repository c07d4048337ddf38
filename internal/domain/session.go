package domain

// SessionStatus is the lifecycle state of a subscription.
type SessionStatus string

const (
	StatusConnecting   SessionStatus = "connecting"
	StatusConnected    SessionStatus = "connected"
	StatusReconnecting SessionStatus = "reconnecting"
	StatusDisconnected SessionStatus = "disconnected"
)

// CanTransition reports whether a session may move from one status to
// another. Disconnected is terminal; every live state may disconnect.
func CanTransition(from, to SessionStatus) bool {
	if from == StatusDisconnected {
		return false
	}
	switch to {
	case StatusConnected:
		return from == StatusConnecting || from == StatusReconnecting
	case StatusReconnecting:
		return from == StatusConnected
	case StatusDisconnected:
		return true
	default:
		return false
	}
}
