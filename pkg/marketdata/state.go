package marketdata

// State is the connection lifecycle spec.md §4.3 names explicitly:
// IDLE -> CONNECTING -> SUBSCRIBED -> {STREAMING <-> RESYNCING} -> CLOSED.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateResyncing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateStreaming:
		return "STREAMING"
	case StateResyncing:
		return "RESYNCING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
