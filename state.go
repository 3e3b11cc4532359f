package weave

// State represents the lifecycle state of a Result.
type State int32

const (
	// StateRunning indicates the run is live and has recorded no failures.
	StateRunning State = iota

	// StateDegraded indicates the run is live but a failure has been recorded,
	// either an escalated publish failure or a recovered termination failure.
	// Unrelated instances keep flowing.
	StateDegraded

	// StateClosed indicates the run has been closed and every handle it
	// created has been released.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
