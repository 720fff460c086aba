package supervisor

// State is the lifecycle state of a supervised process.
//
// Spawning -> Running -> Restarting -> Spawning ...
// Running -> Terminating -> Terminated
type State int32

const (
	StateIdle State = iota
	StateSpawning
	StateRunning
	StateRestarting
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// canTransition guards the state machine.
func canTransition(from, to State) bool {
	switch to {
	case StateSpawning:
		return from == StateIdle || from == StateRestarting
	case StateRunning:
		return from == StateSpawning
	case StateRestarting:
		return from == StateRunning || from == StateRestarting
	case StateTerminating:
		return from != StateTerminated && from != StateTerminating
	case StateTerminated:
		return from == StateTerminating || from == StateSpawning
	}
	return false
}
