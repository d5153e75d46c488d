package monitor

import "fmt"

// State of a supervisor within one invocation. The zero value is idle.
type State int

const (
	StateIdle    State = iota // constructed, nothing spawned
	StateRunning              // sampler alive and appending
	StateStopped              // sampler killed and reaped, terminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// validTransitions maps from-state to allowed to-states
var validTransitions = map[State]map[State]bool{
	StateIdle: {
		StateRunning: true, // Idle → Running (acquire)
		StateStopped: true, // Idle → Stopped (release after a failed acquire)
	},
	StateRunning: {
		StateStopped: true, // Running → Stopped (release)
	},
	// Terminal
	StateStopped: {},
}

// ValidateTransition checks if a supervisor state transition is valid
func ValidateTransition(from, to State) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}
