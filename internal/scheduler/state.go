package scheduler

// State is the scheduler's lifecycle state.
//
// Valid state graph:
//
//	Idle ──► Running ──► Idle
//	            │
//	            └──► Cooldown ──► Idle
//
// Cooldown is entered only after a RateLimited provider failure and ends
// lazily once its deadline has passed.
type State string

const (
	StateIdle     State = "Idle"
	StateRunning  State = "Running"
	StateCooldown State = "Cooldown"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[State][]State{
	StateIdle:     {StateRunning},
	StateRunning:  {StateIdle, StateCooldown},
	StateCooldown: {StateIdle},
}

// IsTransitionAllowed returns true when moving from → to is permitted.
func IsTransitionAllowed(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
