package database

// State is the lifecycle position of a Bootstrap.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateUninitialized: "UNINITIALIZED",
	StateInitializing:  "INITIALIZING",
	StateReady:         "READY",
	StateShuttingDown:  "SHUTTING_DOWN",
	StateClosed:        "CLOSED",
	StateFailed:        "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}
