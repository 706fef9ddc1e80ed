// Package lifecycle defines the run state shared by long-lived components.
package lifecycle

// State of a background component. Transitions: Stopped -> Running on start,
// Running -> Stopping -> Stopped on shutdown.
type State int32

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}
