package fsm

import "fmt"

type DiagnosisState string

const (
	DiagnosisIdle      DiagnosisState = "idle"
	DiagnosisRunning   DiagnosisState = "running"
	DiagnosisCompleted DiagnosisState = "completed"
	DiagnosisFailed    DiagnosisState = "failed"
)

// DiagnosisTransition applies one event to a diagnosis state. EventOpened is
// not part of this machine: the diagnosis stays running while its channel opens.
func DiagnosisTransition(current DiagnosisState, event Event) (DiagnosisState, error) {
	switch current {
	case DiagnosisIdle, DiagnosisCompleted, DiagnosisFailed:
		switch event {
		case EventStart:
			return DiagnosisRunning, nil
		case EventCancel:
			return DiagnosisIdle, nil
		default:
			return current, invalidDiagnosisTransition(current, event)
		}
	case DiagnosisRunning:
		switch event {
		case EventEnd:
			return DiagnosisCompleted, nil
		case EventFail:
			return DiagnosisFailed, nil
		case EventCancel:
			return DiagnosisIdle, nil
		default:
			return current, invalidDiagnosisTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown diagnosis state %q", current)
	}
}

func invalidDiagnosisTransition(state DiagnosisState, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
