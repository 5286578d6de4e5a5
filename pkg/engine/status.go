package engine

import (
	"encoding/json"
	"fmt"
)

// Stage is a step of the operation state machine.
type Stage string

const (
	// StageReceived is the state of an operation before any step ran.
	StageReceived Stage = "RECEIVED"

	// StageModel validates and mutates the resource tree.
	StageModel Stage = "MODEL"

	// StageRuntime applies the committed model to the service graph.
	StageRuntime Stage = "RUNTIME"

	// StageVerify waits for services touched by the runtime stage.
	StageVerify Stage = "VERIFY"

	// StageComplete is the terminal state of a successful operation.
	StageComplete Stage = "COMPLETE"

	// StageRolledBack is the terminal state of an operation whose effects
	// were compensated.
	StageRolledBack Stage = "ROLLED-BACK"
)

// IsTerminal returns true if the stage is a final state.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageRolledBack
}

// IsStep returns true if steps can be registered for the stage.
func (s Stage) IsStep() bool {
	return s == StageModel || s == StageRuntime || s == StageVerify
}

// Validate checks if the stage is valid.
func (s Stage) Validate() error {
	switch s {
	case StageReceived, StageModel, StageRuntime, StageVerify, StageComplete, StageRolledBack:
		return nil
	default:
		return fmt.Errorf("invalid stage: %s", s)
	}
}

func (s Stage) order() int {
	switch s {
	case StageModel:
		return 1
	case StageRuntime:
		return 2
	case StageVerify:
		return 3
	case StageComplete, StageRolledBack:
		return 4
	}
	return 0
}

// Outcome is the overall result of an operation.
type Outcome string

const (
	// OutcomeSuccess indicates every stage completed.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailed indicates the operation failed without runtime effects,
	// or failed and could not be fully compensated.
	OutcomeFailed Outcome = "failed"

	// OutcomeRolledBack indicates the operation failed after runtime effects
	// and was compensated.
	OutcomeRolledBack Outcome = "rolled-back"
)

// Validate checks if the outcome is valid.
func (o Outcome) Validate() error {
	switch o {
	case OutcomeSuccess, OutcomeFailed, OutcomeRolledBack:
		return nil
	default:
		return fmt.Errorf("invalid outcome: %s", o)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(o))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*o = Outcome(str)
	return o.Validate()
}

// RunningMode tells the engine whether a live server is attached.
type RunningMode string

const (
	// ModeNormal runs model, runtime and verify stages.
	ModeNormal RunningMode = "normal"

	// ModeAdminOnly runs the model stage only.
	ModeAdminOnly RunningMode = "admin-only"
)

// Validate checks if the running mode is valid.
func (m RunningMode) Validate() error {
	switch m {
	case ModeNormal, ModeAdminOnly:
		return nil
	default:
		return fmt.Errorf("invalid running mode: %s", m)
	}
}

// UnmarshalText lets configuration decoders produce a validated mode.
func (m *RunningMode) UnmarshalText(text []byte) error {
	*m = RunningMode(text)
	return m.Validate()
}
