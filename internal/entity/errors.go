package entity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidState        = errors.New("job is not in a state that allows this operation")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUnknownTarget       = errors.New("unknown target")
	ErrInvalidPanel        = errors.New("invalid panel selector")
	ErrEditLimit           = errors.New("edit limit reached for target")
	ErrNoPage              = errors.New("target has no generated page")
	ErrInvalidInput        = errors.New("invalid job input")
)

// MissingApprovalsError is returned by finalize when required targets are not approved.
type MissingApprovalsError struct {
	Targets []Target
}

func (e *MissingApprovalsError) Error() string {
	return "missing approvals: " + strings.Join(e.Keys(), ", ")
}

func (e *MissingApprovalsError) Keys() []string {
	keys := make([]string, len(e.Targets))
	for i, t := range e.Targets {
		keys[i] = t.String()
	}
	return keys
}

// FinalizationError names the assembly phase and target that failed.
type FinalizationError struct {
	Phase  FinalizePhase
	Target Target
	Err    error
}

func (e *FinalizationError) Error() string {
	return fmt.Sprintf("finalize %s: %s: %v", e.Phase, e.Target, e.Err)
}

func (e *FinalizationError) Unwrap() error { return e.Err }
