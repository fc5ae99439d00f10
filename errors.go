package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// not-found
	ErrWorkflowVersionNotFound = errors.New("workflow: no published version for workflow")
	ErrVersionNotFound         = errors.New("workflow: version not found")
	ErrRunNotFound             = errors.New("workflow: run not found")

	// state-conflict
	ErrInvalidNodeStateTransition    = errors.New("workflow: invalid node state transition")
	ErrInvalidRunStateTransition     = errors.New("workflow: invalid run state transition")
	ErrInvalidVersionStateTransition = errors.New("workflow: invalid version state transition")
	ErrRunAlreadyTerminal            = errors.New("workflow: run already terminal")
	ErrDagImmutable                  = errors.New("workflow: dag can only be attached to a draft version")

	// structural
	ErrInvalidDag    = errors.New("workflow: invalid dag")
	ErrCyclicGraph   = errors.New("workflow: cycle detected, graph is not acyclic")
	ErrUnknownNode   = errors.New("workflow: edge references unknown node")
	ErrMissingOutput = errors.New("workflow: succeeded run requires output")

	// bad input
	ErrInvalidID = errors.New("workflow: invalid id")
)

// TransitionError reports a rejected state-machine transition. It matches the
// entity's sentinel through errors.Is.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("workflow: invalid %s state transition %s -> %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	switch target {
	case ErrInvalidNodeStateTransition:
		return e.Entity == "node"
	case ErrInvalidRunStateTransition:
		return e.Entity == "run"
	case ErrInvalidVersionStateTransition:
		return e.Entity == "version"
	}
	return false
}

// ValidationError carries every problem the validator found.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "workflow: invalid dag: " + strings.Join(e.Errors, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidDag }

// CyclicGraphError is returned by the planner when Kahn's algorithm could not
// emit every node. Remaining lists the keys left on a cycle or behind one.
type CyclicGraphError struct {
	Remaining []string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("workflow: cycle detected, %d node(s) not schedulable: %s",
		len(e.Remaining), strings.Join(e.Remaining, ", "))
}

func (e *CyclicGraphError) Unwrap() error { return ErrCyclicGraph }

// IsNotFound reports whether err is one of the not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrWorkflowVersionNotFound)
}

// IsConflict reports whether err is a state-conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidNodeStateTransition) ||
		errors.Is(err, ErrInvalidRunStateTransition) ||
		errors.Is(err, ErrInvalidVersionStateTransition) ||
		errors.Is(err, ErrRunAlreadyTerminal) ||
		errors.Is(err, ErrDagImmutable)
}
