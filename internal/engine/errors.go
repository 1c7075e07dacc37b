package engine

import (
	"fmt"
	"strings"

	"inspectline/internal/engine/rules"
)

// ValidationError reports malformed or incomplete input.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) ValidationError {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// StateConflictError reports an operation applied to an entity that is no
// longer in the required state.
type StateConflictError struct {
	Entity string
	ID     string
	Msg    string
}

func (e StateConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Msg)
}

// ForbiddenError reports an actor acting outside their role or ownership.
type ForbiddenError struct {
	Msg string
}

func (e ForbiddenError) Error() string { return e.Msg }

// EvidenceDeficiencyError blocks a submission whose triggered rules demanded
// evidence the inspector did not provide. Items list every shortfall so the
// client can fix them in one pass.
type EvidenceDeficiencyError struct {
	Items []rules.Deficiency
}

func (e EvidenceDeficiencyError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, d := range e.Items {
		parts = append(parts, fmt.Sprintf("%s: missing %s", d.QuestionID, strings.Join(d.Missing, ", ")))
	}
	return "evidence required: " + strings.Join(parts, "; ")
}
