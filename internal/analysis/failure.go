package analysis

import (
	"errors"
	"fmt"

	"support-inbox-ai/internal/domain"
)

// Stage names the step of Handle that failed.
type Stage string

const (
	StageComplete Stage = "complete"
	StageParse    Stage = "parse"
	StageValidate Stage = "validate"
)

var (
	ErrEmptyResponse = errors.New("analysis: empty model response")
	ErrNoJSONObject  = errors.New("analysis: no JSON object in model response")
	ErrInvalidResult = errors.New("analysis: invalid result")
)

// Failure is the untransformed cause of a handler error. The orchestrator
// converts it into the handler's fallback.
type Failure struct {
	Kind  domain.Kind
	Stage Stage
	Err   error
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("analysis: %s %s failed: %v", f.Kind, f.Stage, f.Err)
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidResult, fmt.Sprintf(format, args...))
}
