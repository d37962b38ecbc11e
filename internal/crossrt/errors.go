package crossrt

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrToolInvocation   = errors.New("tool invocation failed")
	ErrUnexpectedLayout = errors.New("unexpected layout")
	ErrRepoBuild        = errors.New("isolated repository setup failed")
	ErrFetch            = errors.New("package download failed")
	ErrPackageNotFound  = errors.New("package archive not found")
	ErrExtraction       = errors.New("archive extraction failed")
	ErrNotFound         = errors.New("target directory not found")
	ErrAmbiguousMatch   = errors.New("ambiguous match")
	ErrInstall          = errors.New("install failed")
)

// ToolError describes an external command that could not be started or
// exited non-zero.
type ToolError struct {
	Args     []string
	ExitCode int // -1 when the process never ran to completion
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %v", strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ToolError) Unwrap() []error {
	return []error{ErrToolInvocation, e.Err}
}

// StepError ties a failure to the architecture and provisioning step that
// produced it.
type StepError struct {
	Arch string
	Step State  // last state reached
	Name string // step that failed; defaults to the step leaving Step
	Err  error
}

// StepName names the step that failed.
func (e *StepError) StepName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Step.stepName()
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Arch, e.StepName(), e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
