package sandals

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is one of the terminal outcomes a response can report.
type Status string

const (
	StatusExited         Status = "exited"
	StatusKilled         Status = "killed"
	StatusMemoryLimit    Status = "memoryLimit"
	StatusPidsLimit      Status = "pidsLimit"
	StatusTimeLimit      Status = "timeLimit"
	StatusOutputLimit    Status = "outputLimit"
	StatusRequestInvalid Status = "requestInvalid"
	StatusInternalError  Status = "internalError"
	StatusResponseTooBig Status = "responseTooBig"
)

// Fail is the single error type the top-level Run catches to decide how
// to finish the invocation. Every helper that can fail constructs one
// directly, or via Invalid/Internal, instead of exiting the process;
// Run is the only place a Fail is turned into a response.
type Fail struct {
	Status      Status
	Description string
	Cause       error
}

func (f *Fail) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Status, f.Description, f.Cause)
	}
	if f.Description != "" {
		return fmt.Sprintf("%s: %s", f.Status, f.Description)
	}
	return string(f.Status)
}

func (f *Fail) Unwrap() error { return f.Cause }

// Invalid builds a requestInvalid Fail carrying a JSON-path-qualified
// description.
func Invalid(format string, args ...interface{}) *Fail {
	return &Fail{Status: StatusRequestInvalid, Description: fmt.Sprintf(format, args...)}
}

// Internal builds an internalError Fail wrapping a syscall or setup
// failure.
func Internal(cause error, format string, args ...interface{}) *Fail {
	return &Fail{
		Status:      StatusInternalError,
		Description: fmt.Sprintf(format, args...),
		Cause:       errors.WithStack(cause),
	}
}

// AsFail unwraps err into a *Fail if one is anywhere in its chain,
// otherwise wraps it as an internalError. This is the single catch-all
// boundary every top-level entry point funnels errors through.
func AsFail(err error) *Fail {
	if err == nil {
		return nil
	}
	var f *Fail
	if errors.As(err, &f) {
		return f
	}
	return Internal(err, "%v", err)
}
