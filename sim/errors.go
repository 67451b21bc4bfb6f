package sim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pphpc/ppsim/sim/device"
)

// ErrorKind classifies fatal engine failures.
type ErrorKind int

const (
	// AllocationError: a region could not be created on the device.
	AllocationError ErrorKind = iota + 1
	// DispatchError: kernel argument binding or launch failed.
	DispatchError
	// MappingError: a host-visible mapping could not be opened or closed.
	MappingError
	// ConfigurationError: the configuration cannot be run (detected before
	// the first dispatch).
	ConfigurationError
	// IOError: the statistics output could not be written.
	IOError
	// BuildError: the device program could not be built.
	BuildError
)

var errorKindNames = map[ErrorKind]string{
	AllocationError:    "allocation error",
	DispatchError:      "dispatch error",
	MappingError:       "mapping error",
	ConfigurationError: "configuration error",
	IOError:            "I/O error",
	BuildError:         "build error",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a classified engine failure. Op names the step that failed.
type Error struct {
	Kind     ErrorKind
	Op       string
	Err      error
	BuildLog string // set for BuildError
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func configErrorf(op, format string, args ...any) *Error {
	return newError(ConfigurationError, op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of a classified error, or 0 when err is not an
// engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Diagnostic renders err for the error stream: status code and message,
// followed by the program build log when the failure happened during build.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Error %d: %v", int(device.StatusOf(err)), err)
	var e *Error
	if errors.As(err, &e) && e.BuildLog != "" {
		b.WriteString("\n---- build log ----\n")
		b.WriteString(strings.TrimRight(e.BuildLog, "\n"))
	}
	return b.String()
}
