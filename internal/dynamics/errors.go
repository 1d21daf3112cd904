package dynamics

import (
	"errors"
	"fmt"
)

// ErrorKind discriminates the failure classes of the response engine.
type ErrorKind int

const (
	// KindInvalidModel marks structurally invalid input: non-positive
	// masses, out-of-range connector indices, negative connector
	// parameters, or a malformed frequency grid. Fatal, never retried.
	KindInvalidModel ErrorKind = iota
	// KindResonanceSingularity marks a dynamic-stiffness matrix that is
	// singular or ill-conditioned at a given analysis frequency.
	KindResonanceSingularity
	// KindNonConvergence marks a solve whose iterative refinement budget
	// was exhausted without reaching the residual target.
	KindNonConvergence
)

// String returns the name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidModel:
		return "invalid_model"
	case KindResonanceSingularity:
		return "resonance_singularity"
	case KindNonConvergence:
		return "non_convergence"
	}
	return fmt.Sprintf("unknown_kind_%d", int(k))
}

// Error is a typed response-engine error carrying the failing operation
// and, for per-frequency failures, the analysis frequency.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Omega   float64
	Err     error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Kind == KindResonanceSingularity || e.Kind == KindNonConvergence {
		msg = fmt.Sprintf("%s (omega=%g)", msg, e.Omega)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsInvalidModel reports whether err is a KindInvalidModel error.
func IsInvalidModel(err error) bool { return hasKind(err, KindInvalidModel) }

// IsResonanceSingularity reports whether err is a KindResonanceSingularity error.
func IsResonanceSingularity(err error) bool { return hasKind(err, KindResonanceSingularity) }

// IsNonConvergence reports whether err is a KindNonConvergence error.
func IsNonConvergence(err error) bool { return hasKind(err, KindNonConvergence) }

func hasKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func invalidModelf(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidModel, Op: op, Message: fmt.Sprintf(format, args...)}
}

func singularityf(op string, omega float64, format string, args ...interface{}) *Error {
	return &Error{Kind: KindResonanceSingularity, Op: op, Omega: omega, Message: fmt.Sprintf(format, args...)}
}

func nonConvergencef(op string, omega float64, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNonConvergence, Op: op, Omega: omega, Message: fmt.Sprintf(format, args...)}
}
