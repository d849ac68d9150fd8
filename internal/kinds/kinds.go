// Package kinds enumerates the error taxonomy every pipeline stage
// classifies its failures into, and wraps them in a GatewayError that
// carries a stable code, a human message, and the chain id for
// correlation.
package kinds

import (
	"errors"
	"fmt"

	"github.com/nightfield/signalgate/internal/schema"
)

// Kind is one of the eight error classes every stage's failures map to.
type Kind string

const (
	Validation     Kind = "Validation"
	Duplicate      Kind = "Duplicate"
	GateBlocked    Kind = "GateBlocked"
	RiskRejected   Kind = "RiskRejected"
	Transient      Kind = "Transient"
	BrokerRejected Kind = "BrokerRejected"
	Emergency      Kind = "Emergency"
	Internal       Kind = "Internal"
)

// GatewayError is the error type returned across stage boundaries. It
// satisfies errors.Is/As against its Kind and against a wrapped cause.
type GatewayError struct {
	Kind    Kind
	Code    string
	Message string
	ChainID schema.ChainID
	cause   error
}

// New builds a GatewayError with no wrapped cause.
func New(kind Kind, code, message string) *GatewayError {
	return &GatewayError{Kind: kind, Code: code, Message: message}
}

// Wrap builds a GatewayError around a lower-level cause.
func Wrap(kind Kind, code, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Code: code, Message: message, cause: cause}
}

// WithChain attaches the chain id for correlation and returns the
// receiver for chaining.
func (e *GatewayError) WithChain(id schema.ChainID) *GatewayError {
	e.ChainID = id
	return e
}

func (e *GatewayError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s/%s] %s: %s", e.Kind, e.Code, e.Message, e.cause.Error())
}

func (e *GatewayError) Unwrap() error {
	return e.cause
}

// Is matches against another *GatewayError by Kind, or delegates to the
// wrapped cause.
func (e *GatewayError) Is(target error) bool {
	var ge *GatewayError
	if errors.As(target, &ge) {
		return e.Kind == ge.Kind
	}
	return false
}

// KindOf extracts the Kind from err if it is (or wraps) a GatewayError,
// defaulting to Internal for unclassified failures — per the error
// handling design, nothing bubbles up unclassified.
func KindOf(err error) Kind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return Internal
}
