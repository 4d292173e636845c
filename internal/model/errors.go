package model

import (
	"errors"
	"fmt"
)

// ErrorCode classifies errors returned by the calibration core.
type ErrorCode string

const (
	// CodeInvalidInput covers malformed or insufficient measurement data.
	// The session state is unchanged and the caller may resubmit.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	// CodeMeasurementError is a non-finite value produced during computation.
	CodeMeasurementError ErrorCode = "MEASUREMENT_ERROR"
	// CodeInvalidTransition is an operation attempted in the wrong state.
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	// CodeEquipmentBusy means another session is active for the equipment.
	CodeEquipmentBusy ErrorCode = "EQUIPMENT_BUSY"
	// CodeSessionClosed is an operation on a COMPLETED or ABORTED session.
	CodeSessionClosed ErrorCode = "SESSION_CLOSED"
	// CodeSessionNotFound is an unknown session id.
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
)

// Error is a typed calibration error. Set and Field identify the offending
// input when the error concerns submitted data.
type Error struct {
	Code    ErrorCode `json:"code"`
	Set     string    `json:"set,omitempty"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	switch {
	case e.Set != "" && e.Field != "":
		return fmt.Sprintf("%s: %s.%s: %s", e.Code, e.Set, e.Field, e.Message)
	case e.Set != "":
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Set, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Is matches any *Error with the same code, so errors.Is(err, &Error{Code: c})
// works as a code check.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// InvalidInput builds a CodeInvalidInput error for the given set and field.
func InvalidInput(set, field, format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Set: set, Field: field, Message: fmt.Sprintf(format, args...)}
}

// MeasurementError builds a CodeMeasurementError error.
func MeasurementError(set, field, format string, args ...any) *Error {
	return &Error{Code: CodeMeasurementError, Set: set, Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition builds a CodeInvalidTransition error.
func InvalidTransition(op string, state SessionState) *Error {
	return &Error{Code: CodeInvalidTransition, Message: fmt.Sprintf("%s not allowed in state %s", op, state)}
}

// SessionClosed builds a CodeSessionClosed error.
func SessionClosed(id string, state SessionState) *Error {
	return &Error{Code: CodeSessionClosed, Message: fmt.Sprintf("session %s is %s", id, state)}
}

// EquipmentBusy builds a CodeEquipmentBusy error.
func EquipmentBusy(equipmentID, sessionID string) *Error {
	return &Error{Code: CodeEquipmentBusy, Message: fmt.Sprintf("equipment %s has active session %s", equipmentID, sessionID)}
}

// SessionNotFound builds a CodeSessionNotFound error.
func SessionNotFound(id string) *Error {
	return &Error{Code: CodeSessionNotFound, Message: fmt.Sprintf("session %s not found", id)}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
