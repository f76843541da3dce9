package core

import (
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
)

// Error kinds returned by the console. Match them with errors.Is.
var (
	ErrConnect              = errors.New("connection failed")
	ErrProductionBlocked    = errors.New("Operation not allowed on Production instance")
	ErrObjectNotFound       = errors.New("object not found")
	ErrEnvironmentNotFound  = errors.New("environment not found")
	ErrInventoryUnavailable = errors.New("inventory unavailable")
	ErrSyntax               = errors.New("syntax error")
	ErrExecution            = errors.New("execution error")
	ErrPlanMissingElements  = errors.New("execution plan is missing required elements")
	ErrPlanInvalidXML       = errors.New("execution plan is not valid XML")
	ErrInvalidAction        = errors.New("invalid action")
	ErrInvalidObjectType    = errors.New("invalid object type")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrModeConflict         = errors.New("session mode conflict")
)

// sqlInvalidObjectName is the engine error number for "Invalid object name".
const sqlInvalidObjectName = 208

// Error is a classified console failure. Message is safe to show to users.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind error, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ErrorMessage returns the user facing text for err.
func ErrorMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// classifyError turns a driver error into a console error. Invalid object
// names get a dedicated message, numbered engine errors are prefixed with
// their code and everything else passes through.
func classifyError(kind error, err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var me mssql.Error
	if errors.As(err, &me) {
		return classifyMessage(kind, messageFromError(me), err)
	}

	if isInvalidObjectText(err.Error()) {
		return newError(ErrObjectNotFound, err, "Table or view does not exist: %s", err.Error())
	}
	return &Error{Kind: kind, Message: err.Error(), Cause: err}
}

// classifyMessage classifies an engine message captured by a listener.
func classifyMessage(kind error, m Message, cause error) *Error {
	if m.Number == sqlInvalidObjectName || isInvalidObjectText(m.Text) {
		return newError(ErrObjectNotFound, cause, "Table or view does not exist: %s", m.Text)
	}
	if m.Number != 0 {
		return newError(kind, cause, "SQL error %d: %s", m.Number, m.Text)
	}
	return &Error{Kind: kind, Message: m.Text, Cause: cause}
}

func isInvalidObjectText(s string) bool {
	return strings.Contains(strings.ToLower(s), "invalid object name")
}
