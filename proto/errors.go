package proto

import (
	"errors"
	"fmt"
)

// ErrorKind classifies protocol faults.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMalformedMessage
	KindNoAcknowledgeReceived
	KindInvalidAcknowledge
	KindCommandTimedOut
	KindWrongCommandType
	KindNoServicesFound
	KindInvalidRequestID
	KindUnsupportedCommand
	KindInternalError
	KindConnectionRefused
	KindConnectionClosed
)

var kindNames = map[ErrorKind]string{
	KindUnknown:               "unknown",
	KindMalformedMessage:      "malformed message",
	KindNoAcknowledgeReceived: "no acknowledge received",
	KindInvalidAcknowledge:    "invalid acknowledge",
	KindCommandTimedOut:       "command timed out",
	KindWrongCommandType:      "wrong command type",
	KindNoServicesFound:       "no services found",
	KindInvalidRequestID:      "invalid request id",
	KindUnsupportedCommand:    "unsupported command",
	KindInternalError:         "internal error",
	KindConnectionRefused:     "connection refused",
	KindConnectionClosed:      "connection closed",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the single error type for protocol faults. MustReboot marks faults
// after which the device service has to be restarted before further use.
type Error struct {
	Kind       ErrorKind
	Message    string
	MustReboot bool
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf reports the kind of err, or KindUnknown when err is not a protocol error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

var (
	ErrMalformedMessage      = &Error{Kind: KindMalformedMessage}
	ErrNoAcknowledgeReceived = &Error{Kind: KindNoAcknowledgeReceived}
	ErrInvalidAcknowledge    = &Error{Kind: KindInvalidAcknowledge}
	ErrCommandTimedOut       = &Error{Kind: KindCommandTimedOut}
	ErrWrongCommandType      = &Error{Kind: KindWrongCommandType}
	ErrNoServicesFound       = &Error{Kind: KindNoServicesFound}
	ErrInvalidRequestID      = &Error{Kind: KindInvalidRequestID}
	ErrUnsupportedCommand    = &Error{Kind: KindUnsupportedCommand}
	ErrInternalError         = &Error{Kind: KindInternalError}
	ErrConnectionRefused     = &Error{Kind: KindConnectionRefused}
	ErrConnectionClosed      = &Error{Kind: KindConnectionClosed}
)
