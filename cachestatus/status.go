// Package cachestatus defines the wire-visible outcome codes shared by the
// cachemgr and plugin layers, plus sentinel errors that wrap them.
//
// The teacher repo expresses its error taxonomy as exported sentinel
// errors compared with errors.Is (see its errors.go). We follow that idiom
// here instead of inventing a bare status-code-as-int return value: the
// cache manager's API returns (T, error), and only the plugin façade — the actual
// callback boundary named in the specification — downgrades an error into
// the numeric Code a wire client expects.
package cachestatus

import "errors"

// Code is a wire-visible status code. Ok is the zero value so a successful
// result never needs explicit assignment.
type Code int

const (
	Ok Code = iota
	NoEntry
	OutOfBounds
	BadCount
	Partial
	NoSpace
	AlreadyExists
	TooManyHandles
	BadHandle
	IoError
)

func (c Code) String() string {
	switch c {
	case Ok:
		return "Ok"
	case NoEntry:
		return "NoEntry"
	case OutOfBounds:
		return "OutOfBounds"
	case BadCount:
		return "BadCount"
	case Partial:
		return "Partial"
	case NoSpace:
		return "NoSpace"
	case AlreadyExists:
		return "AlreadyExists"
	case TooManyHandles:
		return "TooManyHandles"
	case BadHandle:
		return "BadHandle"
	case IoError:
		return "IoError"
	default:
		return "Unknown"
	}
}

// StatusError wraps a Code as a Go error so internal APIs can return
// ordinary (T, error) pairs while a caller that cares about the wire code
// can still recover it with errors.As.
type StatusError struct {
	code Code
	msg  string
}

func (e *StatusError) Error() string { return e.msg }

// Code returns the wire status code this error represents.
func (e *StatusError) Code() Code { return e.code }

func newStatusError(code Code, msg string) error {
	return &StatusError{code: code, msg: msg}
}

// Sentinel errors, one per wire status code. Compare with errors.Is.
var (
	ErrNoEntry        = newStatusError(NoEntry, "cachestatus: no such entry")
	ErrOutOfBounds    = newStatusError(OutOfBounds, "cachestatus: offset out of bounds")
	ErrBadCount       = newStatusError(BadCount, "cachestatus: refcount would go negative")
	ErrPartial        = newStatusError(Partial, "cachestatus: target size not reached")
	ErrNoSpace        = newStatusError(NoSpace, "cachestatus: not enough room in cache")
	ErrAlreadyExists  = newStatusError(AlreadyExists, "cachestatus: id already present")
	ErrTooManyHandles = newStatusError(TooManyHandles, "cachestatus: handle table is full")
	ErrBadHandle      = newStatusError(BadHandle, "cachestatus: unknown handle")
	ErrIoError        = newStatusError(IoError, "cachestatus: io error")
)

// ToCode maps an error produced anywhere in this module back to its wire
// Code. Unrecognized errors map to IoError, matching the specification's
// "generic catch-all" status.
func ToCode(err error) Code {
	if err == nil {
		return Ok
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code()
	}
	return IoError
}
