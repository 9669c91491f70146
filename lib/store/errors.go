package store

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message. The message is the exact text sent to clients.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Msg
}

// Is reports whether target is a *Error with the same code.
// This allows errors.Is(err, store.ErrTypeMismatch) regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new Error with the given code and a formatted message
func Errorf(code RetCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess             RetCode = iota // 0: Command executed successfully.
	RetCInternalError                      // 1: Command failed due to an internal error.
	RetCTypeMismatch                       // 2: Operation against a key holding the wrong kind of value.
	RetCNotMonotonic                       // 3: Stream id is equal or smaller than the stream top item.
	RetCMustExceedZero                     // 4: Stream id is 0-0.
	RetCInvalidStreamID                    // 5: Stream id could not be parsed.
	RetCExecWithoutMulti                   // 6: EXEC without MULTI.
	RetCNestedMulti                        // 7: MULTI inside MULTI.
	RetCDiscardWithoutMulti                // 8: DISCARD without MULTI.
	RetCExecAbort                          // 9: A queued command was rejected, the transaction is discarded.
	RetCNotInteger                         // 10: Value is not an integer.
	RetCOverflow                           // 11: Increment would overflow.
	RetCUnsupportedPattern                 // 12: KEYS pattern other than "*".
	RetCSyntaxError                        // 13: Malformed arguments.
	RetCWrongArity                         // 14: Wrong number of arguments.
	RetCUnknownCommand                     // 15: Unknown command.
	RetCReadOnly                           // 16: Write against a read only follower.
)

// --------------------------------------------------------------------------
// Predefined Errors
// --------------------------------------------------------------------------

var (
	ErrTypeMismatch        = NewError(RetCTypeMismatch, "WRONGTYPE Operation against a key holding the wrong kind of value")
	ErrNotMonotonic        = NewError(RetCNotMonotonic, "ERR The ID specified in XADD is equal or smaller than the target stream top item")
	ErrMustExceedZero      = NewError(RetCMustExceedZero, "ERR The ID specified in XADD must be greater than 0-0")
	ErrInvalidStreamID     = NewError(RetCInvalidStreamID, "ERR Invalid stream ID specified as stream command argument")
	ErrExecWithoutMulti    = NewError(RetCExecWithoutMulti, "ERR EXEC without MULTI")
	ErrNestedMulti         = NewError(RetCNestedMulti, "ERR MULTI calls can not be nested")
	ErrDiscardWithoutMulti = NewError(RetCDiscardWithoutMulti, "ERR DISCARD without MULTI")
	ErrExecAbort           = NewError(RetCExecAbort, "EXECABORT Transaction discarded because of previous errors.")
	ErrNotInteger          = NewError(RetCNotInteger, "ERR value is not an integer or out of range")
	ErrOverflow            = NewError(RetCOverflow, "ERR increment or decrement would overflow")
	ErrUnsupportedPattern  = NewError(RetCUnsupportedPattern, "ERR only the '*' pattern is supported")
	ErrSyntax              = NewError(RetCSyntaxError, "ERR syntax error")
	ErrReadOnly            = NewError(RetCReadOnly, "READONLY You can't write against a read only replica.")
)
