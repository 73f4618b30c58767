package store

import (
	"fmt"
	"io"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// WriteHook is invoked after every successful mutating operation with the
// database index and key that changed. It must be fast and must not block;
// heavy work belongs behind a queue on the receiving side.
type WriteHook func(db int, key string)

// Engine is the narrow interface for interacting with the key-value engine.
// All operations are scoped to a numbered database. Implementations must be
// safe for concurrent use by multiple worker threads.
type Engine interface {
	// Get returns the string value for a key. The boolean reports whether
	// the key was found.
	Get(db int, key string) (value []byte, found bool, err error)
	// Set inserts or updates a string key.
	Set(db int, key string, value []byte) error
	// Delete removes a key of any type. The boolean reports whether a key
	// was actually removed.
	Delete(db int, key string) (bool, error)
	// Exists reports whether a key of any type is present.
	Exists(db int, key string) (bool, error)
	// IncrBy atomically adjusts the integer value stored at key by delta and
	// returns the new value. A missing key counts as zero.
	IncrBy(db int, key string, delta int64) (int64, error)

	// ListPush appends values to the list at key (head if left is true) and
	// returns the resulting length.
	ListPush(db int, key string, values [][]byte, left bool) (int64, error)
	// ListPop removes and returns one element from the list at key (head if
	// left is true). The boolean reports whether an element was available.
	ListPop(db int, key string, left bool) ([]byte, bool, error)
	// ListLen returns the length of the list at key (0 for a missing key).
	ListLen(db int, key string) (int64, error)

	// FlushDB removes every key in one database.
	FlushDB(db int) error

	// Save serializes the full engine state to w. Used for snapshotting.
	Save(w io.Writer) error
	// Load replaces the engine state with a snapshot previously written by
	// Save.
	Load(r io.Reader) error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// RetCode classifies engine errors so callers can map them onto protocol
// replies without string matching.
type RetCode uint64

const (
	RetCSuccess       RetCode = iota // command executed successfully
	RetCInternalError                // internal failure
	RetCWrongType                    // operation against a key of another type
	RetCInvalidInt                   // value is not an integer
	RetCOverflow                     // arithmetic would overflow
	RetCInvalidOp                    // unknown or malformed operation
)

// Error wraps a return code and a message.
type Error struct {
	Code RetCode
	Msg  string
}

func (e *Error) Error() string {
	name := "Unknown"
	switch e.Code {
	case RetCInternalError:
		name = "InternalError"
	case RetCWrongType:
		name = "WrongType"
	case RetCInvalidInt:
		name = "InvalidInt"
	case RetCOverflow:
		name = "Overflow"
	case RetCInvalidOp:
		name = "InvalidOperation"
	}
	return fmt.Sprintf("engine error (code %s): %s", name, e.Msg)
}

// NewError creates a new engine Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// CodeOf extracts the RetCode from an error returned by an Engine.
// Unrecognized errors map to RetCInternalError.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return RetCInternalError
}
