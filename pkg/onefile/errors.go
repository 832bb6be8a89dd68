package onefile

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoIndex is returned by Goto on files without a binary object index.
var ErrNoIndex = errors.New("no object index: goto requires a binary file")

// ErrClosed is returned by operations on a closed handle.
var ErrClosed = errors.New("file is closed")

// OpenError reports a failed open, carrying the path it was attempted on and
// the underlying error text.
type OpenError struct {
	Path string
	Msg  string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("Failed to open file: %s: %s", e.Path, e.Msg)
}

// RangeError reports an out-of-range object or group index.
type RangeError struct {
	What  string
	Index int64
	Limit int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s index %d out of range [1,%d]", e.What, e.Index, e.Limit)
}

// lastError is the process-wide buffer of the most recent open failure. A
// failed open records the underlying error text here and reads it back
// while formatting the OpenError. The lock spans both the write and the
// read-back so two concurrent failing opens never report each other's
// message or path.
var lastError struct {
	mu  sync.Mutex
	msg string
}

func openFailed(path string, err error) error {
	lastError.mu.Lock()
	defer lastError.mu.Unlock()
	lastError.msg = err.Error()
	return &OpenError{Path: path, Msg: lastError.msg}
}

func openFailedf(path string, format string, args ...any) error {
	return openFailed(path, fmt.Errorf(format, args...))
}

// LastErrorString returns the message of the most recent open failure in
// this process.
func LastErrorString() string {
	lastError.mu.Lock()
	defer lastError.mu.Unlock()
	return lastError.msg
}
