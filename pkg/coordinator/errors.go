package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrFileUnavailable means no Active node holds the file.
	ErrFileUnavailable = errors.New("file unavailable")
	// ErrInvalidNode means a node index is outside 1..nodeCount.
	ErrInvalidNode = errors.New("invalid node")
	// ErrNoStateChange means a node was already in the requested state.
	ErrNoStateChange = errors.New("no state change")
	// ErrUnrecoverable means a file has copies only on Down nodes.
	ErrUnrecoverable = errors.New("unrecoverable")
	// ErrInvalidCluster is returned when cluster construction parameters are invalid.
	ErrInvalidCluster = errors.New("invalid cluster")
	ErrEmptyFilename  = errors.New("empty filename")
	// ErrRepairFailed means an under-replicated file could not be read from
	// any of its live holders.
	ErrRepairFailed = errors.New("repair failed")
)

// UnrecoverableError names a file that repair could not restore because no
// Active node holds a copy.
type UnrecoverableError struct {
	Filename string
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("%q: %v", e.Filename, ErrUnrecoverable)
}

func (e *UnrecoverableError) Is(target error) bool {
	return target == ErrUnrecoverable
}

// RepairFailure names a file whose live copies could not be read during
// repair, for example because the transport rejected them.
type RepairFailure struct {
	Filename string
	Err      error
}

func (e *RepairFailure) Error() string {
	return fmt.Sprintf("%q: %v: %v", e.Filename, ErrRepairFailed, e.Err)
}

func (e *RepairFailure) Is(target error) bool {
	return target == ErrRepairFailed
}

func (e *RepairFailure) Unwrap() error {
	return e.Err
}
