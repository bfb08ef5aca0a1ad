package orchestrate

import (
	"errors"
	"fmt"
)

// ErrCancelled marks a run that was cooperatively cancelled between file
// operations. Distinct from ordinary failure in run records.
var ErrCancelled = errors.New("operation cancelled")

// ErrDatabaseDump indicates the database dump failed. Always fatal to a
// backup run: a manifest without a consistent database reference is not
// restorable.
var ErrDatabaseDump = errors.New("database dump failed")

// InsufficientSpaceError aborts a restore at the space pre-check, before
// any file is touched. Fatal regardless of --force.
type InsufficientSpaceError struct {
	Path      string
	Required  int64
	Available int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient space at %s: need %d bytes, %d available",
		e.Path, e.Required, e.Available)
}

// IntegrityError is a post-restore checksum or row-count mismatch.
type IntegrityError struct {
	Path string
	Want string
	Got  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity verification failed for %s: want %s, got %s",
		e.Path, e.Want, e.Got)
}

// RollbackError means the rollback itself failed, leaving the system in
// an unknown state. The most severe condition: it must never be conflated
// with ordinary restore failure and requires manual intervention.
type RollbackError struct {
	Cause error // the failure that triggered the rollback
	Err   error // the rollback's own failure
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("ROLLBACK FAILED, system state unknown, manual intervention required: %v (restore failure was: %v)",
		e.Err, e.Cause)
}

func (e *RollbackError) Unwrap() error { return e.Err }
