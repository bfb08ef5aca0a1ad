package runs

import (
	"errors"
	"fmt"
	"time"
)

// ErrConcurrentOperation indicates a second run of the same kind was
// attempted while one is active. Runs never queue or interleave.
var ErrConcurrentOperation = errors.New("another operation of this kind is already running")

// Status is the lifecycle state of a run. A run transitions exactly once
// from Running to a terminal state and is never reopened.
type Status string

const (
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusAborted    Status = "aborted"     // restore: validation failed before mutation
	StatusRolledBack Status = "rolled_back" // restore: failed and rolled back
)

// Kind distinguishes the two single-flight operation kinds.
type Kind string

const (
	KindBackup  Kind = "backup"
	KindRestore Kind = "restore"
)

// RestoreType selects what a restore applies.
type RestoreType string

const (
	RestoreFull      RestoreType = "full"
	RestoreDatabase  RestoreType = "database"
	RestoreFiles     RestoreType = "files"
	RestoreSelective RestoreType = "selective"
)

// Valid reports whether t is a known restore type.
func (t RestoreType) Valid() bool {
	switch t {
	case RestoreFull, RestoreDatabase, RestoreFiles, RestoreSelective:
		return true
	}
	return false
}

// BackupRun is the mutable execution record of one backup invocation.
type BackupRun struct {
	ID            string
	StartedAt     time.Time
	CompletedAt   time.Time
	Status        Status
	Mode          string // full, incremental, database
	ManifestID    string
	ParentRunID   string
	FilesBackedUp int
	TotalSize     int64
	ErrorMessage  string
}

// RestoreRun is the mutable execution record of one restore invocation.
type RestoreRun struct {
	ID                  string
	StartedAt           time.Time
	CompletedAt         time.Time
	Status              Status
	RestoreType         RestoreType
	Source              string
	ManifestRef         string
	DryRun              bool
	PreRestoreBackupRef string
	RollbackAttempted   bool
	Successful          bool
	FilesRestored       int
	BytesRestored       int64
	Log                 []LogEntry
}

// LogEntry is one timestamped line of a restore's forensic log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// AppendLog adds a structured, timestamped entry to the restore log.
// The log must be complete even on abort paths.
func (r *RestoreRun) AppendLog(level, format string, args ...any) {
	r.Log = append(r.Log, LogEntry{
		Time:    time.Now().UTC(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	})
}
