package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// DefaultLockStaleAfter is the age past which a lock file is assumed to
// belong to a crashed process and is removed
const DefaultLockStaleAfter = 30 * time.Minute

// ErrLockHeld is returned when another process already holds the lock for an
// operation. Not an error condition for the caller to retry blindly: the
// operation is simply already in progress.
var ErrLockHeld = errors.New("operation already in progress")

// LockRecord is the content of a lock file
type LockRecord struct {
	Operation string    `json:"operation"`
	PID       int       `json:"pid"`
	StartTime time.Time `json:"startTime"`
}

// LockManager provides cooperative, file-based mutual exclusion keyed by
// operation name. Acquisition fails fast rather than blocking; locks older
// than the staleness threshold are silently removed and acquisition retried
// once.
type LockManager struct {
	dir        string
	staleAfter time.Duration
	log        *zap.Logger
}

// NewLockManager creates a lock manager writing lock files under dir
func NewLockManager(dir string, staleAfter time.Duration, log *zap.Logger) (*LockManager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if staleAfter <= 0 {
		staleAfter = DefaultLockStaleAfter
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &LockManager{dir: dir, staleAfter: staleAfter, log: log}, nil
}

// Lock is a held lock; callers must Release it
type Lock struct {
	path   string
	record LockRecord
}

// Record returns the lock file content
func (l *Lock) Record() LockRecord {
	return l.record
}

// Acquire attempts to take the lock for an operation. Returns ErrLockHeld
// (wrapped with the holder's details) when a live lock exists.
func (m *LockManager) Acquire(operation string) (*Lock, error) {
	path := m.lockPath(operation)

	lock, err := m.tryCreate(path, operation)
	if err == nil {
		return lock, nil
	}
	if !errors.Is(err, ErrLockHeld) {
		return nil, err
	}

	// A held lock may belong to a crashed process. Check staleness and
	// retry once after removal.
	if m.removeIfStale(path) {
		return m.tryCreate(path, operation)
	}
	return nil, err
}

// Release removes the lock file. Releasing an already-removed lock is not an
// error.
func (m *LockManager) Release(lock *Lock) error {
	if lock == nil {
		return nil
	}
	err := os.Remove(lock.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Holder returns the current lock record for an operation, if any
func (m *LockManager) Holder(operation string) (*LockRecord, error) {
	data, err := os.ReadFile(m.lockPath(operation))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	return &rec, nil
}

func (m *LockManager) lockPath(operation string) string {
	return filepath.Join(m.dir, sanitize(operation)+".lock")
}

// tryCreate creates the lock file exclusively; an existing file means the
// lock is held
func (m *LockManager) tryCreate(path, operation string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if os.IsExist(err) {
		rec, readErr := m.readRecord(path)
		if readErr != nil || rec == nil {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, operation)
		}
		return nil, fmt.Errorf("%w: %s (pid %d, started %s)",
			ErrLockHeld, operation, rec.PID, rec.StartTime.Format(time.RFC3339))
	}
	if err != nil {
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	record := LockRecord{
		Operation: operation,
		PID:       os.Getpid(),
		StartTime: time.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err == nil {
		_, err = f.Write(data)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", err)
	}

	return &Lock{path: path, record: record}, nil
}

func (m *LockManager) readRecord(path string) (*LockRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// removeIfStale deletes a lock whose record (or file mtime, when the record
// is unreadable) is older than the staleness threshold
func (m *LockManager) removeIfStale(path string) bool {
	var started time.Time

	if rec, err := m.readRecord(path); err == nil && rec != nil {
		started = rec.StartTime
	} else if info, statErr := os.Stat(path); statErr == nil {
		started = info.ModTime()
	} else {
		// Lock vanished between the failed create and now.
		return true
	}

	if time.Since(started) < m.staleAfter {
		return false
	}

	m.log.Warn("removing stale lock",
		zap.String("path", path),
		zap.Time("started", started))
	return os.Remove(path) == nil || !fileExists(path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
