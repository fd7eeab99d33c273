// Package lock serializes catalog writers. Inside one process every
// handle of a root shares a weighted semaphore; across processes writers
// hold a lock file inside the catalog marker directory.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// LockFileName is the name of the lock file inside the marker directory
	LockFileName = "ddb.lock"
	// DefaultStaleTimeout is the default duration after which a lock held
	// from another host is considered stale
	DefaultStaleTimeout = 30 * time.Minute
	// DefaultRetryInterval is how often AcquireContext polls a held lock
	DefaultRetryInterval = 50 * time.Millisecond
)

// LockInfo contains metadata about the lock holder
type LockInfo struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartTime time.Time `json:"start_time"`
	Operation string    `json:"operation,omitempty"`
}

// FileLock is a cross-process writer lock on one catalog
type FileLock struct {
	lockPath      string
	staleTimeout  time.Duration
	retryInterval time.Duration
	info          *LockInfo
}

// NewFileLock creates a lock file handle in dir, which must exist
func NewFileLock(dir string) (*FileLock, error) {
	if dir == "" {
		return nil, fmt.Errorf("lock directory cannot be empty")
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat lock directory: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("lock directory is not a directory: %s", dir)
	}

	return &FileLock{
		lockPath:      filepath.Join(dir, LockFileName),
		staleTimeout:  DefaultStaleTimeout,
		retryInterval: DefaultRetryInterval,
	}, nil
}

// SetStaleTimeout sets the duration after which a foreign lock is considered stale
func (l *FileLock) SetStaleTimeout(d time.Duration) {
	l.staleTimeout = d
}

// SetRetryInterval sets the polling interval of AcquireContext
func (l *FileLock) SetRetryInterval(d time.Duration) {
	if d > 0 {
		l.retryInterval = d
	}
}

// Acquire attempts to take the lock once.
// Returns a *LockError if another holder is alive.
func (l *FileLock) Acquire(op string) error {
	if l.info != nil {
		existing, err := l.readLockInfo()
		if err == nil && l.isHeldByThisInstance(existing) {
			existing.Operation = op
			if err := l.writeLockInfo(existing); err != nil {
				return err
			}
			// keep l.info in sync with the file, Release compares them
			l.info.Operation = op
			return nil
		}
	}

	existing, err := l.readLockInfo()
	if err == nil {
		if !l.isStale(existing) {
			return &LockError{Holder: existing, Reason: "lock is held by another process"}
		}
		if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	hostname, _ := os.Hostname()
	info := &LockInfo{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartTime: time.Now(),
		Operation: op,
	}

	// O_EXCL makes creation the single point of arbitration
	file, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			holder, readErr := l.readLockInfo()
			if readErr != nil {
				// the winner has not written its info yet
				return &LockError{Reason: "lock acquired by another process during acquisition"}
			}
			return &LockError{Holder: holder, Reason: "lock acquired by another process during acquisition"}
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(info); err != nil {
		os.Remove(l.lockPath)
		return fmt.Errorf("failed to write lock info: %w", err)
	}

	l.info = info
	return nil
}

// AcquireContext retries Acquire until it succeeds, fails with an error
// other than *LockError, or ctx is done.
func (l *FileLock) AcquireContext(ctx context.Context, op string) error {
	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		err := l.Acquire(op)
		if err == nil || !IsLockError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// Release releases the lock
func (l *FileLock) Release() error {
	if l.info == nil {
		return nil
	}

	existing, err := l.readLockInfo()
	if err != nil {
		l.info = nil
		return nil
	}

	if !l.isHeldByThisInstance(existing) {
		l.info = nil
		return fmt.Errorf("lock was stolen by another process")
	}

	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}

	l.info = nil
	return nil
}

// IsLocked checks if a live lock is currently held
func (l *FileLock) IsLocked() bool {
	info, err := l.readLockInfo()
	if err != nil {
		return false
	}
	return !l.isStale(info)
}

// GetHolder returns information about the current lock holder
func (l *FileLock) GetHolder() (*LockInfo, error) {
	info, err := l.readLockInfo()
	if err != nil {
		return nil, err
	}
	if l.isStale(info) {
		return nil, fmt.Errorf("lock is stale")
	}
	return info, nil
}

// ForceRelease removes the lock file regardless of its holder.
// Only safe when the holder is known to have crashed.
func (l *FileLock) ForceRelease() error {
	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to force remove lock: %w", err)
	}
	l.info = nil
	return nil
}

func (l *FileLock) readLockInfo() (*LockInfo, error) {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("invalid lock file format: %w", err)
	}

	return &info, nil
}

func (l *FileLock) writeLockInfo(info *LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.lockPath, data, 0644)
}

// isStale reports whether the holder is gone. On the same host only a dead
// process makes a lock stale; the timeout applies to foreign hosts.
func (l *FileLock) isStale(info *LockInfo) bool {
	hostname, _ := os.Hostname()
	if info.Hostname == hostname {
		return !pidAlive(info.PID)
	}
	return time.Since(info.StartTime) > l.staleTimeout
}

func (l *FileLock) isHeldByCurrentProcess(info *LockInfo) bool {
	hostname, _ := os.Hostname()
	return info.PID == os.Getpid() && info.Hostname == hostname
}

func (l *FileLock) isHeldByThisInstance(info *LockInfo) bool {
	if l.info == nil {
		return false
	}
	return l.isHeldByCurrentProcess(info) &&
		l.info.StartTime.Equal(info.StartTime) &&
		l.info.Operation == info.Operation
}

// LockError represents an error when lock cannot be acquired
type LockError struct {
	Holder *LockInfo
	Reason string
}

func (e *LockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("cannot acquire lock: %s (held by PID %d on %s since %s, operation: %s)",
			e.Reason,
			e.Holder.PID,
			e.Holder.Hostname,
			e.Holder.StartTime.Format(time.RFC3339),
			e.Holder.Operation,
		)
	}
	return fmt.Sprintf("cannot acquire lock: %s", e.Reason)
}

// IsLockError checks if an error is a LockError
func IsLockError(err error) bool {
	var le *LockError
	return errors.As(err, &le)
}
