// Package dirlock implements a process-exclusivity lock over a directory,
// used by the runner package to prevent two Runner processes from operating
// against the same Storage workspace concurrently. The lock is a directory
// (mkdir is atomic even on network filesystems, unlike a regular file
// create), holding a small info file with the acquiring PID and timestamp.
package dirlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const lockDirName = ".afkrun_lock"

var (
	// ErrLockConflict is returned by TryLock when another process holds
	// the lock and it is not stale.
	ErrLockConflict = errors.New("dirlock: lock held by another process")
	// ErrNotLocked is returned by Heartbeat when this instance does not
	// currently hold the lock.
	ErrNotLocked = errors.New("dirlock: not locked")
)

// LockOptions tunes staleness detection and retry pacing.
type LockOptions struct {
	// StaleThreshold is how long a lock may go without a heartbeat before
	// TryLock treats it as abandoned and reclaims it.
	StaleThreshold time.Duration
	// RetryInterval is the pacing used by Lock while it waits.
	RetryInterval time.Duration
}

func (o *LockOptions) withDefaults() *LockOptions {
	out := LockOptions{StaleThreshold: 30 * time.Second, RetryInterval: 50 * time.Millisecond}
	if o != nil {
		if o.StaleThreshold > 0 {
			out.StaleThreshold = o.StaleThreshold
		}
		if o.RetryInterval > 0 {
			out.RetryInterval = o.RetryInterval
		}
	}
	return &out
}

// Info describes a held lock.
type Info struct {
	LockDirName string
	AcquiredAt  time.Time
	PID         int
}

type lockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a process-exclusivity lock over a single directory.
type Lock interface {
	TryLock() error
	Lock(ctx context.Context) error
	Unlock() error
	Heartbeat(ctx context.Context) error
	IsLocked() bool
	IsHeldByMe() bool
	Info() (*Info, error)
}

type dirLock struct {
	dir  string
	opts *LockOptions

	mu   sync.Mutex
	held bool
}

// New creates a Lock over dir. dir need not exist yet; TryLock creates it.
func New(dir string, opts *LockOptions) Lock {
	return &dirLock{dir: dir, opts: opts.withDefaults()}
}

func (l *dirLock) lockPath() string {
	return filepath.Join(l.dir, lockDirName)
}

func (l *dirLock) infoPath() string {
	return filepath.Join(l.lockPath(), "info.json")
}

func (l *dirLock) TryLock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("dirlock: create workspace dir: %w", err)
	}

	if err := os.Mkdir(l.lockPath(), 0700); err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("dirlock: acquire: %w", err)
		}
		if !l.isStale() {
			return ErrLockConflict
		}
		if rmErr := os.RemoveAll(l.lockPath()); rmErr != nil {
			return fmt.Errorf("dirlock: clean stale lock: %w", rmErr)
		}
		if err := os.Mkdir(l.lockPath(), 0700); err != nil {
			return fmt.Errorf("dirlock: acquire after stale cleanup: %w", err)
		}
	}

	if err := l.writeInfo(); err != nil {
		_ = os.RemoveAll(l.lockPath())
		return err
	}
	l.held = true
	return nil
}

func (l *dirLock) isStale() bool {
	info, err := os.Stat(l.lockPath())
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > l.opts.StaleThreshold
}

func (l *dirLock) writeInfo() error {
	data, err := json.Marshal(lockInfo{PID: os.Getpid(), AcquiredAt: time.Now()})
	if err != nil {
		return fmt.Errorf("dirlock: encode info: %w", err)
	}
	return os.WriteFile(l.infoPath(), data, 0600)
}

func (l *dirLock) Lock(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.RetryInterval)
	defer ticker.Stop()

	for {
		err := l.TryLock()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLockConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *dirLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	if err := os.RemoveAll(l.lockPath()); err != nil {
		return fmt.Errorf("dirlock: release: %w", err)
	}
	l.held = false
	return nil
}

func (l *dirLock) Heartbeat(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return ErrNotLocked
	}
	now := time.Now()
	if err := os.Chtimes(l.lockPath(), now, now); err != nil {
		return fmt.Errorf("dirlock: heartbeat: %w", err)
	}
	return l.writeInfo()
}

func (l *dirLock) IsLocked() bool {
	_, err := os.Stat(l.lockPath())
	return err == nil
}

func (l *dirLock) IsHeldByMe() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *dirLock) Info() (*Info, error) {
	data, err := os.ReadFile(l.infoPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dirlock: read info: %w", err)
	}
	var li lockInfo
	if err := json.Unmarshal(data, &li); err != nil {
		return nil, fmt.Errorf("dirlock: decode info: %w", err)
	}
	return &Info{LockDirName: lockDirName, AcquiredAt: li.AcquiredAt, PID: li.PID}, nil
}

// ForceUnlock removes the lock directory unconditionally, regardless of
// which process holds it. Intended for operator recovery after a crash.
func ForceUnlock(dir string) error {
	path := filepath.Join(dir, lockDirName)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("dirlock: force unlock: %w", err)
	}
	return nil
}
