package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	LockFile      = ".session.lock"
	lockOwnerFile = ".session.owner.json"
)

// SessionLock keeps two processes from driving the same session directory.
type SessionLock struct {
	dir  string
	lock *flock.Flock
}

type lockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func AcquireSessionLock(sessionDir string) (*SessionLock, error) {
	target := strings.TrimSpace(sessionDir)
	if target == "" {
		return nil, fmt.Errorf("session directory is required")
	}

	fl := flock.New(filepath.Join(target, LockFile))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire session lock for %s: %w", target, err)
	}
	if !ok {
		var owner lockOwner
		if readErr := ReadJSON(filepath.Join(target, lockOwnerFile), &owner); readErr == nil && owner.PID > 0 {
			return nil, fmt.Errorf(
				"session directory is locked: %s (pid=%d created_at=%s host=%s)",
				target, owner.PID, owner.CreatedAt, owner.Hostname,
			)
		}
		return nil, fmt.Errorf("session directory is locked: %s", target)
	}

	owner := lockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(filepath.Join(target, lockOwnerFile), owner); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("write session lock owner for %s: %w", target, err)
	}
	return &SessionLock{dir: target, lock: fl}, nil
}

func (l *SessionLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	_ = os.Remove(filepath.Join(l.dir, lockOwnerFile))
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release session lock %s: %w", l.dir, err)
	}
	l.lock = nil
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
