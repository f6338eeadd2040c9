package install

import (
	"errors"
	"fmt"
	"os"
)

// ErrLocked means another process is already swapping the same executable.
var ErrLocked = errors.New("swap lock held by another process")

// FileLock is an exclusive OS-level lock on <exe>.lock.
type FileLock struct {
	path string
	f    *os.File
}

// LockPath returns the lock file used for exePath.
func LockPath(exePath string) string { return exePath + ".lock" }

// Lock takes the swap lock for exePath without blocking. Contention
// returns ErrLocked.
func Lock(exePath string) (*FileLock, error) {
	path := LockPath(exePath)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &FileLock{path: path, f: f}, nil
}

// Unlock releases the lock. The lock file itself is left behind; removing
// it would race with a process that has it open.
func (l *FileLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
