package install

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
)

// ErrNoRollback is returned by Rollback when no rollback copy exists.
var ErrNoRollback = errors.New("no rollback copy found")

// SwapError reports which step of the swap failed. The original executable
// is intact whenever a SwapError is returned.
type SwapError struct {
	Op   string
	Path string
	Err  error
}

func (e *SwapError) Error() string {
	return fmt.Sprintf("swap %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SwapError) Unwrap() error { return e.Err }

// RollbackPath returns where the previous executable is kept after a swap.
func RollbackPath(exePath string) string { return exePath + ".old" }

// Swap replaces exePath with staged.Executable. The caller must hold the
// swap lock for exePath. The previous executable is kept at
// RollbackPath(exePath) until CleanupRollback is called.
//
// Swap does not take a context: once started it runs to completion so the
// executable is never left half-replaced.
func Swap(staged *Staged, exePath string) error {
	info, err := os.Stat(exePath)
	if err != nil {
		return &SwapError{Op: "stat", Path: exePath, Err: err}
	}
	if err := os.Chmod(staged.Executable, info.Mode().Perm()); err != nil {
		return &SwapError{Op: "chmod", Path: staged.Executable, Err: err}
	}

	old := RollbackPath(exePath)
	if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
		return &SwapError{Op: "remove stale rollback", Path: old, Err: err}
	}

	// A running executable cannot be overwritten on Windows but can be
	// renamed; elsewhere the original stays in place until the final rename.
	if runtime.GOOS == "windows" {
		if err := os.Rename(exePath, old); err != nil {
			return &SwapError{Op: "rename", Path: exePath, Err: err}
		}
		if err := os.Rename(staged.Executable, exePath); err != nil {
			_ = os.Rename(old, exePath)
			return &SwapError{Op: "install", Path: exePath, Err: err}
		}
	} else {
		if err := copyFile(exePath, old, info.Mode().Perm()); err != nil {
			_ = os.Remove(old)
			return &SwapError{Op: "backup", Path: old, Err: err}
		}
		if err := os.Rename(staged.Executable, exePath); err != nil {
			_ = os.Remove(old)
			return &SwapError{Op: "install", Path: exePath, Err: err}
		}
	}

	_ = staged.Discard()
	return nil
}

// Rollback restores the executable saved by the last Swap.
func Rollback(exePath string) error {
	old := RollbackPath(exePath)
	if _, err := os.Stat(old); os.IsNotExist(err) {
		return ErrNoRollback
	}
	if err := os.Rename(old, exePath); err != nil {
		return &SwapError{Op: "rollback", Path: exePath, Err: err}
	}
	return nil
}

// CleanupRollback removes the rollback copy. A missing copy is not an error.
func CleanupRollback(exePath string) error {
	err := os.Remove(RollbackPath(exePath))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string, mode os.FileMode) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()

	dest, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dest, source); err != nil {
		dest.Close()
		return err
	}
	return dest.Close()
}
