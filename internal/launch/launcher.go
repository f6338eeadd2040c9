package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	"github.com/pushchain/selfupdate/internal/install"
)

// Launcher starts the replacement executable.
type Launcher interface {
	Start(path string, args []string) (pid int, err error)
}

// ExecLauncher starts a detached child with os/exec. The child inherits the
// environment plus the force-updated marker.
type ExecLauncher struct {
	Stdout io.Writer
	Stderr io.Writer
	Dir    string
}

// Start launches path with args and releases it; the caller is expected to
// exit soon after.
func (l ExecLauncher) Start(path string, args []string) (int, error) {
	st := FromArgs(args)
	cmd := exec.Command(path, args...)
	cmd.Dir = l.Dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Env = append(os.Environ(), EnvForceUpdated+"="+boolEnv(st.ForceUpdated))
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", path, err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

func boolEnv(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// ErrParentAlive is returned by Finalize when the previous process did not
// exit before the context ended.
var ErrParentAlive = errors.New("previous process still running")

// pollInterval is how often Finalize checks the parent pid.
var pollInterval = 100 * time.Millisecond

// Finalize runs in the relaunched process: it waits for the process that
// performed the swap to exit, then removes the rollback copy of exePath.
// Nothing is removed while the parent is still alive.
func Finalize(ctx context.Context, st State, exePath string, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithFields(logrus.Fields{"version": st.NewVersion, "parent_pid": st.ParentPID})

	if st.ParentPID > 0 && st.ParentPID != os.Getpid() {
		if err := waitExit(ctx, int32(st.ParentPID)); err != nil {
			log.WithError(err).Warn("keeping rollback copy")
			return err
		}
	}
	if err := install.CleanupRollback(exePath); err != nil {
		return fmt.Errorf("remove rollback copy: %w", err)
	}
	log.Debug("rollback copy removed")
	return nil
}

func waitExit(ctx context.Context, pid int32) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		alive, err := process.PidExistsWithContext(ctx, pid)
		if err == nil && !alive {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: pid %s", ErrParentAlive, strconv.Itoa(int(pid)))
		case <-ticker.C:
		}
	}
}
