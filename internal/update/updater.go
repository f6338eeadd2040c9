// Package update drives the self-update cycle: query the manifest, resolve
// a target, download and verify it, swap it in and relaunch.
package update

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/pushchain/selfupdate/internal/fetch"
	"github.com/pushchain/selfupdate/internal/install"
	"github.com/pushchain/selfupdate/internal/integrity"
	"github.com/pushchain/selfupdate/internal/launch"
	"github.com/pushchain/selfupdate/internal/manifest"
	"github.com/pushchain/selfupdate/internal/policy"
	"github.com/pushchain/selfupdate/internal/version"
)

// ErrRelaunch means the new executable was installed but could not be
// started; the previous executable has been restored.
var ErrRelaunch = errors.New("relaunch failed")

// Fetcher retrieves manifests and packages. *fetch.Client implements it.
type Fetcher interface {
	FetchManifest(ctx context.Context, endpoint string) (*manifest.Manifest, error)
	FetchPackage(ctx context.Context, req fetch.PackageRequest, progress fetch.ProgressFunc) (*fetch.Artifact, error)
}

// Options configures an Updater.
type Options struct {
	ManifestURL    string
	CurrentVersion string
	// ExecutablePath defaults to the running executable with symlinks resolved.
	ExecutablePath string
	// CacheDir holds downloads; defaults to a directory beside the executable.
	CacheDir string

	Fetcher  Fetcher
	Launcher launch.Launcher
	// Args are forwarded to the relaunched process; defaults to os.Args[1:].
	Args []string
	// NoRelaunch stops the cycle after the swap without starting the new
	// executable or exiting.
	NoRelaunch bool

	OnState  func(State)
	Progress fetch.ProgressFunc
	// Exit is called after a successful relaunch. Defaults to os.Exit.
	Exit   func(code int)
	Logger logrus.FieldLogger
}

// Updater runs update cycles for one executable.
type Updater struct {
	CurrentVersion string
	BinaryPath     string // Path to current executable

	manifestURL string
	cacheDir    string
	fetcher     Fetcher
	launcher    launch.Launcher
	args        []string
	noRelaunch  bool
	onState     func(State)
	progress    fetch.ProgressFunc
	exit        func(int)
	log         logrus.FieldLogger
}

// New creates an updater for the current binary
func New(opts Options) (*Updater, error) {
	if opts.ManifestURL == "" {
		return nil, fmt.Errorf("manifest URL required")
	}
	if _, err := version.Parse(opts.CurrentVersion); err != nil {
		return nil, fmt.Errorf("current version: %w", err)
	}

	binaryPath := opts.ExecutablePath
	if binaryPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		binaryPath = execPath
	}
	// Resolve symlinks to get actual binary path
	if realPath, err := filepath.EvalSymlinks(binaryPath); err == nil {
		binaryPath = realPath
	}

	u := &Updater{
		CurrentVersion: opts.CurrentVersion,
		BinaryPath:     binaryPath,
		manifestURL:    opts.ManifestURL,
		cacheDir:       opts.CacheDir,
		fetcher:        opts.Fetcher,
		launcher:       opts.Launcher,
		args:           opts.Args,
		noRelaunch:     opts.NoRelaunch,
		onState:        opts.OnState,
		progress:       opts.Progress,
		exit:           opts.Exit,
		log:            opts.Logger,
	}
	if u.log == nil {
		u.log = logrus.StandardLogger()
	}
	if u.fetcher == nil {
		u.fetcher = fetch.New(fetch.Options{Logger: u.log})
	}
	if u.launcher == nil {
		u.launcher = launch.ExecLauncher{}
	}
	if u.args == nil {
		u.args = os.Args[1:]
	}
	if u.exit == nil {
		u.exit = os.Exit
	}
	if u.cacheDir == "" {
		u.cacheDir = filepath.Join(filepath.Dir(binaryPath), ".selfupdate-cache")
	}
	return u, nil
}

// cycle tracks the state of a single Run or Check.
type cycle struct {
	u      *Updater
	result Result
	log    logrus.FieldLogger
}

func (u *Updater) newCycle() *cycle {
	return &cycle{
		u:      u,
		result: Result{State: Idle, Current: u.CurrentVersion, Decision: policy.NoUpdate},
		log:    u.log.WithField("current_version", u.CurrentVersion),
	}
}

func (c *cycle) enter(s State) {
	c.result.State = s
	c.log.WithField("state", s.String()).Debug("update state")
	if c.u.onState != nil {
		c.u.onState(s)
	}
}

func (c *cycle) fail(err error) Result {
	c.result.Err = err
	c.log.WithError(err).WithField("from", c.result.State.String()).Warn("update failed")
	c.enter(Failed)
	return c.result
}

// Check queries the manifest and resolves it without downloading anything.
// The returned state is NoUpdate, Resolving (an update is available) or Failed.
func (u *Updater) Check(ctx context.Context) Result {
	c := u.newCycle()
	c.resolve(ctx)
	return c.result
}

// resolve runs Querying and Resolving. ok is false when the cycle ended.
func (c *cycle) resolve(ctx context.Context) (*manifest.Manifest, bool) {
	c.enter(Querying)
	m, err := c.u.fetcher.FetchManifest(ctx, c.u.manifestURL)
	if err != nil {
		c.fail(fmt.Errorf("query manifest: %w", err))
		return nil, false
	}

	c.enter(Resolving)
	d, err := policy.Resolve(m, c.u.CurrentVersion)
	if err != nil {
		c.fail(fmt.Errorf("resolve: %w", err))
		return nil, false
	}
	c.result.Decision = d
	if !d.Available || version.Same(d.Version, c.u.CurrentVersion) {
		c.log.Info("no update available")
		c.enter(NoUpdate)
		return nil, false
	}
	c.log = c.log.WithFields(logrus.Fields{"package": m.Package, "version": d.Version, "mandatory": d.Mandatory})
	c.log.Info("update available")
	return m, true
}

// Run executes a full update cycle. On a successful relaunch the process
// exits through Options.Exit and Run does not return unless Exit does.
//
// ctx is honoured until the swap starts. The swap itself always runs to
// completion or fails leaving the original executable in place.
func (u *Updater) Run(ctx context.Context) Result {
	c := u.newCycle()
	m, ok := c.resolve(ctx)
	if !ok {
		return c.result
	}
	d := c.result.Decision

	if err := ctx.Err(); err != nil {
		return c.fail(err)
	}

	// Downloading. The swap lock covers the shared cache directory too, so
	// it is held from here until relaunch.
	c.enter(Downloading)
	lock, err := install.Lock(u.BinaryPath)
	if err != nil {
		return c.fail(err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			c.log.WithError(err).Warn("release swap lock")
		}
	}()

	if err := install.Preflight(u.cacheDir, d.Entry.Size); err != nil {
		return c.fail(err)
	}
	art, err := u.fetcher.FetchPackage(ctx, fetch.PackageRequest{
		Package: m.Package,
		Version: d.Version,
		Entry:   d.Entry,
		Dir:     u.cacheDir,
	}, u.progress)
	if err != nil {
		return c.fail(fmt.Errorf("download: %w", err))
	}

	// Verifying
	c.enter(Verifying)
	if err := integrity.VerifyFile(art.Path, d.Entry.Size, d.Entry.Hash); err != nil {
		_ = art.Remove()
		return c.fail(fmt.Errorf("verify %s: %w", filepath.Base(art.Path), err))
	}
	if err := ctx.Err(); err != nil {
		return c.fail(err)
	}

	// Staging
	c.enter(Staging)
	if err := install.Preflight(filepath.Dir(u.BinaryPath), 2*d.Entry.Size); err != nil {
		return c.fail(err)
	}
	staged, err := install.Stage(art, u.BinaryPath)
	if err != nil {
		return c.fail(fmt.Errorf("stage: %w", err))
	}
	if err := ctx.Err(); err != nil {
		_ = staged.Discard()
		return c.fail(err)
	}

	// Swapping: no cancellation from here on.
	c.enter(Swapping)
	if err := install.Swap(staged, u.BinaryPath); err != nil {
		_ = staged.Discard()
		return c.fail(err)
	}
	if err := art.Remove(); err != nil {
		c.log.WithError(err).Debug("remove artifact")
	}
	c.log.Info("executable replaced")

	c.enter(Relaunching)
	if u.noRelaunch {
		return c.result
	}
	args := launch.Args(u.args, launch.State{
		NewVersion:   d.Version,
		ForceUpdated: d.Mandatory,
		ParentPID:    os.Getpid(),
	})
	pid, err := u.launcher.Start(u.BinaryPath, args)
	if err != nil {
		if rbErr := install.Rollback(u.BinaryPath); rbErr != nil {
			c.log.WithError(rbErr).Error("rollback after failed relaunch")
		}
		return c.fail(fmt.Errorf("%w: %v", ErrRelaunch, err))
	}
	c.result.PID = pid
	c.log.WithField("pid", pid).Info("relaunched")

	// Release the lock before exiting; deferred calls do not run on os.Exit.
	_ = lock.Unlock()
	u.exit(0)
	return c.result
}
