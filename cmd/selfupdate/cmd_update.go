package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pushchain/selfupdate/internal/exitcodes"
	"github.com/pushchain/selfupdate/internal/fetch"
	ui "github.com/pushchain/selfupdate/internal/ui"
	"github.com/pushchain/selfupdate/internal/update"
)

// CLIUpdater abstracts update operations for testability.
type CLIUpdater interface {
	Check(ctx context.Context) update.Result
	Run(ctx context.Context) update.Result
}

type updateCoreOpts struct {
	checkOnly bool
	yes       bool
}

// runUpdateCore contains the core update logic, testable with a mocked CLIUpdater.
// Mandatory updates install without asking; optional ones need --yes or a
// confirmation.
func runUpdateCore(ctx context.Context, updater CLIUpdater, opts updateCoreOpts, p ui.Printer, prompter Prompter) error {
	if !p.Structured() {
		p.Info("Checking for updates...")
	}
	res := updater.Check(ctx)
	if res.State == update.Failed {
		return update.Classify(res.Err)
	}
	if !res.UpdateAvailable() {
		if p.Structured() {
			return p.Emit(res)
		}
		p.Success(fmt.Sprintf("Already up to date (%s)", displayVersion(res.Current)))
		return nil
	}

	d := res.Decision
	if !p.Structured() {
		kind := "optional"
		if d.Mandatory {
			kind = "mandatory"
		}
		p.Info(fmt.Sprintf("Update available: %s → %s (%s)", displayVersion(res.Current), displayVersion(d.Version), kind))
		if d.Entry.Size > 0 {
			p.KeyValueLine("Download", ui.FormatBytes(d.Entry.Size))
		}
		p.ReleaseNotes(d.Title, d.Description)
	}

	if opts.checkOnly {
		if p.Structured() {
			return p.Emit(res)
		}
		p.Info("Run 'selfupdate update' to install")
		return nil
	}

	if !d.Mandatory && !opts.yes {
		if !prompter.IsInteractive() {
			return exitcodes.PreconditionError("optional update needs confirmation; rerun with --yes")
		}
		ok, err := confirm(prompter, "Update now?")
		if err != nil || !ok {
			p.Warn("Update cancelled")
			return nil
		}
	}

	res = updater.Run(ctx)
	switch res.State {
	case update.Failed:
		return update.Classify(res.Err)
	case update.NoUpdate:
		// The manifest changed between check and run.
		if p.Structured() {
			return p.Emit(res)
		}
		p.Success(fmt.Sprintf("Already up to date (%s)", displayVersion(res.Current)))
		return nil
	}

	if p.Structured() {
		return p.Emit(res)
	}
	p.Success(fmt.Sprintf("Updated to %s", displayVersion(res.Decision.Version)))
	if res.PID == 0 {
		p.Info("Restart selfupdate to use the new version.")
	}
	return nil
}

// progressHooks reports state changes and download progress on p.
func progressHooks(p ui.Printer, out io.Writer) (func(update.State), fetch.ProgressFunc) {
	var bar *ui.ProgressBar
	onState := func(s update.State) {
		if p.Structured() {
			return
		}
		switch s {
		case update.Downloading:
			p.Info("Downloading...")
		case update.Verifying:
			if bar != nil {
				bar.Finish()
				bar = nil
			}
			p.Info("Verifying package...")
		case update.Swapping:
			p.Info("Installing...")
		case update.Relaunching:
			p.Info("Relaunching...")
		}
	}
	progress := func(current, total int64) {
		if p.Structured() {
			return
		}
		if bar == nil {
			bar = ui.NewProgressBar(out, total)
		}
		bar.Update(current)
	}
	return onState, progress
}

func init() {
	var (
		checkOnly  bool
		noRelaunch bool
	)

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Install the version the manifest selects",
		Long: `Query the manifest, download and verify the selected package,
replace this executable and relaunch it.

Examples:
  selfupdate update                  # Install, asking first for optional updates
  selfupdate update --check          # Check only, don't install
  selfupdate update --yes            # Skip confirmation
  selfupdate update --no-relaunch    # Install without restarting`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			onState, progress := progressHooks(d.Printer, d.Output)
			updater, err := newUpdater(d, update.Options{
				OnState:    onState,
				Progress:   progress,
				NoRelaunch: noRelaunch,
				// The relaunched process reports its version, then finalizes.
				Args: []string{"version"},
			})
			if err != nil {
				return err
			}
			return runUpdateCore(cmd.Context(), updater, updateCoreOpts{
				checkOnly: checkOnly,
				yes:       flagYes,
			}, d.Printer, d.Prompter)
		},
	}

	updateCmd.Flags().BoolVar(&checkOnly, "check", false, "Only check for updates, don't install")
	updateCmd.Flags().BoolVar(&noRelaunch, "no-relaunch", false, "Install without starting the new version")

	rootCmd.AddCommand(updateCmd)
}
