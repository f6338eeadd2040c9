package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	ui "github.com/pushchain/selfupdate/internal/ui"
	"github.com/pushchain/selfupdate/internal/update"
)

// CachedChecker answers update checks, possibly from the check cache.
type CachedChecker interface {
	CheckCached(ctx context.Context, stateDir string, fresh bool) (*update.CacheEntry, bool, error)
}

func runCheckCore(ctx context.Context, checker CachedChecker, stateDir string, fresh bool, p ui.Printer) error {
	entry, fromCache, err := checker.CheckCached(ctx, stateDir, fresh)
	if err != nil {
		return update.Classify(err)
	}
	if p.Structured() {
		return p.Emit(entry)
	}

	if !entry.UpdateAvailable {
		p.Success(fmt.Sprintf("Up to date (%s)", displayVersion(entry.CurrentVersion)))
	} else {
		kind := "optional"
		if entry.Mandatory {
			kind = "mandatory"
		}
		p.Info(fmt.Sprintf("Update available: %s → %s (%s)", displayVersion(entry.CurrentVersion), displayVersion(entry.LatestVersion), kind))
		p.ReleaseNotes(entry.Title, entry.Description)
		p.Info("Run 'selfupdate update' to install")
	}
	if fromCache {
		p.Textf("%s\n", p.Colors.Description(fmt.Sprintf("Checked %s; use --fresh to query again.", ago(entry.CheckedAt))))
	}
	return nil
}

func init() {
	var fresh bool
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether an update is available",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			updater, err := newUpdater(d, update.Options{})
			if err != nil {
				return err
			}
			return runCheckCore(cmd.Context(), updater, d.Cfg.StateDir, fresh, d.Printer)
		},
	}
	checkCmd.Flags().BoolVar(&fresh, "fresh", false, "Ignore the cached result")
	rootCmd.AddCommand(checkCmd)
}
