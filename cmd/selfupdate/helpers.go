package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/pushchain/selfupdate/internal/exitcodes"
	"github.com/pushchain/selfupdate/internal/launch"
	ui "github.com/pushchain/selfupdate/internal/ui"
)

// getPrinter returns a UI printer bound to the current --output flag.
func getPrinter() ui.Printer { return ui.NewPrinter(flagOutput) }

// reportFirstLaunch announces the first run after an update.
func reportFirstLaunch(p ui.Printer, st launch.State) {
	if p.Structured() {
		return
	}
	forced := 0
	if st.ForceUpdated {
		forced = 1
	}
	p.Info(fmt.Sprintf("This is the first launching since upgraded to %s. Force updated: %d", displayVersion(st.NewVersion), forced))
}

// confirm asks a yes/no question; empty input means yes.
func confirm(pr Prompter, question string) (bool, error) {
	response, err := pr.ReadLine(question + " [Y/n]: ")
	if err != nil {
		return false, err
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "" || response == "y" || response == "yes", nil
}

// ago renders the age of a timestamp for cached results.
func ago(t time.Time) string {
	d := time.Since(t).Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm ago", int(d.Minutes()))
}

// displayVersion adds the conventional "v" prefix.
func displayVersion(v string) string {
	return "v" + strings.TrimPrefix(v, "v")
}

// errorMessageFor turns a command error into an actionable message keyed by
// its exit code.
func errorMessageFor(err error) ui.ErrorMessage {
	msg := ui.ErrorMessage{Problem: err.Error()}
	switch exitcodes.CodeForError(err) {
	case exitcodes.NetworkError:
		msg.Causes = []string{"update server down or unreachable", "proxy or firewall blocking the request"}
		msg.Actions = []string{"check --manifest-url", "retry later"}
	case exitcodes.ManifestError:
		msg.Causes = []string{"manifest has invalid fields or a policy targets a missing version"}
		msg.Actions = []string{"fix the manifest on the update server"}
	case exitcodes.IntegrityError:
		msg.Causes = []string{"download corrupted or truncated", "manifest size or hash out of date"}
		msg.Actions = []string{"retry the update", "republish the package metadata"}
	case exitcodes.SwapError:
		msg.Causes = []string{"no write permission next to the executable", "disk full"}
		msg.Actions = []string{"the previous executable is unchanged; free space or fix permissions and retry"}
	case exitcodes.LockContention:
		msg.Causes = []string{"another update of this executable is running"}
		msg.Actions = []string{"wait for it to finish"}
	case exitcodes.ProcessError:
		msg.Causes = []string{"the new executable could not be started"}
		msg.Actions = []string{"the previous executable was restored; report the failing version"}
	}
	return msg
}
