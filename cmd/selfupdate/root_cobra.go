package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pushchain/selfupdate/internal/config"
	"github.com/pushchain/selfupdate/internal/exitcodes"
	"github.com/pushchain/selfupdate/internal/launch"
	ui "github.com/pushchain/selfupdate/internal/ui"
)

// Version information - set via -ldflags during build
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// finalizeTimeout bounds how long a relaunched process waits for its
// parent to exit before leaving the rollback copy in place.
const finalizeTimeout = 10 * time.Second

// settings carries defaults, SELFUPDATE_* env and bound flags.
var settings = config.NewViper()

var (
	flagOutput         string
	flagDebug          bool
	flagNoColor        bool
	flagNoEmoji        bool
	flagYes            bool
	flagNonInteractive bool
	flagCurrentVersion string

	// relaunch state; read through launch.Current so the env marker applies
	flagNewVersion   string
	flagForceUpdated bool
	flagParentPID    int
)

// rootCmd wires the CLI surface using Cobra. Persistent flags are bound
// to viper and resolved in loadCfg().
var rootCmd = &cobra.Command{
	Use:           "selfupdate",
	Short:         "Self-updating executable",
	Long:          "Check a remote manifest for a newer package, install it in place and relaunch.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize global UI config from flags after parsing but before command execution
		ui.InitGlobal(ui.Config{
			NoColor:        flagNoColor,
			NoEmoji:        flagNoEmoji,
			Yes:            flagYes,
			NonInteractive: flagNonInteractive,
			Debug:          flagDebug,
		})

		// Set NO_COLOR env so lipgloss and other libraries respect the flag
		if flagNoColor {
			os.Setenv("NO_COLOR", "1")
		}

		switch flagOutput {
		case ui.FormatText, ui.FormatJSON, ui.FormatYAML:
		default:
			return exitcodes.InvalidArgsErrorf("invalid --output: %s (use json|yaml|text)", flagOutput)
		}

		st := launch.Current()
		if !st.FirstLaunch() {
			return nil
		}
		cfg, err := loadCfg()
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		reportFirstLaunch(getPrinter(), st)

		ctx, cancel := context.WithTimeout(cmd.Context(), finalizeTimeout)
		defer cancel()
		exe, err := os.Executable()
		if err != nil {
			log.WithError(err).Warn("locate executable")
			return nil
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		if err := launch.Finalize(ctx, st, exe, log); err != nil {
			log.WithError(err).Warn("finalize update")
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("manifest-url", "", "Manifest endpoint for this executable (env SELFUPDATE_MANIFEST_URL)")
	pf.String("state-dir", "", "Directory for the check cache and selfupdate.yaml (default ~/.selfupdate)")
	pf.StringVarP(&flagOutput, "output", "o", "text", "Output format: json|yaml|text")
	pf.BoolVarP(&flagDebug, "debug", "d", false, "Debug output: extra diagnostic logs")
	pf.BoolVar(&flagNoColor, "no-color", false, "Disable ANSI colors")
	pf.BoolVar(&flagNoEmoji, "no-emoji", false, "Disable emoji output")
	pf.BoolVarP(&flagYes, "yes", "y", false, "Assume yes for all prompts")
	pf.BoolVar(&flagNonInteractive, "non-interactive", false, "Fail instead of prompting")
	pf.StringVar(&flagCurrentVersion, "current-version", "", "Override the running version (defaults to the build version)")

	pf.StringVar(&flagNewVersion, launch.FlagNewVersion, "", "Version installed by the previous process")
	pf.BoolVar(&flagForceUpdated, launch.FlagForceUpdated, false, "Previous process ran a mandatory update")
	pf.IntVar(&flagParentPID, launch.FlagParentPID, 0, "PID of the process that installed this version")
	for _, name := range []string{launch.FlagNewVersion, launch.FlagForceUpdated, launch.FlagParentPID, "current-version"} {
		_ = pf.MarkHidden(name)
	}

	mustBind(settings, config.KeyManifestURL, pf.Lookup("manifest-url"))
	mustBind(settings, config.KeyStateDir, pf.Lookup("state-dir"))

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != rootCmd {
			fmt.Fprintln(os.Stdout, cmd.UsageString())
			return
		}
		// Help runs before PersistentPreRun, so manually configure colors
		c := ui.NewColorConfig()
		c.Enabled = c.Enabled && !flagNoColor
		w := os.Stdout

		fmt.Fprintln(w, c.Header(" selfupdate "))
		fmt.Fprintln(w, c.Description(cmd.Long))
		fmt.Fprintln(w, c.Separator(50))
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %s <command> [flags]\n\n", "selfupdate")
		for _, sub := range cmd.Commands() {
			if !sub.IsAvailableCommand() {
				continue
			}
			fmt.Fprintf(w, "  %-12s %s\n", c.Label(sub.Name()), c.Description(sub.Short))
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, cmd.LocalFlags().FlagUsages())
	})
}

// silentErr carries an exit code for a failure that has already been
// reported to the user.
type silentErr struct{ err error }

func (e silentErr) Error() string { return e.err.Error() }
func (e silentErr) Unwrap() error { return e.err }

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		var se silentErr
		if !errors.As(err, &se) {
			p := ui.NewPrinterTo(os.Stderr, flagOutput)
			if p.Structured() {
				fmt.Fprintln(os.Stderr, err)
			} else {
				p.PrintError(errorMessageFor(err))
			}
		}
		os.Exit(exitcodes.CodeForError(err))
	}
}

// loadCfg resolves defaults, the state-dir config file, env and flags.
func loadCfg() (config.Config, error) {
	cfg, err := config.Load(settings)
	if err != nil {
		return config.Config{}, exitcodes.InvalidArgsErrorf("configuration: %v", err)
	}
	return cfg, nil
}

// newLogger returns the engine logger. It writes to stderr so structured
// output on stdout stays parseable.
func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(cfg.Level())
	if flagDebug {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func mustBind(v *viper.Viper, key string, f *pflag.Flag) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}
