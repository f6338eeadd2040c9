package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pushchain/selfupdate/internal/config"
	"github.com/pushchain/selfupdate/internal/exitcodes"
	"github.com/pushchain/selfupdate/internal/manifest"
	"github.com/pushchain/selfupdate/internal/server"
)

// runServe loads every manifest under cfg.ManifestDir and serves them
// until ctx is cancelled.
func runServe(ctx context.Context, cfg config.Config, log logrus.FieldLogger, ready chan<- string) error {
	manifests, err := manifest.ScanDir(cfg.ManifestDir)
	if err != nil {
		return exitcodes.ManifestErr("load manifests", err)
	}
	if len(manifests) == 0 {
		return exitcodes.PreconditionErrorf("no manifests found in %s", cfg.ManifestDir)
	}
	for name, m := range manifests {
		log.WithFields(logrus.Fields{"package": name, "versions": len(m.Versions), "policies": len(m.Policies)}).Info("manifest loaded")
	}
	h := server.NewHandler(manifests, cfg.RootDir, log)
	if err := server.Serve(ctx, cfg.Listen, h, log, ready); err != nil {
		return exitcodes.NetworkErr(fmt.Sprintf("serve on %s", cfg.Listen), err)
	}
	return nil
}

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve manifests, resolutions and package files over HTTP",
		Long: `Serve every manifest in --manifests at /<package>, server-side
resolutions at /<package>/<version>, and package files under --root at /files/.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), d.Cfg, d.Log, nil)
		},
	}
	f := serveCmd.Flags()
	f.String("listen", "", "Listen address, host:port or unix:<path> (default 127.0.0.1:8080)")
	f.String("manifests", "", "Directory of manifest YAML files (default ./manifests)")
	f.String("root", "", "Package files root (default ./packages)")
	mustBind(settings, config.KeyListen, f.Lookup("listen"))
	mustBind(settings, config.KeyManifestDir, f.Lookup("manifests"))
	mustBind(settings, config.KeyRootDir, f.Lookup("root"))
	rootCmd.AddCommand(serveCmd)
}
