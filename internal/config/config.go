// Package config loads selfupdate settings from defaults, an optional
// selfupdate.yaml in the state directory, SELFUPDATE_* environment
// variables and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key to form its environment variable.
const EnvPrefix = "SELFUPDATE"

// FileName is the optional config file looked up in the state directory.
const FileName = "selfupdate.yaml"

// Keys.
const (
	KeyManifestURL = "manifest_url"
	KeyPackage     = "package"
	KeyStateDir    = "state_dir"
	KeyCacheDir    = "cache_dir"
	KeyQueryBody   = "query_body"
	KeyTimeout     = "timeout"
	KeyLogLevel    = "log_level"
	KeyListen      = "listen"
	KeyManifestDir = "manifest_dir"
	KeyRootDir     = "root_dir"
)

// Config holds client and server settings.
type Config struct {
	ManifestURL string        // manifest endpoint for this executable
	Package     string        // package name, informational
	StateDir    string        // check cache and config file, e.g. ~/.selfupdate
	CacheDir    string        // downloads; defaults to <state_dir>/cache
	QueryBody   string        // sent as a POST body with manifest queries when set
	Timeout     time.Duration // manifest query timeout
	LogLevel    string

	Listen      string // serve: listen address
	ManifestDir string // serve: directory of manifest yaml files
	RootDir     string // serve: package files root
}

// Defaults returns the built-in settings.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ".selfupdate")
	return Config{
		StateDir:    stateDir,
		CacheDir:    "",
		Timeout:     10 * time.Second,
		LogLevel:    "warn",
		Listen:      "127.0.0.1:8080",
		ManifestDir: "manifests",
		RootDir:     "packages",
	}
}

// NewViper returns a viper instance carrying the defaults and bound to the
// environment. Callers may bind flags to it before calling Load.
func NewViper() *viper.Viper {
	d := Defaults()
	v := viper.New()
	v.SetDefault(KeyManifestURL, d.ManifestURL)
	v.SetDefault(KeyPackage, d.Package)
	v.SetDefault(KeyStateDir, d.StateDir)
	v.SetDefault(KeyCacheDir, d.CacheDir)
	v.SetDefault(KeyQueryBody, d.QueryBody)
	v.SetDefault(KeyTimeout, d.Timeout)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyListen, d.Listen)
	v.SetDefault(KeyManifestDir, d.ManifestDir)
	v.SetDefault(KeyRootDir, d.RootDir)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// Load resolves the configuration from v, merging <state_dir>/selfupdate.yaml
// when present.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	path := filepath.Join(v.GetString(KeyStateDir), FileName)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	cfg := Config{
		ManifestURL: v.GetString(KeyManifestURL),
		Package:     v.GetString(KeyPackage),
		StateDir:    v.GetString(KeyStateDir),
		CacheDir:    v.GetString(KeyCacheDir),
		QueryBody:   v.GetString(KeyQueryBody),
		Timeout:     v.GetDuration(KeyTimeout),
		LogLevel:    v.GetString(KeyLogLevel),
		Listen:      v.GetString(KeyListen),
		ManifestDir: v.GetString(KeyManifestDir),
		RootDir:     v.GetString(KeyRootDir),
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.StateDir, "cache")
	}
	if cfg.Timeout <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %s", KeyTimeout, v.GetString(KeyTimeout))
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("%s: %w", KeyLogLevel, err)
	}
	return cfg, nil
}

// Level returns the parsed log level, falling back to info.
func (c Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
