package ui

import "sync"

// Config holds the process-wide output switches taken from root flags.
type Config struct {
	NoColor        bool
	NoEmoji        bool
	Yes            bool
	NonInteractive bool
	Debug          bool
}

var (
	globalMu     sync.RWMutex
	globalConfig Config
)

// InitGlobal records the output switches; the CLI calls it once flags are parsed.
func InitGlobal(cfg Config) {
	globalMu.Lock()
	globalConfig = cfg
	globalMu.Unlock()
}

// GetGlobal returns the switches recorded by InitGlobal.
func GetGlobal() Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// NewColorConfigFromGlobal applies the --no-color and --no-emoji switches
// on top of the environment defaults.
func NewColorConfigFromGlobal() *ColorConfig {
	cfg := GetGlobal()
	c := NewColorConfig()
	c.Enabled = c.Enabled && !cfg.NoColor
	c.EmojiEnabled = c.EmojiEnabled && !cfg.NoEmoji
	return c
}
