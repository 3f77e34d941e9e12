package app

import (
	"hwbot/internal/config"
	logx "hwbot/pkg/logx"
)

// StartupLogger builds the logger that reports a failed startup. It uses the
// logging section of the config at cfgPath when that file parses, falls back
// to the default log file otherwise, and always writes to the console.
func StartupLogger(cfgPath string) (*logx.Service, logx.Logger) {
	lc := logx.Config{
		Level:   "info",
		Console: true,
		File:    logx.FileConfig{Enabled: true, Path: config.DefaultLogPath},
	}
	if cfg, err := config.NewConfigManager(cfgPath).Parse(); err == nil {
		lc = mapLoggingConfig(cfg)
		lc.Console = true
		if lc.Level == "" {
			lc.Level = "info"
		}
	}
	return logx.New(lc)
}
