package app

import (
	"fmt"
	"strings"
	"time"

	"hwbot/internal/config"
	"hwbot/internal/failure"
	"hwbot/internal/notifier"
	"hwbot/internal/poller"
	"hwbot/internal/practicum"
	"hwbot/internal/storage"
	kit "hwbot/internal/transport"
	logx "hwbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	timeout, err := config.ParseDurationOrDefault("notifier.send_timeout", cfg.Notifier.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Target:      kit.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID},
		RatePerSec:  cfg.Notifier.RatePerSec,
		SendTimeout: timeout,
	}, nil
}

func mapPracticumConfig(cfg *config.Config) (practicum.Config, error) {
	timeout, err := config.ParseDurationOrDefault("practicum.timeout", cfg.Practicum.Timeout, 30*time.Second)
	if err != nil {
		return practicum.Config{}, err
	}
	return practicum.Config{
		Token:    cfg.Practicum.Token,
		Endpoint: cfg.Practicum.Endpoint,
		Timeout:  timeout,
	}, nil
}

// mapPollerConfig resolves the schedule and the initial cursor. The cursor
// starts at poller.start_from when set, otherwise at now minus poller.lookback.
func mapPollerConfig(cfg *config.Config, now time.Time) (poller.Config, error) {
	sch, err := poller.ParseSchedule(cfg.Poller.Schedule)
	if err != nil {
		return poller.Config{}, fmt.Errorf("poller.schedule: %w", err)
	}
	if cfg.Poller.StartFrom < 0 {
		return poller.Config{}, fmt.Errorf("poller.start_from must be >= 0")
	}
	cursor := cfg.Poller.StartFrom
	if cursor == 0 {
		lookback, err := config.ParseDurationField("poller.lookback", cfg.Poller.Lookback)
		if err != nil {
			return poller.Config{}, err
		}
		cursor = now.Add(-lookback).Unix()
	}
	pc := poller.Config{Schedule: sch, InitialCursor: cursor}
	pc.Validate.AllowEmpty = cfg.Poller.AllowEmptyResponse
	return pc, nil
}

// validateConfig checks every section a running app would map. Reloaded
// configs that fail it are rejected before they are published.
func validateConfig(cfg *config.Config) error {
	if err := config.VerifyCredentials(cfg); err != nil {
		return err
	}
	if _, err := mapPollerConfig(cfg, time.Now()); err != nil {
		return failure.Wrap(failure.ErrConfiguration, err, "")
	}
	if _, err := mapPracticumConfig(cfg); err != nil {
		return failure.Wrap(failure.ErrConfiguration, err, "")
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return failure.Wrap(failure.ErrConfiguration, err, "")
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return failure.Wrap(failure.ErrConfiguration, err, "")
	}
	return nil
}
