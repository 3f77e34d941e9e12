package config

// Config is the whole process configuration. It is loaded once at startup
// (file + environment) and passed explicitly to every component.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "10m").
type Config struct {
	Practicum PracticumConfig `json:"practicum"`
	Telegram  TelegramConfig  `json:"telegram"`
	Poller    PollerConfig    `json:"poller"`
	Notifier  NotifierConfig  `json:"notifier"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Systemd   SystemdConfig   `json:"systemd"`
}

// PracticumConfig points at the homework status API.
type PracticumConfig struct {
	Token    string `json:"token"`              // secret, never logged
	Endpoint string `json:"endpoint,omitempty"` // default: DefaultEndpoint
	// Timeout bounds a single fetch (default "30s"). It must stay well
	// below the poll interval so a hung request cannot stall the loop.
	Timeout string `json:"timeout,omitempty"`
}

// TelegramConfig identifies the bot and the single recipient chat.
type TelegramConfig struct {
	Token    string `json:"token"` // secret, never logged
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"` // forum topic (0 if none)
	// APIURL points at a self-hosted Bot API server. Default: api.telegram.org.
	APIURL string `json:"api_url,omitempty"`
}

// PollerConfig controls the poll loop.
//
// Cursor initialization:
//   - start_from > 0: use it as the initial unix timestamp
//   - otherwise: now minus lookback (default DefaultLookback)
type PollerConfig struct {
	// Schedule is a Go duration ("10m"), HH:MM ("00:10") or a cron
	// expression ("*/10 * * * *", "@every 10m"). Default "10m".
	Schedule  string `json:"schedule,omitempty"`
	Lookback  string `json:"lookback,omitempty"`
	StartFrom int64  `json:"start_from,omitempty"`

	// AllowEmptyResponse treats a top-level "{}" as "no updates" instead of
	// a malformed response.
	AllowEmptyResponse bool `json:"allow_empty_response,omitempty"`
}

// NotifierConfig controls message delivery.
type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default 1
	SendTimeout string `json:"send_timeout,omitempty"` // default "10s"
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional audit trail.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hwbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SystemdConfig toggles sd_notify integration. It is a no-op when the
// process is not started by systemd.
type SystemdConfig struct {
	Notify bool `json:"notify"`
}

const (
	DefaultEndpoint = "https://practicum.yandex.ru/api/user_api/homework_statuses/"
	DefaultSchedule = "10m"
	// DefaultLookback is roughly one month (2629743s).
	DefaultLookback = "730h29m3s"
	DefaultLogPath  = "./main.log"
)

// applyDefaults fills in values a minimal config (or none at all) leaves empty.
func applyDefaults(cfg *Config) {
	if cfg.Practicum.Endpoint == "" {
		cfg.Practicum.Endpoint = DefaultEndpoint
	}
	if cfg.Poller.Schedule == "" {
		cfg.Poller.Schedule = DefaultSchedule
	}
	if cfg.Poller.Lookback == "" {
		cfg.Poller.Lookback = DefaultLookback
	}
	lg := &cfg.Logging
	if lg.Level == "" && !lg.Console && !lg.File.Enabled && lg.File.Path == "" {
		lg.Level = "info"
		lg.Console = true
		lg.File = LoggingFile{Enabled: true, Path: DefaultLogPath}
	}
}
