package config

import (
	"os"
	"strconv"
	"strings"

	"hwbot/internal/failure"
)

// Environment variables that override file values. The second name of each
// pair is the legacy spelling still accepted.
var (
	envPracticumToken = []string{"PRACTICUM_TOKEN", "YA_TOKEN"}
	envTelegramToken  = []string{"TELEGRAM_TOKEN", "TOKEN"}
	envTelegramChatID = []string{"TELEGRAM_CHAT_ID"}
)

// applyEnv overlays credentials from the environment. lookup is os.LookupEnv
// outside of tests.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := firstEnv(lookup, envPracticumToken); ok {
		cfg.Practicum.Token = v
	}
	if v, ok := firstEnv(lookup, envTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := firstEnv(lookup, envTelegramChatID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return failure.Wrap(failure.ErrConfiguration, err, "%s: invalid chat id %q", envTelegramChatID[0], v)
		}
		cfg.Telegram.ChatID = id
	}
	cfg.Practicum.Token = strings.TrimSpace(cfg.Practicum.Token)
	cfg.Telegram.Token = strings.TrimSpace(cfg.Telegram.Token)
	return nil
}

func firstEnv(lookup func(string) (string, bool), names []string) (string, bool) {
	for _, n := range names {
		if v, ok := lookup(n); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}
