package config

import (
	"errors"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"hwbot/internal/failure"
)

// credentials holds the settings the process refuses to start without.
type credentials struct {
	PracticumToken string `cfg:"practicum.token" validate:"required"`
	TelegramToken  string `cfg:"telegram.token" validate:"required"`
	TelegramChatID int64  `cfg:"telegram.chat_id" validate:"required"`
}

func newValidator() *validatorv10.Validate {
	v := validatorv10.New()
	// Report config paths ("telegram.token") instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("cfg")
	})
	return v
}

// VerifyCredentials checks that every required credential is present.
// A failure is an ErrConfiguration and must stop the process.
func VerifyCredentials(cfg *Config) error {
	if cfg == nil {
		return failure.New(failure.ErrConfiguration, "config is nil")
	}
	c := credentials{
		PracticumToken: strings.TrimSpace(cfg.Practicum.Token),
		TelegramToken:  strings.TrimSpace(cfg.Telegram.Token),
		TelegramChatID: cfg.Telegram.ChatID,
	}
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return failure.Wrap(failure.ErrConfiguration, err, "verify credentials")
	}
	missing := make([]string, 0, len(ve))
	for _, fe := range ve {
		missing = append(missing, fe.Field())
	}
	return failure.New(failure.ErrConfiguration, "missing required settings: %s", strings.Join(missing, ", "))
}
