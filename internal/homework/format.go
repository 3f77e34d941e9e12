package homework

import (
	"fmt"
	"strings"

	"hwbot/internal/failure"
)

// Format renders the status change notification for a record.
func Format(rec Record) (string, error) {
	if !rec.HasName || strings.TrimSpace(rec.Name) == "" {
		return "", failure.New(failure.ErrMissingField, "%s", fieldName)
	}
	if !rec.HasStatus {
		return "", failure.New(failure.ErrMissingField, "%s", fieldStatus)
	}
	verdict, err := Verdict(rec.Status)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Изменился статус проверки работы \"%s\". %s", rec.Name, verdict), nil
}
