package homework

import (
	"bytes"
	"encoding/json"
	"errors"

	"hwbot/internal/failure"
)

const (
	fieldHomeworks   = "homeworks"
	fieldCurrentDate = "current_date"
	fieldName        = "homework_name"
	fieldStatus      = "status"
)

// Validate decodes a raw API payload into a typed Response.
//
// The payload must be a non-empty JSON object holding a "homeworks" array of
// objects; "current_date" is optional but must be an integer when present.
func Validate(payload []byte, opts ValidateOptions) (Response, error) {
	top, err := decodeObject(payload)
	if err != nil {
		return Response{}, failure.Wrap(failure.ErrMalformedResponse, err, "payload is not a JSON object")
	}
	if top == nil {
		return Response{}, failure.New(failure.ErrMalformedResponse, "payload is not a JSON object")
	}
	if len(top) == 0 {
		if opts.AllowEmpty {
			return Response{}, nil
		}
		return Response{}, failure.New(failure.ErrMalformedResponse, "payload is an empty object")
	}

	rawList, ok := top[fieldHomeworks]
	if !ok {
		return Response{}, failure.New(failure.ErrMissingField, "%s", fieldHomeworks)
	}
	if !isKind(rawList, '[') {
		return Response{}, failure.New(failure.ErrMalformedResponse, "%s is not a list", fieldHomeworks)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawList, &items); err != nil {
		return Response{}, failure.Wrap(failure.ErrMalformedResponse, err, "%s is not a list", fieldHomeworks)
	}

	resp := Response{Homeworks: make([]Record, 0, len(items))}
	for i, item := range items {
		rec, err := decodeRecord(item)
		if err != nil {
			return Response{}, failure.Wrap(failure.ErrMalformedResponse, err, "%s[%d]", fieldHomeworks, i)
		}
		resp.Homeworks = append(resp.Homeworks, rec)
	}

	if raw, ok := top[fieldCurrentDate]; ok && !isNull(raw) {
		var ts int64
		if err := json.Unmarshal(raw, &ts); err != nil {
			return Response{}, failure.Wrap(failure.ErrMalformedResponse, err, "%s is not an integer", fieldCurrentDate)
		}
		resp.CurrentDate = ts
		resp.HasCurrentDate = true
	}
	return resp, nil
}

func decodeObject(b []byte) (map[string]json.RawMessage, error) {
	b = bytes.TrimSpace(b)
	if !isKind(b, '{') {
		return nil, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeRecord(raw json.RawMessage) (Record, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return Record{}, err
	}
	if fields == nil {
		return Record{}, errNotObject
	}
	var rec Record
	if rec.Name, rec.HasName, err = decodeString(fields, fieldName); err != nil {
		return Record{}, err
	}
	if rec.Status, rec.HasStatus, err = decodeString(fields, fieldStatus); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// decodeString treats a JSON null the same as an absent key.
func decodeString(fields map[string]json.RawMessage, key string) (string, bool, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, &fieldTypeError{field: key}
	}
	return s, true, nil
}

func isKind(raw []byte, open byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == open
}

func isNull(raw []byte) bool { return bytes.Equal(bytes.TrimSpace(raw), []byte("null")) }

type fieldTypeError struct{ field string }

func (e *fieldTypeError) Error() string { return e.field + " is not a string" }

var errNotObject = errors.New("not an object")
