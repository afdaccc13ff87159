package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type redacted string

func (r redacted) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if r == "" {
		enc.AddString("value", "")
		return nil
	}
	enc.AddString("value", "<redacted>")
	enc.AddInt("len", len(r))
	return nil
}

func (r redacted) String() string {
	return "<redacted>"
}

// Secret logs that a value was present without logging the value itself.
func Secret(key, value string) zap.Field {
	return zap.Object(key, redacted(value))
}

// Sanitizer is implemented by values that can describe themselves without leaking their content.
type Sanitizer interface {
	Sanitize() map[string]any
}

// Sanitized logs a Sanitizer by its sanitized form.
func Sanitized(key string, s Sanitizer) zap.Field {
	return zap.Any(key, s.Sanitize())
}
