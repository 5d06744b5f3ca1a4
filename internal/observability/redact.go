// Package observability tracks request lifecycles, exposes Prometheus
// metrics, and guarantees that log output is redacted before it reaches any
// sink.
package observability

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"unicode/utf8"
)

// Redaction limits and placeholders.
const (
	MaxErrorLength    = 200
	SubjectMarker     = "usr_…"
	RedactedValue     = "[REDACTED]"
	ObjectPlaceholder = "[object]"
)

var sensitiveKeys = map[string]bool{
	"secret":        true,
	"api_key":       true,
	"key":           true,
	"authorization": true,
	"token":         true,
	"content":       true,
	"prompt":        true,
	"password":      true,
}

var subjectKeys = map[string]bool{
	"subject":    true,
	"subject_id": true,
	"owner_id":   true,
}

var errorKeys = map[string]bool{
	"error": true,
	"err":   true,
}

// RedactingHandler wraps another slog.Handler and rewrites every attribute,
// including grouped and With attributes, before delegating.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler wraps inner.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

// NewLogger builds the process logger. format is "text" or "json".
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewRedactingHandler(h))
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	key := strings.ToLower(a.Key)

	switch {
	case a.Value.Kind() == slog.KindGroup:
		members := a.Value.Group()
		redacted := make([]slog.Attr, len(members))
		for i, m := range members {
			redacted[i] = redactAttr(m)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	case sensitiveKeys[key]:
		return slog.String(a.Key, RedactedValue)
	case subjectKeys[key]:
		return slog.String(a.Key, MaskSubject(a.Value.String()))
	case errorKeys[key]:
		return slog.String(a.Key, TruncateError(a.Value.String()))
	case a.Value.Kind() == slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, TruncateError(err.Error()))
		}
		if v, ok := scalarValue(a.Value.Any()); ok {
			return slog.Attr{Key: a.Key, Value: v}
		}
		return slog.String(a.Key, ObjectPlaceholder)
	}
	return a
}

// scalarValue unwraps named string, bool and numeric types. Structs, maps,
// slices and pointers are not scalars.
func scalarValue(v any) (slog.Value, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return slog.StringValue(rv.String()), true
	case reflect.Bool:
		return slog.BoolValue(rv.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return slog.Int64Value(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return slog.Uint64Value(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return slog.Float64Value(rv.Float()), true
	}
	return slog.Value{}, false
}

// MaskSubject renders a subject id as a non-reversible display form: the
// marker followed by the last 8 characters, or the last half of shorter ids.
func MaskSubject(id string) string {
	if id == "" {
		return ""
	}
	runes := []rune(id)
	keep := 8
	if len(runes) <= keep {
		keep = len(runes) / 2
	}
	return SubjectMarker + string(runes[len(runes)-keep:])
}

// TruncateError caps an error message at MaxErrorLength characters.
func TruncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxErrorLength {
		return msg
	}
	return string([]rune(msg)[:MaxErrorLength]) + "…"
}
