package telemetry

import (
	"context"
	"log/slog"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

const loggerScope = "medsync"

// LogHandler is a [slog.Handler] that forwards every record it handles to an
// OpenTelemetry logger before passing it on to the wrapped handler. With the
// default no-op provider the OTel side costs nothing.
type LogHandler struct {
	next   slog.Handler
	logger otellog.Logger
	attrs  []otellog.KeyValue
	prefix string
}

// NewLogHandler wraps next. If lp is nil the global logger provider is used,
// so call it after [Setup].
func NewLogHandler(next slog.Handler, lp otellog.LoggerProvider) *LogHandler {
	if lp == nil {
		lp = global.GetLoggerProvider()
	}
	return &LogHandler{next: next, logger: lp.Logger(loggerScope)}
}

// Enabled defers to the wrapped handler.
func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle emits r to OTel, then to the wrapped handler.
func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	var rec otellog.Record
	rec.SetTimestamp(r.Time)
	rec.SetObservedTimestamp(r.Time)
	rec.SetBody(otellog.StringValue(r.Message))
	rec.SetSeverity(severity(r.Level))
	rec.SetSeverityText(r.Level.String())
	rec.AddAttributes(h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttributes(h.convert(a)...)
		return true
	})
	h.logger.Emit(ctx, rec)

	return h.next.Handle(ctx, r)
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	for _, a := range attrs {
		c.attrs = append(c.attrs, h.convert(a)...)
	}
	c.next = h.next.WithAttrs(attrs)
	return c
}

// WithGroup returns a handler that qualifies later attribute keys with name.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.prefix = h.prefix + name + "."
	c.next = h.next.WithGroup(name)
	return c
}

func (h *LogHandler) clone() *LogHandler {
	c := *h
	c.attrs = append([]otellog.KeyValue(nil), h.attrs...)
	return &c
}

// convert flattens a into OTel key/values, expanding groups with dotted keys.
func (h *LogHandler) convert(a slog.Attr) []otellog.KeyValue {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return nil
	}
	key := h.prefix + a.Key

	switch a.Value.Kind() {
	case slog.KindGroup:
		sub := &LogHandler{prefix: key + "."}
		if a.Key == "" {
			sub.prefix = h.prefix
		}
		var out []otellog.KeyValue
		for _, g := range a.Value.Group() {
			out = append(out, sub.convert(g)...)
		}
		return out
	case slog.KindString:
		return []otellog.KeyValue{otellog.String(key, a.Value.String())}
	case slog.KindInt64:
		return []otellog.KeyValue{otellog.Int64(key, a.Value.Int64())}
	case slog.KindUint64:
		return []otellog.KeyValue{otellog.Int64(key, int64(a.Value.Uint64()))}
	case slog.KindFloat64:
		return []otellog.KeyValue{otellog.Float64(key, a.Value.Float64())}
	case slog.KindBool:
		return []otellog.KeyValue{otellog.Bool(key, a.Value.Bool())}
	default:
		return []otellog.KeyValue{otellog.String(key, a.Value.String())}
	}
}

func severity(l slog.Level) otellog.Severity {
	switch {
	case l >= slog.LevelError:
		return otellog.SeverityError
	case l >= slog.LevelWarn:
		return otellog.SeverityWarn
	case l >= slog.LevelInfo:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityDebug
	}
}
