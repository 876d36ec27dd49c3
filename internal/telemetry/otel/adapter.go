package otel

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// recordEmitter is the part of otellog.Logger the bridge needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// LogBridge is a zerolog writer that re-emits every JSON log line as an OTel log record.
// Pass it to logger.New as an extra writer.
type LogBridge struct {
	logger recordEmitter
}

// NewLogBridge returns a bridge emitting through the given LoggerProvider, or nil if provider is nil.
func NewLogBridge(provider *sdklog.LoggerProvider) *LogBridge {
	if provider == nil {
		return nil
	}
	return &LogBridge{logger: provider.Logger("fleet-log-router")}
}

// NewLogBridgeWithLogger is NewLogBridge over an arbitrary emitter (used in tests).
func NewLogBridgeWithLogger(l recordEmitter) *LogBridge {
	return &LogBridge{logger: l}
}

// Write implements io.Writer. Lines that are not JSON objects are emitted as a plain body.
func (b *LogBridge) Write(p []byte) (int, error) {
	return b.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel implements zerolog.LevelWriter. It never fails; a bad line is still emitted.
func (b *LogBridge) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	rec := otellog.Record{}
	rec.SetObservedTimestamp(time.Now().UTC())

	var fields map[string]interface{}
	if err := json.Unmarshal(p, &fields); err != nil {
		rec.SetBody(otellog.StringValue(string(p)))
		rec.SetTimestamp(time.Now().UTC())
		b.logger.Emit(context.Background(), rec)
		return len(p), nil
	}

	if lv, ok := fields[zerolog.LevelFieldName].(string); ok && level == zerolog.NoLevel {
		if parsed, err := zerolog.ParseLevel(lv); err == nil {
			level = parsed
		}
	}
	sev, text := severity(level)
	rec.SetSeverity(sev)
	rec.SetSeverityText(text)

	if msg, ok := fields[zerolog.MessageFieldName].(string); ok {
		rec.SetBody(otellog.StringValue(msg))
	}
	ts := time.Now().UTC()
	if s, ok := fields[zerolog.TimestampFieldName].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			ts = parsed
		}
	}
	rec.SetTimestamp(ts)

	for k, v := range fields {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName:
			continue
		}
		rec.AddAttributes(otellog.KeyValue{Key: k, Value: attrValue(v)})
	}
	b.logger.Emit(context.Background(), rec)
	return len(p), nil
}

func severity(level zerolog.Level) (otellog.Severity, string) {
	switch level {
	case zerolog.TraceLevel:
		return otellog.SeverityTrace, "TRACE"
	case zerolog.DebugLevel:
		return otellog.SeverityDebug, "DEBUG"
	case zerolog.InfoLevel:
		return otellog.SeverityInfo, "INFO"
	case zerolog.WarnLevel:
		return otellog.SeverityWarn, "WARN"
	case zerolog.ErrorLevel:
		return otellog.SeverityError, "ERROR"
	case zerolog.FatalLevel:
		return otellog.SeverityFatal, "FATAL"
	case zerolog.PanicLevel:
		return otellog.SeverityFatal4, "PANIC"
	default:
		return otellog.SeverityUndefined, ""
	}
}

func attrValue(v interface{}) otellog.Value {
	switch x := v.(type) {
	case string:
		return otellog.StringValue(x)
	case bool:
		return otellog.BoolValue(x)
	case float64:
		if x == float64(int64(x)) {
			return otellog.Int64Value(int64(x))
		}
		return otellog.Float64Value(x)
	case nil:
		return otellog.Value{}
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return otellog.StringValue("")
		}
		return otellog.StringValue(string(raw))
	}
}
