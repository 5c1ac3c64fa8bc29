/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package scoutslog

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/log"
)

// Bridge is a slog.Handler that emits records to an OpenTelemetry log.Logger.
// Grouped attributes are flattened into dotted keys, e.g. "request.user.id".
type Bridge struct {
	logger log.Logger

	attrs     []log.KeyValue
	groupKeys []string
}

// NewBridge returns a Bridge emitting to logger.
func NewBridge(logger log.Logger) *Bridge {
	return &Bridge{logger: logger}
}

// Enabled asks the underlying logger whether it will process records of the given level.
func (b *Bridge) Enabled(ctx context.Context, level slog.Level) bool {
	return b.logger.Enabled(ctx, log.EnabledParameters{Severity: convertLevel(level)})
}

// Handle converts the slog.Record into a log.Record and emits it.
func (b *Bridge) Handle(ctx context.Context, record slog.Record) error {
	var r log.Record
	r.SetTimestamp(record.Time)
	r.SetBody(log.StringValue(record.Message))
	r.SetSeverity(convertLevel(record.Level))
	r.SetSeverityText(record.Level.String())

	attrs := make([]log.KeyValue, 0, len(b.attrs)+record.NumAttrs())
	attrs = append(attrs, b.attrs...)
	record.Attrs(func(attr slog.Attr) bool {
		convertAttrs(attr, func(kv log.KeyValue) {
			attrs = append(attrs, kv)
		}, b.groupKeys...)
		return true
	})
	r.AddAttributes(attrs...)

	b.logger.Emit(ctx, r)
	return nil
}

// WithAttrs returns a new Bridge that adds attrs to every record.
func (b *Bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return b
	}

	converted := slices.Clone(b.attrs)
	for _, attr := range attrs {
		convertAttrs(attr, func(kv log.KeyValue) {
			converted = append(converted, kv)
		}, b.groupKeys...)
	}

	return &Bridge{
		logger:    b.logger,
		attrs:     converted,
		groupKeys: b.groupKeys,
	}
}

// WithGroup returns a new Bridge that prefixes subsequent attribute keys with name.
func (b *Bridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}

	return &Bridge{
		logger:    b.logger,
		attrs:     b.attrs,
		groupKeys: append(slices.Clip(b.groupKeys), name),
	}
}

// convertLevel maps slog levels onto the OpenTelemetry severity range:
// Debug -> DEBUG, Info -> INFO, Warn -> WARN, Error -> ERROR, with the
// levels in between landing on DEBUG2..4, INFO2..4 and so on.
func convertLevel(level slog.Level) log.Severity {
	sev := int(level) + int(log.SeverityInfo)
	switch {
	case sev < int(log.SeverityTrace1):
		return log.SeverityTrace1
	case sev > int(log.SeverityFatal4):
		return log.SeverityFatal4
	}
	return log.Severity(sev)
}

// convertAttrs converts slog.Attrs to OpenTelemetry log attributes.
func convertAttrs(attr slog.Attr, handler func(log.KeyValue), groupKeys ...string) {
	if attr.Equal(slog.Attr{}) {
		return
	}

	key := attr.Key
	if len(groupKeys) > 0 {
		key = strings.Join(groupKeys, ".") + "." + attr.Key
	}

	val := attr.Value.Resolve()

	switch val.Kind() {
	case slog.KindBool:
		handler(log.Bool(key, val.Bool()))
	case slog.KindDuration:
		handler(log.Int64(key, int64(val.Duration())))
	case slog.KindFloat64:
		handler(log.Float64(key, val.Float64()))
	case slog.KindInt64:
		handler(log.Int64(key, val.Int64()))
	case slog.KindString:
		handler(log.String(key, val.String()))
	case slog.KindTime:
		handler(log.String(key, val.Time().Format(time.RFC3339Nano)))
	case slog.KindUint64:
		if v := val.Uint64(); v <= math.MaxInt64 {
			handler(log.Int64(key, int64(v)))
		} else {
			handler(log.String(key, fmt.Sprint(v)))
		}
	case slog.KindGroup:
		// Inline groups keep the enclosing prefix.
		if attr.Key == "" {
			for _, groupAttr := range val.Group() {
				convertAttrs(groupAttr, handler, groupKeys...)
			}
			return
		}
		for _, groupAttr := range val.Group() {
			convertAttrs(groupAttr, handler, key)
		}
	case slog.KindAny:
		handler(convertAnyValue(key, val.Any()))
	default:
		handler(log.String(key, fmt.Sprintf("%+v", val.Any())))
	}
}

// convertAnyValue converts slog.Any to OpenTelemetry log attributes.
func convertAnyValue(key string, value any) log.KeyValue {
	switch v := value.(type) {
	case nil:
		return log.KeyValue{Key: key}
	case error:
		return log.String(key, v.Error())
	case []byte:
		return log.Bytes(key, v)
	case []string:
		return log.Slice(key, sliceValues(v, log.StringValue)...)
	case []int:
		return log.Slice(key, sliceValues(v, log.IntValue)...)
	case []int64:
		return log.Slice(key, sliceValues(v, log.Int64Value)...)
	case []float64:
		return log.Slice(key, sliceValues(v, log.Float64Value)...)
	case []bool:
		return log.Slice(key, sliceValues(v, log.BoolValue)...)
	case int:
		return log.Int(key, v)
	case int32:
		return log.Int64(key, int64(v))
	case float32:
		return log.Float64(key, float64(v))
	case fmt.Stringer:
		return log.String(key, v.String())
	default:
		return log.String(key, fmt.Sprintf("%+v", v))
	}
}

func sliceValues[T any](in []T, conv func(T) log.Value) []log.Value {
	out := make([]log.Value, len(in))
	for i, v := range in {
		out[i] = conv(v)
	}
	return out
}
