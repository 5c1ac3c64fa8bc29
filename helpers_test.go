/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package scoutslog

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// recordingHandler is a sink that keeps every record it is given.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record

	// onHandle runs after the record is stored, outside the lock.
	onHandle func(ctx context.Context, record slog.Record)
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(ctx context.Context, record slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, record.Clone())
	h.mu.Unlock()

	if h.onHandle != nil {
		h.onHandle(ctx, record)
	}
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler {
	return h
}

func (h *recordingHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *recordingHandler) Records() []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]slog.Record(nil), h.records...)
}

// flattenRecord returns the record attributes keyed by their dotted group path.
func flattenRecord(record slog.Record) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, attr slog.Attr)
	walk = func(prefix string, attr slog.Attr) {
		key := attr.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		val := attr.Value.Resolve()
		if val.Kind() == slog.KindGroup {
			for _, a := range val.Group() {
				walk(key, a)
			}
			return
		}
		out[key] = val.Any()
	}
	record.Attrs(func(attr slog.Attr) bool {
		walk("", attr)
		return true
	})
	return out
}

type exportedRecord struct {
	Body         string
	Severity     log.Severity
	SeverityText string
	Attrs        map[string]log.Value
}

// recordingExporter is an sdklog.Exporter keeping a copy of every exported record.
type recordingExporter struct {
	mu       sync.Mutex
	records  []exportedRecord
	shutdown bool
}

func (e *recordingExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range records {
		attrs := make(map[string]log.Value, r.AttributesLen())
		r.WalkAttributes(func(kv log.KeyValue) bool {
			attrs[kv.Key] = kv.Value
			return true
		})
		e.records = append(e.records, exportedRecord{
			Body:         r.Body().AsString(),
			Severity:     r.Severity(),
			SeverityText: r.SeverityText(),
			Attrs:        attrs,
		})
	}
	return nil
}

func (e *recordingExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdown = true
	return nil
}

func (e *recordingExporter) ForceFlush(context.Context) error {
	return nil
}

func (e *recordingExporter) Records() []exportedRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]exportedRecord(nil), e.records...)
}

func (e *recordingExporter) IsShutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown
}

// errorRecorder captures errors passed to otel.Handle.
type errorRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *errorRecorder) Handle(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *errorRecorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func captureOtelErrors(t *testing.T) *errorRecorder {
	t.Helper()
	rec := &errorRecorder{}
	prev := otel.GetErrorHandler()
	otel.SetErrorHandler(rec)
	t.Cleanup(func() {
		otel.SetErrorHandler(prev)
	})
	return rec
}

func emptyLookup(string) (string, bool) {
	return "", false
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}
