/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package scoutslog

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/yakumioto/scoutslog/tracked"
)

// Record fields written during enrichment.
const (
	TransactionIDKey    = "scout_transaction_id"
	StartTimeKey        = "scout_start_time"
	EndTimeKey          = "scout_end_time"
	DurationKey         = "scout_duration"
	CurrentOperationKey = "scout_current_operation"
	ServiceNameKey      = "service.name"

	// TagKeyPrefix is prepended to every request tag key.
	TagKeyPrefix = "scout_tag_"
)

// RequestSource returns the tracked request active in ctx, or nil when there is none.
type RequestSource func(ctx context.Context) (*tracked.Request, error)

// ContextRequestSource reads the request stored by tracked.NewContext.
func ContextRequestSource(ctx context.Context) (*tracked.Request, error) {
	return tracked.FromContext(ctx), nil
}

// Options is a functional option for the Handler.
type Options func(*Handler)

// WithConfig sets the export configuration used when the pipeline is started lazily.
func WithConfig(cfg Config) Options {
	return func(h *Handler) {
		h.config = cfg
	}
}

// WithServiceName sets the service name reported on records and on the resource.
func WithServiceName(name string) Options {
	return func(h *Handler) {
		h.config.ServiceName = name
	}
}

// WithPipelineOptions passes options to Start when the pipeline is started lazily.
func WithPipelineOptions(opts ...PipelineOption) Options {
	return func(h *Handler) {
		h.pipelineOpts = append(h.pipelineOpts, opts...)
	}
}

// WithLevel sets the minimum level handled.
func WithLevel(level slog.Leveler) Options {
	return func(h *Handler) {
		h.level = level
	}
}

// WithRequestSource replaces ContextRequestSource.
func WithRequestSource(source RequestSource) Options {
	return func(h *Handler) {
		h.source = source
	}
}

// WithTraceIDKey sets the key used to record the trace ID in slog records.
func WithTraceIDKey(key string) Options {
	return func(h *Handler) {
		h.traceIDKey = key
	}
}

// WithSpanIDKey sets the key used to record the span ID in slog records.
func WithSpanIDKey(key string) Options {
	return func(h *Handler) {
		h.spanIDKey = key
	}
}

// WithMeterProvider sets the provider for the handler's own counters.
// The global meter provider is used by default.
func WithMeterProvider(mp metric.MeterProvider) Options {
	return func(h *Handler) {
		h.meterProvider = mp
	}
}

// NewHandler creates a new Handler with the given options.
//
// Records are forwarded to next. When next is nil, the process-wide pipeline is
// started on the first record, see Start.
func NewHandler(next slog.Handler, opts ...Options) *Handler {
	h := &Handler{
		level:      slog.LevelDebug,
		source:     ContextRequestSource,
		traceIDKey: "trace_id",
		spanIDKey:  "span_id",
		guard:      &Guard{},
		Next:       next,
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.meterProvider == nil {
		h.meterProvider = otel.GetMeterProvider()
	}
	h.metrics = newHandlerMetrics(h.meterProvider)
	h.serviceName = h.config.ResolveServiceName()

	return h
}

// Handler enriches slog records with the tracked request active in the record's context
// before passing them on.
//
// Enrichment runs at most once at a time per goroutine: a record logged while the same
// goroutine is already enriching or forwarding one, e.g. by the sink itself, is
// forwarded without enrichment.
type Handler struct {
	config       Config
	pipelineOpts []PipelineOption
	serviceName  string

	level  slog.Leveler
	source RequestSource

	// OpenTelemetry trace context keys
	traceIDKey string
	spanIDKey  string

	attrs     []scopedAttrs
	groupKeys []string

	guard         *Guard
	meterProvider metric.MeterProvider
	metrics       *handlerMetrics

	// Next slog.Handler in the chain
	Next slog.Handler
}

// scopedAttrs are attributes added by WithAttrs under the groups open at that time.
type scopedAttrs struct {
	groupKeys []string
	attrs     []slog.Attr
}

// Enabled checks if the handler is enabled for the given slog.Level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle enriches the record and forwards it exactly once.
//
// A failure to look up the tracked request is reported through otel.Handle and the
// record is forwarded without request fields. Panics are not recovered, but the
// goroutine's guard is always released.
//
// A reentrant record never starts the pipeline: it goes to Next or to the running
// pipeline, and is dropped when there is neither.
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	if !h.guard.Acquire() {
		h.metrics.reentrant(ctx)
		next := h.started()
		if next == nil {
			return nil
		}
		return h.nextHandle(ctx, next, h.newRecord(record, nil))
	}
	defer h.guard.Release()

	next, err := h.next(ctx)
	if err != nil {
		err = fmt.Errorf("scoutslog: initialize handler: %w", err)
		otel.Handle(err)
		return err
	}

	return h.nextHandle(ctx, next, h.newRecord(record, h.enrich(ctx)))
}

// Close is a no-op. The process-wide pipeline is shared between handlers and is
// stopped with Shutdown.
func (h *Handler) Close() error {
	return nil
}

// next returns Next, or the process-wide pipeline's handler.
func (h *Handler) next(ctx context.Context) (slog.Handler, error) {
	if h.Next != nil {
		return h.Next, nil
	}

	p, err := Start(ctx, h.config, h.pipelineOpts...)
	if err != nil {
		return nil, err
	}
	return p.Handler(), nil
}

// started returns Next, or the process-wide pipeline's handler if it is running.
func (h *Handler) started() slog.Handler {
	if h.Next != nil {
		return h.Next
	}
	if p := Running(); p != nil {
		return p.Handler()
	}
	return nil
}

func (h *Handler) nextHandle(ctx context.Context, next slog.Handler, record slog.Record) error {
	if next.Enabled(ctx, record.Level) {
		return next.Handle(ctx, record)
	}

	return nil
}

// newRecord rebuilds record with the enrichment attributes at the top level and the
// handler's own attributes under their groups.
func (h *Handler) newRecord(record slog.Record, enrichment []slog.Attr) slog.Record {
	newRecord := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	newRecord.AddAttrs(enrichment...)

	for _, scoped := range h.attrs {
		newRecord.AddAttrs(nestAttrs(scoped.groupKeys, scoped.attrs)...)
	}

	attrs := make([]slog.Attr, 0, record.NumAttrs())
	record.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)
		return true
	})
	newRecord.AddAttrs(nestAttrs(h.groupKeys, attrs)...)

	return newRecord
}

// enrich collects trace correlation and tracked request fields for ctx.
func (h *Handler) enrich(ctx context.Context) []slog.Attr {
	attrs := h.traceAttrs(ctx)

	req, err := h.source(ctx)
	if err != nil {
		h.metrics.failed(ctx)
		otel.Handle(fmt.Errorf("scoutslog: enrich record: %w", err))
		return attrs
	}
	if req == nil {
		return attrs
	}

	h.metrics.enriched(ctx)
	return append(attrs, requestAttrs(req, h.serviceName)...)
}

// traceAttrs adds trace and span IDs from the span in ctx, if any.
func (h *Handler) traceAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		attrs = append(attrs, slog.String(h.traceIDKey, spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		attrs = append(attrs, slog.String(h.spanIDKey, spanCtx.SpanID().String()))
	}

	return attrs
}

// requestAttrs describes req as record fields.
func requestAttrs(req *tracked.Request, serviceName string) []slog.Attr {
	tags := req.Tags()
	attrs := make([]slog.Attr, 0, len(tags)+7)

	if detail, ok := ClassifyRequest(req); ok {
		attrs = append(attrs, slog.String(detail.EntrypointAttribute(), detail.Name))
	}

	start := req.StartTime()
	attrs = append(attrs,
		slog.String(TransactionIDKey, req.ID()),
		slog.String(StartTimeKey, start.Format(time.RFC3339Nano)),
	)
	if end := req.EndTime(); !end.IsZero() {
		attrs = append(attrs,
			slog.String(EndTimeKey, end.Format(time.RFC3339Nano)),
			slog.Float64(DurationKey, end.Sub(start).Seconds()),
		)
	}

	attrs = append(attrs, slog.String(ServiceNameKey, serviceName))

	for _, key := range slices.Sorted(maps.Keys(tags)) {
		attrs = append(attrs, slog.Any(TagKeyPrefix+key, tags[key]))
	}

	if span := req.CurrentSpan(); span != nil {
		attrs = append(attrs, slog.String(CurrentOperationKey, span.Operation()))
	}

	return attrs
}

// nestAttrs wraps attrs in one slog.Group per key, outermost first.
// Groups without attributes are dropped.
func nestAttrs(groupKeys []string, attrs []slog.Attr) []slog.Attr {
	if len(attrs) == 0 {
		return nil
	}

	for i := len(groupKeys) - 1; i >= 0; i-- {
		attrs = []slog.Attr{{Key: groupKeys[i], Value: slog.GroupValue(attrs...)}}
	}
	return attrs
}

// WithAttrs returns a new slog.Handler that includes the given slog.Attrs.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	h2 := *h
	h2.attrs = append(slices.Clip(h.attrs), scopedAttrs{
		groupKeys: h.groupKeys,
		attrs:     slices.Clone(attrs),
	})
	return &h2
}

// WithGroup returns a new slog.Handler that nests subsequent attributes under name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	h2 := *h
	h2.groupKeys = append(slices.Clip(h.groupKeys), name)
	return &h2
}
