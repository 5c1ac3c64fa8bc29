/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package tracked

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Option is a functional option for the Request.
type Option func(*Request)

// WithID overrides the generated request id.
func WithID(id string) Option {
	return func(r *Request) {
		r.id = id
	}
}

// WithClock sets the time source used for start, finish and span timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Request) {
		r.now = now
	}
}

// Request is a unit of tracked work, such as one HTTP request or one background job.
// It records its start and end time, caller supplied tags and a stack of spans.
// All methods are safe for concurrent use.
type Request struct {
	mu sync.Mutex

	id        string
	startTime time.Time
	endTime   time.Time
	tags      map[string]any
	operation string

	activeSpans   []*Span
	completeSpans []*Span

	now func() time.Time
}

// New starts a new Request.
func New(opts ...Option) *Request {
	r := &Request{
		id:   "req-" + uuid.NewString(),
		tags: make(map[string]any),
		now:  time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	r.startTime = r.now()
	return r
}

// ID returns the request id.
func (r *Request) ID() string {
	return r.id
}

// StartTime returns the time the request was started.
func (r *Request) StartTime() time.Time {
	return r.startTime
}

// EndTime returns the time the request finished, or the zero time if it is still running.
func (r *Request) EndTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endTime
}

// Completed reports whether Finish has been called.
func (r *Request) Completed() bool {
	return !r.EndTime().IsZero()
}

// Duration returns the time between start and finish, or zero if the request is still running.
func (r *Request) Duration() time.Duration {
	end := r.EndTime()
	if end.IsZero() {
		return 0
	}
	return end.Sub(r.startTime)
}

// Tag sets a request level tag. Setting an existing key replaces its value.
func (r *Request) Tag(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[key] = value
}

// Tags returns a copy of the request tags.
func (r *Request) Tags() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.tags)
}

// Operation returns the operation explicitly assigned to the request, if any.
func (r *Request) Operation() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.operation
}

// SetOperation marks the request with its entrypoint operation, e.g. "Controller/users.show".
func (r *Request) SetOperation(operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operation = operation
}

// StartSpan opens a new span nested under the current one.
func (r *Request) StartSpan(operation string) *Span {
	r.mu.Lock()
	defer r.mu.Unlock()

	span := &Span{
		id:        "span-" + uuid.NewString(),
		operation: operation,
		startTime: r.now(),
		tags:      make(map[string]any),
	}
	if n := len(r.activeSpans); n > 0 {
		span.parentID = r.activeSpans[n-1].id
	}
	r.activeSpans = append(r.activeSpans, span)
	return span
}

// StopSpan closes the current span and moves it to the completed spans.
// It is a no-op when no span is open.
func (r *Request) StopSpan() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.activeSpans)
	if n == 0 {
		return
	}

	span := r.activeSpans[n-1]
	r.activeSpans = r.activeSpans[:n-1]
	span.stop(r.now())
	r.completeSpans = append(r.completeSpans, span)
}

// CurrentSpan returns the innermost open span, or nil.
func (r *Request) CurrentSpan() *Span {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.activeSpans); n > 0 {
		return r.activeSpans[n-1]
	}
	return nil
}

// CompleteSpans returns the stopped spans, oldest first.
func (r *Request) CompleteSpans() []*Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.completeSpans)
}

// Finish stops any open spans and records the end time. Only the first call has an effect.
func (r *Request) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.endTime.IsZero() {
		return
	}

	now := r.now()
	for i := len(r.activeSpans) - 1; i >= 0; i-- {
		span := r.activeSpans[i]
		span.stop(now)
		r.completeSpans = append(r.completeSpans, span)
	}
	r.activeSpans = nil
	r.endTime = now
}

type requestKey struct{}

// NewContext returns a copy of ctx carrying req.
func NewContext(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

// FromContext returns the Request stored in ctx, or nil.
func FromContext(ctx context.Context) *Request {
	if ctx == nil {
		return nil
	}
	req, _ := ctx.Value(requestKey{}).(*Request)
	return req
}

// Start creates a Request named operation, opens a span for it and returns a context
// carrying it. Callers are expected to call Finish on the returned Request.
func Start(ctx context.Context, operation string, opts ...Option) (context.Context, *Request) {
	req := New(opts...)
	req.SetOperation(operation)
	req.StartSpan(operation)
	return NewContext(ctx, req), req
}
