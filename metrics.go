/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package scoutslog

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

// handlerMetrics counts what the handler did with each record.
//
//   - scoutslog.records.enriched   records that carried a tracked request
//   - scoutslog.records.reentrant  records forwarded without enrichment by the guard
//   - scoutslog.enrich.errors      tracked request lookups that failed
type handlerMetrics struct {
	enrichedCounter  metric.Int64Counter
	reentrantCounter metric.Int64Counter
	errorCounter     metric.Int64Counter
}

func newHandlerMetrics(mp metric.MeterProvider) *handlerMetrics {
	meter := mp.Meter(instrumentationName)

	return &handlerMetrics{
		enrichedCounter: int64Counter(meter, "scoutslog.records.enriched",
			"Number of log records enriched with a tracked request"),
		reentrantCounter: int64Counter(meter, "scoutslog.records.reentrant",
			"Number of log records forwarded without enrichment because enrichment was already in progress"),
		errorCounter: int64Counter(meter, "scoutslog.enrich.errors",
			"Number of failed tracked request lookups"),
	}
}

func int64Counter(meter metric.Meter, name, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name,
		metric.WithDescription(description),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		otel.Handle(fmt.Errorf("scoutslog: create counter %s: %w", name, err))
		return metricnoop.Int64Counter{}
	}
	return counter
}

func (m *handlerMetrics) enriched(ctx context.Context) {
	m.enrichedCounter.Add(ctx, 1)
}

func (m *handlerMetrics) reentrant(ctx context.Context) {
	m.reentrantCounter.Add(ctx, 1)
}

func (m *handlerMetrics) failed(ctx context.Context) {
	m.errorCounter.Add(ctx, 1)
}
