/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package scoutslog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/log/global"
	lognoop "go.opentelemetry.io/otel/log/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationName = "github.com/yakumioto/scoutslog"

const (
	exportTimeout        = 10 * time.Second
	retryInitialInterval = time.Second
	retryMaxInterval     = 5 * time.Second
	retryMaxElapsed      = 30 * time.Second
)

// PipelineOption is a functional option for NewPipeline and Start.
type PipelineOption func(*pipelineOptions)

type pipelineOptions struct {
	exporter  sdklog.Exporter
	processor sdklog.Processor
	resource  *resource.Resource
}

// WithExporter replaces the OTLP exporter. Records are still batched.
func WithExporter(exporter sdklog.Exporter) PipelineOption {
	return func(o *pipelineOptions) {
		o.exporter = exporter
	}
}

// WithProcessor replaces the batch processor and exporter altogether.
func WithProcessor(processor sdklog.Processor) PipelineOption {
	return func(o *pipelineOptions) {
		o.processor = processor
	}
}

// WithResource replaces the detected resource.
func WithResource(res *resource.Resource) PipelineOption {
	return func(o *pipelineOptions) {
		o.resource = res
	}
}

// Pipeline is an OpenTelemetry log pipeline: resource, exporter, batch processor and provider,
// fronted by a slog.Handler.
type Pipeline struct {
	config   Config
	provider *sdklog.LoggerProvider
	bridge   *Bridge
}

// NewPipeline resolves cfg and builds a log pipeline exporting to cfg.Endpoint.
// Unlike Start it neither registers the provider globally nor caches the result.
func NewPipeline(ctx context.Context, cfg Config, opts ...PipelineOption) (*Pipeline, error) {
	var o pipelineOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	res := o.resource
	if res == nil {
		res, err = newResource(ctx, cfg.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	processor := o.processor
	if processor == nil {
		exporter := o.exporter
		if exporter == nil {
			exporter, err = newExporter(ctx, cfg)
			if err != nil {
				return nil, err
			}
		}
		processor = sdklog.NewBatchProcessor(exporter)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(processor),
	)

	return &Pipeline{
		config:   cfg,
		provider: provider,
		bridge:   NewBridge(provider.Logger(instrumentationName)),
	}, nil
}

// newResource describes the service: service.name, service.instance.id and host.*.
func newResource(ctx context.Context, service string) (*resource.Resource, error) {
	instance, err := os.Hostname()
	if err != nil {
		instance = "unknown"
	}

	return resource.New(
		ctx,
		resource.WithAttributes(
			semconv.ServiceName(service),
			semconv.ServiceInstanceID(instance),
		),
		resource.WithHost(),
	)
}

func newExporter(ctx context.Context, cfg Config) (sdklog.Exporter, error) {
	withURL := strings.Contains(cfg.Endpoint, "://")

	switch cfg.Protocol {
	case ProtocolHTTP:
		opts := []otlploghttp.Option{
			otlploghttp.WithHeaders(cfg.headers()),
			otlploghttp.WithTimeout(exportTimeout),
			otlploghttp.WithRetry(otlploghttp.RetryConfig{
				Enabled:         true,
				InitialInterval: retryInitialInterval,
				MaxInterval:     retryMaxInterval,
				MaxElapsedTime:  retryMaxElapsed,
			}),
		}
		if withURL {
			opts = append(opts, otlploghttp.WithEndpointURL(cfg.Endpoint))
		} else {
			opts = append(opts, otlploghttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}

		exporter, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP exporter: %w", err)
		}
		return exporter, nil

	default:
		opts := []otlploggrpc.Option{
			otlploggrpc.WithHeaders(cfg.headers()),
			otlploggrpc.WithTimeout(exportTimeout),
			otlploggrpc.WithRetry(otlploggrpc.RetryConfig{
				Enabled:         true,
				InitialInterval: retryInitialInterval,
				MaxInterval:     retryMaxInterval,
				MaxElapsedTime:  retryMaxElapsed,
			}),
		}
		if withURL {
			opts = append(opts, otlploggrpc.WithEndpointURL(cfg.Endpoint))
		} else {
			opts = append(opts, otlploggrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlploggrpc.WithInsecure())
		}

		exporter, err := otlploggrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC exporter: %w", err)
		}
		return exporter, nil
	}
}

// Config returns the resolved configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// Handler returns the slog.Handler feeding the pipeline.
func (p *Pipeline) Handler() slog.Handler {
	return p.bridge
}

// LoggerProvider returns the underlying provider.
func (p *Pipeline) LoggerProvider() *sdklog.LoggerProvider {
	return p.provider
}

// ForceFlush exports all buffered records.
func (p *Pipeline) ForceFlush(ctx context.Context) error {
	return p.provider.ForceFlush(ctx)
}

// Shutdown flushes buffered records and stops the pipeline.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}

var (
	pipelineMu sync.Mutex
	pipeline   atomic.Pointer[Pipeline]
)

// Start returns the process-wide pipeline, building it from cfg on first use and
// registering its provider as the global logger provider.
// Once a pipeline is running, cfg and opts are ignored until Shutdown is called.
func Start(ctx context.Context, cfg Config, opts ...PipelineOption) (*Pipeline, error) {
	if p := pipeline.Load(); p != nil {
		return p, nil
	}

	pipelineMu.Lock()
	defer pipelineMu.Unlock()

	if p := pipeline.Load(); p != nil {
		return p, nil
	}

	p, err := NewPipeline(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}

	global.SetLoggerProvider(p.provider)
	pipeline.Store(p)
	return p, nil
}

// Running returns the process-wide pipeline, or nil if Start has not succeeded.
func Running() *Pipeline {
	return pipeline.Load()
}

// Shutdown stops the process-wide pipeline, if any, and resets the global logger
// provider to a no-op one. A later Start builds a fresh pipeline.
func Shutdown(ctx context.Context) error {
	pipelineMu.Lock()
	defer pipelineMu.Unlock()

	p := pipeline.Swap(nil)
	if p == nil {
		return nil
	}

	global.SetLoggerProvider(lognoop.NewLoggerProvider())
	if err := p.Shutdown(ctx); err != nil {
		return fmt.Errorf("scoutslog: shutdown pipeline: %w", err)
	}
	return nil
}
