/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

// Command scoutslog-example runs a small HTTP service whose logs are enriched with
// tracked request fields and exported to Scout.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/yakumioto/scoutslog"
	"github.com/yakumioto/scoutslog/tracked"
)

type options struct {
	addr          string
	serviceName   string
	endpoint      string
	protocol      string
	traceEndpoint string
	insecure      bool
	stdout        bool
	jobInterval   time.Duration
}

// config is the log pipeline configuration. Empty fields fall back to SCOUT_* variables.
func (o options) config() scoutslog.Config {
	return scoutslog.Config{
		ServiceName: o.serviceName,
		Endpoint:    o.endpoint,
		Protocol:    scoutslog.Protocol(o.protocol),
		Insecure:    o.insecure,
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "scoutslog-example",
		Short:        "Run an HTTP service that logs through scoutslog",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8080", "Address to listen on")
	flags.StringVar(&opts.serviceName, "service-name", "", "Service name, defaults to $"+scoutslog.EnvServiceName)
	flags.StringVar(&opts.endpoint, "endpoint", "", "OTLP logs endpoint, defaults to $"+scoutslog.EnvEndpoint)
	flags.StringVar(&opts.protocol, "protocol", "", "OTLP protocol, grpc or http")
	flags.StringVar(&opts.traceEndpoint, "trace-endpoint", "", "OTLP/HTTP traces endpoint, tracing is off when empty")
	flags.BoolVar(&opts.insecure, "insecure", false, "Disable transport security, for testing only")
	flags.BoolVar(&opts.stdout, "stdout", false, "Write enriched records as JSON to standard output instead of exporting them")
	flags.DurationVar(&opts.jobInterval, "job-interval", 30*time.Second, "Interval of the background job")

	return cmd
}

func run(ctx context.Context, opts options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.traceEndpoint != "" {
		cleanup, err := initTracer(ctx, opts)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	handlerOpts := []scoutslog.Options{scoutslog.WithConfig(opts.config())}

	var next slog.Handler
	if opts.stdout {
		next = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(scoutslog.NewHandler(next, handlerOpts...)))

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := scoutslog.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down log pipeline: %v\n", err)
		}
	}()

	go runJobs(ctx, opts.jobInterval)

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           otelhttp.NewHandler(tracked.Middleware(newMux()), "scoutslog-example"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", opts.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		slog.InfoContext(r.Context(), "hello, world")
		fmt.Fprintln(w, "hello, world")
	})

	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		req := tracked.FromContext(ctx)
		req.Tag("user_id", r.PathValue("id"))

		req.StartSpan("SQL/users/find")
		slog.DebugContext(ctx, "loading user")
		req.StopSpan()

		slog.InfoContext(ctx, "user loaded")
		fmt.Fprintf(w, "user %s\n", r.PathValue("id"))
	})

	mux.HandleFunc("GET /error", func(w http.ResponseWriter, r *http.Request) {
		slog.ErrorContext(r.Context(), "something went wrong", "error", errors.New("boom"))
		http.Error(w, "something went wrong", http.StatusInternalServerError)
	})

	return mux
}

// runJobs runs a tracked background job every interval until ctx is done.
func runJobs(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = tracked.RunJob(ctx, "Heartbeat", func(ctx context.Context) error {
				slog.InfoContext(ctx, "heartbeat")
				return nil
			})
		}
	}
}

// initTracer initializes an OTLP exporter, and configures the corresponding trace provider.
func initTracer(ctx context.Context, opts options) (func(), error) {
	clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.traceEndpoint)}
	if opts.insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(clientOpts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(opts.config().ResolveServiceName())),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down tracer provider: %v\n", err)
		}
	}, nil
}
