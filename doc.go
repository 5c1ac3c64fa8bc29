/*
Package scoutslog connects Go's structured logging (slog) to Scout's OpenTelemetry log ingestion.
Every record logged while a tracked request is active is enriched with the request's identity,
timing, tags and entrypoint, so logs can be grouped by transaction on the backend.

# Core Concepts

The package centers around a slog.Handler decorator. It looks up the tracked request for the
record's context (see package tracked), appends a fixed set of fields to the record and forwards
it to the next handler. When no next handler is given, records go to a process-wide OTLP log
pipeline that is started on first use.

Enrichment runs at most once at a time per goroutine. A record logged on the same goroutine while
a record is being enriched or forwarded, typically by the exporter reporting its own problems, is
forwarded untouched instead of being enriched again.

# Record Fields

For a record logged inside a tracked request the handler adds:

	scout_transaction_id      request id
	scout_start_time          request start, RFC 3339
	scout_end_time            request end, RFC 3339, only once the request has finished
	scout_duration            end minus start in seconds, only once the request has finished
	service.name              the configured service name
	scout_tag_<key>           one field per request tag, ordered by key
	scout_current_operation   operation of the innermost open span, if any
	<type>_entrypoint         controller_entrypoint, job_entrypoint or custom_entrypoint

The entrypoint is taken from the request's operation when set, otherwise from the most recently
completed span whose operation starts with "Controller/", "Job/" or "Custom/".
trace_id and span_id are added whenever the context carries an OpenTelemetry span.

# Basic Usage

1. Exporting through the OTLP pipeline configured from the environment:

	slog.SetDefault(slog.New(scoutslog.NewHandler(nil)))
	defer scoutslog.Shutdown(context.Background())

2. Enriching records for another handler:

	slog.SetDefault(slog.New(
	    scoutslog.NewHandler(
	        slog.NewJSONHandler(os.Stdout, nil),
	        scoutslog.WithServiceName("checkout"),
	    ),
	))

3. Tracking requests:

	http.ListenAndServe(":8080", tracked.Middleware(mux))

	grpc.NewServer(grpc.UnaryInterceptor(tracked.UnaryServerInterceptor()))

	tracked.RunJob(ctx, "SendDigest", func(ctx context.Context) error {
	    slog.InfoContext(ctx, "sending digest")
	    return nil
	})

# Configuration

Config fields left empty are read from the environment:

	SCOUT_NAME                      service name, default "unnamed-service"
	SCOUT_LOGS_REPORTING_ENDPOINT   collector endpoint, default "otlp.scoutotel.com:4317"
	SCOUT_LOGS_INGEST_KEY           ingest key, required
	SCOUT_LOGS_PROTOCOL             "grpc" (default) or "http"

A missing ingest key is reported through otel.Handle on the first record and the record is
dropped. The next record tries again.

# Errors

A handler must not fail the caller's log statement because of enrichment. When the tracked
request cannot be looked up, the problem is reported through otel.Handle and the record is
forwarded without request fields. Panics are not recovered.

# Thread Safety

Handler, Pipeline and tracked.Request are safe for concurrent use.
*/
package scoutslog
