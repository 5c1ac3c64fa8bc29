/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package tracked

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Operation prefixes understood by the log enrichment handler.
const (
	ControllerPrefix = "Controller/"
	JobPrefix        = "Job/"
	CustomPrefix     = "Custom/"
)

// responseWriter captures the status code written by the wrapped handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w, http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware tracks every HTTP request as a Request with a "Controller/<METHOD> <path>" span.
//
// The Request is stored in the request context, so log calls made with r.Context()
// are enriched with the request id, timing, tags and entrypoint.
//
//	mux := http.NewServeMux()
//	http.ListenAndServe(":8080", tracked.Middleware(mux))
func Middleware(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		ctx, req := Start(r.Context(), ControllerPrefix+r.Method+" "+r.URL.Path)
		defer req.Finish()

		req.Tag("path", r.URL.Path)
		req.Tag("method", r.Method)

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r.WithContext(ctx))

		req.Tag("status_code", rw.statusCode)
		req.StopSpan()
	}

	return http.HandlerFunc(fn)
}

// UnaryServerInterceptor returns a gRPC unary server interceptor that tracks each call
// as a Request with a "Controller/<FullMethod>" span.
//
//	grpc.NewServer(grpc.UnaryInterceptor(tracked.UnaryServerInterceptor()))
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		in any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, req := Start(ctx, ControllerPrefix+info.FullMethod)
		defer req.Finish()

		resp, err := handler(ctx, in)

		req.Tag("status_code", int(status.Code(err)))
		req.StopSpan()
		return resp, err
	}
}

// StreamServerInterceptor is the streaming counterpart of UnaryServerInterceptor.
// The Request covers the whole lifetime of the stream.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, req := Start(ss.Context(), ControllerPrefix+info.FullMethod)
		defer req.Finish()

		err := handler(srv, &serverStream{ServerStream: ss, ctx: ctx})

		req.Tag("status_code", int(status.Code(err)))
		req.StopSpan()
		return err
	}
}

// serverStream overrides the stream context so handlers see the tracked Request.
type serverStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *serverStream) Context() context.Context {
	return s.ctx
}

// RunJob runs fn as a tracked background job named "Job/<name>".
// A non-nil error from fn is tagged on the request and returned unchanged.
func RunJob(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, req := Start(ctx, JobPrefix+name)
	defer req.Finish()

	err := fn(ctx)
	if err != nil {
		req.Tag("error", err.Error())
	}
	req.StopSpan()
	return err
}
