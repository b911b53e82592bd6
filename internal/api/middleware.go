package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestIDHeader is the header name for request ID in responses.
const RequestIDHeader = "X-Request-ID"

// Content types served by the API.
const (
	contentTypeJSON = "application/json"
	contentTypeTIFF = "image/tiff"
)

// GetRequestID returns the request ID set by chi's RequestID middleware, or
// an empty string.
func GetRequestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// RequestIDResponse echoes the request ID in the X-Request-ID response
// header. It must run after middleware.RequestID.
func RequestIDResponse(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := GetRequestID(r.Context()); reqID != "" {
			w.Header().Set(RequestIDHeader, reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// routeAttrs describes the matched route. Routing fills the chi route
// context while next runs, so this is only meaningful afterwards.
func routeAttrs(r *http.Request) []any {
	attrs := []any{
		slog.String("request_id", GetRequestID(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	}

	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return attrs
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		attrs = append(attrs, slog.String("route", pattern))
	}
	if runID := rctx.URLParam("runId"); runID != "" {
		attrs = append(attrs, slog.String("run_id", runID))
	}
	return attrs
}

// RequestLogger logs every request once it completes, tagged with the
// matched route and, for run endpoints, the run ID.
func RequestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			attrs := append(routeAttrs(r),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)

			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request", attrs...)
		})
	}
}

// ContentType sets a default Content-Type on the response. Handlers writing
// errors still set their own.
func ContentType(contentType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			next.ServeHTTP(w, r)
		})
	}
}

// Recovery turns a panic in a handler into a 500 error body carrying the
// request ID.
func Recovery(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}

				var errStr string
				switch v := rec.(type) {
				case error:
					errStr = v.Error()
				case string:
					errStr = v
				default:
					errStr = fmt.Sprintf("%v", v)
				}

				logger.ErrorContext(r.Context(), "panic recovered",
					append(routeAttrs(r), slog.String("error", errStr))...,
				)

				WriteInternalErrorWithRequestID(w, "internal server error", GetRequestID(r.Context()))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
