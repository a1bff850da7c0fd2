package middleware

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/freeeve/world-conflict/internal/logger"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Logger tags each request with an id and logs its start and completion.
// Bodies are logged at debug level; WebSocket upgrades skip body capture.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := logger.RequestIDFrom(r.Header.Get(RequestIDHeader))
		w.Header().Set(RequestIDHeader, requestID)
		r = r.WithContext(logger.WithRequestID(r.Context(), requestID))

		l := logger.Get().With().
			Str("requestId", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()

		upgrade := isUpgrade(r)
		if !upgrade && r.Body != nil {
			// Peek at the head of the body and put it back in front of the rest.
			head, err := io.ReadAll(io.LimitReader(r.Body, logger.MaxLoggedBody+1))
			if err == nil {
				logger.LogBody(l, "request_body", head)
				r.Body = readCloser{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
			}
		}
		l.Info().Str("query", r.URL.RawQuery).Msg("Request received")

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK, capture: !upgrade}
		next.ServeHTTP(rw, r)

		logger.LogBody(l, "response_body", rw.buf.Bytes())
		l.Info().
			Int("status", rw.status).
			Dur("durationMs", time.Since(start)).
			Msg("Request completed")
	})
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Recover turns a panic in a handler into a 500 and logs the stack.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				l := logger.ForRequest(r.Context())
				l.Error().Interface("panic", rec).Str("path", r.URL.Path).Bytes("stack", debug.Stack()).Msg("Handler panicked")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"internal error"}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS allows the comma separated origins, or any origin for "*". A listed
// origin is echoed back so credentials work; others get no CORS headers.
func CORS(allowedOrigins string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		} else if o != "" {
			allowed[o] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				h.Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			case len(allowed) == 1 && origin == "":
				// Non-browser clients: advertise the single configured origin.
				for o := range allowed {
					h.Set("Access-Control-Allow-Origin", o)
				}
			}
			if h.Get("Access-Control-Allow-Origin") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)
				h.Set("Access-Control-Expose-Headers", RequestIDHeader)
				h.Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// JSON sets the Content-Type header to application/json for all responses.
func JSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Chain applies middleware in order (first applied = outermost).
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// responseWriter records the status and the head of the body for logging.
type responseWriter struct {
	http.ResponseWriter
	buf     bytes.Buffer
	status  int
	capture bool
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if room := logger.MaxLoggedBody + 1 - w.buf.Len(); w.capture && room > 0 {
		w.buf.Write(b[:min(room, len(b))])
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the logging middleware.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, errors.New("underlying ResponseWriter does not implement http.Hijacker")
}
