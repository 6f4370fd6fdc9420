package quota

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nhalm/canonlog"
)

// RequestIDHeader carries the request id in and out of Handler.
const RequestIDHeader = "X-Request-ID"

// HandlerOption configures the Handler middleware.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	canonlog       bool
	canonlogFields func(*http.Request) map[string]any
	requestID      bool
}

// WithCanonlog emits one canonical log line per request: method, path,
// route, status and duration_ms, any error set via SetError, and the
// decisive ratelimit_* fields when a RateLimiter ran.
func WithCanonlog() HandlerOption {
	return func(c *handlerConfig) {
		c.canonlog = true
	}
}

// WithCanonlogFields adds fields to the canonical log line. fn runs before
// the wrapped handler.
func WithCanonlogFields(fn func(*http.Request) map[string]any) HandlerOption {
	return func(c *handlerConfig) {
		c.canonlogFields = fn
	}
}

// WithRequestID tags every request with an id: the incoming X-Request-ID
// when it is a valid UUID, otherwise a fresh one. The id is echoed in the
// response header and logged as request_id when canonical logging is on.
func WithRequestID() HandlerOption {
	return func(c *handlerConfig) {
		c.requestID = true
	}
}

// Handler returns middleware that owns the response. Handlers and the
// RateLimiter below it record errors, bodies, headers and rate limit
// outcomes in the request State; Handler writes them once the chain returns,
// including after a panic, which becomes ErrInternal.
func Handler(opts ...HandlerOption) func(http.Handler) http.Handler {
	cfg := &handlerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			state := &State{}
			ctx := context.WithValue(r.Context(), stateKey, state)
			if cfg.canonlog {
				ctx = cfg.openLog(ctx, r)
			}

			if cfg.requestID {
				id := requestID(r)
				w.Header().Set(RequestIDHeader, id)
				if cfg.canonlog {
					canonlog.InfoAdd(ctx, "request_id", id)
				}
			}

			r = r.WithContext(ctx)
			defer func() {
				if rec := recover(); rec != nil {
					state.recovered(rec)
				}
				if cfg.canonlog {
					flushLog(r, state, start)
				}
				writeResponse(w, state)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func (c *handlerConfig) openLog(ctx context.Context, r *http.Request) context.Context {
	ctx = canonlog.NewContext(ctx)
	canonlog.InfoAddMany(ctx, map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
	})
	if c.canonlogFields != nil {
		canonlog.InfoAddMany(ctx, c.canonlogFields(r))
	}
	return ctx
}

func flushLog(r *http.Request, state *State, start time.Time) {
	ctx := r.Context()
	status, errs, outcome := state.logFields()
	for _, err := range errs {
		canonlog.ErrorAdd(ctx, err)
	}

	fields := map[string]any{
		"route":       routePattern(r),
		"status":      status,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if outcome != nil {
		maps.Copy(fields, outcome.fields())
	}
	canonlog.InfoAddMany(ctx, fields)
	canonlog.Flush(ctx)
}

// routePattern is the chi pattern that matched, such as /v1/check, or the
// raw path outside a chi router.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func requestID(r *http.Request) string {
	if in := r.Header.Get(RequestIDHeader); in != "" {
		if id, err := uuid.Parse(in); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}

func writeResponse(w http.ResponseWriter, state *State) {
	state.mu.Lock()
	defer state.mu.Unlock()

	for key, values := range state.headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	if state.err != nil {
		var body any = errorResponse{Error: state.err}
		if state.errBody != nil {
			body = state.errBody
		}
		writeJSON(w, state.err.Status, body)
		return
	}

	if state.body != nil {
		writeJSON(w, state.status, state.body)
		return
	}

	if state.status != 0 {
		w.WriteHeader(state.status)
	}
}

// writeJSON encodes body before touching the response so an encoding
// failure can still become a clean 500.
func writeJSON(w http.ResponseWriter, status int, body any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal server error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
