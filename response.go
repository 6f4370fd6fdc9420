package quota

import (
	"net/http"

	"github.com/nhalm/canonlog"
)

// SetError sets an error response in the request context.
// If Handler middleware is not present (state is nil), this is a no-op.
// Use HasState() to check if Handler middleware is active.
func SetError(r *http.Request, err *APIError) {
	setError(r, err, nil)
}

// SetErrorBody sets an error whose status and logging come from err but
// whose response body is body instead of the standard error envelope.
// The rate limiter uses it to write LimitExceeded.
func SetErrorBody(r *http.Request, err *APIError, body any) {
	setError(r, err, body)
}

func setError(r *http.Request, err *APIError, body any) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.err = err
	state.errBody = body
}

// SetResponse sets a success response in the request context.
// If Handler middleware is not present (state is nil), this is a no-op.
func SetResponse(r *http.Request, status int, body any) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.status = status
	state.body = body
}

// SetHeader sets a response header in the request context.
// If Handler middleware is not present (state is nil), this is a no-op.
func SetHeader(r *http.Request, key, value string) {
	state := getState(r.Context())
	if state == nil {
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.headers == nil {
		state.headers = make(http.Header)
	}
	state.headers.Set(key, value)
}

// setRateLimit records the decisive rate limit outcome for the canonical log
// line. Without Handler state the fields go straight to the request's
// canonical logger, if there is one.
func setRateLimit(r *http.Request, outcome rateLimitOutcome) {
	state := getState(r.Context())
	if state == nil {
		if _, ok := canonlog.TryGetLogger(r.Context()); ok {
			canonlog.InfoAddMany(r.Context(), outcome.fields())
		}
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	state.rateLimit = &outcome
}
