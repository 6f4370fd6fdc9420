package quota

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

type stateContextKey string

const stateKey stateContextKey = "quota_state"

// State holds the response state for a request.
type State struct {
	mu        sync.Mutex
	err       *APIError
	errBody   any
	cause     error
	status    int
	body      any
	headers   http.Header
	rateLimit *rateLimitOutcome
}

// rateLimitOutcome is the decisive level of a RateLimiter check, kept for the
// canonical log line.
type rateLimitOutcome struct {
	level      string
	policy     string
	limit      int
	remaining  int
	allowed    bool
	failedOpen bool
}

func (o *rateLimitOutcome) fields() map[string]any {
	f := map[string]any{
		"ratelimit_level":     o.level,
		"ratelimit_policy":    o.policy,
		"ratelimit_limit":     o.limit,
		"ratelimit_remaining": o.remaining,
		"ratelimit_allowed":   o.allowed,
	}
	if !o.allowed {
		f["ratelimit_failed_check"] = o.level
	}
	if o.failedOpen {
		f["ratelimit_fail_open"] = true
	}
	return f
}

// recovered replaces any pending response with ErrInternal after a panic.
func (s *State) recovered(rec any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = ErrInternal
	s.errBody = nil
	s.cause = fmt.Errorf("panic: %v", rec)
}

// logFields returns the response status and the errors to attach to the
// canonical log line.
func (s *State) logFields() (status int, errs []error, outcome *rateLimitOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status = s.status
	if status == 0 {
		status = http.StatusOK
	}
	if s.cause != nil {
		errs = append(errs, s.cause)
	}
	if s.err != nil {
		status = s.err.Status
		errs = append(errs, s.err)
	}
	return status, errs, s.rateLimit
}

// HasState returns true if Handler state exists in the context.
func HasState(ctx context.Context) bool {
	return getState(ctx) != nil
}

func getState(ctx context.Context) *State {
	state, _ := ctx.Value(stateKey).(*State)
	return state
}
