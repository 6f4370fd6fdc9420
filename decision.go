package quota

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nhalm/quota/clock"
	"github.com/nhalm/quota/policy"
)

// CheckRequest asks whether identifier may proceed under a named policy.
type CheckRequest struct {
	Policy     string  `json:"policy" validate:"required"`
	Identifier string  `json:"identifier" validate:"required,max=512"`
	Load       float64 `json:"load" validate:"gte=0,lte=1"`
}

// CheckResponse is the decision for an allowed check.
type CheckResponse struct {
	Allowed       bool      `json:"allowed"`
	TotalHits     int       `json:"total_hits"`
	Remaining     int       `json:"remaining"`
	TimeToResetMs int64     `json:"time_to_reset_ms"`
	Limit         int       `json:"limit"`
	ResetTime     time.Time `json:"reset_time"`
	FailedOpen    bool      `json:"failed_open,omitempty"`
}

// ResetRequest clears the usage of identifier under a named policy.
type ResetRequest struct {
	Policy     string `json:"policy" validate:"required"`
	Identifier string `json:"identifier" validate:"required,max=512"`
}

// DecisionAPI serves rate limit decisions over HTTP for callers that do not
// embed the library. It must run behind Handler.
type DecisionAPI struct {
	registry *policy.Registry
	clock    clock.Clock
}

// NewDecisionAPI creates a DecisionAPI over reg. A nil clock uses the system clock.
func NewDecisionAPI(reg *policy.Registry, c clock.Clock) *DecisionAPI {
	return &DecisionAPI{registry: reg, clock: clock.Or(c)}
}

// Routes returns a router with POST /check, POST /reset and GET /policies.
func (a *DecisionAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/check", a.Check)
	r.Post("/reset", a.Reset)
	r.Get("/policies", a.Policies)
	return r
}

// Check handles POST /check. Allowed decisions return 200 with a
// CheckResponse; denials return 429 with a LimitExceeded body and the usual
// rate limit headers.
func (a *DecisionAPI) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !JSON(r, &req) {
		return
	}

	p, ok := a.registry.Get(req.Policy)
	if !ok {
		SetError(r, ErrNotFound.WithParam("Unknown policy "+req.Policy, "policy"))
		return
	}

	res := p.CheckLoad(r.Context(), req.Identifier, req.Load)
	now := a.clock.Now()
	setRateLimit(r, rateLimitOutcome{
		level:      p.Name(),
		policy:     p.Name(),
		limit:      res.Limit,
		remaining:  res.Remaining,
		allowed:    res.Allowed,
		failedOpen: res.FailedOpen,
	})
	for k, v := range rateLimitHeaders(res, now, !res.Allowed) {
		SetHeader(r, k, v)
	}

	if !res.Allowed {
		SetErrorBody(r, ErrRateLimited.With(p.Message()), LimitExceeded{
			Error:     p.Message(),
			Limit:     res.Limit,
			Remaining: res.Remaining,
			ResetTime: res.ResetAt(now).UTC(),
		})
		return
	}

	SetResponse(r, http.StatusOK, CheckResponse{
		Allowed:       true,
		TotalHits:     res.TotalHits,
		Remaining:     res.Remaining,
		TimeToResetMs: res.TimeToReset.Milliseconds(),
		Limit:         res.Limit,
		ResetTime:     res.ResetAt(now).UTC(),
		FailedOpen:    res.FailedOpen,
	})
}

// Reset handles POST /reset and returns 204 on success.
func (a *DecisionAPI) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !JSON(r, &req) {
		return
	}

	p, ok := a.registry.Get(req.Policy)
	if !ok {
		SetError(r, ErrNotFound.WithParam("Unknown policy "+req.Policy, "policy"))
		return
	}

	if err := p.Reset(r.Context(), req.Identifier); err != nil {
		SetError(r, ErrServiceUnavailable.With("Rate limit store unavailable"))
		return
	}
	SetResponse(r, http.StatusNoContent, nil)
}

// PolicyInfo describes one configured policy.
type PolicyInfo struct {
	Name        string `json:"name"`
	Algorithm   string `json:"algorithm"`
	WindowMs    int64  `json:"window_ms"`
	MaxRequests int    `json:"max_requests"`
	Message     string `json:"message"`
}

// Policies handles GET /policies.
func (a *DecisionAPI) Policies(w http.ResponseWriter, r *http.Request) {
	names := a.registry.Names()
	out := make([]PolicyInfo, 0, len(names))
	for _, name := range names {
		p, _ := a.registry.Get(name)
		out = append(out, PolicyInfo{
			Name:        p.Name(),
			Algorithm:   p.Algorithm(),
			WindowMs:    p.Window().Milliseconds(),
			MaxRequests: p.MaxRequests(),
			Message:     p.Message(),
		})
	}
	SetResponse(r, http.StatusOK, map[string]any{"policies": out})
}
