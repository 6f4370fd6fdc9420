// Multi-level rate limiting middleware for Chi and standard http.Handler.
//
// Each level pairs a policy with a key function. Levels are checked in the
// order they were added through policy.CheckAll, and the first denial stops
// the chain, so put cheap, aggressive levels first:
//
//	reg, _ := policy.NewDefaultRegistry(st)
//	strict, _ := reg.Get(policy.NameStrict)
//	api, _ := reg.Get(policy.NameAPI)
//	loose, _ := reg.Get(policy.NameLoose)
//
//	r.Use(quota.NewRateLimiter(
//	    quota.RateLimitWithLevel("ip", api, quota.KeyByIP()),
//	    quota.RateLimitWithLevel("user", loose, quota.KeyByUser(userID)),
//	    quota.RateLimitWithLevel("global", loose, quota.KeyGlobal()),
//	).Handler)
//	r.With(quota.NewRateLimiter(
//	    quota.RateLimitWithLevel("login", strict, quota.KeyByRoute()),
//	).Handler).Post("/login", login)
//
// Responses carry X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset (unix seconds), plus Retry-After when denied. Denied
// requests get 429 with a LimitExceeded body. A level whose key is missing
// is skipped, or rejected with 400 when added with RateLimitWithLevelRequired.
//
// The store never turns into a 5xx here: limiters fail open.

package quota

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nhalm/quota/clock"
	"github.com/nhalm/quota/policy"
	"github.com/nhalm/quota/ratelimit"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitHeaderMode controls when rate limit headers are included in responses.
type RateLimitHeaderMode int

const (
	// RateLimitHeadersAlways includes rate limit headers on all responses (default).
	RateLimitHeadersAlways RateLimitHeaderMode = iota

	// RateLimitHeadersOnLimitExceeded includes rate limit headers only on 429 responses.
	RateLimitHeadersOnLimitExceeded

	// RateLimitHeadersNever never includes rate limit headers in any response.
	// Use this when you want rate limiting without exposing limits to clients.
	RateLimitHeadersNever
)

type rateLimitLevel struct {
	name     string
	policy   *policy.Policy
	key      KeyFunc
	required bool
}

// RateLimiter implements multi-level rate limiting middleware.
type RateLimiter struct {
	levels     []rateLimitLevel
	headerMode RateLimitHeaderMode
	load       func(*http.Request) float64
	clock      clock.Clock
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// RateLimitWithLevel adds a level checked against p with the identifier key
// returns. When key returns "", the level is skipped for that request.
func RateLimitWithLevel(name string, p *policy.Policy, key KeyFunc) RateLimitOption {
	return rateLimitWithLevel(name, p, key, false)
}

// RateLimitWithLevelRequired adds a level like RateLimitWithLevel, but
// returns 400 Bad Request when key returns "".
func RateLimitWithLevelRequired(name string, p *policy.Policy, key KeyFunc) RateLimitOption {
	return rateLimitWithLevel(name, p, key, true)
}

func rateLimitWithLevel(name string, p *policy.Policy, key KeyFunc, required bool) RateLimitOption {
	return func(l *RateLimiter) {
		l.levels = append(l.levels, rateLimitLevel{name: name, policy: p, key: key, required: required})
	}
}

// RateLimitWithHeaderMode configures when rate limit headers are included in responses.
func RateLimitWithHeaderMode(mode RateLimitHeaderMode) RateLimitOption {
	return func(l *RateLimiter) {
		l.headerMode = mode
	}
}

// RateLimitWithLoad supplies the system load in [0, 1] passed to adaptive
// policies on each request.
func RateLimitWithLoad(fn func(*http.Request) float64) RateLimitOption {
	return func(l *RateLimiter) {
		l.load = fn
	}
}

// RateLimitWithClock sets the clock used for X-RateLimit-Reset. It should
// match the clock the policies' limiters use.
func RateLimitWithClock(c clock.Clock) RateLimitOption {
	return func(l *RateLimiter) {
		l.clock = c
	}
}

// NewRateLimiter creates a rate limiter from the given levels.
// Panics if no level is configured or a level has no policy or key function.
func NewRateLimiter(opts ...RateLimitOption) *RateLimiter {
	l := &RateLimiter{headerMode: RateLimitHeadersAlways}
	for _, opt := range opts {
		opt(l)
	}
	l.clock = clock.Or(l.clock)

	if len(l.levels) == 0 {
		panic("quota: must configure at least one level (RateLimitWithLevel or RateLimitWithLevelRequired)")
	}
	for _, lvl := range l.levels {
		if lvl.policy == nil || lvl.key == nil {
			panic(fmt.Sprintf("quota: level %q needs a policy and a key function", lvl.name))
		}
	}
	return l
}

// Handler returns the rate limiting middleware.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		useWrapper := HasState(ctx)

		load := 0.0
		if l.load != nil {
			load = l.load(r)
		}

		levels := make([]policy.Level, 0, len(l.levels))
		for _, lvl := range l.levels {
			id := lvl.key(r)
			if id == "" {
				if lvl.required {
					msg := fmt.Sprintf("Missing identifier for rate limit level %s", lvl.name)
					if useWrapper {
						SetError(r, ErrBadRequest.With(msg))
					} else {
						http.Error(w, msg, http.StatusBadRequest)
					}
					return
				}
				continue
			}
			levels = append(levels, policy.Level{Name: lvl.name, Identifier: id, Policy: lvl.policy, Load: load})
		}

		if len(levels) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		multi := policy.CheckAll(ctx, levels...)
		decisive := decisiveResult(multi)
		now := l.clock.Now()

		setRateLimit(r, rateLimitOutcome{
			level:      decisive.Name,
			policy:     decisive.Policy.Name(),
			limit:      decisive.Result.Limit,
			remaining:  decisive.Result.Remaining,
			allowed:    multi.Allowed,
			failedOpen: decisive.Result.FailedOpen,
		})

		if l.headerMode == RateLimitHeadersAlways || (l.headerMode == RateLimitHeadersOnLimitExceeded && !multi.Allowed) {
			headers := rateLimitHeaders(decisive.Result, now, !multi.Allowed)
			for k, v := range headers {
				if useWrapper {
					SetHeader(r, k, v)
				} else {
					w.Header().Set(k, v)
				}
			}
		}

		if !multi.Allowed {
			p := decisive.Policy
			body := LimitExceeded{
				Error:     p.Message(),
				Limit:     decisive.Result.Limit,
				Remaining: decisive.Result.Remaining,
				ResetTime: decisive.Result.ResetAt(now).UTC(),
			}
			if useWrapper {
				SetErrorBody(r, ErrRateLimited.With(p.Message()), body)
			} else {
				writeJSON(w, http.StatusTooManyRequests, body)
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

// decisiveResult picks the level whose numbers the client should see: the
// denying level, or else the one with the least remaining allowance.
func decisiveResult(m policy.MultiResult) policy.LevelResult {
	if !m.Allowed {
		last, _ := m.Last()
		return last
	}
	best := m.Results[0]
	for _, lr := range m.Results[1:] {
		if lr.Result.Remaining < best.Result.Remaining {
			best = lr
		}
	}
	return best
}

func rateLimitHeaders(res ratelimit.Result, now time.Time, denied bool) map[string]string {
	h := map[string]string{
		HeaderRateLimitLimit:     strconv.Itoa(res.Limit),
		HeaderRateLimitRemaining: strconv.Itoa(res.Remaining),
		HeaderRateLimitReset:     strconv.FormatInt(res.ResetAt(now).Unix(), 10),
	}
	if denied {
		h[HeaderRetryAfter] = strconv.FormatInt(res.RetryAfterSeconds(), 10)
	}
	return h
}
