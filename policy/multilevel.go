package policy

import (
	"context"

	"github.com/nhalm/quota/ratelimit"
)

// Level is one step of a multi-level check.
type Level struct {
	// Name is reported as FailedCheck when this level denies.
	Name string

	// Identifier is checked against Policy, e.g. ratelimit.IPKey(addr).
	Identifier string

	Policy *Policy

	// Load is passed to adaptive policies and ignored by the rest.
	Load float64
}

// LevelResult pairs a level with its check result.
type LevelResult struct {
	Name   string
	Policy *Policy
	Result ratelimit.Result
}

// MultiResult is the outcome of CheckAll.
type MultiResult struct {
	Allowed bool

	// FailedCheck names the level that denied; empty when Allowed.
	FailedCheck string

	// Results holds one entry per evaluated level, in order. Levels after a
	// denial are not evaluated and do not appear.
	Results []LevelResult
}

// Last returns the result of the last evaluated level: the denying one when
// the check failed.
func (m MultiResult) Last() (LevelResult, bool) {
	if len(m.Results) == 0 {
		return LevelResult{}, false
	}
	return m.Results[len(m.Results)-1], true
}

// CheckAll evaluates levels in order and stops at the first denial. Put cheap
// and aggressive levels first (per-IP before per-user before global) so they
// short-circuit the rest. Levels with a nil Policy are skipped.
func CheckAll(ctx context.Context, levels ...Level) MultiResult {
	out := MultiResult{
		Allowed: true,
		Results: make([]LevelResult, 0, len(levels)),
	}
	for _, l := range levels {
		if l.Policy == nil {
			continue
		}
		res := l.Policy.CheckLoad(ctx, l.Identifier, l.Load)
		out.Results = append(out.Results, LevelResult{
			Name:   l.Name,
			Policy: l.Policy,
			Result: res,
		})
		if !res.Allowed {
			out.Allowed = false
			out.FailedCheck = l.Name
			return out
		}
	}
	return out
}
