package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhalm/quota/ratelimit"
)

// ErrQuotaExceeded matches every QuotaExceededError with errors.Is.
var ErrQuotaExceeded = errors.New("quota exceeded")

// QuotaExceededError is returned by Enforce and Guard when a check denies.
type QuotaExceededError struct {
	Policy  string
	Message string
	Result  ratelimit.Result
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: policy %s: %s", ErrQuotaExceeded, e.Policy, e.Message)
}

// Is reports whether target is ErrQuotaExceeded.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Enforce checks identifier and returns a *QuotaExceededError on denial.
// The result is returned either way so callers can still set headers.
func (p *Policy) Enforce(ctx context.Context, identifier string) (ratelimit.Result, error) {
	res := p.Check(ctx, identifier)
	if !res.Allowed {
		return res, &QuotaExceededError{Policy: p.cfg.Name, Message: p.cfg.Message, Result: res}
	}
	return res, nil
}

// IdentifierFunc derives the identifier to check from a call's input.
type IdentifierFunc[In any] func(ctx context.Context, in In) string

// Guard wraps fn so every call is checked against p first. A denied call
// returns a *QuotaExceededError without invoking fn.
//
// Example:
//
//	upload := policy.Guard(uploads, func(_ context.Context, req UploadRequest) string {
//		return ratelimit.UserKey(req.UserID)
//	}, svc.Upload)
//	out, err := upload(ctx, req)
func Guard[In, Out any](p *Policy, identify IdentifierFunc[In], fn func(context.Context, In) (Out, error)) func(context.Context, In) (Out, error) {
	return func(ctx context.Context, in In) (Out, error) {
		if _, err := p.Enforce(ctx, identify(ctx, in)); err != nil {
			var zero Out
			return zero, err
		}
		return fn(ctx, in)
	}
}
