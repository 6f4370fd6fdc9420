package quota

// Request binding and validation.
//
// Decodes JSON bodies and validates them with struct tags using
// go-playground/validator/v10.

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate   *validator.Validate
	validateMu sync.RWMutex
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
		return fld.Name
	})
}

func formatMessage(tag, param string) string {
	switch tag {
	case "required":
		return "required"
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "gte":
		return "must be greater than or equal to " + param
	case "lte":
		return "must be less than or equal to " + param
	case "oneof":
		return "must be one of: " + param
	default:
		if param != "" {
			return tag + "=" + param
		}
		return tag
	}
}

// JSON decodes request body into dest and validates it.
// Returns true if binding and validation succeeded, false otherwise.
// When binding fails, an error is set in the Handler state (if available).
//
// Body size limits: If MaxBodySize middleware is active, requests exceeding
// the limit during decode return ErrPayloadTooLarge (413).
func JSON(r *http.Request, dest any) bool {
	ctx := r.Context()

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if HasState(ctx) {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				SetError(r, ErrPayloadTooLarge.With("Request body too large"))
			} else {
				SetError(r, ErrBadRequest.With("Invalid JSON request body"))
			}
		}
		return false
	}

	validateMu.RLock()
	err := validate.Struct(dest)
	validateMu.RUnlock()

	if err != nil {
		if HasState(ctx) {
			SetError(r, NewValidationError(translateErrors(err)))
		}
		return false
	}

	return true
}

// RegisterValidation registers a custom validation function.
// Must be called at startup before handling requests.
func RegisterValidation(tag string, fn validator.Func) error {
	validateMu.Lock()
	defer validateMu.Unlock()
	return validate.RegisterValidation(tag, fn)
}

func translateErrors(err error) []FieldError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return []FieldError{{
			Code:    "validation",
			Message: err.Error(),
		}}
	}
	result := make([]FieldError, len(errs))
	for i, e := range errs {
		result[i] = FieldError{
			Param:   e.Field(),
			Code:    e.Tag(),
			Message: formatMessage(e.Tag(), e.Param()),
		}
	}
	return result
}

// MaxBodySize returns middleware that limits request body size.
//
// Requests with a Content-Length above the limit are rejected with 413
// before the handler runs. Every body is also wrapped with
// http.MaxBytesReader, which JSON turns into a 413 for chunked or
// mislabelled bodies.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				if HasState(r.Context()) {
					SetError(r, ErrPayloadTooLarge.With("Request body too large"))
				} else {
					http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				}
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
