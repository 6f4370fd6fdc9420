package policy

import (
	"fmt"
	"slices"
	"time"

	"github.com/nhalm/quota/ratelimit"
	"github.com/nhalm/quota/store"
)

// Names of the default policies.
const (
	NameStrict   = "strict"
	NameAPI      = "api"
	NameLoose    = "loose"
	NameFreeUser = "freeUser"
	NamePaidUser = "paidUser"
	NameUpload   = "upload"
)

// DefaultConfigs returns the built-in policies. The slice is fresh on every
// call so callers may modify it before building a Registry.
func DefaultConfigs() []Config {
	return []Config{
		{
			Name:        NameStrict,
			Window:      15 * time.Minute,
			MaxRequests: 5,
			Message:     "Too many attempts, please try again in 15 minutes.",
		},
		{
			Name:        NameAPI,
			Window:      time.Minute,
			MaxRequests: 100,
			Message:     "API rate limit exceeded, please slow down.",
		},
		{
			Name:        NameLoose,
			Window:      time.Minute,
			MaxRequests: 1000,
		},
		{
			Name:        NameFreeUser,
			Window:      time.Hour,
			MaxRequests: 100,
			Message:     "Hourly limit reached for the free tier.",
		},
		{
			Name:        NamePaidUser,
			Window:      time.Hour,
			MaxRequests: 1000,
			Message:     "Hourly limit reached.",
		},
		{
			Name:        NameUpload,
			Window:      time.Hour,
			MaxRequests: 50,
			Message:     "Upload limit reached, please try again later.",
		},
	}
}

// Registry is a read-only set of named policies.
type Registry struct {
	policies map[string]*Policy
	names    []string
}

// NewRegistry builds one Policy per config. Names must be unique.
func NewRegistry(st store.Store, configs []Config, opts ...ratelimit.Option) (*Registry, error) {
	r := &Registry{
		policies: make(map[string]*Policy, len(configs)),
		names:    make([]string, 0, len(configs)),
	}
	for _, cfg := range configs {
		if _, dup := r.policies[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate policy name %q", ErrInvalidConfig, cfg.Name)
		}
		p, err := New(st, cfg, opts...)
		if err != nil {
			return nil, err
		}
		r.policies[cfg.Name] = p
		r.names = append(r.names, cfg.Name)
	}
	return r, nil
}

// NewDefaultRegistry builds a Registry from DefaultConfigs.
func NewDefaultRegistry(st store.Store, opts ...ratelimit.Option) (*Registry, error) {
	return NewRegistry(st, DefaultConfigs(), opts...)
}

// Get returns the named policy.
func (r *Registry) Get(name string) (*Policy, bool) {
	p, ok := r.policies[name]
	return p, ok
}

// Names returns policy names in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Len returns the number of policies.
func (r *Registry) Len() int {
	return len(r.names)
}
