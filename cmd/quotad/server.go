package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhalm/quota"
	"github.com/nhalm/quota/config"
	"github.com/nhalm/quota/policy"
	"github.com/nhalm/quota/store"
)

// newRouter mounts the decision API under /v1 plus /healthz and, when
// gatherer is non-nil, the metrics endpoint.
func newRouter(cfg *config.Config, reg *policy.Registry, st store.Store, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","store":"` + store.Kind(st) + `"}`))
	})

	if gatherer != nil {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(quota.Handler(quota.WithCanonlog(), quota.WithRequestID()))
		r.Use(quota.MaxBodySize(cfg.Server.MaxBodyBytes))
		r.Mount("/v1", quota.NewDecisionAPI(reg, nil).Routes())
	})

	return r
}
