// Package api exposes the fragmentation engine and the validator RPC
// contract over HTTP.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/halflife/engine"
	"github.com/jmcleod/halflife/validator"
)

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies needed by the REST handlers.
type API struct {
	engine *engine.Engine
	// node is the locally hosted validator, if this process runs one.
	node   *validator.Node
	logger *slog.Logger
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request handling.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger.With("component", "api")
	}
}

// WithValidatorNode exposes a locally hosted validator node on the
// validate endpoint.
func WithValidatorNode(node *validator.Node) Option {
	return func(a *API) {
		a.node = node
	}
}

// New creates a new API instance.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{engine: eng}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "api")
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/v1/openapi.yaml",
		Path:    "v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/v1/openapi.yaml",
		Path:    "v1/redoc",
	}, nil))

	r.Post("/fragments", a.FragmentSecret)
	r.Post("/reconstruct", a.Reconstruct)
	r.Get("/sessions/{sessionID}", a.GetSession)

	if a.node != nil {
		r.Post("/validate", a.Validate)
	}

	return r
}
