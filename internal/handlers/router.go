package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/commerce/internal/platform/httpx"
)

// RouteRegistrar adds one group's routes to r.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// groups are mounted under apiPrefix in this order.
var groups = []string{"/cart", "/orders", "/vouchers", "/addresses", "/internal"}

// mutating groups get the idempotency middleware.
var mutating = []string{"/cart", "/orders", "/addresses"}

type group struct {
	routes      RouteRegistrar
	middlewares []middlewareFunc
}

type routerConfig struct {
	global []middlewareFunc
	health *HealthHandlers
	groups map[string]*group
}

type Option func(*routerConfig)

// NewRouter builds the API router: probes at the root, resource groups under /api/v1. A group with
// no registrar answers 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		global: []middlewareFunc{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
		groups: make(map[string]*group, len(groups)),
	}
	for _, path := range groups {
		cfg.groups[path] = &group{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.global {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})
	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, path := range groups {
			g := cfg.groups[path]
			api.Route(path, func(sub chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.routes == nil {
					notImplemented(sub, path[1:])
					return
				}
				g.routes(sub)
			})
		}
	})
	return r
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes are not available", http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
}

func onGroups(paths []string, apply func(*group)) Option {
	return func(cfg *routerConfig) {
		for _, path := range paths {
			if g, ok := cfg.groups[path]; ok {
				apply(g)
			}
		}
	}
}

func withRoutes(path string, reg RouteRegistrar) Option {
	return onGroups([]string{path}, func(g *group) { g.routes = reg })
}

// WithMiddlewares appends router-wide middleware, run after the request ID and timeout.
func WithMiddlewares(mw ...middlewareFunc) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

func WithCartRoutes(reg RouteRegistrar) Option     { return withRoutes("/cart", reg) }
func WithOrderRoutes(reg RouteRegistrar) Option    { return withRoutes("/orders", reg) }
func WithVoucherRoutes(reg RouteRegistrar) Option  { return withRoutes("/vouchers", reg) }
func WithAddressRoutes(reg RouteRegistrar) Option  { return withRoutes("/addresses", reg) }
func WithInternalRoutes(reg RouteRegistrar) Option { return withRoutes("/internal", reg) }

// WithMutationMiddlewares wraps the cart, orders and addresses groups.
func WithMutationMiddlewares(mw ...middlewareFunc) Option {
	return onGroups(mutating, func(g *group) { g.middlewares = append(g.middlewares, mw...) })
}

func WithInternalMiddlewares(mw ...middlewareFunc) Option {
	return onGroups([]string{"/internal"}, func(g *group) { g.middlewares = append(g.middlewares, mw...) })
}
