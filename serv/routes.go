package serv

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
)

const (
	routeExecute     = "/api/execute"
	routeObjects     = "/api/database-objects"
	routeEnvironment = "/api/validate-environment"
	healthRoute      = "/health"
)

// routesHandler is the main handler for all routes
func routesHandler(s *Service) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(s.instrument, s.recoverer)

	if s.conf.rateLimiterEnable() {
		lim, err := newIPLimiter(s.conf.RateLimiter)
		if err != nil {
			return nil, err
		}
		r.Use(lim.rateLimit)
	}

	r.NotFound(notFoundHandler)
	r.MethodNotAllowed(methodNotAllowedHandler)

	// Healthcheck API
	r.Get(healthRoute, s.healthCheckHandler)

	if s.metrics.enabled() {
		r.Handle(s.conf.Metrics.Path, s.metrics.handler())
	}

	// Console API
	r.Group(func(r chi.Router) {
		if s.conf.SerializeRequests {
			r.Use(serialize())
		}
		r.Post(routeExecute, s.executeHandler)
		r.Post(routeObjects, s.objectsHandler)
		r.Post(routeEnvironment, s.environmentHandler)
	})

	// Web client
	r.Get("/*", s.staticHandler)

	var h http.Handler = setServerHeader(r)

	if s.conf.HTTPGZip {
		h = gzhttp.GzipHandler(h)
	}

	if len(s.conf.AllowedOrigins) != 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: s.conf.AllowedOrigins,
			AllowedHeaders: s.conf.AllowedHeaders,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			Debug:          s.conf.DebugCORS,
		})
		h = c.Handler(h)
	}

	if s.conf.EnableTracing {
		h = traceHandler(h, serverName)
	}

	return h, nil
}
