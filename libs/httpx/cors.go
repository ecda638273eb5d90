package httpx

import (
	"net/http"
	"time"

	"github.com/rs/cors"
)

// CORSPolicy lists the origins, methods and headers browsers may use.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// WithCORS wraps rs/cors. An empty origin list disables CORS handling.
func WithCORS(p CORSPolicy) Middleware {
	origins := normalizeList(p.AllowedOrigins)
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	methods := normalizeList(p.AllowedMethods)
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   methods,
		AllowedHeaders:   normalizeList(p.AllowedHeaders),
		ExposedHeaders:   normalizeList(p.ExposedHeaders),
		AllowCredentials: p.AllowCredentials,
		MaxAge:           int(p.MaxAge.Seconds()),
	})
	return c.Handler
}
