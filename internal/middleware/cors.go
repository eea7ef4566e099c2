package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Authorization, " + TraceHeader
)

// CORSMiddleware answers browser preflights for the web front-end origins.
// An origin of "*" accepts any caller.
type CORSMiddleware struct {
	origins  map[string]struct{}
	wildcard bool
}

func NewCORSMiddleware(origins []string) *CORSMiddleware {
	c := &CORSMiddleware{origins: map[string]struct{}{}}
	for _, o := range origins {
		switch o = strings.TrimRight(strings.TrimSpace(o), "/"); o {
		case "":
		case "*":
			c.wildcard = true
		default:
			c.origins[o] = struct{}{}
		}
	}
	return c
}

func (c *CORSMiddleware) permits(origin string) bool {
	if origin == "" {
		return false
	}
	if c.wildcard {
		return true
	}
	_, ok := c.origins[origin]
	return ok
}

func (c *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		ok := c.permits(origin)
		if ok {
			hdr := w.Header()
			hdr.Set("Access-Control-Allow-Origin", origin)
			hdr.Add("Vary", "Origin")
			hdr.Set("Access-Control-Allow-Methods", corsMethods)
			hdr.Set("Access-Control-Allow-Headers", corsHeaders)
			hdr.Set("Access-Control-Expose-Headers", TraceHeader)
			hdr.Set("Access-Control-Max-Age", "3600")
		}

		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
		switch {
		case preflight && ok:
			w.WriteHeader(http.StatusNoContent)
		case preflight:
			w.WriteHeader(http.StatusForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
