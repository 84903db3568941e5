package httpx

import (
	"net/http"
	"slices"
	"strings"
)

// CORS answers preflight requests and stamps Access-Control headers on every
// response. AllowOrigin is "*" (the default) or a comma separated list of
// origins; with a list, a matching request Origin is echoed back.
type CORS struct {
	AllowOrigin  string
	AllowMethods []string
	AllowHeaders []string
}

func (c CORS) Wrap(next http.Handler) http.Handler {
	var origins []string
	for _, o := range strings.Split(c.AllowOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	wildcard := len(origins) == 0 || slices.Contains(origins, "*")

	methods := "GET,POST,OPTIONS"
	if len(c.AllowMethods) > 0 {
		methods = strings.Join(c.AllowMethods, ",")
	}
	headers := "Content-Type, Authorization"
	if len(c.AllowHeaders) > 0 {
		headers = strings.Join(c.AllowHeaders, ", ")
	}

	allowed := func(w http.ResponseWriter, r *http.Request) bool {
		if wildcard {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			return true
		}
		w.Header().Add("Vary", "Origin")
		origin := r.Header.Get("Origin")
		if !slices.Contains(origins, origin) {
			return false
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		return true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok := allowed(w, r)

		// Preflight
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if ok {
				w.Header().Set("Access-Control-Allow-Methods", methods)
				w.Header().Set("Access-Control-Allow-Headers", headers)
				w.Header().Set("Access-Control-Max-Age", "600")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
