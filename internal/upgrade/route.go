package upgrade

import (
	"net/http"
	"net/url"
)

// Route selects the upgrade requests a handler services. A route with
// neither Path nor Matches never matches.
type Route struct {
	// Path is compared against the request path, query string excluded
	Path string
	// Matches is an arbitrary predicate evaluated when Path does not match
	Matches func(r *http.Request) bool
}

// Match reports whether r is selected by the route
func (rt Route) Match(r *http.Request) bool {
	if rt.Path != "" {
		if path, ok := requestPath(r); ok && path == rt.Path {
			return true
		}
	}
	return rt.Matches != nil && rt.Matches(r)
}

// HeaderEquals returns a predicate matching requests whose header equals value
func HeaderEquals(header, value string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return r.Header.Get(header) == value
	}
}

// requestPath parses the path out of the raw request target, still escaped
// as the client sent it. A malformed target has no path.
func requestPath(r *http.Request) (string, bool) {
	target := r.RequestURI
	if target == "" {
		if r.URL == nil {
			return "", false
		}
		return r.URL.EscapedPath(), true
	}
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return "", false
	}
	return u.EscapedPath(), true
}
