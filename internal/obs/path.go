package obs

import "strings"

// CanonicalPath maps a request path onto the fixed route set so metric
// label cardinality stays bounded. Per-user segments collapse to :id and
// anything outside the routed surface collapses to "other".
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	switch path {
	case "/", "/healthz", "/readyz", "/metrics", "/v1/info", "/v1/me", "/v1/users":
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/v1/users/"); ok && rest != "" {
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 1:
			return "/v1/users/:id"
		case len(parts) == 2 && parts[1] == "role":
			return "/v1/users/:id/role"
		}
	}
	return "other"
}
