package auth

import (
	"path"
	"strings"
)

// DefaultPublicPaths never require credentials
var DefaultPublicPaths = []string{"/health", "/version", "/metrics"}

// DefaultWebhookPath is the route accepting Shopify webhook deliveries
const DefaultWebhookPath = "/webhook"

// cleanRoute normalizes p to a rooted, dot-free path
func cleanRoute(p string) string {
	return path.Clean("/" + p)
}

// IsPublicPath reports whether requestPath bypasses authentication. Matching
// is done on whole segments of the cleaned path, so /health/../logs and
// /healthcheck are not covered by /health. Encoded separators and dots
// (%2f, %2e) never match.
func IsPublicPath(requestPath string, publicPaths []string) bool {
	lower := strings.ToLower(requestPath)
	if strings.Contains(lower, "%2f") || strings.Contains(lower, "%2e") {
		return false
	}

	route := cleanRoute(requestPath)
	for _, public := range publicPaths {
		prefix := cleanRoute(public)
		switch {
		case prefix == "/":
			return true
		case route == prefix, strings.HasPrefix(route, prefix+"/"):
			return true
		}
	}
	return false
}
