package middleware

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AllowedHosts rejects requests whose Host header is not listed.
// An empty list or "*" allows everything; ".example.com" matches the domain and
// every subdomain.
func AllowedHosts(hosts []string) fiber.Handler {
	allowAll := len(hosts) == 0
	patterns := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "*" {
			allowAll = true
		}
		if h != "" {
			patterns = append(patterns, h)
		}
	}

	return func(c *fiber.Ctx) error {
		if allowAll {
			return c.Next()
		}
		host := stripPort(strings.ToLower(c.Hostname()))
		for _, p := range patterns {
			if hostMatches(host, p) {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusBadRequest, "invalid host header")
	}
}

func hostMatches(host, pattern string) bool {
	if strings.HasPrefix(pattern, ".") {
		return host == pattern[1:] || strings.HasSuffix(host, pattern)
	}
	return host == pattern
}

func stripPort(h string) string {
	if host, _, err := net.SplitHostPort(h); err == nil {
		return strings.Trim(host, "[]")
	}
	return h
}
