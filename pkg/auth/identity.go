package auth

import (
	"net/http"

	"mirrordb/pkg/config"
)

// Role represents the resolved caller role for a request.
type Role int

const (
	RoleUnauth Role = iota
	RoleBackend
	RoleAdmin
)

// SecConfig mirrors the security-related configuration used to drive
// authentication, CORS and rate limiting behavior. Put here so limiter.go
// and gateway.go can reference the shared type.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
	AdminKeys      map[string]struct{}
}

// FromConfig builds a SecConfig from the loaded server configuration.
func FromConfig(cfg *config.Config) SecConfig {
	return SecConfig{
		AllowedOrigins: cfg.Security.CORS.AllowedOrigins,
		RPS:            cfg.Security.RateLimit.RPS,
		Burst:          cfg.Security.RateLimit.Burst,
		IPWhitelist:    cfg.Security.IPWhitelist,
		BackendKeys:    cfg.BackendKeys(),
		AdminKeys:      cfg.AdminKeys(),
	}
}

// Open reports whether the server runs without API keys. In open mode every
// caller is treated as backend, which keeps local development frictionless.
func (c SecConfig) Open() bool {
	return len(c.BackendKeys) == 0 && len(c.AdminKeys) == 0
}

// RoleName returns the header value exposed to handlers for a role.
func RoleName(role Role) string {
	switch role {
	case RoleBackend:
		return "backend"
	case RoleAdmin:
		return "admin"
	default:
		return "unauth"
	}
}

// IsAdmin reports whether the request carried an admin key, as resolved by
// the gateway middleware.
func IsAdmin(r *http.Request) bool {
	return r.Header.Get("X-Role-Name") == "admin"
}
