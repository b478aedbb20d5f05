package auth

import "github.com/golang-jwt/jwt/v5"

// Scopes a service token may carry.
const (
	ScopeBridgeRead  = "bridge:read"
	ScopeBridgeWrite = "bridge:write"
)

// Claims are the only supported JWT claims shape for this service.
// Tokens identify calling services, not end users: the operator sitting in
// the browser is authenticated by the upstream CRM, which calls in here
// with its own service credential.
type Claims struct {
	jwt.RegisteredClaims

	// ServiceName is the calling service ("crm-dialer", "ops-console").
	ServiceName string `json:"service_name"`

	// Scopes lists granted capabilities.
	Scopes []string `json:"scopes"`
}

func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
