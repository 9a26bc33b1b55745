// Package auth verifies the shared role passwords used by the client.
package auth

import (
	"crypto/subtle"
	"fmt"
)

// Passwords holds the configured shared passwords per role.
type Passwords struct {
	Admin  string
	Viewer string
}

// VerifyPassword checks password against the configured secret for role.
// Comparison is constant time.
func (p Passwords) VerifyPassword(password, role string) (bool, error) {
	var expected string
	switch role {
	case "admin":
		expected = p.Admin
	case "viewer":
		expected = p.Viewer
	default:
		return false, fmt.Errorf("unknown role: %s", role)
	}
	if expected == "" {
		return false, fmt.Errorf("no password configured for role %s", role)
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(expected)) == 1, nil
}
