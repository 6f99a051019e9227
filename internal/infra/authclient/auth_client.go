// Package authclient resolves bearer tokens to actors through the external
// auth service. Media access decisions stay with the callers.
package authclient

import "context"

// AuthClient defines the interface for validating authentication tokens.
type AuthClient interface {
	// Validate checks if the given token is valid.
	// Returns the actor associated with the token, whether the token is valid,
	// and any error encountered while reaching the auth service.
	Validate(ctx context.Context, token string) (string, bool, error)
}
