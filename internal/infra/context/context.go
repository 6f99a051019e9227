// Package context carries request-scoped values (trace id, acting principal)
// through the services without relying on ambient globals.
package context

type contextKey string
