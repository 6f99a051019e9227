package http

import (
	"net/http"

	"github.com/mkrupp/mediavault/internal/infra/authclient"
	context_ "github.com/mkrupp/mediavault/internal/infra/context"
	"github.com/mkrupp/mediavault/internal/infra/logging"
)

// AuthorizingMiddleware creates middleware that validates authentication tokens
// against the external auth service.
// When optional is false, requests without a valid token are rejected.
// When optional is true, requests without a token pass through anonymously so that
// public and signed access can be decided by the handler; a token that is present
// but invalid is still rejected.
// On successful validation, the actor is added to the request context.
func AuthorizingMiddleware(
	next http.Handler,
	authClient authclient.AuthClient,
	log logging.Logger,
	optional bool,
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(authclient.AuthorizationHeader)
		if token == "" {
			if optional {
				next.ServeHTTP(w, r)

				return
			}

			log.WarnContext(r.Context(), "no token provided")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

			return
		}

		actor, ok, err := authClient.Validate(r.Context(), token)
		if err != nil {
			log.ErrorContext(r.Context(), "validate token failed", "error", err)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)

			return
		} else if !ok {
			log.WarnContext(r.Context(), "invalid token")
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r.WithContext(context_.WithActor(r.Context(), actor)))
	})
}
