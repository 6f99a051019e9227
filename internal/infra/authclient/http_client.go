package authclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	context_ "github.com/mkrupp/mediavault/internal/infra/context"
	"github.com/mkrupp/mediavault/internal/infra/logging"
)

const (
	TraceIDHeader       = "X-Request-ID"
	AuthorizationHeader = "Authorization"

	maxActorLength = 256
)

// ErrUnexpectedStatus is returned when the auth service answers with a status
// that is neither success nor a token rejection.
var ErrUnexpectedStatus = errors.New("unexpected auth service status")

// HTTPClientConfig holds configuration for the HTTP auth client.
type HTTPClientConfig struct {
	// AuthURL is the endpoint for token validation requests
	AuthURL string `env:"AUTH_URL" default:"http://localhost:8081/auth/validate"`

	// TimeoutSeconds bounds every validation round trip.
	TimeoutSeconds int `env:"TIMEOUT_SECONDS" default:"5"`
}

// HTTPClient implements AuthClient using HTTP requests to validate tokens.
type HTTPClient struct {
	httpClient *http.Client
	log        logging.Logger
	cfg        HTTPClientConfig
}

var _ AuthClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTPClient with the given configuration.
// If httpClient is nil, a client with the configured timeout is used.
func NewHTTPClient(
	cfg HTTPClientConfig,
	httpClient *http.Client,
) *HTTPClient {
	if httpClient == nil {
		//nolint:exhaustruct
		httpClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}

	return &HTTPClient{
		httpClient: httpClient,
		log:        logging.GetLogger("infra.authclient.http_client"),
		cfg:        cfg,
	}
}

// Validate implements AuthClient.Validate by making an HTTP request to the configured
// auth service endpoint. The token is sent in the Authorization header and the
// response body carries the actor.
// 401 and 403 answers mean an invalid token; any other non-200 status is an error.
func (hc *HTTPClient) Validate(ctx context.Context, token string) (actor string, ok bool, err error) {
	defer func() {
		if err != nil {
			hc.log.ErrorContext(ctx, "token validation failed", "error", err)
		} else {
			hc.log.DebugContext(ctx, "token validated", "valid", ok)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hc.cfg.AuthURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("new request: %w", err)
	}

	req.Header.Set(AuthorizationHeader, token)

	if traceID, ok := context_.TraceIDFromContext(ctx); ok {
		req.Header.Set(TraceIDHeader, traceID)
	}

	resp, err := hc.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxActorLength))
	if err != nil {
		return "", false, fmt.Errorf("read body: %w", err)
	}

	actor = strings.TrimSpace(string(body))

	return actor, actor != "", nil
}
