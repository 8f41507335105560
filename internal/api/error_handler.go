package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/loyalty/points-ledger/internal/core/domain"
)

// retryAfterSeconds is advertised when a transfer lost every optimistic retry.
const retryAfterSeconds = "1"

// errorResponse is the canonical error envelope for all API errors.
type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPErrorHandler returns an echo.HTTPErrorHandler that:
//   - Maps ledger errors to their HTTP status codes.
//   - Logs unexpected errors internally without leaking details to the client.
//   - Renders a consistent JSON envelope: {"error": "<message>"}.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := resolveError(err, log, c)
		if code == http.StatusServiceUnavailable && errors.Is(err, domain.ErrConcurrencyExhausted) {
			c.Response().Header().Set("Retry-After", retryAfterSeconds)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, errorResponse{Error: msg})
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, string) {
	// Echo's own errors (bind failures, 404 from router, etc.)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Internal != nil {
			log.Warn().Err(he.Internal).Str("path", c.Path()).Msg("request failed")
		}
		return he.Code, fmt.Sprintf("%v", he.Message)
	}

	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, domain.ErrInvalidUser):
		return http.StatusBadRequest, domain.ErrInvalidUser.Error()
	case errors.Is(err, domain.ErrPointsOverflow):
		return http.StatusBadRequest, domain.ErrPointsOverflow.Error()
	case errors.Is(err, domain.ErrIdempotencyKeyInUse):
		return http.StatusConflict, domain.ErrIdempotencyKeyInUse.Error()
	case errors.Is(err, domain.ErrInsufficientPoints):
		return http.StatusUnprocessableEntity, domain.ErrInsufficientPoints.Error()
	case errors.Is(err, domain.ErrConcurrencyExhausted):
		return http.StatusServiceUnavailable, domain.ErrConcurrencyExhausted.Error()
	}

	// Unexpected error: log the real cause, return a generic message.
	log.Error().
		Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("unhandled error")

	return http.StatusInternalServerError, "internal server error"
}
