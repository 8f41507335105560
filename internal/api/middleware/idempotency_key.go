package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	// HeaderIdempotencyKey is the request header carrying a client-chosen key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// ContextIdempotencyKey is where the validated key is stored on echo.Context.
	ContextIdempotencyKey = "idempotency_key"

	maxIdempotencyKeyLen = 255
)

// IdempotencyKey validates the optional Idempotency-Key header and exposes it
// to handlers through ContextIdempotencyKey. Requests without the header pass
// through untouched.
func IdempotencyKey() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.Request().Header.Get(HeaderIdempotencyKey)
			if raw == "" {
				return next(c)
			}

			key := strings.TrimSpace(raw)
			if key == "" || len(key) > maxIdempotencyKeyLen {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid Idempotency-Key header")
			}
			for _, r := range key {
				if r < 0x21 || r > 0x7e {
					return echo.NewHTTPError(http.StatusBadRequest, "invalid Idempotency-Key header")
				}
			}

			c.Set(ContextIdempotencyKey, key)
			return next(c)
		}
	}
}
