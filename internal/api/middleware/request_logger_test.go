package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestLogger_LevelsByStatus(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"ok", http.StatusOK, "info"},
		{"client error", http.StatusUnprocessableEntity, "warn"},
		{"server error", http.StatusServiceUnavailable, "error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := echo.New()
			e.Use(RequestLogger(zerolog.New(&buf)))
			e.GET("/users/:id", func(c echo.Context) error {
				if tc.status >= 400 {
					return echo.NewHTTPError(tc.status, "nope")
				}
				return c.NoContent(tc.status)
			})

			req := httptest.NewRequest(http.MethodGet, "/users/42", nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}

			var line map[string]any
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("invalid log line %q: %v", buf.String(), err)
			}
			if line["level"] != tc.wantLevel {
				t.Fatalf("expected level %s, got %v", tc.wantLevel, line["level"])
			}
			if line["route"] != "/users/:id" || line["uri"] != "/users/42" {
				t.Fatalf("unexpected route fields: %v", line)
			}
			if int(line["status"].(float64)) != tc.status {
				t.Fatalf("unexpected status field: %v", line["status"])
			}
		})
	}
}
