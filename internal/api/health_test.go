package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func readiness(t *testing.T, h *HealthHandler) (int, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var resp ReadinessResponse
	decode(t, rec, &resp)
	return rec.Code, resp
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name     string
		postgres CheckFunc
		redis    CheckFunc
		code     int
		status   string
	}{
		{"all up", ok, ok, http.StatusOK, "ok"},
		{"optional down", ok, down, http.StatusOK, "degraded"},
		{"critical down", down, ok, http.StatusServiceUnavailable, "error"},
		{"both down", down, down, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("test", "v1").
				AddCheck("postgres", true, tt.postgres).
				AddCheck("redis", false, tt.redis)

			code, resp := readiness(t, h)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, resp.Status)
			require.Len(t, resp.Dependencies, 2)
		})
	}
}

func TestLivenessIgnoresDependencies(t *testing.T) {
	h := NewHealthHandler("test", "v1").AddCheck("postgres", true, down)
	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp LivenessResponse
	decode(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "v1", resp.Version)
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
