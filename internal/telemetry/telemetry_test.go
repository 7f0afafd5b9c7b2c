package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnabled(t *testing.T) *Telemetry {
	t.Helper()

	tel, err := New(context.Background(), Config{Enabled: true, ServiceName: "flipcache-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	return tel
}

func scrape(t *testing.T, tel *Telemetry) string {
	t.Helper()

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	return string(body)
}

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		tel.RecordCacheLookup(true)
		tel.RecordInflightJoin()
		tel.RecordDiskUsage("volatile", 10)
		tel.RecordDownload("volatile", "success", time.Second)
		tel.RecordSystemError("cleanup", "sweep")
	})

	called := false
	err = tel.InstrumentDownload(context.Background(), "volatile", func(context.Context) error {
		called = true

		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilTelemetryInstrumentation(t *testing.T) {
	var tel *Telemetry

	boom := errors.New("boom")

	err := tel.InstrumentDBOperation(context.Background(), "get_flip", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = tel.InstrumentResolve(context.Background(), func(context.Context) (bool, error) { return true, nil })
	assert.NoError(t, err)
}

func TestMetricsExposedOnHandler(t *testing.T) {
	tel := newEnabled(t)

	require.NoError(t, tel.InstrumentResolve(context.Background(), func(context.Context) (bool, error) {
		return true, nil
	}))

	err := tel.InstrumentDownload(context.Background(), "volatile", func(context.Context) error {
		return errors.New("HTTP 500")
	})
	require.Error(t, err)

	tel.RecordInflightJoin()
	tel.RecordDiskUsage("durable", 2048)
	tel.RecordSystemError("storage", "persist_status")

	body := scrape(t, tel)

	assert.Contains(t, body, "cache_lookups")
	assert.Contains(t, body, `result="hit"`)
	assert.Contains(t, body, "downloads_total")
	assert.Contains(t, body, `status="error"`)
	assert.Contains(t, body, "inflight_joins")
	assert.Contains(t, body, "cache_disk_usage")
	assert.Contains(t, body, "system_errors_total")
	assert.Contains(t, body, `error_type="persist_status"`)
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	tel := newEnabled(t)

	r := chi.NewRouter()
	r.Use(NewHTTPMiddleware(tel).Middleware)
	r.Get("/v1/flips/{flipID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/flips/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := scrape(t, tel)
	assert.Contains(t, body, `route="/v1/flips/{flipID}"`)
	assert.Contains(t, body, `status="4xx"`)
	assert.NotContains(t, body, "/v1/flips/abc")
}

func TestGetStatusClass(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		204: "2xx",
		302: "3xx",
		404: "4xx",
		502: "5xx",
		100: "unknown",
	}

	for code, want := range tests {
		assert.Equal(t, want, getStatusClass(code), code)
	}
}
