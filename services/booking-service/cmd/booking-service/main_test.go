package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotbook/libs/runtime"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

func TestBookingConfig(t *testing.T) {
	t.Setenv("BOOKING_MAX_ATTEMPTS", "5")
	t.Setenv("BOOKING_RETRY_DELAY", "25ms")
	t.Setenv("BOOKING_REQUIRE_AVAILABILITY", "false")
	t.Setenv("SLOTS_HIDE_PAST", "true")
	cfg, err := bookingConfig()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.MaxAttempts)
	require.Equal(t, 25*time.Millisecond, cfg.RetryDelay)
	require.False(t, cfg.RequireAvailability)
	require.True(t, cfg.HidePast)

	t.Setenv("BOOKING_MAX_ATTEMPTS", "0")
	_, err = bookingConfig()
	require.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Setenv("STORE_BACKEND", "memory")
	store, check, err := openStore(context.Background(), logger)
	require.NoError(t, err)
	require.Equal(t, "memory", check.Name)
	require.NoError(t, check.Check(context.Background()))
	require.NoError(t, store.Close(context.Background()))

	t.Setenv("STORE_BACKEND", "sqlite")
	_, _, err = openStore(context.Background(), logger)
	require.Error(t, err)

	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, _, err = openStore(context.Background(), logger)
	require.Error(t, err)
}

func TestHTTPMiddlewareAddsRedisCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6390")
	t.Setenv("AUTH_JWT_SECRET", "s3cret")

	var checks []runtime.ReadyCheck
	m, cleanup, err := httpMiddleware(logger, &checks)
	require.NoError(t, err)
	defer cleanup()
	require.Len(t, m, 8)
	require.Len(t, checks, 1)
	require.Equal(t, "redis", checks[0].Name)
}

func TestReadyzReportsRedis(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")
	// Nothing listens on port 1.
	t.Setenv("REDIS_ADDR", "127.0.0.1:1")
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("AUTH_RSA_PUBLIC_KEY_FILE", "")

	store := storage.NewMemory()
	cat := catalog.New(store)
	h := handlers.New(cat, booking.New(store, cat, logger, booking.DefaultConfig()), logger)
	memoryCheck := runtime.ReadyCheck{Name: "memory", Check: store.Ping}

	handler, closeHTTP, err := newHTTPHandler(logger, h, []runtime.ReadyCheck{memoryCheck})
	require.NoError(t, err)
	defer closeHTTP()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "unavailable", report.Status)
	require.Equal(t, "ok", report.Checks["memory"])
	require.Contains(t, report.Checks, "redis")
	require.NotEqual(t, "ok", report.Checks["redis"])

	// Routes are mounted next to the health endpoints.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointment-types", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRelayConfig(t *testing.T) {
	cfg, err := relayConfig()
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.PollEvery)
	require.Equal(t, 50, cfg.BatchSize)

	t.Setenv("OUTBOX_BATCH_SIZE", "0")
	_, err = relayConfig()
	require.Error(t, err)
}
