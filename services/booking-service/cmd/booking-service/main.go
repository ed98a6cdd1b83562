package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/md-rashed-zaman/slotbook/libs/config"
	"github.com/md-rashed-zaman/slotbook/libs/grpcx"
	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
	"github.com/md-rashed-zaman/slotbook/libs/runtime"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/handlers"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	logger := runtime.NewLoggerWithLevel(service, config.String("LOG_LEVEL", "info"), os.Stdout)
	if err := run(service, logger); err != nil {
		logger.Error("service exited", "err", err)
		os.Exit(1)
	}
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8083")
	if err != nil {
		return err
	}
	grpcPort, err := config.OptionalPort("GRPC_PORT")
	if err != nil {
		return err
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	store, storeCheck, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("store close failed", "err", err)
		}
	}()
	checks := []runtime.ReadyCheck{storeCheck}

	var publisher events.Publisher = events.Nop{}
	if brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")); len(brokers) > 0 {
		kp := events.NewKafkaPublisher(brokers)
		defer func() { _ = kp.Close() }()
		publisher = kp
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	} else {
		logger.Warn("KAFKA_BROKERS not set; outbox events are discarded")
	}
	relayCfg, err := relayConfig()
	if err != nil {
		return err
	}
	relay := events.NewRelay(store, publisher, logger, relayCfg)
	relayCtx, stopRelay := context.WithCancel(ctx)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relay.Run(relayCtx)
	}()
	// The relay flushes once more on stop, so it has to finish before the store closes.
	defer func() {
		stopRelay()
		<-relayDone
	}()

	bookingCfg, err := bookingConfig()
	if err != nil {
		return err
	}
	cat := catalog.New(store)
	h := handlers.New(cat, booking.New(store, cat, logger, bookingCfg), logger)

	httpHandler, closeHTTP, err := newHTTPHandler(logger, h, checks)
	if err != nil {
		return err
	}
	defer closeHTTP()

	if grpcPort != "" {
		lis, err := net.Listen("tcp", ":"+grpcPort)
		if err != nil {
			return err
		}
		hs := grpcx.NewHealthServer(logger, service)
		go func() {
			if err := hs.Serve(ctx, lis); err != nil {
				logger.Error("grpc server error", "err", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return runtime.ServeHTTP(ctx, logger, srv, 10*time.Second)
}

// newHTTPHandler assembles middleware, health endpoints and routes. The middleware is built first
// because it may add readiness checks. The returned func releases what the middleware opened.
func newHTTPHandler(logger *slog.Logger, h *handlers.Handler, checks []runtime.ReadyCheck) (http.Handler, func(), error) {
	checks = slices.Clone(checks)
	middleware, closeMiddleware, err := httpMiddleware(logger, &checks)
	if err != nil {
		return nil, nil, err
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	if err := h.Register(mux, config.List("SERVICE_ROUTES", strings.Join(handlers.AllGroups, ","))...); err != nil {
		closeMiddleware()
		return nil, nil, err
	}
	return otelhttp.NewHandler(httpx.Chain(mux, middleware...), "booking"), closeMiddleware, nil
}

func relayConfig() (events.RelayConfig, error) {
	var cfg events.RelayConfig
	var err error
	if cfg.PollEvery, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = config.Int("OUTBOX_BATCH_SIZE", 50); err != nil {
		return cfg, err
	}
	if cfg.PollEvery <= 0 || cfg.BatchSize < 1 {
		return cfg, errors.New("OUTBOX_POLL_INTERVAL and OUTBOX_BATCH_SIZE must be positive")
	}
	return cfg, nil
}

func bookingConfig() (booking.Config, error) {
	cfg := booking.DefaultConfig()
	attempts, err := config.Int("BOOKING_MAX_ATTEMPTS", cfg.MaxAttempts)
	if err != nil {
		return cfg, err
	}
	if attempts < 1 {
		return cfg, errors.New("BOOKING_MAX_ATTEMPTS must be at least 1")
	}
	cfg.MaxAttempts = attempts
	if cfg.RetryDelay, err = config.Duration("BOOKING_RETRY_DELAY", cfg.RetryDelay); err != nil {
		return cfg, err
	}
	cfg.RequireAvailability = config.Bool("BOOKING_REQUIRE_AVAILABILITY", cfg.RequireAvailability)
	cfg.HidePast = config.Bool("SLOTS_HIDE_PAST", cfg.HidePast)
	return cfg, nil
}

// httpMiddleware builds the chain outermost first. A Redis readiness check is appended to checks
// when the shared rate limiter is in use; the returned func closes its client.
func httpMiddleware(logger *slog.Logger, checks *[]runtime.ReadyCheck) (_ []httpx.Middleware, cleanup func(), err error) {
	cleanup = func() {}
	defer func() {
		if err != nil {
			cleanup()
		}
	}()
	timeout, err := config.Duration("HTTP_HANDLER_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, cleanup, err
	}
	m := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			MaxAge:         10 * time.Minute,
		}),
	}

	perMinute, err := config.Int("RATE_LIMIT_PER_MINUTE", 0)
	if err != nil {
		return nil, cleanup, err
	}
	if perMinute > 0 {
		var limiter httpx.Limiter
		if addr := config.String("REDIS_ADDR", ""); addr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: addr})
			cleanup = func() {
				if err := rdb.Close(); err != nil {
					logger.Warn("redis close failed", "err", err)
				}
			}
			limiter = httpx.NewRedisRateLimiter(rdb, perMinute, time.Minute, "booking")
			*checks = append(*checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
		} else {
			limiter = httpx.NewMemoryRateLimiter(perMinute, time.Minute)
		}
		m = append(m, httpx.WithRateLimit(limiter, logger, true))
	}

	verifier, err := identityVerifier()
	if err != nil {
		return nil, cleanup, err
	}
	if verifier != nil {
		m = append(m, auth.Require(verifier, "/healthz", "/readyz"))
	}

	m = append(m, httpx.WithBodyLimit(1<<20), httpx.WithTimeout(timeout))
	return m, cleanup, nil
}

func identityVerifier() (auth.Verifier, error) {
	issuer := config.String("AUTH_ISSUER", "")
	if secret := config.String("AUTH_JWT_SECRET", ""); secret != "" {
		return auth.NewHS256Verifier(secret, issuer), nil
	}
	if path := config.String("AUTH_RSA_PUBLIC_KEY_FILE", ""); path != "" {
		return auth.NewRS256VerifierFromFile(path, issuer)
	}
	return nil, nil
}
