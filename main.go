package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appcharge "github.com/mtogo-platform/payment-service/internal/application/charge"
	apppayout "github.com/mtogo-platform/payment-service/internal/application/payout"
	dompayout "github.com/mtogo-platform/payment-service/internal/domain/payout"
	"github.com/mtogo-platform/payment-service/internal/infrastructure/broker"
	"github.com/mtogo-platform/payment-service/internal/infrastructure/id"
	"github.com/mtogo-platform/payment-service/internal/infrastructure/memory"
	"github.com/mtogo-platform/payment-service/internal/infrastructure/observability/oteltrace"
	"github.com/mtogo-platform/payment-service/internal/infrastructure/observability/prometrics"
	"github.com/mtogo-platform/payment-service/internal/infrastructure/observability/telemetry"
	"github.com/mtogo-platform/payment-service/internal/infrastructure/observability/zaplogger"
	"github.com/mtogo-platform/payment-service/internal/infrastructure/postgres"
	"github.com/mtogo-platform/payment-service/internal/infrastructure/stripe"
	"github.com/mtogo-platform/payment-service/internal/observability"
	httptransport "github.com/mtogo-platform/payment-service/internal/presentation/http"
)

func main() {
	serviceName := getenvDefault("SERVICE_NAME", "payment-service")
	env := getenvDefault("ENV", "dev")

	logger := zaplogger.New(
		observability.F("service", serviceName),
		observability.F("env", env),
	)

	registry := prometrics.New("payment", "")
	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: registry.Counter(observability.MUsecaseRequests,
			"Total number of use case invocations.", "use_case", "outcome"),
		observability.MHTTPRequests: registry.Counter(observability.MHTTPRequests,
			"Total number of HTTP requests.", "method", "route", "status"),
		observability.MProcessorRequests: registry.Counter(observability.MProcessorRequests,
			"Total number of payment processor calls.", "op", "outcome"),
		observability.MPayoutEvents: registry.Counter(observability.MPayoutEvents,
			"Payout events consumed, by outcome.", "outcome"),
		observability.MPoisonMessages: registry.Counter(observability.MPoisonMessages,
			"Inbound messages skipped as undeserializable.", "reason"),
		observability.MEventPublishFailures: registry.Counter(observability.MEventPublishFailures,
			"Outbound event publish failures.", "topic"),
		observability.MDeadLetteredEvents: registry.Counter(observability.MDeadLetteredEvents,
			"Payout events routed to the dead-letter topic."),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: registry.Histogram(observability.MUsecaseDuration,
			"Duration of use case execution in seconds.", prometheus.DefBuckets, "use_case"),
		observability.MHTTPRequestDuration: registry.Histogram(observability.MHTTPRequestDuration,
			"HTTP request duration in seconds.", prometheus.DefBuckets, "method", "route"),
		observability.MProcessorRequestLatency: registry.Histogram(observability.MProcessorRequestLatency,
			"Payment processor call duration in seconds.", prometheus.DefBuckets, "op"),
	}
	tel := telemetry.New(oteltrace.New(serviceName), logger, counters, histograms)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := broker.NewBus(logger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	producer := broker.NewProducer(bus, logger, tel)
	retryCount := getenvInt("PRODUCER_CONNECT_RETRIES", 5)
	retryDelay := getenvDuration("PRODUCER_CONNECT_DELAY", 2*time.Second)
	if err := producer.Initialize(ctx, retryCount, retryDelay); err != nil {
		logger.Error("producer_initialize_failed", observability.F("error", err.Error()))
		os.Exit(1)
	}

	var attempts dompayout.Repository
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := postgres.Open(dsn)
		if err != nil {
			logger.Error("database_open_failed", observability.F("error", err.Error()))
			os.Exit(1)
		}
		attempts = postgres.NewAttemptRepository(db, logger)
	} else {
		attempts = memory.NewAttemptRepository()
	}

	schedule := dompayout.DefaultFeeSchedule()
	schedule.Currency = getenvDefault("PROCESSOR_CURRENCY", schedule.Currency)
	schedule.Country = getenvDefault("PROCESSOR_COUNTRY", schedule.Country)
	calculator := dompayout.NewCalculator(schedule)

	gateway := stripe.NewClient(stripe.Config{
		BaseURL:   getenvDefault("PROCESSOR_API_URL", "https://api.stripe.com"),
		SecretKey: os.Getenv("PROCESSOR_SECRET_KEY"),
		Currency:  schedule.Currency,
		Country:   schedule.Country,
		ReturnURL: getenvDefault("PAYMENT_SERVICE_URL", "https://localhost:3004"),
	}, tel)

	orchestrator := apppayout.NewOrchestrator(gateway, calculator, attempts, id.NewUUIDGenerator(), tel)

	payoutWorker := apppayout.NewWorker(bus, producer, orchestrator,
		getenvInt("PAYOUT_MAX_ATTEMPTS", 3),
		getenvDuration("PAYOUT_RETRY_DELAY", time.Second),
		tel,
	)
	payoutWorker.Start()

	chargeService := appcharge.NewService(gateway, tel)
	handler := httptransport.NewHandler(chargeService, tel)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    getenvDefault("HTTP_ADDR", ":8004"),
		Handler: mux,
	}

	go func() {
		logger.Info("http_server_start", observability.F("addr", server.Addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", observability.F("error", err.Error()))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_server_shutdown_error", observability.F("error", err.Error()))
	} else {
		logger.Info("http_server_stopped")
	}

	if err := producer.Shutdown(shutdownCtx); err != nil {
		logger.Error("producer_shutdown_error", observability.F("error", err.Error()))
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
