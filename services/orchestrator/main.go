// Copyright (C) 2025 Tablefire Labs (dev@tablefire.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tablefire/concierge/pkg/logging"
	"github.com/tablefire/concierge/services/consensus"
	"github.com/tablefire/concierge/services/escalation"
	"github.com/tablefire/concierge/services/knowledge"
	"github.com/tablefire/concierge/services/orchestrator/observability"
	"github.com/tablefire/concierge/services/orchestrator/routes"
	"github.com/tablefire/concierge/services/pricing"
	"github.com/tablefire/concierge/services/providers"
	"github.com/tablefire/concierge/services/router"
	"github.com/tablefire/concierge/services/safety"
	"github.com/tablefire/concierge/services/training"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "concierge-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("concierge-orchestrator")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// buildKnowledge picks the business data backend. Without a configured
// service the loader fails closed and every turn escalates, which is the
// intended behavior when business data is unreachable.
func buildKnowledge() *knowledge.Loader {
	var store knowledge.Store
	dataURL := strings.Trim(os.Getenv("BUSINESS_DATA_URL"), "\"' ")
	if dataURL != "" {
		httpStore, err := knowledge.NewHTTPStore(dataURL)
		if err != nil {
			log.Fatalf("FATAL: invalid BUSINESS_DATA_URL: %v", err)
		}
		store = httpStore
		slog.Info("Using business data service", "url", dataURL)
	} else {
		slog.Warn("BUSINESS_DATA_URL not set. Knowledge loads will fail closed and turns will escalate.")
		store = knowledge.NewMemoryStore()
	}

	var cache knowledge.Cache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		cache = knowledge.NewRedisCache(client, 5*time.Minute)
		slog.Info("Using Redis knowledge cache", "addr", addr)
	} else {
		slog.Info("REDIS_ADDR not set, using in-process knowledge cache")
		cache = knowledge.NewMemoryCache(5 * time.Minute)
	}
	return knowledge.NewLoader(store, cache)
}

// buildProviders constructs the generation backends named in PROVIDERS
// (comma-separated: anthropic, openai, ollama) and wraps each one with a
// rate limiter, latency metrics, and its circuit breaker.
func buildProviders(registry *providers.BreakerRegistry, metrics *observability.PipelineMetrics) []providers.Provider {
	names := os.Getenv("PROVIDERS")
	if names == "" {
		slog.Warn("PROVIDERS not set, defaulting to ollama")
		names = "ollama"
	}

	var out []providers.Provider
	for _, name := range strings.Split(names, ",") {
		var (
			p   providers.Provider
			err error
		)
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "anthropic", "claude":
			p, err = providers.NewAnthropicProvider()
		case "openai":
			p, err = providers.NewOpenAIProvider()
		case "ollama":
			p, err = providers.NewOllamaProvider()
		case "":
			continue
		default:
			log.Fatalf("FATAL: unknown provider %q in PROVIDERS", name)
		}
		if err != nil {
			log.Fatalf("FATAL: failed to initialize provider %q: %v", name, err)
		}
		wrapped := providers.NewRateLimitedProvider(p, 2.0, 4)
		instrumented := observability.NewInstrumentedProvider(wrapped, metrics)
		out = append(out, providers.NewGuardedProvider(instrumented, registry))
		slog.Info("Provider configured", "provider", p.ID())
	}
	if len(out) == 0 {
		log.Fatalf("FATAL: no providers configured")
	}
	return out
}

func main() {
	port := os.Getenv("ORCHESTRATOR_PORT")
	if port == "" {
		port = "12300"
	}

	logger := logging.New(logging.Config{
		Service: "orchestrator",
		JSON:    true,
		LogDir:  os.Getenv("CONCIERGE_LOG_DIR"),
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	dataDir := os.Getenv("CONCIERGE_DATA_DIR")
	if dataDir == "" {
		dataDir = "/var/lib/concierge"
	}
	db, err := badger.Open(badger.DefaultOptions(dataDir).WithLogger(nil))
	if err != nil {
		log.Fatalf("FATAL: failed to open store at %s: %v", dataDir, err)
	}
	defer db.Close()

	loader := buildKnowledge()

	calc := pricing.NewCalculator(pricing.DefaultRateCard())
	validator, err := safety.NewValidator(calc)
	if err != nil {
		log.Fatalf("FATAL: failed to build response validator: %v", err)
	}

	breakers := providers.NewBreakerRegistry(providers.DefaultBreakerConfig())
	llmProviders := buildProviders(breakers, metrics)

	convStore := router.NewBadgerConversationStore(db)
	manager := escalation.NewManager(
		escalation.NewBadgerStore(db),
		observability.NewMetricsNotifier(nil, metrics),
		router.NewStorePauser(convStore),
	)

	var recorder *training.Recorder
	if influxURL := os.Getenv("INFLUXDB_URL"); influxURL != "" {
		client := influxdb2.NewClient(influxURL, os.Getenv("INFLUXDB_TOKEN"))
		defer client.Close()
		writeAPI := client.WriteAPI(os.Getenv("INFLUXDB_ORG"), os.Getenv("INFLUXDB_BUCKET"))
		recorder = training.NewRecorder(db, writeAPI, 0)
		slog.Info("Mirroring booking outcomes to InfluxDB", "url", influxURL)
	} else {
		slog.Info("INFLUXDB_URL not set, outcomes stored locally only")
		recorder = training.NewRecorder(db, nil, 0)
	}
	defer recorder.Close()
	recorder.SetDropHook(func() { metrics.TrainingSignalsDropped.Inc() })
	sink := observability.NewMetricsSink(recorder, metrics)

	pipeline, err := router.NewPipeline(router.PipelineConfig{
		Store:       convStore,
		Loader:      loader,
		Classifier:  router.NewClassifier(),
		Agents:      router.NewRegistry(calc),
		Engine:      consensus.NewEngine(validator, consensus.DefaultDeadline),
		Escalations: manager,
		Recorder:    sink,
		Providers:   llmProviders,
	})
	if err != nil {
		log.Fatalf("FATAL: failed to wire pipeline: %v", err)
	}

	engine := gin.Default()
	engine.Use(otelgin.Middleware("concierge-orchestrator"))
	routes.SetupRoutes(engine, routes.Dependencies{
		Pipeline:    pipeline,
		Escalations: manager,
		Recorder:    sink,
		Breakers:    breakers,
		Metrics:     metrics,
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Starting the orchestrator server", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}
