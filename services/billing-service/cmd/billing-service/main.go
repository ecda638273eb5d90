package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/garageflow/garageflow/libs/config"
	"github.com/garageflow/garageflow/libs/db"
	"github.com/garageflow/garageflow/libs/grpcx"
	"github.com/garageflow/garageflow/libs/httpx"
	"github.com/garageflow/garageflow/libs/kafkax"
	"github.com/garageflow/garageflow/libs/metrics"
	otelx "github.com/garageflow/garageflow/libs/otel"
	"github.com/garageflow/garageflow/libs/outbox"
	"github.com/garageflow/garageflow/libs/runtime"
	"github.com/garageflow/garageflow/services/billing-service/internal/handlers"
	"github.com/garageflow/garageflow/services/billing-service/internal/reconcile"
	"github.com/garageflow/garageflow/services/billing-service/internal/storage"
	"github.com/garageflow/garageflow/services/billing-service/internal/subscriptions"
	"github.com/garageflow/garageflow/services/billing-service/internal/usage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// healthService is the health service name booking checks on the billing gRPC port.
const healthService = "garageflow.billing"

type serviceConfig struct {
	ServiceName      string        `envconfig:"SERVICE_NAME" default:"billing-service"`
	Port             string        `envconfig:"PORT" default:"8084"`
	GRPCPort         string        `envconfig:"GRPC_PORT" default:"9091"`
	DatabaseURL      string        `envconfig:"DATABASE_URL" required:"true"`
	KafkaBrokers     string        `envconfig:"KAFKA_BROKERS"`
	KafkaGroupID     string        `envconfig:"KAFKA_GROUP_ID" default:"billing-service"`
	ConsumerAttempts int           `envconfig:"KAFKA_MAX_ATTEMPTS" default:"5"`
	MaxBodyBytes     int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	OutboxPollEvery  time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"2s"`
	OutboxBatchSize  int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	APIKeyCost       int           `envconfig:"API_KEY_BCRYPT_COST" default:"10"`

	StripeWebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeTolerance     time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
	StripeSecretKey     string        `envconfig:"STRIPE_SECRET_KEY"`
	ReconcileEnabled    bool          `envconfig:"BILLING_STRIPE_RECONCILE_ENABLED" default:"false"`
	ReconcileInterval   time.Duration `envconfig:"BILLING_STRIPE_RECONCILE_INTERVAL" default:"5m"`
	ReconcileBatchSize  int           `envconfig:"BILLING_STRIPE_RECONCILE_BATCH_SIZE" default:"50"`
	ReconcileLockKey    int64         `envconfig:"BILLING_STRIPE_RECONCILE_LOCK_KEY" default:"4242001"`

	db.PoolConfig
}

func loadConfig() (serviceConfig, error) {
	var cfg serviceConfig
	if err := config.Load("", &cfg); err != nil {
		return cfg, err
	}
	if _, err := config.ValidatePort("PORT", cfg.Port); err != nil {
		return cfg, err
	}
	if _, err := config.ValidatePort("GRPC_PORT", cfg.GRPCPort); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.ServiceName)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelCfg, err := otelx.ConfigFromEnv(cfg.ServiceName)
	if err != nil {
		logger.Error("otel config invalid", "err", err)
		os.Exit(1)
	}
	otelShutdown, err := otelx.Setup(ctx, otelCfg)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, cfg.PoolConfig)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	reg := metrics.New(cfg.ServiceName)
	outboxRepo := outbox.NewRepository()
	repo := storage.NewRepository(pool, outboxRepo)
	subSvc := subscriptions.New()

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: cfg.OutboxPollEvery,
		BatchSize: cfg.OutboxBatchSize,
	})
	go publisher.Run(ctx)

	consumer, err := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     cfg.KafkaGroupID,
		Topics:      usage.Topics,
		MaxAttempts: cfg.ConsumerAttempts,
	}, kafkax.NewInboxRepository(pool), usage.Handler(repo, logger), logger, reg)
	if err != nil {
		logger.Warn("usage consumer disabled", "err", err)
	} else {
		go consumer.Run(ctx)
	}

	if cfg.ReconcileEnabled {
		rec, err := reconcile.NewStripeReconciler(pool, repo, subSvc, logger, reconcile.StripeReconcilerConfig{
			StripeSecretKey: cfg.StripeSecretKey,
			BatchSize:       cfg.ReconcileBatchSize,
			AdvisoryLockKey: cfg.ReconcileLockKey,
		})
		if err != nil {
			logger.Warn("stripe reconcile disabled", "err", err)
		} else {
			go rec.Run(ctx, cfg.ReconcileInterval)
		}
	}

	grpcSrv, health := grpcx.NewServer(logger)
	health.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	go func() {
		if err := grpcx.Serve(ctx, grpcSrv, health, ":"+cfg.GRPCPort, logger); err != nil {
			logger.Error("grpc server failed", "err", err)
		}
	}()

	h := handlers.New(repo, subSvc, logger, reg, handlers.Config{
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		StripeTolerance:     cfg.StripeTolerance,
		APIKeyCost:          cfg.APIKeyCost,
	})
	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if kafkax.Configured(cfg.KafkaBrokers) {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers, usage.Topics...)})
	}
	mux := runtime.NewBaseMux(reg.Handler(), checks...)
	h.Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(cfg.MaxBodyBytes),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler, "billing"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	runtime.ServeHTTP(ctx, srv, logger)
}
