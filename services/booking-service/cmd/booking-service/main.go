package main

import (
	"context"
	"fmt"
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
	"github.com/garageflow/garageflow/services/booking-service/internal/availability"
	"github.com/garageflow/garageflow/services/booking-service/internal/handlers"
	"github.com/garageflow/garageflow/services/booking-service/internal/planevents"
	"github.com/garageflow/garageflow/services/booking-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type serviceConfig struct {
	ServiceName      string        `envconfig:"SERVICE_NAME" default:"booking-service"`
	Port             string        `envconfig:"PORT" default:"8083"`
	DatabaseURL      string        `envconfig:"DATABASE_URL" required:"true"`
	KafkaBrokers     string        `envconfig:"KAFKA_BROKERS"`
	KafkaGroupID     string        `envconfig:"KAFKA_GROUP_ID" default:"booking-service"`
	Timezone         string        `envconfig:"WORKSHOP_TIMEZONE" default:"UTC"`
	BillingGRPCAddr  string        `envconfig:"BILLING_GRPC_ADDR"`
	BillingHealth    string        `envconfig:"BILLING_HEALTH_SERVICE" default:"garageflow.billing"`
	FetchTimeout     time.Duration `envconfig:"AVAILABILITY_FETCH_TIMEOUT" default:"3s"`
	MaxBodyBytes     int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	OutboxPollEvery  time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"2s"`
	OutboxBatchSize  int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	ConsumerAttempts int           `envconfig:"KAFKA_MAX_ATTEMPTS" default:"5"`
	db.PoolConfig
}

func loadConfig() (serviceConfig, *time.Location, error) {
	var cfg serviceConfig
	if err := config.Load("", &cfg); err != nil {
		return cfg, nil, err
	}
	if _, err := config.ValidatePort("PORT", cfg.Port); err != nil {
		return cfg, nil, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return cfg, nil, fmt.Errorf("WORKSHOP_TIMEZONE: %w", err)
	}
	return cfg, loc, nil
}

func main() {
	cfg, loc, err := loadConfig()
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
	apptRepo := storage.NewAppointmentRepository(pool, outboxRepo)
	hoursRepo := storage.NewHoursRepository(pool)
	planRepo := storage.NewPlanRepository(pool)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: cfg.OutboxPollEvery,
		BatchSize: cfg.OutboxBatchSize,
	})
	go publisher.Run(ctx)

	consumer, err := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     cfg.KafkaGroupID,
		Topics:      planevents.Topics,
		MaxAttempts: cfg.ConsumerAttempts,
	}, kafkax.NewInboxRepository(pool), planevents.Handler(planRepo, logger), logger, reg)
	if err != nil {
		logger.Warn("plan event consumer disabled", "err", err)
	} else {
		go consumer.Run(ctx)
	}

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if kafkax.Configured(cfg.KafkaBrokers) {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers, planevents.Topics...)})
	}
	if cfg.BillingGRPCAddr != "" {
		conn, err := grpcx.Dial(cfg.BillingGRPCAddr, grpcx.DialOptions{})
		if err != nil {
			logger.Error("billing grpc dial failed", "err", err, "addr", cfg.BillingGRPCAddr)
		} else {
			defer conn.Close()
			checks = append(checks, runtime.ReadyCheck{Name: "billing", Check: grpcx.HealthReadyCheck(conn, cfg.BillingHealth)})
		}
	}

	resolver := availability.NewResolver(hoursRepo, apptRepo, logger, reg, availability.ResolverConfig{FetchTimeout: cfg.FetchTimeout})
	bookingHandler := handlers.NewBookingHandler(resolver, apptRepo, hoursRepo, logger, reg, handlers.Config{Location: loc})

	mux := runtime.NewBaseMux(reg.Handler(), checks...)
	bookingHandler.Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(cfg.MaxBodyBytes),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(httpHandler, "booking"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("booking service configured", "timezone", loc.String(), "billing_grpc", cfg.BillingGRPCAddr)
	runtime.ServeHTTP(ctx, srv, logger)
}
