package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/garageflow/garageflow/libs/auth"
	"github.com/garageflow/garageflow/libs/config"
	"github.com/garageflow/garageflow/libs/httpx"
	"github.com/garageflow/garageflow/libs/metrics"
	otelx "github.com/garageflow/garageflow/libs/otel"
	"github.com/garageflow/garageflow/libs/runtime"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type gatewayConfig struct {
	ServiceName       string        `envconfig:"SERVICE_NAME" default:"gateway-service"`
	Port              string        `envconfig:"PORT" default:"8080"`
	JWTSecret         string        `envconfig:"JWT_SECRET"`
	JWTIssuer         string        `envconfig:"JWT_ISSUER"`
	JWKSURL           string        `envconfig:"JWKS_URL"`
	JWKSCacheTTL      time.Duration `envconfig:"JWKS_CACHE_TTL" default:"5m"`
	BookingURL        string        `envconfig:"BOOKING_URL" default:"http://localhost:8083"`
	BillingURL        string        `envconfig:"BILLING_URL" default:"http://localhost:8084"`
	RedisAddr         string        `envconfig:"REDIS_ADDR"`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD"`
	RedisDB           int           `envconfig:"REDIS_DB" default:"0"`
	RateLimitPerMin   int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`
	RateLimitFailOpen bool          `envconfig:"RATE_LIMIT_FAIL_OPEN" default:"true"`
	CORSOrigins       string        `envconfig:"CORS_ALLOWED_ORIGINS"`
	CORSMethods       string        `envconfig:"CORS_ALLOWED_METHODS"`
	CORSHeaders       string        `envconfig:"CORS_ALLOWED_HEADERS" default:"Authorization,Content-Type,Idempotency-Key,X-Request-Id"`
	CORSCredentials   bool          `envconfig:"CORS_ALLOW_CREDENTIALS"`
	CORSMaxAge        time.Duration `envconfig:"CORS_MAX_AGE" default:"10m"`
	BodyLimit         int64         `envconfig:"REQUEST_BODY_LIMIT_BYTES" default:"1048576"`
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
}

func loadConfig() (gatewayConfig, error) {
	var cfg gatewayConfig
	if err := config.Load("", &cfg); err != nil {
		return cfg, err
	}
	if _, err := config.ValidatePort("PORT", cfg.Port); err != nil {
		return cfg, err
	}
	if cfg.JWTSecret == "" && cfg.JWKSURL == "" {
		return cfg, errNoVerifier
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 60
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

	verifier := auth.Verifier{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, Leeway: 30 * time.Second}
	if cfg.JWKSURL != "" {
		verifier.Keys = auth.NewJWKSClient(cfg.JWKSURL, cfg.JWKSCacheTTL)
	}

	upstreams, err := newUpstreams(cfg.BookingURL, cfg.BillingURL)
	if err != nil {
		logger.Error("invalid upstream url", "err", err)
		os.Exit(1)
	}

	var checks []runtime.ReadyCheck
	var limiter httpx.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		limiter = httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMin, time.Minute, "gateway:rl:")
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	} else {
		limiter = httpx.NewMemoryRateLimiter(cfg.RateLimitPerMin, time.Minute)
	}

	reg := metrics.New(cfg.ServiceName)
	mux := runtime.NewBaseMux(reg.Handler(), checks...)
	registerRoutes(mux, verifier, upstreams)

	rateLimit := httpx.RateLimit(limiter, cfg.RateLimitFailOpen, func(err error) {
		reg.Degraded("rate_limiter")
		logger.Warn("rate limiter unavailable", "err", err, "fail_open", cfg.RateLimitFailOpen)
	})
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List(cfg.CORSOrigins),
			AllowedMethods:   config.List(cfg.CORSMethods),
			AllowedHeaders:   config.List(cfg.CORSHeaders),
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: cfg.CORSCredentials,
			MaxAge:           cfg.CORSMaxAge,
		}),
		rateLimit,
		httpx.WithBodyLimit(cfg.BodyLimit),
		httpx.WithTimeout(cfg.RequestTimeout),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(httpHandler, "gateway"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("gateway configured",
		"booking", cfg.BookingURL,
		"billing", cfg.BillingURL,
		"jwks", cfg.JWKSURL != "",
		"redis_rate_limit", cfg.RedisAddr != "",
	)
	runtime.ServeHTTP(ctx, srv, logger)
}
