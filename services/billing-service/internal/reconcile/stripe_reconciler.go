package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/garageflow/garageflow/libs/db"
	"github.com/garageflow/garageflow/services/billing-service/internal/storage"
	"github.com/garageflow/garageflow/services/billing-service/internal/subscriptions"
	"github.com/stripe/stripe-go/v79"
	stripesubscription "github.com/stripe/stripe-go/v79/subscription"
)

// SubscriptionFetcher reads a subscription from Stripe.
type SubscriptionFetcher interface {
	Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// Store is implemented by storage.Repository.
type Store interface {
	WithTx(ctx context.Context, fn func(storage.Tx) error) error
	ListStripeSubscriptionsForReconcile(ctx context.Context, limit int) ([]storage.Subscription, error)
}

// StripeReconciler re-reads Stripe subscriptions to repair state from missed
// webhooks. Only the instance holding the advisory lock runs.
type StripeReconciler struct {
	pool        *db.Pool
	store       Store
	subSvc      *subscriptions.Service
	fetcher     SubscriptionFetcher
	logger      *slog.Logger
	batchSize   int
	advisoryKey int64
	now         func() time.Time
}

type StripeReconcilerConfig struct {
	StripeSecretKey string
	BatchSize       int
	AdvisoryLockKey int64
}

var ErrStripeKeyMissing = errors.New("stripe secret key not configured")

func NewStripeReconciler(pool *db.Pool, store Store, subSvc *subscriptions.Service, logger *slog.Logger, cfg StripeReconcilerConfig) (*StripeReconciler, error) {
	key := strings.TrimSpace(cfg.StripeSecretKey)
	if key == "" {
		return nil, ErrStripeKeyMissing
	}
	fetcher := &stripesubscription.Client{B: stripe.GetBackend(stripe.APIBackend), Key: key}
	return newReconciler(pool, store, subSvc, fetcher, logger, cfg), nil
}

func newReconciler(pool *db.Pool, store Store, subSvc *subscriptions.Service, fetcher SubscriptionFetcher, logger *slog.Logger, cfg StripeReconcilerConfig) *StripeReconciler {
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = 50
	}
	lockKey := cfg.AdvisoryLockKey
	if lockKey == 0 {
		lockKey = 4242001
	}
	return &StripeReconciler{
		pool:        pool,
		store:       store,
		subSvc:      subSvc,
		fetcher:     fetcher,
		logger:      logger,
		batchSize:   bs,
		advisoryKey: lockKey,
		now:         time.Now,
	}
}

// Run waits for the advisory lock, then reconciles every interval until ctx ends.
func (r *StripeReconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	release, ok := r.acquireLock(ctx)
	if !ok {
		return
	}
	defer release()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.ReconcileOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

// acquireLock pins one connection for the session-level advisory lock.
func (r *StripeReconciler) acquireLock(ctx context.Context) (func(), bool) {
	for {
		conn, err := r.pool.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false
			}
			r.logger.Error("stripe reconcile: acquire connection failed", "err", err)
			if !sleep(ctx, 5*time.Second) {
				return nil, false
			}
			continue
		}
		var locked bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.advisoryKey).Scan(&locked); err != nil || !locked {
			conn.Release()
			if err != nil {
				r.logger.Error("stripe reconcile: advisory lock failed", "err", err)
			} else {
				r.logger.Debug("stripe reconcile: advisory lock held elsewhere", "lock_key", r.advisoryKey)
			}
			if !sleep(ctx, 30*time.Second) {
				return nil, false
			}
			continue
		}
		r.logger.Info("stripe reconcile: advisory lock acquired", "lock_key", r.advisoryKey)
		return func() {
			_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.advisoryKey)
			conn.Release()
		}, true
	}
}

// ReconcileOnce applies Stripe's view of one batch of subscriptions and
// returns how many were changed.
func (r *StripeReconciler) ReconcileOnce(ctx context.Context) int {
	subs, err := r.store.ListStripeSubscriptionsForReconcile(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("stripe reconcile: list subscriptions failed", "err", err)
		return 0
	}

	changed := 0
	for _, s := range subs {
		if ctx.Err() != nil {
			break
		}
		remote, err := r.fetcher.Get(s.StripeSubscriptionID, nil)
		if err != nil {
			r.logger.Warn("stripe reconcile: fetch failed", "err", err, "stripe_subscription_id", s.StripeSubscriptionID, "tenant_id", s.TenantID)
			continue
		}

		occurredAt := r.now()
		if remote.CanceledAt > 0 {
			occurredAt = time.Unix(remote.CanceledAt, 0)
		}
		c := subscriptions.FromStripe(remote, occurredAt.UTC())
		c.TenantID = s.TenantID
		if c.Plan == "" {
			// Missing metadata keeps the stored plan.
			c.Plan = s.Plan
		}

		var emitted bool
		err = r.store.WithTx(ctx, func(tx storage.Tx) error {
			var err error
			if subscriptions.Entitled(remote.Status) {
				emitted, err = r.subSvc.ApplyActivated(ctx, tx, c)
			} else {
				emitted, err = r.subSvc.ApplyCanceled(ctx, tx, c)
			}
			return err
		})
		if err != nil {
			r.logger.Warn("stripe reconcile: apply failed", "err", err, "tenant_id", s.TenantID, "stripe_subscription_id", remote.ID)
			continue
		}
		if emitted {
			changed++
			r.logger.Info("stripe reconcile: subscription repaired", "tenant_id", s.TenantID, "status", remote.Status)
		}
	}
	return changed
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
