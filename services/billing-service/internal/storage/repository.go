package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/garageflow/garageflow/libs/db"
	"github.com/garageflow/garageflow/libs/outbox"
	"github.com/garageflow/garageflow/libs/plans"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateProviderEvent = errors.New("duplicate provider event")
)

type Subscription struct {
	TenantID             string
	Plan                 plans.Plan
	Status               string
	Provider             string
	StripeCustomerID     string
	StripeSubscriptionID string
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	UpdatedAt            time.Time
}

// Effective is the plan the tenant is entitled to right now.
func (s Subscription) Effective() plans.Plan {
	if s.Status != "active" && s.Status != "trialing" {
		return plans.Free
	}
	return plans.ParsePlan(string(s.Plan))
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

type APIKey struct {
	ID        string
	TenantID  string
	Name      string
	Prefix    string
	KeyHash   string
	CreatedAt time.Time
}

// Tx is the unit of work used by subscription and usage writes.
type Tx interface {
	GetSubscriptionForUpdate(ctx context.Context, tenantID string) (Subscription, bool, error)
	UpsertSubscription(ctx context.Context, s Subscription) error
	InsertProviderEvent(ctx context.Context, evt ProviderEvent) error
	LockStorage(ctx context.Context, tenantID string) (int64, error)
	AddStorage(ctx context.Context, tenantID string, bytes int64) (int64, error)
	InsertAPIKey(ctx context.Context, key APIKey) error
	InsertEvent(ctx context.Context, evt outbox.Event) error
}

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

// WithTx runs fn in a transaction that commits when fn returns nil.
func (r *Repository) WithTx(ctx context.Context, fn func(Tx) error) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, outbox: r.outbox})
	})
}

const subscriptionColumns = `tenant_id::text, plan, status, provider,
		COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
		current_period_start, current_period_end, updated_at`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var s Subscription
	var plan string
	err := row.Scan(&s.TenantID, &plan, &s.Status, &s.Provider, &s.StripeCustomerID, &s.StripeSubscriptionID,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.UpdatedAt)
	s.Plan = plans.Plan(plan)
	return s, err
}

func (r *Repository) GetSubscription(ctx context.Context, tenantID string) (Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE tenant_id = $1
	`, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	return s, err
}

// GetUsage returns the appointment count of the period starting at
// periodStart and the tenant's stored bytes. Missing rows read as zero.
func (r *Repository) GetUsage(ctx context.Context, tenantID string, periodStart time.Time) (plans.Usage, error) {
	var u plans.Usage
	err := r.pool.QueryRow(ctx, `
		SELECT
		  COALESCE((SELECT appointments_used FROM tenant_usage WHERE tenant_id = $1 AND period_start = $2), 0),
		  COALESCE((SELECT bytes_used FROM tenant_storage WHERE tenant_id = $1), 0)
	`, tenantID, periodStart).Scan(&u.AppointmentsUsed, &u.StorageUsed)
	return u, err
}

// IncrementAppointments bumps the counter of the period starting at periodStart.
func (r *Repository) IncrementAppointments(ctx context.Context, tenantID string, periodStart time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_usage (tenant_id, period_start, appointments_used)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, period_start)
		DO UPDATE SET appointments_used = tenant_usage.appointments_used + 1,
		              updated_at = now()
	`, tenantID, periodStart)
	return err
}

// DecrementAppointments releases one appointment from the period starting at
// periodStart. The counter never goes below zero.
func (r *Repository) DecrementAppointments(ctx context.Context, tenantID string, periodStart time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tenant_usage
		SET appointments_used = GREATEST(appointments_used - 1, 0),
		    updated_at = now()
		WHERE tenant_id = $1 AND period_start = $2
	`, tenantID, periodStart)
	return err
}

func (r *Repository) ListStripeSubscriptionsForReconcile(ctx context.Context, limit int) ([]Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE provider = 'stripe' AND COALESCE(stripe_subscription_id, '') <> ''
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) GetSubscriptionForUpdate(ctx context.Context, tenantID string) (Subscription, bool, error) {
	s, err := scanSubscription(t.tx.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE tenant_id = $1
		FOR UPDATE
	`, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, false, nil
	}
	if err != nil {
		return Subscription{}, false, err
	}
	return s, true, nil
}

func (t *pgTx) UpsertSubscription(ctx context.Context, s Subscription) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO subscriptions (tenant_id, plan, status, provider, stripe_customer_id, stripe_subscription_id, current_period_start, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id)
		DO UPDATE SET plan = EXCLUDED.plan,
		              status = EXCLUDED.status,
		              provider = EXCLUDED.provider,
		              stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscriptions.stripe_customer_id),
		              stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, subscriptions.stripe_subscription_id),
		              current_period_start = COALESCE(EXCLUDED.current_period_start, subscriptions.current_period_start),
		              current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
		              updated_at = now()
	`, s.TenantID, string(s.Plan), s.Status, defaultIfEmpty(s.Provider, "local"),
		nullIfEmpty(s.StripeCustomerID), nullIfEmpty(s.StripeSubscriptionID), s.CurrentPeriodStart, s.CurrentPeriodEnd)
	return err
}

func (t *pgTx) InsertProviderEvent(ctx context.Context, evt ProviderEvent) error {
	if !json.Valid(evt.Payload) {
		return errors.New("provider event payload is not valid json")
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, json.RawMessage(evt.Payload))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

// LockStorage returns the tenant's stored bytes and holds the row until commit.
func (t *pgTx) LockStorage(ctx context.Context, tenantID string) (int64, error) {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO tenant_storage (tenant_id) VALUES ($1)
		ON CONFLICT (tenant_id) DO NOTHING
	`, tenantID); err != nil {
		return 0, err
	}
	var used int64
	err := t.tx.QueryRow(ctx, `
		SELECT bytes_used FROM tenant_storage WHERE tenant_id = $1 FOR UPDATE
	`, tenantID).Scan(&used)
	return used, err
}

func (t *pgTx) AddStorage(ctx context.Context, tenantID string, bytes int64) (int64, error) {
	var used int64
	err := t.tx.QueryRow(ctx, `
		UPDATE tenant_storage
		SET bytes_used = GREATEST(bytes_used + $2, 0), updated_at = now()
		WHERE tenant_id = $1
		RETURNING bytes_used
	`, tenantID, bytes).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return used, err
}

func (t *pgTx) InsertAPIKey(ctx context.Context, key APIKey) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO api_keys (id, tenant_id, name, prefix, key_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, key.ID, key.TenantID, key.Name, key.Prefix, key.KeyHash, key.CreatedAt)
	return err
}

func (t *pgTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func defaultIfEmpty(s string, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
