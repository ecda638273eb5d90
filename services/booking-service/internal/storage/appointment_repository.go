package storage

import (
	"context"
	"errors"
	"time"

	"github.com/garageflow/garageflow/libs/db"
	"github.com/garageflow/garageflow/libs/outbox"
	"github.com/garageflow/garageflow/libs/plans"
	"github.com/garageflow/garageflow/services/booking-service/internal/availability"
	"github.com/garageflow/garageflow/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
)

// Tx is the unit of work used by booking writes.
type Tx interface {
	LockIdempotencyKey(ctx context.Context, tenantID, key string) (IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, tenantID, key, appointmentID string, statusCode int, response []byte) error
	TenantPlan(ctx context.Context, tenantID string) (plans.Plan, error)
	CountActiveCreatedBetween(ctx context.Context, tenantID string, from, to time.Time) (int64, error)
	InsertAppointment(ctx context.Context, appt model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error)
	CancelAppointment(ctx context.Context, tenantID, appointmentID, reason string) (time.Time, error)
	InsertEvent(ctx context.Context, evt outbox.Event) error
}

type IdempotencyRecord struct {
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

// Completed reports whether an earlier request already produced a response.
func (r IdempotencyRecord) Completed() bool {
	return r.StatusCode > 0
}

type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo}
}

// WithTx runs fn in a transaction that commits when fn returns nil.
func (r *AppointmentRepository) WithTx(ctx context.Context, fn func(Tx) error) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, outbox: r.outbox})
	})
}

// ListAppointments implements availability.AppointmentProvider.
func (r *AppointmentRepository) ListAppointments(ctx context.Context, workshopID string, from, to time.Time) ([]availability.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, scheduled_at, duration_minutes, status
		FROM appointments
		WHERE workshop_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at <= $3
		  AND status <> 'cancelled'
		ORDER BY scheduled_at
	`, workshopID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.Appointment
	for rows.Next() {
		var a availability.Appointment
		if err := rows.Scan(&a.ID, &a.ScheduledAt, &a.DurationMinutes, &a.Status); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AppointmentRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

const appointmentColumns = `id::text, tenant_id::text, workshop_id::text, COALESCE(vehicle_id::text, ''),
		service_type, scheduled_at, duration_minutes, status, customer_name,
		COALESCE(customer_email, ''), COALESCE(customer_phone, ''),
		cancelled_at, COALESCE(cancellation_reason, ''), created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(&a.ID, &a.TenantID, &a.WorkshopID, &a.VehicleID,
		&a.ServiceType, &a.ScheduledAt, &a.DurationMinutes, &a.Status, &a.CustomerName,
		&a.CustomerEmail, &a.CustomerPhone,
		&a.CancelledAt, &a.CancelReason, &a.CreatedAt)
	return a, err
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

// LockIdempotencyKey reserves key for the tenant and returns the stored
// record. The bool is true when the key existed before this call.
func (t *pgTx) LockIdempotencyKey(ctx context.Context, tenantID, key string) (IdempotencyRecord, bool, error) {
	rec, err := t.selectIdempotencyForUpdate(ctx, tenantID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (tenant_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
	`, tenantID, key); err != nil {
		return IdempotencyRecord{}, false, err
	}
	rec, err = t.selectIdempotencyForUpdate(ctx, tenantID, key)
	return rec, false, err
}

func (t *pgTx) selectIdempotencyForUpdate(ctx context.Context, tenantID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var payload string
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(appointment_id::text, ''), COALESCE(status_code, 0), COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, tenantID, key).Scan(&rec.AppointmentID, &rec.StatusCode, &payload)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if payload != "" {
		rec.ResponsePayload = []byte(payload)
	}
	return rec, nil
}

func (t *pgTx) FinalizeIdempotency(ctx context.Context, tenantID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
		    status_code = $4,
		    response_payload = $5,
		    updated_at = now()
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key, nullIfEmpty(appointmentID), statusCode, string(response))
	return err
}

// TenantPlan reads the locally cached plan; a tenant never seen is on free.
func (t *pgTx) TenantPlan(ctx context.Context, tenantID string) (plans.Plan, error) {
	var raw string
	err := t.tx.QueryRow(ctx, `SELECT plan FROM tenant_plans WHERE tenant_id = $1`, tenantID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return plans.Free, nil
	}
	if err != nil {
		return plans.Free, err
	}
	return plans.ParsePlan(raw), nil
}

func (t *pgTx) CountActiveCreatedBetween(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE tenant_id = $1
		  AND status <> 'cancelled'
		  AND created_at >= $2
		  AND created_at < $3
	`, tenantID, from, to).Scan(&n)
	return n, err
}

func (t *pgTx) InsertAppointment(ctx context.Context, a model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, tenant_id, workshop_id, vehicle_id, service_type, scheduled_at, ends_at, duration_minutes,
			 status, customer_name, customer_email, customer_phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, COALESCE($13, now()))
	`, a.ID, a.TenantID, a.WorkshopID, nullIfEmpty(a.VehicleID), a.ServiceType, a.ScheduledAt, a.EndsAt(), a.DurationMinutes,
		a.Status, a.CustomerName, nullIfEmpty(a.CustomerEmail), nullIfEmpty(a.CustomerPhone), nullIfZero(a.CreatedAt))
	if db.IsExclusionViolation(err) {
		return ErrSlotTaken
	}
	return err
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE
	`, appointmentID, tenantID)
	appt, err := scanAppointment(row)
	return appt, notFound(err)
}

func (t *pgTx) CancelAppointment(ctx context.Context, tenantID, appointmentID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancelled_at = now(),
		    cancellation_reason = $3
		WHERE id = $1 AND tenant_id = $2
		RETURNING cancelled_at
	`, appointmentID, tenantID, nullIfEmpty(reason)).Scan(&cancelledAt)
	return cancelledAt, notFound(err)
}

func (t *pgTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}
