package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garageflow/garageflow/libs/db"
	"github.com/garageflow/garageflow/services/booking-service/internal/availability"
	"github.com/jackc/pgx/v5"
)

type HoursRepository struct {
	pool *db.Pool
}

func NewHoursRepository(pool *db.Pool) *HoursRepository {
	return &HoursRepository{pool: pool}
}

// GetWorkingHours returns availability.ErrHoursNotFound when the workshop has
// no stored schedule.
func (r *HoursRepository) GetWorkingHours(ctx context.Context, workshopID string) (availability.WorkingHours, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT hours FROM workshop_hours WHERE workshop_id = $1
	`, workshopID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, availability.ErrHoursNotFound
	}
	if err != nil {
		return nil, err
	}
	var wh availability.WorkingHours
	if err := json.Unmarshal(raw, &wh); err != nil {
		return nil, fmt.Errorf("decode working hours of %s: %w", workshopID, err)
	}
	return wh.Normalize()
}

// UpsertWorkingHours stores wh for workshopID. The first tenant to write a
// workshop owns it; later writes by another tenant get ErrTenantMismatch.
func (r *HoursRepository) UpsertWorkingHours(ctx context.Context, tenantID, workshopID string, wh availability.WorkingHours) error {
	raw, err := json.Marshal(wh)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO workshop_hours (workshop_id, tenant_id, hours)
		VALUES ($1, $2, $3)
		ON CONFLICT (workshop_id)
		DO UPDATE SET hours = EXCLUDED.hours,
		              updated_at = now()
		WHERE workshop_hours.tenant_id = EXCLUDED.tenant_id
	`, workshopID, tenantID, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantMismatch
	}
	return nil
}
