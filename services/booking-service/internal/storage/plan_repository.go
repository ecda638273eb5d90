package storage

import (
	"context"
	"time"

	"github.com/garageflow/garageflow/libs/db"
	"github.com/garageflow/garageflow/libs/plans"
)

// PlanRepository maintains the tenant_plans cache fed by billing events.
type PlanRepository struct {
	pool *db.Pool
}

func NewPlanRepository(pool *db.Pool) *PlanRepository {
	return &PlanRepository{pool: pool}
}

// UpsertTenantPlan applies a plan change unless a newer one is already stored.
func (r *PlanRepository) UpsertTenantPlan(ctx context.Context, tenantID string, plan plans.Plan, status string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_plans (tenant_id, plan, status, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id)
		DO UPDATE SET plan = EXCLUDED.plan,
		              status = EXCLUDED.status,
		              updated_at = EXCLUDED.updated_at
		WHERE tenant_plans.updated_at <= EXCLUDED.updated_at
	`, tenantID, string(plan), status, at)
	return err
}
