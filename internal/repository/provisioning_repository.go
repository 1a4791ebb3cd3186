package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/study-analytics-api/internal/models"
)

var stepColumns = map[models.ProvisioningStep]string{
	models.StepCreateUser:    "user_created_at",
	models.StepCreateSpace:   "space_created_at",
	models.StepCreateRole:    "role_created_at",
	models.StepCopyDashboard: "dashboard_copied_at",
}

// ProvisioningRepository persists onboarding progress per external identity.
type ProvisioningRepository struct {
	db *sqlx.DB
}

// NewProvisioningRepository constructs the repository.
func NewProvisioningRepository(db *sqlx.DB) *ProvisioningRepository {
	return &ProvisioningRepository{db: db}
}

// Get returns the stored state or an empty state when the identity is unknown.
func (r *ProvisioningRepository) Get(ctx context.Context, identity string) (*models.ProvisioningState, error) {
	const query = `SELECT identity, user_created_at, space_created_at, role_created_at, dashboard_copied_at,
last_error, updated_at FROM analytics_provisioning WHERE identity = $1`
	var state models.ProvisioningState
	if err := r.db.GetContext(ctx, &state, query, identity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.ProvisioningState{Identity: identity}, nil
		}
		return nil, fmt.Errorf("get provisioning state: %w", err)
	}
	return &state, nil
}

// MarkStep records completion of step and clears the last error.
func (r *ProvisioningRepository) MarkStep(ctx context.Context, identity string, step models.ProvisioningStep, at time.Time) error {
	column, ok := stepColumns[step]
	if !ok {
		return fmt.Errorf("unknown provisioning step %q", step)
	}
	query := fmt.Sprintf(`INSERT INTO analytics_provisioning (identity, %[1]s, last_error, updated_at)
VALUES ($1, $2, NULL, $2)
ON CONFLICT (identity) DO UPDATE SET %[1]s = EXCLUDED.%[1]s, last_error = NULL, updated_at = EXCLUDED.updated_at`, column)
	if _, err := r.db.ExecContext(ctx, query, identity, at.UTC()); err != nil {
		return fmt.Errorf("mark provisioning step %s: %w", step, err)
	}
	return nil
}

// RecordError stores the failure message of the last attempt.
func (r *ProvisioningRepository) RecordError(ctx context.Context, identity, message string) error {
	const query = `INSERT INTO analytics_provisioning (identity, last_error, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (identity) DO UPDATE SET last_error = EXCLUDED.last_error, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, identity, message, time.Now().UTC()); err != nil {
		return fmt.Errorf("record provisioning error: %w", err)
	}
	return nil
}
