package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/study-analytics-api/internal/models"
)

// ErrDuplicateRegistration is returned when (course_id, user_id) already exists.
var ErrDuplicateRegistration = errors.New("registration already exists")

const registrationColumns = `id, course_id, user_id, username, update_frequency, auto_update_time,
manual_update_time, time_last_data_sent, created_at`

// RegistrationRepository persists study analytics course registrations.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// Get returns the registration of courseID by userID or sql.ErrNoRows.
func (r *RegistrationRepository) Get(ctx context.Context, courseID, userID int64) (*models.CourseRegistration, error) {
	query := `SELECT ` + registrationColumns + ` FROM study_analytics_courses WHERE course_id = $1 AND user_id = $2`
	var reg models.CourseRegistration
	if err := r.db.GetContext(ctx, &reg, query, courseID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return &reg, nil
}

// ListScheduled returns registrations with automatic updates enabled.
func (r *RegistrationRepository) ListScheduled(ctx context.Context) ([]models.CourseRegistration, error) {
	query := `SELECT ` + registrationColumns + ` FROM study_analytics_courses WHERE update_frequency <> 0 ORDER BY id ASC`
	var regs []models.CourseRegistration
	if err := r.db.SelectContext(ctx, &regs, query); err != nil {
		return nil, fmt.Errorf("list scheduled registrations: %w", err)
	}
	return regs, nil
}

// Create inserts a registration and fills its id.
func (r *RegistrationRepository) Create(ctx context.Context, reg *models.CourseRegistration) error {
	const query = `INSERT INTO study_analytics_courses (course_id, user_id, username, update_frequency,
auto_update_time, manual_update_time, time_last_data_sent, created_at)
VALUES (:course_id, :user_id, :username, :update_frequency, :auto_update_time, :manual_update_time,
:time_last_data_sent, :created_at) RETURNING id`
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	rows, err := r.db.NamedQueryContext(ctx, query, reg)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateRegistration
		}
		return fmt.Errorf("create registration: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&reg.ID); err != nil {
			return fmt.Errorf("scan registration id: %w", err)
		}
	}
	return rows.Err()
}

// Delete removes the registration of courseID by userID.
func (r *RegistrationRepository) Delete(ctx context.Context, courseID, userID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM study_analytics_courses WHERE course_id = $1 AND user_id = $2`, courseID, userID)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	return expectAffected(res)
}

// UpdateFrequency sets the automatic update interval.
func (r *RegistrationRepository) UpdateFrequency(ctx context.Context, courseID, userID int64, freq models.UpdateFrequency) error {
	return r.setColumn(ctx, "update_frequency", int64(freq), courseID, userID)
}

// TouchAutoUpdate records when the scheduler last enqueued an export.
func (r *RegistrationRepository) TouchAutoUpdate(ctx context.Context, courseID, userID, at int64) error {
	return r.setColumn(ctx, "auto_update_time", at, courseID, userID)
}

// TouchManualUpdate records when the lecturer last triggered an export.
func (r *RegistrationRepository) TouchManualUpdate(ctx context.Context, courseID, userID, at int64) error {
	return r.setColumn(ctx, "manual_update_time", at, courseID, userID)
}

// TouchDataSent records when a page of records was last accepted by the sink.
func (r *RegistrationRepository) TouchDataSent(ctx context.Context, courseID, userID, at int64) error {
	return r.setColumn(ctx, "time_last_data_sent", at, courseID, userID)
}

// setColumn updates one column so concurrent writers of other timestamps are not overwritten.
func (r *RegistrationRepository) setColumn(ctx context.Context, column string, value, courseID, userID int64) error {
	query := fmt.Sprintf(`UPDATE study_analytics_courses SET %s = $1 WHERE course_id = $2 AND user_id = $3`, column)
	res, err := r.db.ExecContext(ctx, query, value, courseID, userID)
	if err != nil {
		return fmt.Errorf("update registration %s: %w", column, err)
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
