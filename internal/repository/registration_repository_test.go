package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/study-analytics-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return sqlxDB, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

var registrationCols = []string{"id", "course_id", "user_id", "username", "update_frequency", "auto_update_time",
	"manual_update_time", "time_last_data_sent", "created_at"}

func TestRegistrationRepositoryGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectQuery("SELECT id, course_id").
		WithArgs(int64(7), int64(3)).
		WillReturnRows(sqlmock.NewRows(registrationCols).AddRow(1, 7, 3, "jane.doe@example.com", 2, 10, 20, 30, time.Now()))

	reg, err := repo.Get(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.Equal(t, models.UpdateFrequencyWeekly, reg.UpdateFrequency)
	assert.Equal(t, int64(30), reg.TimeLastDataSent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryGetMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectQuery("SELECT id, course_id").WithArgs(int64(7), int64(3)).WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), 7, 3)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestRegistrationRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectQuery("INSERT INTO study_analytics_courses").
		WithArgs(int64(7), int64(3), "jane", models.UpdateFrequencyNone, int64(0), int64(0), int64(0), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	reg := &models.CourseRegistration{CourseID: 7, UserID: 3, Username: "jane"}
	require.NoError(t, repo.Create(context.Background(), reg))
	assert.Equal(t, int64(11), reg.ID)
}

func TestRegistrationRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectQuery("INSERT INTO study_analytics_courses").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.CourseRegistration{CourseID: 7, UserID: 3})
	assert.True(t, errors.Is(err, ErrDuplicateRegistration))
}

func TestRegistrationRepositoryTouchDataSentIsNarrow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectExec(`UPDATE study_analytics_courses SET time_last_data_sent = \$1 WHERE course_id = \$2 AND user_id = \$3`).
		WithArgs(int64(1700000000), int64(7), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.TouchDataSent(context.Background(), 7, 3, 1700000000))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectExec("DELETE FROM study_analytics_courses").
		WithArgs(int64(7), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), 7, 3)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestRegistrationRepositoryListScheduled(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectQuery("WHERE update_frequency <> 0").
		WillReturnRows(sqlmock.NewRows(registrationCols).
			AddRow(1, 7, 3, "a", 1, 0, 0, 0, time.Now()).
			AddRow(2, 8, 3, "a", 3, 0, 0, 0, time.Now()))

	regs, err := repo.ListScheduled(context.Background())
	require.NoError(t, err)
	assert.Len(t, regs, 2)
}
