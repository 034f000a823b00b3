package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/campusworks/registrar-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestAdmissionRepositoryReserveAndConfirm(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAdmissionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_sections")).
		WithArgs("sec-1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record := &models.EnrollmentRecord{StudentID: "s1", SectionID: "sec-1"}
	ok, err := repo.ReserveAndConfirm(context.Background(), "sec-1", 7, record)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, record.ID)
	require.Equal(t, models.EnrollmentStatusConfirmed, record.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmissionRepositoryReserveLosesVersionCheck(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAdmissionRepository(db)

	// Version mismatch updates zero rows; the whole transaction rolls back
	// and no ledger row is written.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_sections")).
		WithArgs("sec-1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := repo.ReserveAndConfirm(context.Background(), "sec-1", 7, &models.EnrollmentRecord{
		StudentID: "s1", SectionID: "sec-1",
	})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmissionRepositoryReserveAndPromote(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAdmissionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_sections")).
		WithArgs("sec-1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments")).
		WithArgs("enr-1", string(models.EnrollmentStatusConfirmed)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.ReserveAndPromote(context.Background(), "sec-1", 3, "enr-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmissionRepositoryReleaseAndDrop(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAdmissionRepository(db)
	reason := "student_request"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_sections")).
		WithArgs("sec-1", int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments")).
		WithArgs("enr-1", string(models.EnrollmentStatusDropped), sqlmock.AnyArg(), reason).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.ReleaseAndDrop(context.Background(), "sec-1", 9, "enr-1", &reason)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
