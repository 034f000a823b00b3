package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/campusworks/registrar-api/internal/models"
)

func enrollmentColumns() []string {
	return []string{"id", "student_id", "section_id", "status", "waitlist_position", "grade", "enrolled_at", "dropped_at", "drop_reason"}
}

func TestEnrollmentRepositoryFindActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows(enrollmentColumns()).
		AddRow("enr-1", "s1", "sec-1", "CONFIRMED", nil, nil, time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE student_id = $1 AND section_id = $2 AND status <> $3")).
		WithArgs("s1", "sec-1", string(models.EnrollmentStatusDropped)).
		WillReturnRows(rows)

	record, err := repo.FindActive(context.Background(), "s1", "sec-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusConfirmed, record.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryNextWaitlistedEmpty(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY waitlist_position ASC, enrolled_at ASC LIMIT 1")).
		WithArgs("sec-1", string(models.EnrollmentStatusWaitlisted)).
		WillReturnRows(sqlmock.NewRows(enrollmentColumns()))

	record, err := repo.NextWaitlisted(context.Background(), "sec-1")
	require.NoError(t, err)
	require.Nil(t, record)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryNextWaitlistedReturnsHead(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows(enrollmentColumns()).
		AddRow("enr-2", "s2", "sec-1", "WAITLISTED", 1, nil, time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY waitlist_position ASC, enrolled_at ASC LIMIT 1")).
		WithArgs("sec-1", string(models.EnrollmentStatusWaitlisted)).
		WillReturnRows(rows)

	record, err := repo.NextWaitlisted(context.Background(), "sec-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "s2", record.StudentID)
	require.Equal(t, 1, *record.WaitlistPosition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCompactWaitlist(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET waitlist_position = waitlist_position - 1")).
		WithArgs("sec-1", string(models.EnrollmentStatusWaitlisted), 2).
		WillReturnResult(sqlmock.NewResult(0, 4))

	require.NoError(t, repo.CompactWaitlist(context.Background(), "sec-1", 2))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDrop(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	reason := "student_request"

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, waitlist_position = NULL")).
		WithArgs("enr-1", string(models.EnrollmentStatusDropped), sqlmock.AnyArg(), reason).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Drop(context.Background(), "enr-1", &reason))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryWaitlistQueries(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments")).
		WithArgs("sec-1", string(models.EnrollmentStatusWaitlisted)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	count, err := repo.WaitlistCount(context.Background(), "sec-1")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	rows := sqlmock.NewRows([]string{"waitlist_position", "enrolled_at"}).
		AddRow(1, time.Now()).
		AddRow(2, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT waitlist_position, enrolled_at FROM enrollments")).
		WithArgs("sec-1", string(models.EnrollmentStatusWaitlisted)).
		WillReturnRows(rows)
	entries, err := repo.ListWaitlist(context.Background(), "sec-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, 1, entries[0].Position)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryAppend(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO admission_audit")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	jobID := "job-1"
	entry := &models.AuditEntry{
		StudentID: "s1",
		SectionID: "sec-1",
		JobID:     &jobID,
		Action:    models.AuditActionEnroll,
	}
	require.NoError(t, repo.Append(context.Background(), entry))
	require.NotEmpty(t, entry.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
