package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusworks/registrar-api/internal/models"
	"github.com/campusworks/registrar-api/pkg/dispatch"
)

// registrarStub is an in-memory stand-in for the section, enrollment and job
// tables, including the version-checked seat transitions.
type registrarStub struct {
	sections map[string]*models.CourseSection
	records  []*models.EnrollmentRecord
	jobs     map[string]*models.AdmissionJob

	forceSeatConflict bool
}

func newRegistrarStub() *registrarStub {
	return &registrarStub{
		sections: map[string]*models.CourseSection{},
		jobs:     map[string]*models.AdmissionJob{},
	}
}

func (s *registrarStub) addSection(id string, capacity int) *models.CourseSection {
	section := &models.CourseSection{
		ID:          id,
		CourseCode:  "CS-" + id,
		Title:       "Section " + id,
		Credits:     3,
		Status:      models.SectionStatusOpen,
		MaxCapacity: capacity,
		Version:     1,
	}
	s.sections[id] = section
	return section
}

func (s *registrarStub) addJob(studentID, sectionID string, requestType models.RequestType) *models.AdmissionJob {
	job := &models.AdmissionJob{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		SectionID:   sectionID,
		RequestType: requestType,
		State:       models.JobStateQueued,
		CreatedAt:   time.Now().UTC(),
	}
	s.jobs[job.ID] = job
	return job
}

func (s *registrarStub) FindByID(ctx context.Context, id string) (*models.CourseSection, error) {
	section, ok := s.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *section
	return &cp, nil
}

func (s *registrarStub) GetByID(ctx context.Context, id string) (*models.AdmissionJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *job
	return &cp, nil
}

func (s *registrarStub) MarkActive(ctx context.Context, id string) error {
	job, ok := s.jobs[id]
	if !ok || job.State.Terminal() {
		return nil
	}
	job.State = models.JobStateActive
	job.Attempt++
	return nil
}

func (s *registrarStub) Complete(ctx context.Context, id, result string) error {
	job, ok := s.jobs[id]
	if !ok || job.State.Terminal() {
		return nil
	}
	job.State = models.JobStateCompleted
	job.Result = &result
	return nil
}

func (s *registrarStub) Fail(ctx context.Context, id, message string) error {
	job, ok := s.jobs[id]
	if !ok || job.State.Terminal() {
		return nil
	}
	job.State = models.JobStateFailed
	job.Error = &message
	return nil
}

func (s *registrarStub) FindActive(ctx context.Context, studentID, sectionID string) (*models.EnrollmentRecord, error) {
	for _, rec := range s.records {
		if rec.StudentID == studentID && rec.SectionID == sectionID && rec.Status != models.EnrollmentStatusDropped {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *registrarStub) FindLatest(ctx context.Context, studentID, sectionID string) (*models.EnrollmentRecord, error) {
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].StudentID == studentID && s.records[i].SectionID == sectionID {
			cp := *s.records[i]
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *registrarStub) Create(ctx context.Context, record *models.EnrollmentRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.EnrolledAt.IsZero() {
		record.EnrolledAt = time.Now().UTC()
	}
	cp := *record
	s.records = append(s.records, &cp)
	return nil
}

func (s *registrarStub) Drop(ctx context.Context, id string, reason *string) error {
	for _, rec := range s.records {
		if rec.ID == id {
			rec.Status = models.EnrollmentStatusDropped
			rec.WaitlistPosition = nil
			rec.DropReason = reason
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *registrarStub) WaitlistCount(ctx context.Context, sectionID string) (int, error) {
	count := 0
	for _, rec := range s.records {
		if rec.SectionID == sectionID && rec.Status == models.EnrollmentStatusWaitlisted {
			count++
		}
	}
	return count, nil
}

func (s *registrarStub) NextWaitlisted(ctx context.Context, sectionID string) (*models.EnrollmentRecord, error) {
	var head *models.EnrollmentRecord
	for _, rec := range s.records {
		if rec.SectionID != sectionID || rec.Status != models.EnrollmentStatusWaitlisted {
			continue
		}
		if head == nil || *rec.WaitlistPosition < *head.WaitlistPosition {
			head = rec
		}
	}
	if head == nil {
		return nil, nil
	}
	cp := *head
	return &cp, nil
}

func (s *registrarStub) CompactWaitlist(ctx context.Context, sectionID string, removedPosition int) error {
	for _, rec := range s.records {
		if rec.SectionID == sectionID && rec.Status == models.EnrollmentStatusWaitlisted &&
			rec.WaitlistPosition != nil && *rec.WaitlistPosition > removedPosition {
			*rec.WaitlistPosition--
		}
	}
	return nil
}

func (s *registrarStub) ReserveAndConfirm(ctx context.Context, sectionID string, version int64, record *models.EnrollmentRecord) (bool, error) {
	if !s.reserve(sectionID, version) {
		return false, nil
	}
	record.Status = models.EnrollmentStatusConfirmed
	record.WaitlistPosition = nil
	return true, s.Create(ctx, record)
}

func (s *registrarStub) ReserveAndPromote(ctx context.Context, sectionID string, version int64, enrollmentID string) (bool, error) {
	if !s.reserve(sectionID, version) {
		return false, nil
	}
	for _, rec := range s.records {
		if rec.ID == enrollmentID {
			rec.Status = models.EnrollmentStatusConfirmed
			rec.WaitlistPosition = nil
		}
	}
	return true, nil
}

func (s *registrarStub) ReleaseAndDrop(ctx context.Context, sectionID string, version int64, enrollmentID string, reason *string) (bool, error) {
	section, ok := s.sections[sectionID]
	if !ok || s.forceSeatConflict || section.Version != version || section.CurrentEnrollment <= 0 {
		return false, nil
	}
	section.CurrentEnrollment--
	section.Version++
	if section.Status == models.SectionStatusFull {
		section.Status = models.SectionStatusOpen
	}
	return true, s.Drop(ctx, enrollmentID, reason)
}

func (s *registrarStub) reserve(sectionID string, version int64) bool {
	section, ok := s.sections[sectionID]
	if !ok || s.forceSeatConflict || section.Version != version || section.CurrentEnrollment >= section.MaxCapacity {
		return false
	}
	section.CurrentEnrollment++
	section.Version++
	if section.CurrentEnrollment >= section.MaxCapacity {
		section.Status = models.SectionStatusFull
	}
	return true
}

type checkerStub struct {
	rejections map[string]*Rejection
}

func (c *checkerStub) CheckAdd(ctx context.Context, studentID string, section *models.CourseSection) (*Rejection, error) {
	if c.rejections == nil {
		return nil, nil
	}
	return c.rejections[studentID], nil
}

type auditStub struct {
	entries []models.AuditEntry
}

func (a *auditStub) Append(ctx context.Context, entry *models.AuditEntry) error {
	a.entries = append(a.entries, *entry)
	return nil
}

func (a *auditStub) actions() []string {
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type cacheStub struct {
	deleted []string
}

func (c *cacheStub) Delete(ctx context.Context, keys ...string) error {
	c.deleted = append(c.deleted, keys...)
	return nil
}

func newTestWorker(stub *registrarStub, checker *checkerStub, audit *auditStub) *AdmissionWorker {
	if checker == nil {
		checker = &checkerStub{}
	}
	if audit == nil {
		audit = &auditStub{}
	}
	return NewAdmissionWorker(stub, stub, stub, stub, checker, audit, &cacheStub{}, nil, nil, zap.NewNop(),
		AdmissionWorkerConfig{MaxAttempts: 3, RetryBaseDelay: time.Millisecond})
}

func handle(t *testing.T, w *AdmissionWorker, job *models.AdmissionJob) {
	t.Helper()
	require.NoError(t, w.Handle(context.Background(), dispatch.Task{ID: job.ID, Key: job.SectionID}))
}

func TestWorkerAdmitsUntilCapacityThenWaitlists(t *testing.T) {
	stub := newRegistrarStub()
	stub.addSection("sec-1", 2)
	w := newTestWorker(stub, nil, nil)

	students := []string{"s1", "s2", "s3", "s4"}
	for _, id := range students {
		handle(t, w, stub.addJob(id, "sec-1", models.RequestTypeAdd))
	}

	confirmed, waitlisted := 0, 0
	positions := map[string]int{}
	for _, rec := range stub.records {
		switch rec.Status {
		case models.EnrollmentStatusConfirmed:
			confirmed++
		case models.EnrollmentStatusWaitlisted:
			waitlisted++
			positions[rec.StudentID] = *rec.WaitlistPosition
		}
	}
	assert.Equal(t, 2, confirmed)
	assert.Equal(t, 2, waitlisted)
	assert.Equal(t, 1, positions["s3"])
	assert.Equal(t, 2, positions["s4"])
	assert.Equal(t, 2, stub.sections["sec-1"].CurrentEnrollment)
	assert.Equal(t, models.SectionStatusFull, stub.sections["sec-1"].Status)

	for id, job := range stub.jobs {
		require.Equal(t, models.JobStateCompleted, job.State, "job %s", id)
		require.NotNil(t, job.Result)
	}
}

func TestWorkerRejectsMissingSection(t *testing.T) {
	stub := newRegistrarStub()
	w := newTestWorker(stub, nil, nil)

	job := stub.addJob("s1", "missing", models.RequestTypeAdd)
	handle(t, w, job)

	require.Equal(t, models.JobStateCompleted, stub.jobs[job.ID].State)
	assert.Equal(t, "rejected:section_not_found", *stub.jobs[job.ID].Result)
	assert.Empty(t, stub.records)
}

func TestWorkerRejectsInactiveSection(t *testing.T) {
	stub := newRegistrarStub()
	stub.addSection("sec-1", 10)
	stub.sections["sec-1"].Status = models.SectionStatusInactive
	w := newTestWorker(stub, nil, nil)

	job := stub.addJob("s1", "sec-1", models.RequestTypeAdd)
	handle(t, w, job)

	assert.Equal(t, "rejected:section_inactive", *stub.jobs[job.ID].Result)
	assert.Empty(t, stub.records)
}

func TestWorkerRejectsFailedValidation(t *testing.T) {
	stub := newRegistrarStub()
	stub.addSection("sec-1", 10)
	checker := &checkerStub{rejections: map[string]*Rejection{
		"s1": {Reason: models.ReasonPrerequisiteMissing, Message: "missing prerequisites: CS-101"},
	}}
	audit := &auditStub{}
	w := newTestWorker(stub, checker, audit)

	job := stub.addJob("s1", "sec-1", models.RequestTypeAdd)
	handle(t, w, job)

	require.Equal(t, models.JobStateCompleted, stub.jobs[job.ID].State)
	assert.Equal(t, "rejected:prerequisite_missing", *stub.jobs[job.ID].Result)
	assert.Empty(t, stub.records)
	assert.Equal(t, 0, stub.sections["sec-1"].CurrentEnrollment)
	assert.Contains(t, audit.actions(), models.AuditActionReject)
}

func TestWorkerRedeliveryIsIdempotent(t *testing.T) {
	stub := newRegistrarStub()
	stub.addSection("sec-1", 5)
	w := newTestWorker(stub, nil, nil)

	job := stub.addJob("s1", "sec-1", models.RequestTypeAdd)
	handle(t, w, job)
	require.Len(t, stub.records, 1)

	// Simulate a redelivered task whose first attempt applied the effect but
	// died before resolving the job.
	stub.jobs[job.ID].State = models.JobStateActive
	stub.jobs[job.ID].Result = nil
	handle(t, w, job)

	assert.Len(t, stub.records, 1)
	assert.Equal(t, 1, stub.sections["sec-1"].CurrentEnrollment)
	require.Equal(t, models.JobStateCompleted, stub.jobs[job.ID].State)
	assert.Equal(t, models.JobResultEnrolled, *stub.jobs[job.ID].Result)
}

func TestWorkerSkipsTerminalJob(t *testing.T) {
	stub := newRegistrarStub()
	stub.addSection("sec-1", 5)
	w := newTestWorker(stub, nil, nil)

	job := stub.addJob("s1", "sec-1", models.RequestTypeAdd)
	result := models.JobResultEnrolled
	stub.jobs[job.ID].State = models.JobStateCompleted
	stub.jobs[job.ID].Result = &result

	handle(t, w, job)

	assert.Empty(t, stub.records)
	assert.Equal(t, 0, stub.sections["sec-1"].CurrentEnrollment)
}

func TestWorkerDropPromotesNextInLine(t *testing.T) {
	stub := newRegistrarStub()
	stub.addSection("sec-1", 1)
	audit := &auditStub{}
	w := newTestWorker(stub, nil, audit)

	for _, id := range []string{"s1", "s2", "s3"} {
		handle(t, w, stub.addJob(id, "sec-1", models.RequestTypeAdd))
	}

	dropJob := stub.addJob("s1", "sec-1", models.RequestTypeDrop)
	handle(t, w, dropJob)

	assert.Equal(t, models.JobResultDropped, *stub.jobs[dropJob.ID].Result)

	byStudent := map[string]*models.EnrollmentRecord{}
	for _, rec := range stub.records {
		if rec.Status != models.EnrollmentStatusDropped {
			byStudent[rec.StudentID] = rec
		}
	}
	require.NotNil(t, byStudent["s2"])
	assert.Equal(t, models.EnrollmentStatusConfirmed, byStudent["s2"].Status)
	require.NotNil(t, byStudent["s3"])
	assert.Equal(t, models.EnrollmentStatusWaitlisted, byStudent["s3"].Status)
	assert.Equal(t, 1, *byStudent["s3"].WaitlistPosition)

	assert.Equal(t, 1, stub.sections["sec-1"].CurrentEnrollment)
	assert.Contains(t, audit.actions(), models.AuditActionPromote)
}

func TestWorkerPromotionSkipsIneligibleCandidate(t *testing.T) {
	stub := newRegistrarStub()
	stub.addSection("sec-1", 1)
	checker := &checkerStub{rejections: map[string]*Rejection{}}
	audit := &auditStub{}
	w := newTestWorker(stub, checker, audit)

	for _, id := range []string{"s1", "s2", "s3"} {
		handle(t, w, stub.addJob(id, "sec-1", models.RequestTypeAdd))
	}

	// s2's schedule changed while waiting; promotion re-validates and skips.
	checker.rejections["s2"] = &Rejection{Reason: models.ReasonTimeConflict, Message: "time conflict with CS-200"}

	dropJob := stub.addJob("s1", "sec-1", models.RequestTypeDrop)
	handle(t, w, dropJob)

	var s2, s3 *models.EnrollmentRecord
	for _, rec := range stub.records {
		switch rec.StudentID {
		case "s2":
			s2 = rec
		case "s3":
			s3 = rec
		}
	}
	require.NotNil(t, s2)
	assert.Equal(t, models.EnrollmentStatusDropped, s2.Status)
	require.NotNil(t, s2.DropReason)
	assert.Equal(t, "promotion_failed:time_conflict", *s2.DropReason)

	require.NotNil(t, s3)
	assert.Equal(t, models.EnrollmentStatusConfirmed, s3.Status)

	assert.Contains(t, audit.actions(), models.AuditActionPromotionSkipped)
	assert.Equal(t, 1, stub.sections["sec-1"].CurrentEnrollment)
}

func TestWorkerDropFromWaitlistCompactsPositions(t *testing.T) {
	stub := newRegistrarStub()
	stub.addSection("sec-1", 1)
	w := newTestWorker(stub, nil, nil)

	for _, id := range []string{"s1", "s2", "s3"} {
		handle(t, w, stub.addJob(id, "sec-1", models.RequestTypeAdd))
	}

	dropJob := stub.addJob("s2", "sec-1", models.RequestTypeDrop)
	handle(t, w, dropJob)

	assert.Equal(t, models.JobResultDropped, *stub.jobs[dropJob.ID].Result)
	// The seat was never held by s2, so the counter must not move.
	assert.Equal(t, 1, stub.sections["sec-1"].CurrentEnrollment)

	for _, rec := range stub.records {
		if rec.StudentID == "s3" && rec.Status == models.EnrollmentStatusWaitlisted {
			assert.Equal(t, 1, *rec.WaitlistPosition)
			return
		}
	}
	t.Fatal("s3 waitlist row not found")
}

func TestWorkerDropWithoutEnrollmentRejects(t *testing.T) {
	stub := newRegistrarStub()
	stub.addSection("sec-1", 1)
	w := newTestWorker(stub, nil, nil)

	job := stub.addJob("s1", "sec-1", models.RequestTypeDrop)
	handle(t, w, job)

	require.Equal(t, models.JobStateCompleted, stub.jobs[job.ID].State)
	assert.Equal(t, "rejected:not_enrolled", *stub.jobs[job.ID].Result)
}

func TestWorkerRedeliveredDropCompletes(t *testing.T) {
	stub := newRegistrarStub()
	stub.addSection("sec-1", 1)
	w := newTestWorker(stub, nil, nil)

	addJob := stub.addJob("s1", "sec-1", models.RequestTypeAdd)
	handle(t, w, addJob)
	dropJob := stub.addJob("s1", "sec-1", models.RequestTypeDrop)
	handle(t, w, dropJob)

	// Redeliver the resolved drop as if the completion write never landed.
	stub.jobs[dropJob.ID].State = models.JobStateActive
	stub.jobs[dropJob.ID].Result = nil
	handle(t, w, dropJob)

	require.Equal(t, models.JobStateCompleted, stub.jobs[dropJob.ID].State)
	assert.Equal(t, models.JobResultDropped, *stub.jobs[dropJob.ID].Result)
	assert.Equal(t, 0, stub.sections["sec-1"].CurrentEnrollment)
}

func TestWorkerSeatContentionFailsJob(t *testing.T) {
	stub := newRegistrarStub()
	stub.addSection("sec-1", 5)
	audit := &auditStub{}
	w := newTestWorker(stub, nil, audit)

	job := stub.addJob("s1", "sec-1", models.RequestTypeAdd)
	stub.forceSeatConflict = true
	handle(t, w, job)

	require.Equal(t, models.JobStateFailed, stub.jobs[job.ID].State)
	require.NotNil(t, stub.jobs[job.ID].Error)
	assert.Empty(t, stub.records)
	assert.Contains(t, audit.actions(), models.AuditActionContentionFailure)
}
