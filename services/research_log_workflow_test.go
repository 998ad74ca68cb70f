package services

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lab-management-api/models"
	"lab-management-api/realtime"
)

type recordingPusher struct {
	mu         sync.Mutex
	userEvents map[int][]realtime.Event
	labEvents  map[int][]realtime.Event
}

func newRecordingPusher() *recordingPusher {
	return &recordingPusher{
		userEvents: make(map[int][]realtime.Event),
		labEvents:  make(map[int][]realtime.Event),
	}
}

func (p *recordingPusher) SendToUser(userID int, ev realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userEvents[userID] = append(p.userEvents[userID], ev)
}

func (p *recordingPusher) SendToLab(supervisorID int, ev realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.labEvents[supervisorID] = append(p.labEvents[supervisorID], ev)
}

func (p *recordingPusher) userEventCount(userID int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.userEvents[userID])
}

func (p *recordingPusher) labEventCount(supervisorID int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.labEvents[supervisorID])
}

func newWorkflowTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	// One in-memory sqlite database per connection; force a single one.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.User{}, &models.Role{}, &models.ResearchLog{}, &models.Notification{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id, roleID int, supervisorID *int) models.User {
	t.Helper()
	user := models.User{
		UserID:       id,
		UserFname:    fmt.Sprintf("User%d", id),
		UserLname:    "Test",
		Email:        fmt.Sprintf("user%d@lab.test", id),
		RoleID:       roleID,
		SupervisorID: supervisorID,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user %d: %v", id, err)
	}
	return user
}

func intPtr(v int) *int { return &v }

// newWorkflowFixture seeds supervisor 20 with students 10 and 11, a second
// lab (supervisor 40, student 30 without assignment), and admin 99.
func newWorkflowFixture(t *testing.T) (*ResearchLogWorkflowService, *gorm.DB, *recordingPusher) {
	t.Helper()
	db := newWorkflowTestDB(t)
	seedUser(t, db, 20, models.RoleSupervisor, nil)
	seedUser(t, db, 10, models.RoleStudent, intPtr(20))
	seedUser(t, db, 11, models.RoleStudent, intPtr(20))
	seedUser(t, db, 40, models.RoleSupervisor, nil)
	seedUser(t, db, 30, models.RoleStudent, nil)
	seedUser(t, db, 99, models.RoleAdmin, nil)

	pusher := newRecordingPusher()
	return NewResearchLogWorkflowService(db, pusher), db, pusher
}

func notificationCount(t *testing.T, db *gorm.DB, userID int) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.Notification{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		t.Fatalf("failed to count notifications: %v", err)
	}
	return n
}

func fetchLog(t *testing.T, db *gorm.DB, logID string) models.ResearchLog {
	t.Helper()
	var logEntry models.ResearchLog
	if err := db.Where("log_id = ?", logID).First(&logEntry).Error; err != nil {
		t.Fatalf("failed to fetch log %s: %v", logID, err)
	}
	return logEntry
}

func TestCreateBackfillsStudentAndSupervisor(t *testing.T) {
	svc, _, _ := newWorkflowFixture(t)

	logEntry, err := svc.Create(10, CreateInput{
		Title:        "X",
		ActivityType: "experiment",
		Description:  "d",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if logEntry.Status != models.StatusDraft {
		t.Fatalf("expected DRAFT, got %s", logEntry.Status)
	}
	if logEntry.StudentID == nil || *logEntry.StudentID != 10 {
		t.Fatalf("expected student_id 10, got %v", logEntry.StudentID)
	}
	if logEntry.SupervisorID == nil || *logEntry.SupervisorID != 20 {
		t.Fatalf("expected supervisor_id 20, got %v", logEntry.SupervisorID)
	}
	if logEntry.LogID == "" {
		t.Fatal("expected a generated log id")
	}
}

func TestCreateWithImmediateSubmit(t *testing.T) {
	svc, _, _ := newWorkflowFixture(t)

	logEntry, err := svc.Create(10, CreateInput{Title: "X", Submit: true})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if logEntry.Status != models.StatusSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", logEntry.Status)
	}
	if logEntry.SubmittedAt == nil {
		t.Fatal("expected submitted_at to be set")
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	svc, db, pusher := newWorkflowFixture(t)

	created, err := svc.Create(10, CreateInput{Title: "X"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	first, err := svc.Submit(10, created.LogID)
	if err != nil {
		t.Fatalf("first Submit returned error: %v", err)
	}
	if first.Status != models.StatusSubmitted || first.SubmittedAt == nil {
		t.Fatalf("unexpected state after first submit: %s", first.Status)
	}
	if got := notificationCount(t, db, 20); got != 1 {
		t.Fatalf("expected 1 supervisor notification, got %d", got)
	}
	if pusher.userEventCount(10) != 1 || pusher.userEventCount(20) != 1 {
		t.Fatalf("expected one push per participant, got student=%d supervisor=%d",
			pusher.userEventCount(10), pusher.userEventCount(20))
	}

	second, err := svc.Submit(10, created.LogID)
	if err != nil {
		t.Fatalf("duplicate Submit returned error: %v", err)
	}
	if second.Status != models.StatusSubmitted {
		t.Fatalf("expected SUBMITTED after duplicate submit, got %s", second.Status)
	}
	if second.SubmittedAt == nil || !second.SubmittedAt.Equal(*first.SubmittedAt) {
		t.Fatalf("duplicate submit changed submitted_at: %v vs %v", second.SubmittedAt, first.SubmittedAt)
	}
	if second.StudentID == nil || *second.StudentID != 10 {
		t.Fatalf("duplicate submit changed student_id: %v", second.StudentID)
	}
	if second.SupervisorID == nil || *second.SupervisorID != 20 {
		t.Fatalf("duplicate submit changed supervisor_id: %v", second.SupervisorID)
	}
	if got := notificationCount(t, db, 20); got != 1 {
		t.Fatalf("duplicate submit created another notification, got %d", got)
	}
	if pusher.userEventCount(10) != 1 || pusher.userEventCount(20) != 1 {
		t.Fatal("duplicate submit repeated the push side effect")
	}
}

func TestSubmitForbiddenForNonOwner(t *testing.T) {
	svc, db, _ := newWorkflowFixture(t)

	created, err := svc.Create(10, CreateInput{Title: "X"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := svc.Submit(11, created.LogID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	persisted := fetchLog(t, db, created.LogID)
	if persisted.Status != models.StatusDraft {
		t.Fatalf("forbidden submit mutated the record: %s", persisted.Status)
	}
}

func TestSubmitWithoutSupervisorCannotBeRouted(t *testing.T) {
	svc, db, _ := newWorkflowFixture(t)

	created, err := svc.Create(30, CreateInput{Title: "unrouted"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.SupervisorID != nil {
		t.Fatalf("expected no supervisor at creation, got %v", created.SupervisorID)
	}

	if _, err := svc.Submit(30, created.LogID); !errors.Is(err, ErrNoSupervisor) {
		t.Fatalf("expected ErrNoSupervisor, got %v", err)
	}

	persisted := fetchLog(t, db, created.LogID)
	if persisted.Status != models.StatusDraft || persisted.SubmittedAt != nil {
		t.Fatalf("failed submit mutated the record: %s", persisted.Status)
	}
}

func TestSubmitBackfillsLegacyRecord(t *testing.T) {
	svc, db, _ := newWorkflowFixture(t)

	// Simulate a legacy row created before routing fields were mandatory.
	legacy := models.ResearchLog{
		LogID:    uuid.NewString(),
		AuthorID: 10,
		Status:   models.StatusDraft,
		Title:    "legacy",
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("failed to seed legacy log: %v", err)
	}

	updated, err := svc.Submit(10, legacy.LogID)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if updated.StudentID == nil || *updated.StudentID != 10 {
		t.Fatalf("expected backfilled student_id 10, got %v", updated.StudentID)
	}
	if updated.SupervisorID == nil || *updated.SupervisorID != 20 {
		t.Fatalf("expected backfilled supervisor_id 20, got %v", updated.SupervisorID)
	}
	if updated.Status != models.StatusSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", updated.Status)
	}
}

func TestSupervisorOwnLogSkipsSelfNotification(t *testing.T) {
	svc, db, pusher := newWorkflowFixture(t)

	created, err := svc.Create(20, CreateInput{Title: "own notes"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.SupervisorID == nil || *created.SupervisorID != 20 {
		t.Fatalf("expected supervisor to own their lab, got %v", created.SupervisorID)
	}

	if _, err := svc.Submit(20, created.LogID); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if got := notificationCount(t, db, 20); got != 0 {
		t.Fatalf("expected no self notification, got %d", got)
	}
	if pusher.userEventCount(20) != 1 {
		t.Fatalf("expected exactly one push to the supervisor, got %d", pusher.userEventCount(20))
	}
}

func TestReviewLifecycle(t *testing.T) {
	svc, db, pusher := newWorkflowFixture(t)

	created, err := svc.Create(10, CreateInput{Title: "X", ActivityType: "experiment", Description: "d", Submit: true})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	returned, err := svc.Review(20, models.RoleSupervisor, created.LogID, ActionReturn, "add detail")
	if err != nil {
		t.Fatalf("Return returned error: %v", err)
	}
	if returned.Status != models.StatusReturned {
		t.Fatalf("expected RETURNED, got %s", returned.Status)
	}
	if returned.ReviewComment == nil || *returned.ReviewComment != "add detail" {
		t.Fatalf("unexpected review comment: %v", returned.ReviewComment)
	}
	if returned.ReviewerID == nil || *returned.ReviewerID != 20 {
		t.Fatalf("unexpected reviewer id: %v", returned.ReviewerID)
	}
	if returned.ReviewedAt == nil {
		t.Fatal("expected reviewed_at to be set")
	}
	if got := notificationCount(t, db, 10); got != 1 {
		t.Fatalf("expected student notification after return, got %d", got)
	}

	resubmitted, err := svc.Submit(10, created.LogID)
	if err != nil {
		t.Fatalf("resubmit returned error: %v", err)
	}
	if resubmitted.Status != models.StatusSubmitted {
		t.Fatalf("expected SUBMITTED after resubmit, got %s", resubmitted.Status)
	}

	accepted, err := svc.Review(20, models.RoleSupervisor, created.LogID, ActionAccept, "approved")
	if err != nil {
		t.Fatalf("Accept returned error: %v", err)
	}
	if accepted.Status != models.StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", accepted.Status)
	}

	// Terminal: nothing moves the log anymore, and the record stays intact.
	var invalid *InvalidTransitionError
	if _, err := svc.Submit(10, created.LogID); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError on terminal submit, got %v", err)
	}
	if invalid.Current != models.StatusAccepted {
		t.Fatalf("error should carry the current status, got %s", invalid.Current)
	}
	if _, err := svc.Review(20, models.RoleSupervisor, created.LogID, ActionDecline, ""); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError on terminal decline, got %v", err)
	}

	persisted := fetchLog(t, db, created.LogID)
	if persisted.Status != models.StatusAccepted {
		t.Fatalf("terminal state changed: %s", persisted.Status)
	}
	if persisted.ReviewComment == nil || *persisted.ReviewComment != "approved" {
		t.Fatalf("review comment changed after rejected transitions: %v", persisted.ReviewComment)
	}

	if pusher.labEventCount(20) != 2 {
		t.Fatalf("expected 2 lab events (return, accept), got %d", pusher.labEventCount(20))
	}
}

func TestReviewAuthorization(t *testing.T) {
	svc, db, _ := newWorkflowFixture(t)

	created, err := svc.Create(10, CreateInput{Title: "X", Submit: true})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	// Wrong supervisor and fellow student are both rejected.
	if _, err := svc.Review(40, models.RoleSupervisor, created.LogID, ActionAccept, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign supervisor, got %v", err)
	}
	if _, err := svc.Review(11, models.RoleStudent, created.LogID, ActionAccept, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for student, got %v", err)
	}

	persisted := fetchLog(t, db, created.LogID)
	if persisted.Status != models.StatusSubmitted {
		t.Fatalf("forbidden review mutated the record: %s", persisted.Status)
	}

	// Admins may review any log.
	accepted, err := svc.Review(99, models.RoleAdmin, created.LogID, ActionAccept, "fine")
	if err != nil {
		t.Fatalf("admin review returned error: %v", err)
	}
	if accepted.Status != models.StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", accepted.Status)
	}
}

func TestReviewRejectsDraft(t *testing.T) {
	svc, db, _ := newWorkflowFixture(t)

	created, err := svc.Create(10, CreateInput{Title: "X"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	var invalid *InvalidTransitionError
	_, err = svc.Review(20, models.RoleSupervisor, created.LogID, ActionAccept, "")
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if !strings.Contains(invalid.Error(), "DRAFT") {
		t.Fatalf("error message should report the current status: %s", invalid.Error())
	}

	persisted := fetchLog(t, db, created.LogID)
	if persisted.Status != models.StatusDraft || persisted.ReviewedAt != nil {
		t.Fatal("rejected transition mutated the record")
	}
}

func TestDeclineDefaultsComment(t *testing.T) {
	svc, db, _ := newWorkflowFixture(t)

	created, err := svc.Create(10, CreateInput{Title: "X", Submit: true})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	declined, err := svc.Review(20, models.RoleSupervisor, created.LogID, ActionDecline, "")
	if err != nil {
		t.Fatalf("Decline returned error: %v", err)
	}
	if declined.Status != models.StatusDeclined {
		t.Fatalf("expected DECLINED, got %s", declined.Status)
	}
	if declined.ReviewComment == nil || *declined.ReviewComment == "" {
		t.Fatal("expected a default decline comment")
	}

	var notif models.Notification
	if err := db.Where("user_id = ?", 10).Order("notification_id DESC").First(&notif).Error; err != nil {
		t.Fatalf("failed to load student notification: %v", err)
	}
	if notif.Type != "error" {
		t.Fatalf("expected error-typed notification for decline, got %q", notif.Type)
	}
	if notif.RelatedLogID == nil || *notif.RelatedLogID != created.LogID {
		t.Fatalf("notification should reference the log, got %v", notif.RelatedLogID)
	}
}

func TestTransitionsOnMissingLog(t *testing.T) {
	svc, _, _ := newWorkflowFixture(t)

	missing := uuid.NewString()
	if _, err := svc.Submit(10, missing); !errors.Is(err, ErrLogNotFound) {
		t.Fatalf("expected ErrLogNotFound, got %v", err)
	}
	if _, err := svc.Review(20, models.RoleSupervisor, missing, ActionReturn, "x"); !errors.Is(err, ErrLogNotFound) {
		t.Fatalf("expected ErrLogNotFound, got %v", err)
	}
}
