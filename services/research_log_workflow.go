package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"lab-management-api/models"
	"lab-management-api/realtime"
	"lab-management-api/utils"
)

// ReviewAction names a supervisor decision on a submitted research log.
type ReviewAction string

const (
	ActionReturn  ReviewAction = "return"
	ActionAccept  ReviewAction = "accept"
	ActionDecline ReviewAction = "decline"
)

// targetStatus maps an action onto the lifecycle table.
func (a ReviewAction) targetStatus() (models.LogStatus, error) {
	switch a {
	case ActionReturn:
		return models.StatusReturned, nil
	case ActionAccept:
		return models.StatusAccepted, nil
	case ActionDecline:
		return models.StatusDeclined, nil
	}
	return "", fmt.Errorf("unknown review action %q", string(a))
}

// ResearchLogWorkflowService validates and applies state transitions on
// research logs. It is request-scoped and stateless between calls: each
// transition is a read-modify-write against the database with no held locks.
// There is no compare-and-swap on status, so concurrent transitions on the
// same log resolve as last write wins.
type ResearchLogWorkflowService struct {
	db     *gorm.DB
	pusher EventPusher
}

func NewResearchLogWorkflowService(db *gorm.DB, pusher EventPusher) *ResearchLogWorkflowService {
	return &ResearchLogWorkflowService{db: db, pusher: pusher}
}

// CreateInput is the descriptive payload accepted at creation time.
type CreateInput struct {
	Title           string
	Description     string
	ActivityType    string
	DurationMinutes *int
	Findings        *string
	Challenges      *string
	NextSteps       *string
	Tags            []string
	Attachments     []string
	Submit          bool
}

// submitPatch is the full set of columns a submit transition may touch.
// Keeping it a named struct makes the handler's contract enumerable instead
// of an open-ended key/value patch.
type submitPatch struct {
	Status       models.LogStatus
	SubmittedAt  time.Time
	StudentID    int
	SupervisorID int
	UpdatedAt    time.Time
}

func (p submitPatch) apply(tx *gorm.DB, logID string) error {
	return tx.Model(&models.ResearchLog{}).
		Where("log_id = ?", logID).
		Select("status", "submitted_at", "student_id", "supervisor_id", "updated_at").
		Updates(models.ResearchLog{
			Status:       p.Status,
			SubmittedAt:  &p.SubmittedAt,
			StudentID:    &p.StudentID,
			SupervisorID: &p.SupervisorID,
			UpdatedAt:    p.UpdatedAt,
		}).Error
}

// reviewPatch is the full set of columns a review transition may touch.
type reviewPatch struct {
	Status        models.LogStatus
	ReviewedAt    time.Time
	ReviewerID    int
	ReviewerName  string
	ReviewComment string
	UpdatedAt     time.Time
}

func (p reviewPatch) apply(tx *gorm.DB, logID string) error {
	return tx.Model(&models.ResearchLog{}).
		Where("log_id = ?", logID).
		Select("status", "reviewed_at", "reviewer_id", "reviewer_name", "review_comment", "updated_at").
		Updates(models.ResearchLog{
			Status:        p.Status,
			ReviewedAt:    &p.ReviewedAt,
			ReviewerID:    &p.ReviewerID,
			ReviewerName:  &p.ReviewerName,
			ReviewComment: &p.ReviewComment,
			UpdatedAt:     p.UpdatedAt,
		}).Error
}

// Create persists a new log in DRAFT for the caller, backfilling student_id
// and supervisor_id from the caller's profile so a later submission can be
// routed. When in.Submit is set the log is submitted in the same call.
func (s *ResearchLogWorkflowService) Create(callerID int, in CreateInput) (*models.ResearchLog, error) {
	caller, err := s.loadUser(callerID)
	if err != nil {
		return nil, err
	}

	studentID := caller.UserID
	var supervisorID *int
	switch {
	case caller.SupervisorID != nil:
		supervisorID = caller.SupervisorID
	case caller.IsSupervisor() || caller.IsAdmin():
		// supervisors author logs inside their own lab
		id := caller.UserID
		supervisorID = &id
	}

	now := time.Now()
	logEntry := models.ResearchLog{
		LogID:           uuid.NewString(),
		AuthorID:        caller.UserID,
		StudentID:       &studentID,
		SupervisorID:    supervisorID,
		Status:          models.StatusDraft,
		Title:           utils.SanitizeInput(in.Title),
		Description:     in.Description,
		ActivityType:    in.ActivityType,
		DurationMinutes: in.DurationMinutes,
		Findings:        in.Findings,
		Challenges:      in.Challenges,
		NextSteps:       in.NextSteps,
		Tags:            jsonList(in.Tags),
		Attachments:     jsonList(in.Attachments),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.db.Create(&logEntry).Error; err != nil {
		return nil, fmt.Errorf("failed to create research log: %w", err)
	}

	if in.Submit {
		return s.Submit(caller.UserID, logEntry.LogID)
	}
	return &logEntry, nil
}

// Submit moves a research log into SUBMITTED on behalf of its owning
// student. Submitting an already submitted log is a success that returns
// the unchanged state, so duplicate client retries never fail and never
// repeat the side effects.
func (s *ResearchLogWorkflowService) Submit(callerID int, logID string) (*models.ResearchLog, error) {
	logEntry, err := s.loadLog(logID)
	if err != nil {
		return nil, err
	}

	if !canSubmit(logEntry, callerID) {
		return nil, ErrForbidden
	}

	if logEntry.Status == models.StatusSubmitted {
		return logEntry, nil
	}

	if !logEntry.Status.CanTransitionTo(models.StatusSubmitted) {
		return nil, &InvalidTransitionError{Current: logEntry.Status, Requested: models.StatusSubmitted}
	}

	// Legacy rows may miss student_id; the caller is the implicit student.
	studentID := callerID
	if logEntry.StudentID != nil {
		studentID = *logEntry.StudentID
	}

	student, err := s.loadUser(studentID)
	if err != nil {
		return nil, err
	}

	supervisorID := 0
	switch {
	case logEntry.SupervisorID != nil:
		supervisorID = *logEntry.SupervisorID
	case student.SupervisorID != nil:
		supervisorID = *student.SupervisorID
	case student.IsSupervisor() || student.IsAdmin():
		supervisorID = student.UserID
	default:
		return nil, ErrNoSupervisor
	}

	now := time.Now()
	patch := submitPatch{
		Status:       models.StatusSubmitted,
		SubmittedAt:  now,
		StudentID:    studentID,
		SupervisorID: supervisorID,
		UpdatedAt:    now,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := patch.apply(tx, logEntry.LogID); err != nil {
			return err
		}
		if supervisorID == studentID {
			// supervisor submitting their own log; nothing to announce
			return nil
		}
		notif := models.Notification{
			UserID:       supervisorID,
			Title:        "Research log submitted",
			Message:      fmt.Sprintf("%s submitted the research log \"%s\" for review", student.DisplayName(), logEntry.Title),
			Type:         "info",
			RelatedLogID: &logEntry.LogID,
			CreateAt:     now,
		}
		return tx.Create(&notif).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit research log: %w", err)
	}

	updated, err := s.loadLog(logEntry.LogID)
	if err != nil {
		return nil, err
	}

	// Push happens after commit and is best-effort only.
	ev := realtime.NewEvent(EventLogSubmitted, transitionPayload(updated, student.DisplayName()))
	s.pusher.SendToUser(studentID, ev)
	if supervisorID != studentID {
		s.pusher.SendToUser(supervisorID, ev)
	}

	return updated, nil
}

// Review applies a supervisor decision to a submitted log. Return, accept
// and decline share this handler: each outcome is fully determined by the
// current status, the requested action and the caller identity.
func (s *ResearchLogWorkflowService) Review(callerID, callerRoleID int, logID string, action ReviewAction, comment string) (*models.ResearchLog, error) {
	target, err := action.targetStatus()
	if err != nil {
		return nil, err
	}

	logEntry, err := s.loadLog(logID)
	if err != nil {
		return nil, err
	}

	if !canReview(logEntry, callerID, callerRoleID) {
		return nil, ErrForbidden
	}

	if !logEntry.Status.CanTransitionTo(target) {
		return nil, &InvalidTransitionError{Current: logEntry.Status, Requested: target}
	}

	reviewer, err := s.loadUser(callerID)
	if err != nil {
		return nil, err
	}

	comment = strings.TrimSpace(utils.SanitizeInput(comment))
	if comment == "" {
		switch action {
		case ActionAccept:
			comment = "Research log accepted."
		case ActionDecline:
			comment = "Research log declined."
		}
	}

	studentID := logEntry.AuthorID
	if logEntry.StudentID != nil {
		studentID = *logEntry.StudentID
	}

	now := time.Now()
	patch := reviewPatch{
		Status:        target,
		ReviewedAt:    now,
		ReviewerID:    reviewer.UserID,
		ReviewerName:  reviewer.DisplayName(),
		ReviewComment: comment,
		UpdatedAt:     now,
	}

	title, notifType := reviewOutcomeText(action)
	message := fmt.Sprintf("%s %s your research log \"%s\": %s", reviewer.DisplayName(), actionVerb(action), logEntry.Title, comment)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := patch.apply(tx, logEntry.LogID); err != nil {
			return err
		}
		notif := models.Notification{
			UserID:       studentID,
			Title:        title,
			Message:      message,
			Type:         notifType,
			RelatedLogID: &logEntry.LogID,
			CreateAt:     now,
		}
		return tx.Create(&notif).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record review decision: %w", err)
	}

	updated, err := s.loadLog(logEntry.LogID)
	if err != nil {
		return nil, err
	}

	ev := realtime.NewEvent(eventTypeFor(action), transitionPayload(updated, reviewer.DisplayName()))
	if updated.SupervisorID != nil {
		s.pusher.SendToLab(*updated.SupervisorID, ev)
	} else {
		s.pusher.SendToUser(studentID, ev)
	}

	s.emailReviewOutcome(studentID, title, message)

	return updated, nil
}

func (s *ResearchLogWorkflowService) loadLog(logID string) (*models.ResearchLog, error) {
	var logEntry models.ResearchLog
	err := s.db.Preload("Student").Preload("Supervisor").
		Where("log_id = ? AND delete_at IS NULL", logID).
		First(&logEntry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLogNotFound
		}
		return nil, fmt.Errorf("failed to load research log: %w", err)
	}
	return &logEntry, nil
}

func (s *ResearchLogWorkflowService) loadUser(userID int) (*models.User, error) {
	var user models.User
	err := s.db.Where("user_id = ? AND delete_at IS NULL", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %d not found", userID)
		}
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return &user, nil
}

// emailReviewOutcome mails the student about the decision. Fire-and-forget:
// the transition has committed, so transport failures are only logged.
func (s *ResearchLogWorkflowService) emailReviewOutcome(studentID int, subject, message string) {
	student, err := s.loadUser(studentID)
	if err != nil || !utils.ValidateEmail(student.Email) {
		return
	}
	html := buildReviewEmailHTML(student.DisplayName(), message)
	go sendMailSafe([]string{student.Email}, subject, html)
}

func canSubmit(logEntry *models.ResearchLog, callerID int) bool {
	if logEntry.AuthorID == callerID {
		return true
	}
	return logEntry.StudentID != nil && *logEntry.StudentID == callerID
}

func canReview(logEntry *models.ResearchLog, callerID, callerRoleID int) bool {
	if callerRoleID == models.RoleAdmin {
		return true
	}
	return logEntry.SupervisorID != nil && *logEntry.SupervisorID == callerID
}

func eventTypeFor(action ReviewAction) string {
	switch action {
	case ActionReturn:
		return EventLogReturned
	case ActionAccept:
		return EventLogAccepted
	case ActionDecline:
		return EventLogDeclined
	}
	return EventLogReturned
}

func reviewOutcomeText(action ReviewAction) (title, notifType string) {
	switch action {
	case ActionReturn:
		return "Research log returned", "warning"
	case ActionAccept:
		return "Research log accepted", "success"
	case ActionDecline:
		return "Research log declined", "error"
	}
	return "Research log reviewed", "info"
}

func actionVerb(action ReviewAction) string {
	switch action {
	case ActionReturn:
		return "returned"
	case ActionAccept:
		return "accepted"
	case ActionDecline:
		return "declined"
	}
	return "reviewed"
}

// transitionPayload is the data part of a pushed event: enough for a client
// to update its list without a second round-trip.
func transitionPayload(logEntry *models.ResearchLog, actorName string) map[string]interface{} {
	return map[string]interface{}{
		"log_id":         logEntry.LogID,
		"status":         logEntry.Status,
		"title":          logEntry.Title,
		"student_id":     logEntry.StudentID,
		"supervisor_id":  logEntry.SupervisorID,
		"review_comment": logEntry.ReviewComment,
		"actor_name":     actorName,
	}
}

func jsonList(values []string) datatypes.JSON {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(raw)
}
