package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"lab-management-api/config"
	"lab-management-api/models"
	"lab-management-api/services"
)

type createLogReq struct {
	Title           string   `json:"title" binding:"required"`
	Description     string   `json:"description"`
	ActivityType    string   `json:"activity_type"`
	DurationMinutes *int     `json:"duration_minutes"`
	Findings        *string  `json:"findings"`
	Challenges      *string  `json:"challenges"`
	NextSteps       *string  `json:"next_steps"`
	Tags            []string `json:"tags"`
	Attachments     []string `json:"attachments"`
	Submit          bool     `json:"submit"`
}

type reviewReq struct {
	Comment string `json:"comment"`
}

// updateLogReq lists every field the owner may edit while the log is in
// DRAFT or RETURNED. Unknown keys are rejected so patches stay enumerable.
type updateLogReq struct {
	Title           *string   `json:"title"`
	Description     *string   `json:"description"`
	ActivityType    *string   `json:"activity_type"`
	DurationMinutes *int      `json:"duration_minutes"`
	Findings        *string   `json:"findings"`
	Challenges      *string   `json:"challenges"`
	NextSteps       *string   `json:"next_steps"`
	Tags            *[]string `json:"tags"`
	Attachments     *[]string `json:"attachments"`
}

// respondWorkflowError translates the engine's error taxonomy onto HTTP.
func respondWorkflowError(c *gin.Context, err error) {
	var invalid *services.InvalidTransitionError
	switch {
	case errors.Is(err, services.ErrLogNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Research log not found"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not allowed to perform this action"})
	case errors.Is(err, services.ErrNoSupervisor):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No supervisor assigned, submission cannot be routed"})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update research log"})
	}
}

// CreateResearchLog creates a log in DRAFT for the caller, or submits it in
// the same request when the payload asks for it.
func CreateResearchLog(workflow *services.ResearchLogWorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := getCurrentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req createLogReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		logEntry, err := workflow.Create(uid, services.CreateInput{
			Title:           req.Title,
			Description:     req.Description,
			ActivityType:    req.ActivityType,
			DurationMinutes: req.DurationMinutes,
			Findings:        req.Findings,
			Challenges:      req.Challenges,
			NextSteps:       req.NextSteps,
			Tags:            req.Tags,
			Attachments:     req.Attachments,
			Submit:          req.Submit,
		})
		if err != nil {
			respondWorkflowError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success":      true,
			"research_log": logEntry,
		})
	}
}

// SubmitResearchLog moves a log to SUBMITTED. Re-submitting an already
// submitted log succeeds with the unchanged state.
func SubmitResearchLog(workflow *services.ResearchLogWorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := getCurrentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		logEntry, err := workflow.Submit(uid, c.Param("id"))
		if err != nil {
			respondWorkflowError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"research_log": logEntry,
		})
	}
}

// ReturnResearchLog sends a submitted log back to the student for rework.
// The comment is required: a return without guidance is useless to the
// student.
func ReturnResearchLog(workflow *services.ResearchLogWorkflowService) gin.HandlerFunc {
	return reviewHandler(workflow, services.ActionReturn, true)
}

// AcceptResearchLog marks a submitted log as accepted (terminal).
func AcceptResearchLog(workflow *services.ResearchLogWorkflowService) gin.HandlerFunc {
	return reviewHandler(workflow, services.ActionAccept, false)
}

// DeclineResearchLog marks a submitted log as declined (terminal).
func DeclineResearchLog(workflow *services.ResearchLogWorkflowService) gin.HandlerFunc {
	return reviewHandler(workflow, services.ActionDecline, false)
}

func reviewHandler(workflow *services.ResearchLogWorkflowService, action services.ReviewAction, commentRequired bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := getCurrentUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		roleID, _ := getCurrentRoleID(c)

		// Accept and decline work without a body.
		var req reviewReq
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if commentRequired && req.Comment == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Comment is required"})
			return
		}

		logEntry, err := workflow.Review(uid, roleID, c.Param("id"), action, req.Comment)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"research_log": logEntry,
		})
	}
}

// GetResearchLogs lists logs visible to the caller: students see their own,
// supervisors see their lab plus their own authored logs, admins see all.
func GetResearchLogs(c *gin.Context) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	roleID, _ := getCurrentRoleID(c)

	query := config.DB.Preload("Student").Preload("Supervisor").
		Where("delete_at IS NULL")

	switch roleID {
	case models.RoleAdmin:
		// no extra filter
	case models.RoleSupervisor:
		students := config.DB.Model(&models.User{}).
			Select("user_id").
			Where("supervisor_id = ? AND delete_at IS NULL", uid)
		query = query.Where("student_id IN (?) OR author_id = ?", students, uid)
	default:
		query = query.Where("student_id = ? OR author_id = ?", uid, uid)
	}

	var logs []models.ResearchLog
	if err := query.Order("updated_at DESC").Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch research logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"research_logs": logs,
		"total":         len(logs),
	})
}

// GetResearchLog returns one log, subject to the same visibility rules as
// the list.
func GetResearchLog(c *gin.Context) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	roleID, _ := getCurrentRoleID(c)

	var logEntry models.ResearchLog
	err := config.DB.Preload("Student").Preload("Supervisor").
		Where("log_id = ? AND delete_at IS NULL", c.Param("id")).
		First(&logEntry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Research log not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch research log"})
		return
	}

	if !canViewLog(&logEntry, uid, roleID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not allowed to view this research log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"research_log": logEntry,
	})
}

func canViewLog(logEntry *models.ResearchLog, uid, roleID int) bool {
	if roleID == models.RoleAdmin {
		return true
	}
	if logEntry.AuthorID == uid {
		return true
	}
	if logEntry.StudentID != nil && *logEntry.StudentID == uid {
		return true
	}
	return logEntry.SupervisorID != nil && *logEntry.SupervisorID == uid
}

// UpdateResearchLog edits the descriptive payload. Allowed only for the
// owner and only while the log is in DRAFT or RETURNED.
func UpdateResearchLog(c *gin.Context) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var logEntry models.ResearchLog
	err := config.DB.Where("log_id = ? AND delete_at IS NULL", c.Param("id")).
		First(&logEntry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Research log not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch research log"})
		return
	}

	isOwner := logEntry.AuthorID == uid || (logEntry.StudentID != nil && *logEntry.StudentID == uid)
	if !isOwner {
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not allowed to edit this research log"})
		return
	}

	if !logEntry.Editable() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Research log can only be edited while in DRAFT or RETURNED, current status is " + logEntry.Status.String()})
		return
	}

	var req updateLogReq
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	applyLogUpdate(&logEntry, &req)
	logEntry.UpdatedAt = time.Now()

	if err := config.DB.Save(&logEntry).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update research log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"research_log": logEntry,
	})
}

func applyLogUpdate(logEntry *models.ResearchLog, req *updateLogReq) {
	if req.Title != nil {
		logEntry.Title = *req.Title
	}
	if req.Description != nil {
		logEntry.Description = *req.Description
	}
	if req.ActivityType != nil {
		logEntry.ActivityType = *req.ActivityType
	}
	if req.DurationMinutes != nil {
		logEntry.DurationMinutes = req.DurationMinutes
	}
	if req.Findings != nil {
		logEntry.Findings = req.Findings
	}
	if req.Challenges != nil {
		logEntry.Challenges = req.Challenges
	}
	if req.NextSteps != nil {
		logEntry.NextSteps = req.NextSteps
	}
	if req.Tags != nil {
		if raw, err := json.Marshal(*req.Tags); err == nil {
			logEntry.Tags = raw
		}
	}
	if req.Attachments != nil {
		if raw, err := json.Marshal(*req.Attachments); err == nil {
			logEntry.Attachments = raw
		}
	}
}

// DeleteResearchLog soft deletes a log. This is an administrative operation
// outside the review workflow; the state machine itself never deletes.
func DeleteResearchLog(c *gin.Context) {
	var logEntry models.ResearchLog
	err := config.DB.Where("log_id = ? AND delete_at IS NULL", c.Param("id")).
		First(&logEntry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Research log not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch research log"})
		return
	}

	now := time.Now()
	if err := config.DB.Model(&logEntry).Update("delete_at", now).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete research log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// studentStatusRow is the condensed per-log view for the student dashboard.
// Review fields stay present (null when pending) so clients never have to
// probe for their existence.
type studentStatusRow struct {
	LogID         string           `json:"log_id"`
	Title         string           `json:"title"`
	Status        models.LogStatus `json:"status"`
	ReviewComment *string          `json:"review_comment"`
	ReviewerName  *string          `json:"reviewer_name"`
	SubmittedAt   *time.Time       `json:"submitted_at"`
	ReviewedAt    *time.Time       `json:"reviewed_at"`
}

// GetStudentLogStatus returns the caller's logs condensed to review status.
func GetStudentLogStatus(c *gin.Context) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var logs []models.ResearchLog
	err := config.DB.
		Where("(student_id = ? OR author_id = ?) AND delete_at IS NULL", uid, uid).
		Order("updated_at DESC").
		Find(&logs).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch research logs"})
		return
	}

	rows := make([]studentStatusRow, 0, len(logs))
	for i := range logs {
		rows = append(rows, studentStatusRow{
			LogID:         logs[i].LogID,
			Title:         logs[i].Title,
			Status:        logs[i].Status,
			ReviewComment: logs[i].ReviewComment,
			ReviewerName:  logs[i].ReviewerName,
			SubmittedAt:   logs[i].SubmittedAt,
			ReviewedAt:    logs[i].ReviewedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"logs":    rows,
		"total":   len(rows),
	})
}
