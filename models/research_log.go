package models

import (
	"time"

	"gorm.io/datatypes"
)

// ResearchLog is the persisted form of a student activity log as it moves
// through the review workflow. The descriptive payload stays mutable while
// the log is in DRAFT or RETURNED; review fields are stamped by the
// supervisor on return/accept/decline.
type ResearchLog struct {
	LogID        string    `gorm:"primaryKey;column:log_id;type:char(36)" json:"log_id"`
	AuthorID     int       `gorm:"column:author_id" json:"author_id"`
	StudentID    *int      `gorm:"column:student_id" json:"student_id"`
	SupervisorID *int      `gorm:"column:supervisor_id" json:"supervisor_id"`
	Status       LogStatus `gorm:"column:status;type:varchar(16)" json:"status"`

	Title           string         `gorm:"column:title" json:"title"`
	Description     string         `gorm:"column:description" json:"description"`
	ActivityType    string         `gorm:"column:activity_type" json:"activity_type"`
	DurationMinutes *int           `gorm:"column:duration_minutes" json:"duration_minutes"`
	Findings        *string        `gorm:"column:findings" json:"findings"`
	Challenges      *string        `gorm:"column:challenges" json:"challenges"`
	NextSteps       *string        `gorm:"column:next_steps" json:"next_steps"`
	Tags            datatypes.JSON `gorm:"column:tags" json:"tags"`
	Attachments     datatypes.JSON `gorm:"column:attachments" json:"attachments"`

	// Review metadata. Kept as pointers so unreviewed logs serialize the
	// fields as explicit nulls instead of omitting them.
	SubmittedAt   *time.Time `gorm:"column:submitted_at" json:"submitted_at"`
	ReviewedAt    *time.Time `gorm:"column:reviewed_at" json:"reviewed_at"`
	ReviewerID    *int       `gorm:"column:reviewer_id" json:"reviewer_id"`
	ReviewerName  *string    `gorm:"column:reviewer_name" json:"reviewer_name"`
	ReviewComment *string    `gorm:"column:review_comment" json:"review_comment"`

	CreatedAt time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at" json:"updated_at"`
	DeleteAt  *time.Time `gorm:"column:delete_at" json:"delete_at,omitempty"`

	// Relations
	Author     *User `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Student    *User `gorm:"foreignKey:StudentID" json:"student,omitempty"`
	Supervisor *User `gorm:"foreignKey:SupervisorID" json:"supervisor,omitempty"`
}

func (ResearchLog) TableName() string {
	return "research_logs"
}

// Editable reports whether the descriptive payload may still be changed
// by the owning student.
func (l *ResearchLog) Editable() bool {
	return l.Status == StatusDraft || l.Status == StatusReturned
}
