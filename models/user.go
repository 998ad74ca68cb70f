package models

import (
	"strings"
	"time"
)

// Role IDs as stored in the roles table.
const (
	RoleStudent    = 1
	RoleSupervisor = 2
	RoleAdmin      = 3
)

type User struct {
	UserID       int        `gorm:"primaryKey;column:user_id" json:"user_id"`
	Prefix       *string    `gorm:"column:prefix" json:"prefix,omitempty"`
	UserFname    string     `gorm:"column:user_fname" json:"user_fname"`
	UserLname    string     `gorm:"column:user_lname" json:"user_lname"`
	Email        string     `gorm:"column:email;unique" json:"email"`
	RoleID       int        `gorm:"column:role_id" json:"role_id"`
	SupervisorID *int       `gorm:"column:supervisor_id" json:"supervisor_id,omitempty"`
	CreateAt     *time.Time `gorm:"column:create_at" json:"create_at"`
	UpdateAt     *time.Time `gorm:"column:update_at" json:"update_at"`
	DeleteAt     *time.Time `gorm:"column:delete_at" json:"delete_at,omitempty"`

	// Relations
	Role       Role  `gorm:"foreignKey:RoleID" json:"role,omitempty"`
	Supervisor *User `gorm:"foreignKey:SupervisorID" json:"supervisor,omitempty"`
}

type Role struct {
	RoleID   int        `gorm:"primaryKey;column:role_id" json:"role_id"`
	Role     string     `gorm:"column:role" json:"role"`
	CreateAt *time.Time `gorm:"column:create_at" json:"create_at"`
	UpdateAt *time.Time `gorm:"column:update_at" json:"update_at"`
	DeleteAt *time.Time `gorm:"column:delete_at" json:"delete_at,omitempty"`
}

// TableName overrides
func (User) TableName() string {
	return "users"
}

func (Role) TableName() string {
	return "roles"
}

// DisplayName joins prefix and names for notification payloads and the
// supervisor read model.
func (u *User) DisplayName() string {
	parts := make([]string, 0, 3)
	if u.Prefix != nil && strings.TrimSpace(*u.Prefix) != "" {
		parts = append(parts, strings.TrimSpace(*u.Prefix))
	}
	if strings.TrimSpace(u.UserFname) != "" {
		parts = append(parts, strings.TrimSpace(u.UserFname))
	}
	if strings.TrimSpace(u.UserLname) != "" {
		parts = append(parts, strings.TrimSpace(u.UserLname))
	}
	if len(parts) == 0 {
		return u.Email
	}
	return strings.Join(parts, " ")
}

func (u *User) IsAdmin() bool {
	return u.RoleID == RoleAdmin
}

func (u *User) IsSupervisor() bool {
	return u.RoleID == RoleSupervisor
}
