package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"lab-management-api/config"
	"lab-management-api/models"
)

// GetProfile returns the authenticated caller's user record.
func GetProfile(c *gin.Context) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var user models.User
	err := config.DB.Preload("Role").Preload("Supervisor").
		Where("user_id = ? AND delete_at IS NULL", uid).
		First(&user).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    user,
	})
}

// GetMyStudents lists the students assigned to the calling supervisor. An
// admin may pass ?supervisor_id= to inspect another lab.
func GetMyStudents(c *gin.Context) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	roleID, _ := getCurrentRoleID(c)

	supervisorID := uid
	if raw := c.Query("supervisor_id"); raw != "" && roleID == models.RoleAdmin {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid supervisor_id"})
			return
		}
		supervisorID = v
	}

	var students []models.User
	err := config.DB.
		Where("supervisor_id = ? AND delete_at IS NULL", supervisorID).
		Order("user_fname ASC").
		Find(&students).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch students"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"students": students,
		"total":    len(students),
	})
}

type assignSupervisorReq struct {
	SupervisorID int `json:"supervisor_id" binding:"required"`
}

// AssignSupervisor points a student at a supervisor. Admin only; the lab
// membership this defines drives review routing and event fan-out.
func AssignSupervisor(c *gin.Context) {
	studentID, err := strconv.Atoi(c.Param("id"))
	if err != nil || studentID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req assignSupervisorReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var student models.User
	if err := config.DB.Where("user_id = ? AND delete_at IS NULL", studentID).First(&student).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}

	var supervisor models.User
	if err := config.DB.Where("user_id = ? AND role_id IN (?, ?) AND delete_at IS NULL",
		req.SupervisorID, models.RoleSupervisor, models.RoleAdmin).First(&supervisor).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Supervisor not found or not a supervisor"})
		return
	}

	now := time.Now()
	err = config.DB.Model(&student).
		Select("supervisor_id", "update_at").
		Updates(models.User{SupervisorID: &supervisor.UserID, UpdateAt: &now}).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to assign supervisor"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
