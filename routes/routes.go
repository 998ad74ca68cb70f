package routes

import (
	"github.com/gin-gonic/gin"

	"lab-management-api/config"
	"lab-management-api/controllers"
	"lab-management-api/middleware"
	"lab-management-api/models"
	"lab-management-api/realtime"
	"lab-management-api/services"
)

func SetupRoutes(router *gin.Engine, hub *realtime.Hub) {
	workflow := services.NewResearchLogWorkflowService(config.DB, hub)

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Public routes
		public := v1.Group("")
		{
			// Health check
			public.GET("/health", func(c *gin.Context) {
				c.JSON(200, gin.H{
					"status":  "ok",
					"message": "Lab Management API is running",
				})
			})
		}

		// Protected routes (require authentication)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			// User profile
			protected.GET("/profile", controllers.GetProfile)

			// Real-time push channel
			protected.GET("/ws", controllers.ResearchLogStream(hub))

			// Research logs and the review workflow
			logs := protected.Group("/research-logs")
			{
				logs.GET("", controllers.GetResearchLogs)
				logs.GET("/student/status", middleware.RequireRole(models.RoleStudent), controllers.GetStudentLogStatus)
				logs.GET("/:id", controllers.GetResearchLog)
				logs.POST("", controllers.CreateResearchLog(workflow))
				logs.PUT("/:id", controllers.UpdateResearchLog)

				// Deletion is administrative, not part of the workflow
				logs.DELETE("/:id", middleware.RequireRole(models.RoleAdmin), controllers.DeleteResearchLog)

				// Workflow transitions; the engine performs its own
				// ownership checks beyond the role gates here
				logs.POST("/:id/submit", controllers.SubmitResearchLog(workflow))
				logs.POST("/:id/return", controllers.ReturnResearchLog(workflow))
				logs.POST("/:id/accept", controllers.AcceptResearchLog(workflow))
				logs.POST("/:id/decline", controllers.DeclineResearchLog(workflow))
			}

			// Durable notifications
			notifications := protected.Group("/notifications")
			{
				notifications.GET("", controllers.GetNotifications)
				notifications.GET("/counter", controllers.GetNotificationCounter)
				notifications.POST("", controllers.CreateNotification)
				notifications.PUT("/:id/read", controllers.MarkNotificationRead)
				notifications.PUT("/read-all", controllers.MarkAllNotificationsRead)
			}

			// Supervisor and lab administration
			users := protected.Group("/users")
			{
				users.GET("/students", middleware.RequireRole(models.RoleSupervisor, models.RoleAdmin), controllers.GetMyStudents)
				users.PUT("/:id/supervisor", middleware.RequireRole(models.RoleAdmin), controllers.AssignSupervisor)
			}
		}
	}
}
