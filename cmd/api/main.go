package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"lab-management-api/config"
	"lab-management-api/middleware"
	"lab-management-api/models"
	"lab-management-api/realtime"
	"lab-management-api/routes"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logFile, _ := config.InitLogging()
	if logFile != nil {
		defer logFile.Close()
	}

	// Initialize database
	config.InitDB()

	// Set Gin mode
	ginMode := os.Getenv("GIN_MODE")
	if ginMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	router.Use(middleware.CORSMiddleware())

	// One hub per process; torn down at shutdown
	hub := realtime.NewHub(labMembers)
	defer hub.Close()

	routes.SetupRoutes(router, hub)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	if ginMode == "release" {
		log.Printf("Running in production mode")
	} else {
		log.Printf("Running in development mode")
	}

	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// labMembers resolves a supervisor's lab for event fan-out: every student
// assigned to the supervisor, plus the supervisor themself.
func labMembers(supervisorID int) ([]int, error) {
	var ids []int
	err := config.DB.Model(&models.User{}).
		Where("supervisor_id = ? AND delete_at IS NULL", supervisorID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return append(ids, supervisorID), nil
}
