package api

import (
	"net/http"

	"github.com/pulseguard/backend/internal/api/controllers"
	"github.com/pulseguard/backend/internal/api/middleware"
	"github.com/pulseguard/backend/internal/config"
	"github.com/pulseguard/backend/internal/db"
	"github.com/pulseguard/backend/internal/services"
	"github.com/pulseguard/backend/internal/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Router manages the API routes and controllers
type Router struct {
	engine            *gin.Engine
	logger            *utils.Logger
	config            *config.Config
	authMiddleware    *middleware.AuthMiddleware
	serviceProvider   *services.ServiceProvider
	db                *db.Database
	apiV1             *gin.RouterGroup
	readingController *controllers.ReadingController
	alertController   *controllers.AlertController
	streakController  *controllers.StreakController
	feedController    *controllers.FeedController
}

// NewRouter creates a new Router instance
func NewRouter(
	config *config.Config,
	logger *utils.Logger,
	db *db.Database,
	serviceProvider *services.ServiceProvider,
) *Router {
	// Set Gin mode based on environment
	if config.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Use the logger and recovery middleware
	engine.Use(gin.Recovery())
	engine.Use(middleware.LoggingMiddleware(logger))

	// Configure CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Authorization", "Content-Type", "Origin", "X-Device-ID", "X-API-Key"}
	engine.Use(cors.New(corsConfig))

	authMiddleware := middleware.NewAuthMiddleware(&config.JWT, &config.Ingest)

	return &Router{
		engine:          engine,
		logger:          logger.Named("router"),
		config:          config,
		authMiddleware:  authMiddleware,
		serviceProvider: serviceProvider,
		db:              db,
	}
}

// SetupRoutes configures all API routes
func (r *Router) SetupRoutes() {
	// Health check endpoint (no auth required)
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// API version group - all main API routes are under /api/v1
	r.apiV1 = r.engine.Group("/api/v1")

	// Setup controllers
	r.readingController = controllers.NewReadingController(r.serviceProvider.GetIngestService(), r.logger)
	r.alertController = controllers.NewAlertController(r.serviceProvider.GetAlertService(), r.logger)
	r.streakController = controllers.NewStreakController(r.serviceProvider.GetStreakService(), r.logger)
	r.feedController = controllers.NewFeedController(r.serviceProvider.GetFeedService(), r.logger)

	// Ingest route authenticated by device API key, not user JWT
	ingestRoutes := r.apiV1.Group("/readings")
	ingestRoutes.Use(r.authMiddleware.RequireDeviceKey())
	r.readingController.RegisterIngestRoutes(ingestRoutes)

	// Routes that require user authentication
	authorizedRoutes := r.apiV1.Group("")
	authorizedRoutes.Use(r.authMiddleware.RequireAuth())

	r.readingController.RegisterQueryRoutes(authorizedRoutes.Group("/readings"))
	r.alertController.RegisterRoutes(authorizedRoutes.Group("/alerts"))
	r.streakController.RegisterRoutes(authorizedRoutes)
	r.feedController.RegisterRoutes(authorizedRoutes.Group("/ws"))

	// Add Swagger documentation if not in production
	if !r.config.Server.IsProduction() {
		r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	r.logger.Info("API routes setup completed")
}

// GetEngine returns the Gin engine
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
