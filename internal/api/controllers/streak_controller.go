package controllers

import (
	"net/http"
	"time"

	"github.com/pulseguard/backend/internal/services"
	"github.com/pulseguard/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecordActivityRequest defines the request body for recording an activity
type RecordActivityRequest struct {
	StreakType string    `json:"streak_type" binding:"required"`
	Date       time.Time `json:"date" time_format:"2006-01-02"`
}

// StreakController handles activity recording and streak queries
type StreakController struct {
	streakService *services.StreakService
	logger        *utils.Logger
}

// NewStreakController creates a new streak controller
func NewStreakController(streakService *services.StreakService, logger *utils.Logger) *StreakController {
	return &StreakController{
		streakService: streakService,
		logger:        logger.Named("streak_controller"),
	}
}

// RegisterRoutes registers the streak routes
func (c *StreakController) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/activities", c.RecordActivity)
	router.GET("/streaks/:type", c.GetStreak)
}

// RecordActivity records one activity toward a streak
// @Summary Record an activity
// @Description Records an activity for a streak type; returns the updated streak and any milestone hit
// @Tags streaks
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body RecordActivityRequest true "Activity"
// @Success 200 {object} map[string]interface{} "Updated streak"
// @Failure 400 {object} utils.ErrorResponse "Validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /activities [post]
func (c *StreakController) RecordActivity(ctx *gin.Context) {
	userID := ctx.GetString("user_id")

	var req RecordActivityRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.HandleValidationErrors(ctx, err)
		return
	}

	if req.Date.IsZero() {
		req.Date = time.Now().UTC()
	}

	record, milestone, err := c.streakService.RecordActivity(userID, req.StreakType, req.Date)
	if err != nil {
		c.logger.Error("Failed to record activity",
			zap.String("user_id", userID),
			zap.String("streak_type", req.StreakType),
			zap.Error(err))
		utils.HandleError(ctx, err, c.logger)
		return
	}

	response := gin.H{"streak": record}
	if milestone != nil {
		response["milestone"] = milestone
	}

	ctx.JSON(http.StatusOK, response)
}

// GetStreak returns the caller's streak for a type
// @Summary Get a streak
// @Description Returns the authenticated user's streak record for the given type
// @Tags streaks
// @Accept json
// @Produce json
// @Security Bearer
// @Param type path string true "Streak type"
// @Success 200 {object} models.StreakRecord "Streak record"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /streaks/{type} [get]
func (c *StreakController) GetStreak(ctx *gin.Context) {
	userID := ctx.GetString("user_id")
	streakType := ctx.Param("type")

	record, err := c.streakService.GetStreak(userID, streakType)
	if err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}

	ctx.JSON(http.StatusOK, record)
}
