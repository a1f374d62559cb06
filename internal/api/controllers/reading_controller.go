package controllers

import (
	"net/http"
	"time"

	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/services"
	"github.com/pulseguard/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecentReadingsRequest defines the query parameters for recent readings
type RecentReadingsRequest struct {
	DataType string    `form:"data_type"`
	Start    time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00"`
	End      time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit    int       `form:"limit"`
}

// ReadingController handles reading ingestion and queries
type ReadingController struct {
	ingestService *services.IngestService
	logger        *utils.Logger
}

// NewReadingController creates a new reading controller
func NewReadingController(ingestService *services.IngestService, logger *utils.Logger) *ReadingController {
	return &ReadingController{
		ingestService: ingestService,
		logger:        logger.Named("reading_controller"),
	}
}

// RegisterIngestRoutes registers the device-authenticated ingest route
func (c *ReadingController) RegisterIngestRoutes(router *gin.RouterGroup) {
	router.POST("", c.IngestReading)
}

// RegisterQueryRoutes registers the user-authenticated query routes
func (c *ReadingController) RegisterQueryRoutes(router *gin.RouterGroup) {
	router.GET("/recent", c.GetRecentReadings)
}

// IngestReading accepts one reading from a device
// @Summary Ingest a reading
// @Description Accepts a biometric reading from a device or app and queues it for evaluation
// @Tags readings
// @Accept json
// @Produce json
// @Security DeviceKey
// @Param request body services.ReadingInput true "Reading payload"
// @Success 202 {object} models.Reading "Accepted reading"
// @Failure 400 {object} utils.ErrorResponse "Validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 503 {object} utils.ErrorResponse "Store unavailable"
// @Router /readings [post]
func (c *ReadingController) IngestReading(ctx *gin.Context) {
	var input services.ReadingInput
	if err := ctx.ShouldBindJSON(&input); err != nil {
		utils.HandleValidationErrors(ctx, err)
		return
	}

	if deviceID, exists := ctx.Get("device_id"); exists && input.Source == "" {
		input.Source = deviceID.(string)
	}

	reading, err := c.ingestService.Ingest(input)
	if err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}

	// Evaluation happens asynchronously, so the payload is accepted
	// rather than fully processed.
	ctx.JSON(http.StatusAccepted, reading)
}

// GetRecentReadings returns the caller's readings, newest first
// @Summary Get recent readings
// @Description Returns the authenticated user's readings ordered most recent first
// @Tags readings
// @Accept json
// @Produce json
// @Security Bearer
// @Param data_type query string false "Filter by data type"
// @Param start query string false "Start time (ISO8601)"
// @Param end query string false "End time (ISO8601)"
// @Param limit query int false "Limit results"
// @Success 200 {object} map[string]interface{} "Readings"
// @Failure 400 {object} utils.ErrorResponse "Validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /readings/recent [get]
func (c *ReadingController) GetRecentReadings(ctx *gin.Context) {
	userID := ctx.GetString("user_id")

	var req RecentReadingsRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		utils.HandleValidationErrors(ctx, err)
		return
	}

	if req.Limit <= 0 || req.Limit > 1000 {
		req.Limit = 100
	}

	readings, err := c.ingestService.RecentReadings(userID, models.DataType(req.DataType), req.Start, req.End, req.Limit)
	if err != nil {
		c.logger.Error("Failed to get recent readings",
			zap.String("user_id", userID),
			zap.String("data_type", req.DataType),
			zap.Error(err))
		utils.HandleError(ctx, err, c.logger)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"readings": readings,
		"meta": gin.H{
			"user_id":   userID,
			"data_type": req.DataType,
			"count":     len(readings),
		},
	})
}
