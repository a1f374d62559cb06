package controllers

import (
	"net/http"

	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/services"
	"github.com/pulseguard/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AlertsRequest defines the query parameters for active alerts
type AlertsRequest struct {
	Severity string `form:"severity"`
}

// RespondRequest defines the request body for responding to an alert
type RespondRequest struct {
	ContactID uint   `json:"contact_id"`
	Type      string `json:"type" binding:"required"`
	Message   string `json:"message"`
}

// AlertController handles alert queries and responses
type AlertController struct {
	alertService *services.AlertService
	logger       *utils.Logger
}

// NewAlertController creates a new alert controller
func NewAlertController(alertService *services.AlertService, logger *utils.Logger) *AlertController {
	return &AlertController{
		alertService: alertService,
		logger:       logger.Named("alert_controller"),
	}
}

// RegisterRoutes registers the alert routes
func (c *AlertController) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/active", c.GetActiveAlerts)
	router.GET("/:id", c.GetAlert)
	router.POST("/:id/acknowledge", c.AcknowledgeAlert)
	router.POST("/:id/resolve", c.ResolveAlert)
}

// GetActiveAlerts returns the caller's non-resolved alerts
// @Summary Get active alerts
// @Description Returns the authenticated user's non-resolved alerts, newest first
// @Tags alerts
// @Accept json
// @Produce json
// @Security Bearer
// @Param severity query string false "Filter by severity (low, medium, high, critical)"
// @Param page query int false "Page number"
// @Param limit query int false "Items per page"
// @Success 200 {object} map[string]interface{} "Active alerts"
// @Failure 400 {object} utils.ErrorResponse "Bad request"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /alerts/active [get]
func (c *AlertController) GetActiveAlerts(ctx *gin.Context) {
	userID := ctx.GetString("user_id")

	var req AlertsRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		utils.HandleValidationErrors(ctx, err)
		return
	}

	severity := models.Severity(req.Severity)
	if req.Severity != "" && !models.ValidSeverity(severity) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid severity. Supported values: low, medium, high, critical"})
		return
	}

	pagination := utils.GetPaginationFromContext(ctx)
	offset := (pagination.Page - 1) * pagination.Limit

	alerts, total, err := c.alertService.ActiveAlerts(userID, severity, pagination.Limit, offset)
	if err != nil {
		c.logger.Error("Failed to get active alerts",
			zap.String("user_id", userID),
			zap.Error(err))
		utils.HandleError(ctx, err, c.logger)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"alerts":     alerts,
		"pagination": utils.NewPaginatedResponse(nil, pagination, int(total)).Pagination,
	})
}

// GetAlert returns one alert with its responses
// @Summary Get an alert
// @Description Returns a single alert with its responses
// @Tags alerts
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path string true "Alert ID"
// @Success 200 {object} models.Alert "Alert"
// @Failure 404 {object} utils.ErrorResponse "Alert not found"
// @Router /alerts/{id} [get]
func (c *AlertController) GetAlert(ctx *gin.Context) {
	alert, err := c.fetchOwnAlert(ctx)
	if err != nil {
		return
	}

	ctx.JSON(http.StatusOK, alert)
}

// AcknowledgeAlert records a response to an alert
// @Summary Acknowledge an alert
// @Description Records a response; a false_alarm response resolves the alert
// @Tags alerts
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path string true "Alert ID"
// @Param request body RespondRequest true "Response"
// @Success 200 {object} models.Alert "Updated alert"
// @Failure 400 {object} utils.ErrorResponse "Validation error"
// @Failure 404 {object} utils.ErrorResponse "Alert not found"
// @Failure 409 {object} utils.ErrorResponse "Alert already resolved"
// @Router /alerts/{id}/acknowledge [post]
func (c *AlertController) AcknowledgeAlert(ctx *gin.Context) {
	alert, err := c.fetchOwnAlert(ctx)
	if err != nil {
		return
	}

	var req RespondRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.HandleValidationErrors(ctx, err)
		return
	}

	updated, err := c.alertService.Acknowledge(alert.ID, req.ContactID, models.ResponseType(req.Type), req.Message)
	if err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}

	ctx.JSON(http.StatusOK, updated)
}

// ResolveAlert resolves an alert manually
// @Summary Resolve an alert
// @Description Moves the alert to its terminal resolved state
// @Tags alerts
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path string true "Alert ID"
// @Success 200 {object} models.Alert "Resolved alert"
// @Failure 404 {object} utils.ErrorResponse "Alert not found"
// @Failure 409 {object} utils.ErrorResponse "Alert already resolved"
// @Router /alerts/{id}/resolve [post]
func (c *AlertController) ResolveAlert(ctx *gin.Context) {
	alert, err := c.fetchOwnAlert(ctx)
	if err != nil {
		return
	}

	resolved, err := c.alertService.Resolve(alert.ID, false)
	if err != nil {
		utils.HandleError(ctx, err, c.logger)
		return
	}

	ctx.JSON(http.StatusOK, resolved)
}

// fetchOwnAlert loads the alert and verifies the caller owns it. Writes
// the error response itself; callers bail on non-nil error.
func (c *AlertController) fetchOwnAlert(ctx *gin.Context) (*models.Alert, error) {
	userID := ctx.GetString("user_id")
	alertID := ctx.Param("id")

	alert, err := c.alertService.GetByID(alertID)
	if err != nil {
		utils.HandleError(ctx, err, c.logger)
		return nil, err
	}

	// Hide other users' alerts behind a 404 rather than a 403.
	if alert.UserID != userID {
		ctx.JSON(http.StatusNotFound, utils.ErrorResponse{
			Error:   "not_found",
			Message: "resource not found",
		})
		return nil, utils.ErrNotFound
	}

	return alert, nil
}
