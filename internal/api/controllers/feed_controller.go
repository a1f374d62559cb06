package controllers

import (
	"net/http"

	"github.com/pulseguard/backend/internal/services"
	"github.com/pulseguard/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FeedController upgrades authenticated clients onto the live event feed
type FeedController struct {
	feedService *services.FeedService
	upgrader    websocket.Upgrader
	logger      *utils.Logger
}

// NewFeedController creates a new feed controller
func NewFeedController(feedService *services.FeedService, logger *utils.Logger) *FeedController {
	return &FeedController{
		feedService: feedService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers send an Origin header; non-browser consumers
			// (the sync adapter) send none. Token auth already gates
			// the route.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.Named("feed_controller"),
	}
}

// RegisterRoutes registers the feed route
func (c *FeedController) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/feed", c.Connect)
}

// Connect upgrades the request to a websocket feed connection
// @Summary Connect to the live feed
// @Description Upgrades to a websocket carrying the authenticated user's events
// @Tags feed
// @Security Bearer
// @Success 101 {string} string "Switching protocols"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /ws/feed [get]
func (c *FeedController) Connect(ctx *gin.Context) {
	userID := ctx.GetString("user_id")

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.logger.Warn("Websocket upgrade failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	c.feedService.RegisterClient(conn, userID)

	c.logger.Debug("Feed connection established", zap.String("user_id", userID))
}
