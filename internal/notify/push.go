package notify

import (
	"context"
	"fmt"

	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/utils"
	"go.uber.org/zap"
)

// Broadcaster pushes a payload to a user's connected feed clients. The
// live feed hub implements it; the indirection keeps this package free of
// a dependency on the services wiring.
type Broadcaster interface {
	PushToUser(userID string, payload interface{}) bool
}

// PushSender delivers alert notifications over the live feed hub
type PushSender struct {
	hub    Broadcaster
	logger *utils.Logger
}

// NewPushSender creates a push sender backed by the feed hub
func NewPushSender(hub Broadcaster, logger *utils.Logger) *PushSender {
	return &PushSender{
		hub:    hub,
		logger: logger.Named("push_sender"),
	}
}

// Channel identifies this sender's transport
func (s *PushSender) Channel() models.Channel {
	return models.ChannelPush
}

// Send pushes the message to the recipient's live feed connections.
// A user with no connected clients counts as a failed delivery so the
// dispatcher falls through to the contact's other channels.
func (s *PushSender) Send(ctx context.Context, recipient string, msg Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if s.hub == nil {
		return fmt.Errorf("push hub not configured: %w", utils.ErrTransport)
	}

	if !s.hub.PushToUser(recipient, msg) {
		s.logger.Debug("No connected feed clients for push recipient",
			zap.String("recipient", recipient),
			zap.String("alert_id", msg.AlertID))
		return fmt.Errorf("no connected clients for %s: %w", recipient, utils.ErrTransport)
	}

	return nil
}
