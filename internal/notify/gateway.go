package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/utils"
	"go.uber.org/zap"
)

// gatewaySender posts messages to an external delivery gateway over HTTP.
// Email and SMS are both thin wrappers around it; the engine treats the
// gateways as opaque collaborators that accept (recipient, message).
type gatewaySender struct {
	channel models.Channel
	url     string
	client  *http.Client
	logger  *utils.Logger
}

type gatewayPayload struct {
	Recipient string  `json:"recipient"`
	Message   Message `json:"message"`
}

// NewEmailSender creates a sender that posts to the email gateway
func NewEmailSender(gatewayURL string, logger *utils.Logger) Sender {
	return &gatewaySender{
		channel: models.ChannelEmail,
		url:     gatewayURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.Named("email_sender"),
	}
}

// NewSMSSender creates a sender that posts to the SMS gateway
func NewSMSSender(gatewayURL string, logger *utils.Logger) Sender {
	return &gatewaySender{
		channel: models.ChannelSMS,
		url:     gatewayURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.Named("sms_sender"),
	}
}

// Channel identifies this sender's transport
func (s *gatewaySender) Channel() models.Channel {
	return s.channel
}

// Send posts the message to the gateway; any non-2xx response is a
// transport failure
func (s *gatewaySender) Send(ctx context.Context, recipient string, msg Message) error {
	if s.url == "" {
		return fmt.Errorf("%s gateway not configured: %w", s.channel, utils.ErrTransport)
	}

	body, err := json.Marshal(gatewayPayload{Recipient: recipient, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", s.channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", s.channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s gateway unreachable: %w", s.channel, utils.ErrTransport)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("Gateway rejected message",
			zap.String("channel", string(s.channel)),
			zap.Int("status", resp.StatusCode),
			zap.String("alert_id", msg.AlertID))
		return fmt.Errorf("%s gateway returned %d: %w", s.channel, resp.StatusCode, utils.ErrTransport)
	}

	return nil
}
