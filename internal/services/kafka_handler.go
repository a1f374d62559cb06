package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/events"
	"github.com/pulseguard/backend/internal/kafka"
	"github.com/pulseguard/backend/internal/utils"
	"go.uber.org/zap"
)

// KafkaHandler bridges the engine and Kafka: inbound readings from device
// bridges flow into the ingest service, and committed engine events are
// mirrored onto the events topic for downstream consumers.
type KafkaHandler struct {
	logger       *utils.Logger
	kafkaManager *kafka.Manager
	ingest       *IngestService
}

// NewKafkaHandler creates a new Kafka message handler service
func NewKafkaHandler(logger *utils.Logger, kafkaManager *kafka.Manager, ingest *IngestService) *KafkaHandler {
	return &KafkaHandler{
		logger:       logger.Named("kafka_handler"),
		kafkaManager: kafkaManager,
		ingest:       ingest,
	}
}

// Initialize registers the reading consumer and the event mirror
func (h *KafkaHandler) Initialize(bus *events.Bus) error {
	if err := h.kafkaManager.RegisterReadingHandler("reading-processor", h.HandleReading); err != nil {
		return fmt.Errorf("failed to register reading handler: %w", err)
	}

	bus.Subscribe(h.mirrorEvent)

	h.logger.Info("Kafka handler initialized")
	return nil
}

const (
	storeRetryAttempts = 3
	storeRetryDelay    = 500 * time.Millisecond
)

// HandleReading ingests one reading from the readings topic. A returned
// error routes the message to the DLQ. Malformed payloads and validation
// failures are reported straight away; transient store failures are
// retried in place first, so a store blip does not dead-letter readings
// that would ingest fine a moment later. Once the retries are spent the
// DLQ keeps the reading replayable instead of dropping it.
func (h *KafkaHandler) HandleReading(envelope kafka.ReadingEnvelope) error {
	input := ReadingInput{
		UserID:   envelope.UserID,
		DataType: models.DataType(envelope.DataType),
		Value:    envelope.Value,
		Unit:     envelope.Unit,
		Source:   envelope.Source,
	}

	if envelope.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, envelope.Timestamp)
		if err != nil {
			return fmt.Errorf("bad timestamp %q: %w", envelope.Timestamp, err)
		}
		input.Timestamp = ts
	}

	var reading *models.Reading
	var err error
	for attempt := 1; attempt <= storeRetryAttempts; attempt++ {
		reading, err = h.ingest.Ingest(input)
		if err == nil || !errors.Is(err, utils.ErrStoreUnavailable) {
			break
		}

		h.logger.Warn("Store unavailable, retrying ingest",
			zap.String("user_id", envelope.UserID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < storeRetryAttempts {
			time.Sleep(storeRetryDelay)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to ingest reading for user %s: %w", envelope.UserID, err)
	}

	h.logger.Debug("Ingested reading from Kafka",
		zap.String("reading_id", reading.ID),
		zap.String("user_id", reading.UserID),
		zap.String("source", reading.Source))

	return nil
}

// mirrorEvent forwards one bus event onto the events topic. Delivery is
// best effort; the in-process consumers already saw the event.
func (h *KafkaHandler) mirrorEvent(event events.Event) {
	if err := h.kafkaManager.ProduceEvent(string(event.Type), event.UserID, event.Payload); err != nil {
		h.logger.Warn("Failed to mirror event to Kafka",
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}
