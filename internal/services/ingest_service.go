package services

import (
	"fmt"
	"math"
	"time"

	"github.com/pulseguard/backend/internal/db"
	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/db/repository"
	"github.com/pulseguard/backend/internal/events"
	"github.com/pulseguard/backend/internal/utils"
	"go.uber.org/zap"
)

// ReadingInput is one reading as submitted by a device or app
type ReadingInput struct {
	UserID    string          `json:"user_id" binding:"required"`
	DataType  models.DataType `json:"data_type" binding:"required"`
	Value     float64         `json:"value"`
	Unit      string          `json:"unit"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// IngestService accepts readings, persists them and hands them to the
// evaluator. Persistence is synchronous; evaluation is not, so a slow or
// failing evaluator never blocks the ingest path.
type IngestService struct {
	logger      *utils.Logger
	readingRepo repository.ReadingRepository
	bus         *events.Bus
	evaluator   *EvaluatorService
}

// NewIngestService creates a new ingest service
func NewIngestService(database *db.Database, bus *events.Bus, evaluator *EvaluatorService, logger *utils.Logger) *IngestService {
	repoFactory := repository.NewRepositoryFactory(database.DB)
	return &IngestService{
		logger:      logger.Named("ingest_service"),
		readingRepo: repoFactory.Reading(),
		bus:         bus,
		evaluator:   evaluator,
	}
}

// Ingest validates and persists one reading, publishes it on the bus and
// queues it for evaluation. Returns the stored reading with its assigned
// id. Duplicate submissions get fresh ids; idempotency is the caller's
// concern.
func (s *IngestService) Ingest(input ReadingInput) (*models.Reading, error) {
	if err := s.validate(&input); err != nil {
		return nil, err
	}

	reading := &models.Reading{
		UserID:    input.UserID,
		DataType:  input.DataType,
		Value:     input.Value,
		Unit:      input.Unit,
		Timestamp: input.Timestamp,
		Source:    input.Source,
	}

	if err := s.readingRepo.Insert(reading); err != nil {
		return nil, storeErr(err)
	}

	s.logger.Debug("Reading ingested",
		zap.String("reading_id", reading.ID),
		zap.String("user_id", reading.UserID),
		zap.String("data_type", string(reading.DataType)),
		zap.Float64("value", reading.Value))

	s.bus.Publish(events.Event{
		Type:    events.EventReadingAdded,
		UserID:  reading.UserID,
		Payload: reading,
	})

	s.evaluator.ProcessAsync(reading)

	return reading, nil
}

// RecentReadings returns a user's readings, newest first
func (s *IngestService) RecentReadings(userID string, dataType models.DataType, start, end time.Time, limit int) ([]models.Reading, error) {
	if dataType != "" && !models.KnownDataTypes[dataType] {
		return nil, fmt.Errorf("unknown data type %q: %w", dataType, utils.ErrValidation)
	}

	readings, err := s.readingRepo.GetRecent(userID, dataType, start, end, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return readings, nil
}

// validate rejects malformed input and fills defaults. A zero timestamp
// becomes the arrival time; future timestamps beyond a small clock-skew
// allowance are rejected.
func (s *IngestService) validate(input *ReadingInput) error {
	if input.UserID == "" {
		return fmt.Errorf("user id is required: %w", utils.ErrValidation)
	}
	if !models.KnownDataTypes[input.DataType] {
		return fmt.Errorf("unknown data type %q: %w", input.DataType, utils.ErrValidation)
	}
	if math.IsNaN(input.Value) || math.IsInf(input.Value, 0) {
		return fmt.Errorf("value must be a finite number: %w", utils.ErrValidation)
	}

	now := time.Now().UTC()
	if input.Timestamp.IsZero() {
		input.Timestamp = now
	} else if input.Timestamp.After(now.Add(5 * time.Minute)) {
		return fmt.Errorf("timestamp is in the future: %w", utils.ErrValidation)
	}

	return nil
}
