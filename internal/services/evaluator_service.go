package services

import (
	"errors"
	"math"
	"time"

	"github.com/pulseguard/backend/internal/config"
	"github.com/pulseguard/backend/internal/db"
	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/db/repository"
	"github.com/pulseguard/backend/internal/utils"
	"go.uber.org/zap"
)

// Verdict is the evaluator's determination for one condition: either a
// static threshold breach or a statistical anomaly. Severity comes from
// the threshold row for breaches and is fixed for anomalies; the evaluator
// never escalates severity on its own.
type Verdict struct {
	Breached  bool             `json:"breached"`
	Kind      models.AlertType `json:"kind"`
	Severity  models.Severity  `json:"severity"`
	Threshold *models.Threshold `json:"threshold,omitempty"`
	Mean      float64          `json:"mean,omitempty"`
	StdDev    float64          `json:"std_dev,omitempty"`
}

// AlertRaiser receives breach verdicts. Implemented by AlertService; the
// interface keeps evaluation free of alerting state.
type AlertRaiser interface {
	Raise(reading *models.Reading, verdict Verdict) (*models.Alert, error)
}

// EvaluatorService runs per-reading threshold checks and the
// rolling-window anomaly detector
type EvaluatorService struct {
	logger        *utils.Logger
	cfg           *config.AnomalyConfig
	readingRepo   repository.ReadingRepository
	thresholdRepo repository.ThresholdRepository
	raiser        AlertRaiser
}

// NewEvaluatorService creates a new evaluator service
func NewEvaluatorService(database *db.Database, cfg *config.AnomalyConfig, logger *utils.Logger) *EvaluatorService {
	repoFactory := repository.NewRepositoryFactory(database.DB)
	return &EvaluatorService{
		logger:        logger.Named("evaluator_service"),
		cfg:           cfg,
		readingRepo:   repoFactory.Reading(),
		thresholdRepo: repoFactory.Threshold(),
	}
}

// SetRaiser wires the alert manager in. Done after construction because
// alerting depends on dispatch, which is built later in the provider.
func (s *EvaluatorService) SetRaiser(raiser AlertRaiser) {
	s.raiser = raiser
}

// Evaluate computes the verdict list for a reading without side effects
// beyond store reads. Threshold and anomaly checks are independent; both
// may flag the same reading.
func (s *EvaluatorService) Evaluate(reading *models.Reading) ([]Verdict, error) {
	var verdicts []Verdict

	thresholds, err := s.thresholdRepo.GetActive(reading.UserID, reading.DataType)
	if err != nil {
		return nil, storeErr(err)
	}

	for i := range thresholds {
		t := thresholds[i]
		if t.Breached(reading.Value) {
			verdicts = append(verdicts, Verdict{
				Breached:  true,
				Kind:      models.AlertTypeThresholdBreach,
				Severity:  t.Severity,
				Threshold: &t,
			})
		}
	}

	anomaly, err := s.checkAnomaly(reading)
	if err != nil {
		return nil, err
	}
	if anomaly != nil {
		verdicts = append(verdicts, *anomaly)
	}

	return verdicts, nil
}

// checkAnomaly flags the reading when it sits more than sigmaFactor sample
// standard deviations from the rolling-window mean. Below minSamples the
// check is skipped entirely to avoid cold-start false positives.
func (s *EvaluatorService) checkAnomaly(reading *models.Reading) (*Verdict, error) {
	window, err := s.readingRepo.GetWindow(reading.UserID, reading.DataType, reading.Timestamp, s.cfg.WindowSize)
	if err != nil {
		return nil, storeErr(err)
	}

	if len(window) < s.cfg.MinSamples {
		return nil, nil
	}

	mean, stddev := sampleStats(window)
	if stddev == 0 {
		// Flat history: any different value would be infinitely many
		// sigmas out, which says more about the window than the reading.
		return nil, nil
	}

	if math.Abs(reading.Value-mean) <= s.cfg.SigmaFactor*stddev {
		return nil, nil
	}

	return &Verdict{
		Breached: true,
		Kind:     models.AlertTypeAnomalyDetected,
		Severity: models.SeverityMedium,
		Mean:     mean,
		StdDev:   stddev,
	}, nil
}

// ProcessReading evaluates a reading, raises alerts for breach verdicts
// and marks the reading processed. The processed flag guards against
// re-evaluation on duplicate delivery: a reading already marked is skipped
// without touching alert state.
func (s *EvaluatorService) ProcessReading(reading *models.Reading) error {
	if reading.Processed {
		return nil
	}

	verdicts, err := s.Evaluate(reading)
	if err != nil {
		return err
	}

	for _, v := range verdicts {
		if !v.Breached {
			continue
		}
		if s.raiser == nil {
			s.logger.Warn("No alert raiser wired, dropping verdict",
				zap.String("reading_id", reading.ID),
				zap.String("kind", string(v.Kind)))
			continue
		}
		if _, err := s.raiser.Raise(reading, v); err != nil {
			return err
		}
	}

	if err := s.readingRepo.MarkProcessed(reading.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Lost the race with a concurrent evaluation of the same
			// reading; the winner already handled it.
			return nil
		}
		return storeErr(err)
	}
	reading.Processed = true

	return nil
}

// ProcessAsync runs ProcessReading in the background with exponential
// backoff retries, bounded by the configured attempt cap. Failures never
// propagate to the ingest caller.
func (s *EvaluatorService) ProcessAsync(reading *models.Reading) {
	go s.processWithRetry(reading, 0)
}

func (s *EvaluatorService) processWithRetry(reading *models.Reading, attempt int) {
	err := s.ProcessReading(reading)
	if err == nil {
		return
	}

	if attempt+1 >= s.cfg.RetryAttempts {
		s.logger.Error("Evaluation failed permanently, reading left unprocessed",
			zap.String("reading_id", reading.ID),
			zap.Int("attempts", attempt+1),
			zap.Error(err))
		return
	}

	delay := time.Duration(s.cfg.RetryBaseMS) * time.Millisecond << uint(attempt)
	s.logger.Warn("Evaluation failed, scheduling retry",
		zap.String("reading_id", reading.ID),
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", delay),
		zap.Error(err))

	time.AfterFunc(delay, func() {
		s.processWithRetry(reading, attempt+1)
	})
}

// SweepUnprocessed re-evaluates readings that never got processed, e.g.
// after a crash between the store write and evaluation. Called once at
// startup by the provider.
func (s *EvaluatorService) SweepUnprocessed(limit int) {
	readings, err := s.readingRepo.ListUnprocessed(limit)
	if err != nil {
		s.logger.Error("Failed to list unprocessed readings", zap.Error(err))
		return
	}

	if len(readings) == 0 {
		return
	}

	s.logger.Info("Re-evaluating unprocessed readings", zap.Int("count", len(readings)))
	for i := range readings {
		s.ProcessAsync(&readings[i])
	}
}

// sampleStats computes mean and sample standard deviation of the window
func sampleStats(readings []models.Reading) (mean, stddev float64) {
	n := float64(len(readings))

	var sum float64
	for _, r := range readings {
		sum += r.Value
	}
	mean = sum / n

	var sq float64
	for _, r := range readings {
		d := r.Value - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / (n - 1))

	return mean, stddev
}

// storeErr tags repository failures as transient store errors so callers
// can route them to the retry path instead of surfacing them.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return utils.ErrNotFound
	}
	return utils.ErrStoreUnavailable
}
