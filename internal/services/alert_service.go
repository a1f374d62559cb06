package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/pulseguard/backend/internal/db"
	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/db/repository"
	"github.com/pulseguard/backend/internal/events"
	"github.com/pulseguard/backend/internal/utils"
	"go.uber.org/zap"
)

// Dispatcher is the slice of the notification dispatcher the alert manager
// needs: queueing freshly raised alerts and cancelling escalation timers
// when a response lands.
type Dispatcher interface {
	Enqueue(alertID string)
	CancelEscalation(alertID string)
}

// AlertService owns the alert state machine: dedup on raise, forward-only
// status transitions, response bookkeeping and resolution.
type AlertService struct {
	logger     *utils.Logger
	alertRepo  repository.AlertRepository
	bus        *events.Bus
	dispatcher Dispatcher
	locks      *utils.KeyedMutex
}

// NewAlertService creates a new alert service
func NewAlertService(database *db.Database, bus *events.Bus, logger *utils.Logger) *AlertService {
	repoFactory := repository.NewRepositoryFactory(database.DB)
	return &AlertService{
		logger:    logger.Named("alert_service"),
		alertRepo: repoFactory.Alert(),
		bus:       bus,
		locks:     utils.NewKeyedMutex(),
	}
}

// SetDispatcher wires the notification dispatcher in
func (s *AlertService) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Raise opens a new alert for a breach verdict, or refreshes the snapshot
// of the existing open alert for the same condition. Concurrent breaches
// of one (user, condition) serialize on a keyed lock so exactly one alert
// row exists per open condition instance.
func (s *AlertService) Raise(reading *models.Reading, verdict Verdict) (*models.Alert, error) {
	conditionKey := conditionKeyFor(reading, verdict)
	lockKey := reading.UserID + "|" + conditionKey

	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	snapshot := models.ReadingSnapshot{
		ReadingID: reading.ID,
		DataType:  reading.DataType,
		Value:     reading.Value,
		Unit:      reading.Unit,
		Timestamp: reading.Timestamp,
		Mean:      verdict.Mean,
		StdDev:    verdict.StdDev,
	}

	existing, err := s.alertRepo.GetOpenByCondition(reading.UserID, conditionKey)
	if err == nil {
		// Dedup: refresh the open alert in place, identity unchanged.
		// Snapshot and message only; a concurrent response may be moving
		// the status forward and must not be overwritten.
		existing.DataSnapshot = snapshot
		existing.Message = alertMessage(reading, verdict)
		if err := s.alertRepo.UpdateSnapshot(existing.ID, snapshot, existing.Message); err != nil {
			return nil, storeErr(err)
		}

		s.logger.Debug("Refreshed open alert",
			zap.String("alert_id", existing.ID),
			zap.String("condition_key", conditionKey))

		s.bus.Publish(events.Event{
			Type:    events.EventAlertUpdated,
			UserID:  existing.UserID,
			Payload: existing,
		})
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, storeErr(err)
	}

	alert := &models.Alert{
		UserID:       reading.UserID,
		Type:         verdict.Kind,
		Severity:     verdict.Severity,
		Title:        alertTitle(reading, verdict),
		Message:      alertMessage(reading, verdict),
		ConditionKey: conditionKey,
		DataSnapshot: snapshot,
		Status:       models.AlertStatusPending,
	}

	if err := s.alertRepo.Insert(alert); err != nil {
		return nil, storeErr(err)
	}

	s.logger.Info("Alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("user_id", alert.UserID),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)))

	s.bus.Publish(events.Event{
		Type:    events.EventAlertCreated,
		UserID:  alert.UserID,
		Payload: alert,
	})

	if s.dispatcher != nil {
		s.dispatcher.Enqueue(alert.ID)
	}

	return alert, nil
}

// GetByID retrieves an alert by id
func (s *AlertService) GetByID(alertID string) (*models.Alert, error) {
	alert, err := s.alertRepo.GetByID(alertID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("alert %s: %w", alertID, utils.ErrNotFound)
		}
		return nil, storeErr(err)
	}
	return alert, nil
}

// ActiveAlerts returns non-resolved alerts for a user, newest first
func (s *AlertService) ActiveAlerts(userID string, severity models.Severity, limit, offset int) ([]models.Alert, int64, error) {
	alerts, total, err := s.alertRepo.ListActive(userID, severity, limit, offset)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	return alerts, total, nil
}

// Acknowledge appends a response and advances the state machine: a
// false_alarm response resolves the alert, anything else moves it to
// acknowledged. Either way the pending escalation timer is cancelled.
// Responding to a resolved alert is a state conflict and changes nothing.
func (s *AlertService) Acknowledge(alertID string, contactID uint, responseType models.ResponseType, message string) (*models.Alert, error) {
	if !models.ValidResponseType(responseType) {
		return nil, fmt.Errorf("unknown response type %q: %w", responseType, utils.ErrValidation)
	}

	alert, err := s.GetByID(alertID)
	if err != nil {
		return nil, err
	}

	if alert.Status == models.AlertStatusResolved {
		return nil, fmt.Errorf("alert %s already resolved: %w", alertID, utils.ErrStateConflict)
	}

	response := &models.Response{
		AlertID:   alertID,
		ContactID: contactID,
		Type:      responseType,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if err := s.alertRepo.AppendResponse(response); err != nil {
		return nil, storeErr(err)
	}

	// Any response cancels escalation; cancelling an already-fired or
	// already-cancelled timer is a no-op.
	if s.dispatcher != nil {
		s.dispatcher.CancelEscalation(alertID)
	}

	if responseType == models.ResponseFalseAlarm {
		return s.resolveLocked(alert, false)
	}

	if alert.Status.CanTransition(models.AlertStatusAcknowledged) {
		if err := s.alertRepo.UpdateStatus(alertID, alert.Status, models.AlertStatusAcknowledged); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Status moved concurrently; forward-only means the
				// current state is at least acknowledged already.
				s.logger.Debug("Concurrent status advance during acknowledge",
					zap.String("alert_id", alertID))
			} else {
				return nil, storeErr(err)
			}
		}
	}

	updated, err := s.GetByID(alertID)
	if err != nil {
		return nil, err
	}

	s.bus.Publish(events.Event{
		Type:    events.EventAlertUpdated,
		UserID:  updated.UserID,
		Payload: updated,
	})

	return updated, nil
}

// Resolve moves the alert to its terminal state. auto records whether the
// resolution came from the engine rather than a person.
func (s *AlertService) Resolve(alertID string, auto bool) (*models.Alert, error) {
	alert, err := s.GetByID(alertID)
	if err != nil {
		return nil, err
	}

	if alert.Status == models.AlertStatusResolved {
		return nil, fmt.Errorf("alert %s already resolved: %w", alertID, utils.ErrStateConflict)
	}

	if s.dispatcher != nil {
		s.dispatcher.CancelEscalation(alertID)
	}

	return s.resolveLocked(alert, auto)
}

// MarkSent transitions pending -> sent once the dispatcher has initiated
// fan-out. A no-op when the alert advanced past pending already.
func (s *AlertService) MarkSent(alertID string) error {
	err := s.alertRepo.UpdateStatus(alertID, models.AlertStatusPending, models.AlertStatusSent)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return storeErr(err)
	}

	alert, err := s.GetByID(alertID)
	if err != nil {
		return err
	}

	s.bus.Publish(events.Event{
		Type:    events.EventAlertUpdated,
		UserID:  alert.UserID,
		Payload: alert,
	})
	return nil
}

// RecordContactsNotified appends contact ids to the alert's notified list
func (s *AlertService) RecordContactsNotified(alertID string, contactIDs []string) error {
	alert, err := s.GetByID(alertID)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(alert.ContactsNotified))
	for _, id := range alert.ContactsNotified {
		seen[id] = true
	}
	for _, id := range contactIDs {
		if !seen[id] {
			alert.ContactsNotified = append(alert.ContactsNotified, id)
			seen[id] = true
		}
	}

	if err := s.alertRepo.UpdateContactsNotified(alertID, alert.ContactsNotified); err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *AlertService) resolveLocked(alert *models.Alert, auto bool) (*models.Alert, error) {
	now := time.Now().UTC()
	if err := s.alertRepo.MarkResolved(alert.ID, now, auto); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Lost the race to another resolver.
			return nil, fmt.Errorf("alert %s already resolved: %w", alert.ID, utils.ErrStateConflict)
		}
		return nil, storeErr(err)
	}

	alert.Status = models.AlertStatusResolved
	alert.ResolvedAt = &now
	alert.AutoResolved = &auto

	s.logger.Info("Alert resolved",
		zap.String("alert_id", alert.ID),
		zap.Bool("auto", auto))

	s.bus.Publish(events.Event{
		Type:    events.EventAlertResolved,
		UserID:  alert.UserID,
		Payload: alert,
	})

	return alert, nil
}

// conditionKeyFor derives the dedup key for a verdict
func conditionKeyFor(reading *models.Reading, verdict Verdict) string {
	if verdict.Kind == models.AlertTypeThresholdBreach && verdict.Threshold != nil {
		return models.ThresholdConditionKey(verdict.Threshold.ID)
	}
	return models.AnomalyConditionKey(reading.DataType)
}

func alertTitle(reading *models.Reading, verdict Verdict) string {
	switch verdict.Kind {
	case models.AlertTypeThresholdBreach:
		return fmt.Sprintf("%s out of range", reading.DataType)
	case models.AlertTypeAnomalyDetected:
		return fmt.Sprintf("Unusual %s pattern", reading.DataType)
	default:
		return string(verdict.Kind)
	}
}

func alertMessage(reading *models.Reading, verdict Verdict) string {
	switch verdict.Kind {
	case models.AlertTypeThresholdBreach:
		t := verdict.Threshold
		switch {
		case t != nil && t.Max != nil && reading.Value > *t.Max:
			return fmt.Sprintf("%s reading of %.1f %s is above the configured limit of %.1f",
				reading.DataType, reading.Value, reading.Unit, *t.Max)
		case t != nil && t.Min != nil && reading.Value < *t.Min:
			return fmt.Sprintf("%s reading of %.1f %s is below the configured limit of %.1f",
				reading.DataType, reading.Value, reading.Unit, *t.Min)
		default:
			return fmt.Sprintf("%s reading of %.1f %s breached a configured threshold",
				reading.DataType, reading.Value, reading.Unit)
		}
	case models.AlertTypeAnomalyDetected:
		return fmt.Sprintf("%s reading of %.1f %s deviates sharply from the recent average of %.1f",
			reading.DataType, reading.Value, reading.Unit, verdict.Mean)
	default:
		return fmt.Sprintf("%s condition detected for %s", verdict.Kind, reading.DataType)
	}
}
