package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pulseguard/backend/internal/config"
	"github.com/pulseguard/backend/internal/db"
	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/db/repository"
	"github.com/pulseguard/backend/internal/events"
	"github.com/pulseguard/backend/internal/notify"
	"github.com/pulseguard/backend/internal/utils"
	"go.uber.org/zap"
)

// escalationRule drives the dispatcher's fan-out for one (type, severity)
// pair: which priority tiers get the first wave, how long to wait for a
// response before escalating, and which tiers the escalation wave adds.
type escalationRule struct {
	initialTiers   []int
	escalatedTiers []int
	delay          time.Duration
	ignoreWindows  bool
}

// escalationPolicy maps (alert type, severity) to its rule. Unlisted pairs
// fall back to defaultRule.
var escalationPolicy = map[models.AlertType]map[models.Severity]escalationRule{
	models.AlertTypeThresholdBreach: {
		models.SeverityCritical: {
			initialTiers:   []int{1, 2},
			escalatedTiers: []int{1, 2, 3},
			delay:          2 * time.Minute,
			ignoreWindows:  true,
		},
		models.SeverityHigh: {
			initialTiers:   []int{1},
			escalatedTiers: []int{1, 2},
			delay:          5 * time.Minute,
		},
		models.SeverityMedium: {
			initialTiers:   []int{1},
			escalatedTiers: []int{1, 2},
			delay:          15 * time.Minute,
		},
	},
	models.AlertTypeAnomalyDetected: {
		models.SeverityMedium: {
			initialTiers:   []int{1},
			escalatedTiers: []int{1, 2},
			delay:          30 * time.Minute,
		},
	},
}

var defaultRule = escalationRule{
	initialTiers:   []int{1},
	escalatedTiers: []int{1, 2},
	delay:          15 * time.Minute,
}

func ruleFor(alertType models.AlertType, severity models.Severity) escalationRule {
	if bySeverity, ok := escalationPolicy[alertType]; ok {
		if rule, ok := bySeverity[severity]; ok {
			return rule
		}
	}
	return defaultRule
}

// AlertStateSink is the slice of the alert manager the dispatcher reports
// back through. Implemented by AlertService.
type AlertStateSink interface {
	GetByID(alertID string) (*models.Alert, error)
	MarkSent(alertID string) error
	RecordContactsNotified(alertID string, contactIDs []string) error
}

// DispatchService fans alert notifications out to emergency contacts
// through the registered transports and owns the escalation timers.
type DispatchService struct {
	logger      *utils.Logger
	cfg         *config.DispatchConfig
	contactRepo repository.ContactRepository
	alertRepo   repository.AlertRepository
	registry    *notify.Registry
	bus         *events.Bus
	alerts      AlertStateSink

	queue chan string
	wg    sync.WaitGroup
	ctx   context.Context
	stop  context.CancelFunc

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

// NewDispatchService creates a new dispatch service
func NewDispatchService(database *db.Database, cfg *config.DispatchConfig, registry *notify.Registry, bus *events.Bus, logger *utils.Logger) *DispatchService {
	repoFactory := repository.NewRepositoryFactory(database.DB)
	ctx, cancel := context.WithCancel(context.Background())
	return &DispatchService{
		logger:      logger.Named("dispatch_service"),
		cfg:         cfg,
		contactRepo: repoFactory.Contact(),
		alertRepo:   repoFactory.Alert(),
		registry:    registry,
		bus:         bus,
		queue:       make(chan string, cfg.QueueSize),
		ctx:         ctx,
		stop:        cancel,
		timers:      make(map[string]*time.Timer),
	}
}

// SetAlertSink wires the alert manager in
func (s *DispatchService) SetAlertSink(sink AlertStateSink) {
	s.alerts = sink
}

// Start launches the worker pool
func (s *DispatchService) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.logger.Info("Dispatch workers started", zap.Int("workers", s.cfg.Workers))
}

// Stop drains the pool and cancels all pending escalation timers
func (s *DispatchService) Stop() {
	s.stop()
	close(s.queue)
	s.wg.Wait()

	s.timerMu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.timerMu.Unlock()

	s.logger.Info("Dispatch service stopped")
}

// Enqueue queues an alert for notification fan-out. Never blocks the
// caller: when the queue is full the alert is dropped from the fast path
// and will be picked up by the startup re-arm sweep on next boot.
func (s *DispatchService) Enqueue(alertID string) {
	select {
	case s.queue <- alertID:
	default:
		s.logger.Error("Dispatch queue full, dropping alert from fast path",
			zap.String("alert_id", alertID))
	}
}

// CancelEscalation stops the alert's pending escalation timer. Safe to
// call for alerts with no timer and safe against a concurrently firing
// timer: the fire path re-checks alert state before escalating.
func (s *DispatchService) CancelEscalation(alertID string) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if t, ok := s.timers[alertID]; ok {
		t.Stop()
		delete(s.timers, alertID)
	}
}

// ReArm restores escalation timers for alerts that were sent but never
// answered, e.g. after a process restart wiped the in-memory timers.
func (s *DispatchService) ReArm() {
	alerts, err := s.alertRepo.ListUnanswered()
	if err != nil {
		s.logger.Error("Failed to list unanswered alerts for re-arm", zap.Error(err))
		return
	}

	for i := range alerts {
		a := alerts[i]
		rule := ruleFor(a.Type, a.Severity)

		elapsed := time.Since(a.CreatedAt)
		remaining := rule.delay - elapsed
		if remaining < time.Second {
			remaining = time.Second
		}

		s.armEscalation(&a, rule, remaining)
	}

	if len(alerts) > 0 {
		s.logger.Info("Re-armed escalation timers", zap.Int("count", len(alerts)))
	}
}

func (s *DispatchService) worker(id int) {
	defer s.wg.Done()
	s.logger.Debug("Dispatch worker started", zap.Int("worker", id))

	for alertID := range s.queue {
		if s.ctx.Err() != nil {
			return
		}
		s.dispatch(alertID)
	}
}

// dispatch runs the full fan-out for one alert: contact resolution,
// delivery, status advance and escalation arming.
func (s *DispatchService) dispatch(alertID string) {
	alert, err := s.alerts.GetByID(alertID)
	if err != nil {
		s.logger.Error("Failed to load alert for dispatch",
			zap.String("alert_id", alertID), zap.Error(err))
		return
	}

	if alert.Status != models.AlertStatusPending {
		// Raised, then resolved or acknowledged before a worker got to
		// it. Nothing to send.
		s.logger.Debug("Skipping dispatch for non-pending alert",
			zap.String("alert_id", alertID),
			zap.String("status", string(alert.Status)))
		return
	}

	rule := ruleFor(alert.Type, alert.Severity)
	notified := s.notifyTiers(alert, rule.initialTiers, rule.ignoreWindows)

	if len(notified) > 0 {
		if err := s.alerts.RecordContactsNotified(alertID, notified); err != nil {
			s.logger.Error("Failed to record notified contacts",
				zap.String("alert_id", alertID), zap.Error(err))
		}
	}

	if err := s.alerts.MarkSent(alertID); err != nil {
		s.logger.Error("Failed to mark alert sent",
			zap.String("alert_id", alertID), zap.Error(err))
		return
	}

	s.armEscalation(alert, rule, rule.delay)
}

// notifyTiers delivers the alert to every active contact in the given
// priority tiers. Returns the ids of contacts that were attempted; a
// contact counts as notified even when every transport failed, so the
// record reflects who the engine tried to reach.
func (s *DispatchService) notifyTiers(alert *models.Alert, tiers []int, ignoreWindows bool) []string {
	contacts, err := s.contactRepo.GetActiveByPriority(alert.UserID, tiers)
	if err != nil {
		s.logger.Error("Failed to load contacts",
			zap.String("alert_id", alert.ID),
			zap.String("user_id", alert.UserID),
			zap.Error(err))
		return nil
	}

	if len(contacts) == 0 {
		s.logger.Warn("No active contacts in tier set",
			zap.String("alert_id", alert.ID),
			zap.Ints("tiers", tiers))
		return nil
	}

	msg := notify.Message{
		AlertID:  alert.ID,
		UserID:   alert.UserID,
		Severity: alert.Severity,
		Title:    alert.Title,
		Body:     alert.Message,
	}

	var notified []string
	for i := range contacts {
		c := &contacts[i]

		if !ignoreWindows && !withinAvailability(c.AvailabilityWindow, time.Now()) {
			s.logger.Debug("Contact outside availability window, skipping",
				zap.Uint("contact_id", c.ID),
				zap.String("alert_id", alert.ID))
			continue
		}

		s.notifyContact(c, msg)
		notified = append(notified, strconv.FormatUint(uint64(c.ID), 10))
	}

	return notified
}

// notifyContact tries each of the contact's channels in order. Every
// channel gets one retry after a fixed delay; a channel that fails twice
// is skipped and the next one is tried.
func (s *DispatchService) notifyContact(contact *models.Contact, msg notify.Message) {
	for _, ch := range contact.Channels {
		sender := s.registry.Sender(ch)
		if sender == nil {
			s.logger.Warn("No sender registered for channel",
				zap.String("channel", string(ch)))
			continue
		}

		recipient := contact.Recipient(ch)
		if recipient == "" {
			continue
		}

		if err := s.sendOnce(sender, recipient, msg); err == nil {
			continue
		}

		select {
		case <-time.After(s.cfg.RetryDelay()):
		case <-s.ctx.Done():
			return
		}

		if err := s.sendOnce(sender, recipient, msg); err != nil {
			s.logger.Warn("Delivery failed after retry, skipping channel",
				zap.String("channel", string(ch)),
				zap.Uint("contact_id", contact.ID),
				zap.String("alert_id", msg.AlertID),
				zap.Error(err))
		}
	}
}

func (s *DispatchService) sendOnce(sender notify.Sender, recipient string, msg notify.Message) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SendTimeout())
	defer cancel()
	return sender.Send(ctx, recipient, msg)
}

// armEscalation schedules the escalation check for an alert. Replaces any
// existing timer for the same alert.
func (s *DispatchService) armEscalation(alert *models.Alert, rule escalationRule, delay time.Duration) {
	alertID := alert.ID

	s.timerMu.Lock()
	if old, ok := s.timers[alertID]; ok {
		old.Stop()
	}
	s.timers[alertID] = time.AfterFunc(delay, func() {
		s.escalate(alertID, rule)
	})
	s.timerMu.Unlock()
}

// escalate fires when the escalation timer elapses. The alert is reloaded
// and escalation proceeds only if it is still sent with no responses, so a
// response that raced the timer wins.
func (s *DispatchService) escalate(alertID string, rule escalationRule) {
	s.timerMu.Lock()
	delete(s.timers, alertID)
	s.timerMu.Unlock()

	if s.ctx.Err() != nil {
		return
	}

	alert, err := s.alerts.GetByID(alertID)
	if err != nil {
		s.logger.Error("Failed to load alert for escalation",
			zap.String("alert_id", alertID), zap.Error(err))
		return
	}

	if alert.Status != models.AlertStatusSent || len(alert.Responses) > 0 {
		s.logger.Debug("Escalation aborted, alert already handled",
			zap.String("alert_id", alertID),
			zap.String("status", string(alert.Status)),
			zap.Int("responses", len(alert.Responses)))
		return
	}

	s.logger.Info("Escalating unanswered alert",
		zap.String("alert_id", alertID),
		zap.String("severity", string(alert.Severity)),
		zap.Ints("tiers", rule.escalatedTiers))

	escalated := *alert
	escalated.Title = fmt.Sprintf("ESCALATED: %s", alert.Title)
	notified := s.notifyTiers(&escalated, rule.escalatedTiers, true)

	if len(notified) > 0 {
		if err := s.alerts.RecordContactsNotified(alertID, notified); err != nil {
			s.logger.Error("Failed to record escalation contacts",
				zap.String("alert_id", alertID), zap.Error(err))
		}
	}

	// Escalation is a side channel: alert status stays sent.
	s.bus.Publish(events.Event{
		Type:    events.EventAlertEscalated,
		UserID:  alert.UserID,
		Payload: alert,
	})
}

// withinAvailability reports whether now falls inside an "HH:MM-HH:MM"
// window. Malformed or empty windows never block delivery. Windows that
// wrap midnight (22:00-06:00) are supported.
func withinAvailability(window string, now time.Time) bool {
	if window == "" {
		return true
	}

	var fromH, fromM, toH, toM int
	if _, err := fmt.Sscanf(window, "%d:%d-%d:%d", &fromH, &fromM, &toH, &toM); err != nil {
		return true
	}

	minutes := now.Hour()*60 + now.Minute()
	from := fromH*60 + fromM
	to := toH*60 + toM

	if from <= to {
		return minutes >= from && minutes <= to
	}
	return minutes >= from || minutes <= to
}
