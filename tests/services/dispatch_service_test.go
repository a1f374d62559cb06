package services_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/events"
	"github.com/pulseguard/backend/internal/notify"
	"github.com/pulseguard/backend/internal/services"
	testutils "github.com/pulseguard/backend/tests/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSender records deliveries and can fail the first N attempts
type stubSender struct {
	channel models.Channel

	mu         sync.Mutex
	recipients []string
	titles     []string
	failFirst  int
}

func (s *stubSender) Channel() models.Channel { return s.channel }

func (s *stubSender) Send(ctx context.Context, recipient string, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFirst > 0 {
		s.failFirst--
		return errors.New("transport unavailable")
	}
	s.recipients = append(s.recipients, recipient)
	s.titles = append(s.titles, msg.Title)
	return nil
}

func (s *stubSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recipients...)
}

func (s *stubSender) sentTitles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

type dispatchFixture struct {
	ts       *testutils.TestSetup
	bus      *events.Bus
	email    *stubSender
	dispatch *services.DispatchService
	alerts   *services.AlertService
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	ts := testutils.NewTestSetup(t)
	t.Cleanup(ts.Cleanup)
	ts.MigrateAll()

	bus := events.NewBus(ts.Logger)
	email := &stubSender{channel: models.ChannelEmail}
	registry := notify.NewRegistry(email)

	dispatch := services.NewDispatchService(ts.DB, &ts.Config.Dispatch, registry, bus, ts.Logger)
	alerts := services.NewAlertService(ts.DB, bus, ts.Logger)
	alerts.SetDispatcher(dispatch)
	dispatch.SetAlertSink(alerts)

	dispatch.Start()
	t.Cleanup(dispatch.Stop)

	return &dispatchFixture{ts: ts, bus: bus, email: email, dispatch: dispatch, alerts: alerts}
}

func (f *dispatchFixture) raisePendingAlert(t *testing.T, severity models.Severity) *models.Alert {
	threshold := f.ts.SeedThreshold("user-1", models.DataTypeHeartRate, nil, testutils.FloatPtr(100), severity)
	reading := f.ts.SeedReading("user-1", models.DataTypeHeartRate, 130, time.Now())

	alert := &models.Alert{
		UserID:       "user-1",
		Type:         models.AlertTypeThresholdBreach,
		Severity:     severity,
		Title:        "heart_rate out of range",
		Message:      "reading above limit",
		ConditionKey: models.ThresholdConditionKey(threshold.ID),
		DataSnapshot: models.ReadingSnapshot{ReadingID: reading.ID, Value: reading.Value},
		Status:       models.AlertStatusPending,
	}
	require.NoError(t, f.ts.DB.DB.Create(alert).Error)
	return alert
}

func TestDispatchService_FanOut(t *testing.T) {
	f := newDispatchFixture(t)

	f.ts.SeedContact("user-1", "tier1", 1, models.ChannelEmail)
	f.ts.SeedContact("user-1", "tier2", 2, models.ChannelEmail)

	alert := f.raisePendingAlert(t, models.SeverityHigh)
	f.dispatch.Enqueue(alert.ID)

	// High severity notifies tier 1 only on the first wave.
	require.Eventually(t, func() bool {
		current, err := f.alerts.GetByID(alert.ID)
		return err == nil && current.Status == models.AlertStatusSent
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"tier1@example.com"}, f.email.sent())

	updated, err := f.alerts.GetByID(alert.ID)
	require.NoError(t, err)
	assert.Len(t, updated.ContactsNotified, 1)
}

func TestDispatchService_CriticalNotifiesTwoTiers(t *testing.T) {
	f := newDispatchFixture(t)

	f.ts.SeedContact("user-1", "tier1", 1, models.ChannelEmail)
	f.ts.SeedContact("user-1", "tier2", 2, models.ChannelEmail)
	f.ts.SeedContact("user-1", "tier3", 3, models.ChannelEmail)

	alert := f.raisePendingAlert(t, models.SeverityCritical)
	f.dispatch.Enqueue(alert.ID)

	require.Eventually(t, func() bool {
		return len(f.email.sent()) == 2
	}, 2*time.Second, 20*time.Millisecond)

	assert.ElementsMatch(t, []string{"tier1@example.com", "tier2@example.com"}, f.email.sent())
}

func TestDispatchService_RetriesFailedSend(t *testing.T) {
	f := newDispatchFixture(t)
	f.email.failFirst = 1

	f.ts.SeedContact("user-1", "tier1", 1, models.ChannelEmail)

	alert := f.raisePendingAlert(t, models.SeverityHigh)
	f.dispatch.Enqueue(alert.ID)

	require.Eventually(t, func() bool {
		return len(f.email.sent()) == 1
	}, 2*time.Second, 20*time.Millisecond)

	// Delivery failure never blocks the status advance.
	updated, err := f.alerts.GetByID(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusSent, updated.Status)
}

func TestDispatchService_SkipsHandledAlert(t *testing.T) {
	f := newDispatchFixture(t)

	f.ts.SeedContact("user-1", "tier1", 1, models.ChannelEmail)

	alert := f.raisePendingAlert(t, models.SeverityHigh)
	_, err := f.alerts.Resolve(alert.ID, true)
	require.NoError(t, err)

	f.dispatch.Enqueue(alert.ID)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, f.email.sent())
}

func TestDispatchService_AvailabilityWindow(t *testing.T) {
	f := newDispatchFixture(t)

	// A one-hour window starting two hours from now: closed at test time.
	from := time.Now().Add(2 * time.Hour)
	to := time.Now().Add(3 * time.Hour)
	window := fmt.Sprintf("%02d:%02d-%02d:%02d", from.Hour(), from.Minute(), to.Hour(), to.Minute())

	asleep := f.ts.SeedContact("user-1", "asleep", 1, models.ChannelEmail)
	asleep.AvailabilityWindow = window
	require.NoError(t, f.ts.DB.DB.Save(asleep).Error)

	t.Run("Should skip a contact outside their window for high severity", func(t *testing.T) {
		alert := f.raisePendingAlert(t, models.SeverityHigh)
		f.dispatch.Enqueue(alert.ID)

		require.Eventually(t, func() bool {
			current, err := f.alerts.GetByID(alert.ID)
			return err == nil && current.Status == models.AlertStatusSent
		}, 2*time.Second, 20*time.Millisecond)

		assert.Empty(t, f.email.sent())
	})

	t.Run("Should ignore the window for critical severity", func(t *testing.T) {
		alert := f.raisePendingAlert(t, models.SeverityCritical)
		f.dispatch.Enqueue(alert.ID)

		require.Eventually(t, func() bool {
			return len(f.email.sent()) == 1
		}, 2*time.Second, 20*time.Millisecond)
	})
}

func TestDispatchService_CancelEscalationUnknownAlert(t *testing.T) {
	f := newDispatchFixture(t)

	// Cancelling a timer that was never armed must not panic or block.
	f.dispatch.CancelEscalation("no-such-alert")
}

func TestDispatchService_ResponseCancelsEscalation(t *testing.T) {
	f := newDispatchFixture(t)

	f.ts.SeedContact("user-1", "tier1", 1, models.ChannelEmail)
	f.ts.SeedContact("user-1", "tier2", 2, models.ChannelEmail)

	var escalated []events.Event
	var mu sync.Mutex
	f.bus.SubscribeType(events.EventAlertEscalated, func(event events.Event) {
		mu.Lock()
		escalated = append(escalated, event)
		mu.Unlock()
	})

	alert := f.raisePendingAlert(t, models.SeverityHigh)
	f.dispatch.Enqueue(alert.ID)

	require.Eventually(t, func() bool {
		current, err := f.alerts.GetByID(alert.ID)
		return err == nil && current.Status == models.AlertStatusSent
	}, 2*time.Second, 20*time.Millisecond)
	require.Equal(t, []string{"tier1@example.com"}, f.email.sent())

	// Push the escalation deadline into the past and re-arm, as a restart
	// would: the timer is now due in the one-second minimum.
	require.NoError(t, f.ts.DB.DB.Model(alert).
		Update("created_at", time.Now().Add(-30*time.Minute)).Error)
	f.dispatch.ReArm()

	// The response lands before the timer fires and cancels it.
	_, err := f.alerts.Acknowledge(alert.ID, 1, models.ResponseOnWay, "on my way")
	require.NoError(t, err)

	// Well past the timer deadline: no escalation may fire.
	time.Sleep(2500 * time.Millisecond)

	mu.Lock()
	assert.Empty(t, escalated)
	mu.Unlock()

	// Tier 2 was never brought in.
	assert.Equal(t, []string{"tier1@example.com"}, f.email.sent())

	current, err := f.alerts.GetByID(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusAcknowledged, current.Status)
}

func TestDispatchService_ReArmEscalates(t *testing.T) {
	f := newDispatchFixture(t)

	f.ts.SeedContact("user-1", "tier1", 1, models.ChannelEmail)
	f.ts.SeedContact("user-1", "tier2", 2, models.ChannelEmail)

	var escalated []events.Event
	var mu sync.Mutex
	f.bus.SubscribeType(events.EventAlertEscalated, func(event events.Event) {
		mu.Lock()
		escalated = append(escalated, event)
		mu.Unlock()
	})

	// A sent, unanswered alert whose escalation deadline passed while the
	// process was down: re-arm clamps the remaining delay to one second.
	alert := f.raisePendingAlert(t, models.SeverityHigh)
	require.NoError(t, f.ts.DB.DB.Model(alert).
		Updates(map[string]interface{}{
			"status":     models.AlertStatusSent,
			"created_at": time.Now().Add(-30 * time.Minute),
		}).Error)

	f.dispatch.ReArm()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(escalated) == 1
	}, 5*time.Second, 50*time.Millisecond)

	// Escalation fans out to both tiers with the escalated title.
	assert.Len(t, f.email.sent(), 2)
	for _, title := range f.email.sentTitles() {
		assert.Contains(t, title, "ESCALATED")
	}

	// Escalation is a side channel: the alert stays sent.
	current, err := f.alerts.GetByID(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusSent, current.Status)
}
