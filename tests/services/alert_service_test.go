package services_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/events"
	"github.com/pulseguard/backend/internal/services"
	"github.com/pulseguard/backend/internal/utils"
	testutils "github.com/pulseguard/backend/tests/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDispatcher records the dispatcher calls made by the alert manager
type fakeDispatcher struct {
	enqueued  []string
	cancelled []string
}

func (f *fakeDispatcher) Enqueue(alertID string)          { f.enqueued = append(f.enqueued, alertID) }
func (f *fakeDispatcher) CancelEscalation(alertID string) { f.cancelled = append(f.cancelled, alertID) }

func newAlertFixture(t *testing.T) (*testutils.TestSetup, *services.AlertService, *fakeDispatcher) {
	ts := testutils.NewTestSetup(t)
	t.Cleanup(ts.Cleanup)
	ts.MigrateAll()

	bus := events.NewBus(ts.Logger)
	alertService := services.NewAlertService(ts.DB, bus, ts.Logger)
	dispatcher := &fakeDispatcher{}
	alertService.SetDispatcher(dispatcher)

	return ts, alertService, dispatcher
}

func breachVerdict(threshold *models.Threshold) services.Verdict {
	return services.Verdict{
		Breached:  true,
		Kind:      models.AlertTypeThresholdBreach,
		Severity:  threshold.Severity,
		Threshold: threshold,
	}
}

func TestAlertService_Raise(t *testing.T) {
	ts, alertService, dispatcher := newAlertFixture(t)

	threshold := ts.SeedThreshold("user-1", models.DataTypeHeartRate, nil, testutils.FloatPtr(100), models.SeverityHigh)
	reading := ts.SeedReading("user-1", models.DataTypeHeartRate, 130, time.Now())

	alert, err := alertService.Raise(reading, breachVerdict(threshold))
	require.NoError(t, err)

	assert.Equal(t, models.AlertStatusPending, alert.Status)
	assert.Equal(t, models.AlertTypeThresholdBreach, alert.Type)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.Equal(t, models.ThresholdConditionKey(threshold.ID), alert.ConditionKey)
	assert.Equal(t, 130.0, alert.DataSnapshot.Value)
	assert.Equal(t, []string{alert.ID}, dispatcher.enqueued)
}

func TestAlertService_RaiseDeduplicates(t *testing.T) {
	ts, alertService, dispatcher := newAlertFixture(t)

	threshold := ts.SeedThreshold("user-1", models.DataTypeHeartRate, nil, testutils.FloatPtr(100), models.SeverityHigh)

	first := ts.SeedReading("user-1", models.DataTypeHeartRate, 130, time.Now())
	alert, err := alertService.Raise(first, breachVerdict(threshold))
	require.NoError(t, err)

	t.Run("Should refresh the open alert for a repeat breach", func(t *testing.T) {
		second := ts.SeedReading("user-1", models.DataTypeHeartRate, 145, time.Now())
		refreshed, err := alertService.Raise(second, breachVerdict(threshold))
		require.NoError(t, err)

		assert.Equal(t, alert.ID, refreshed.ID)
		assert.Equal(t, 145.0, refreshed.DataSnapshot.Value)
		// Only the original raise queued a notification.
		assert.Len(t, dispatcher.enqueued, 1)
	})

	t.Run("Should open a fresh alert once the previous one resolved", func(t *testing.T) {
		_, err := alertService.Resolve(alert.ID, true)
		require.NoError(t, err)

		third := ts.SeedReading("user-1", models.DataTypeHeartRate, 150, time.Now())
		reopened, err := alertService.Raise(third, breachVerdict(threshold))
		require.NoError(t, err)

		assert.NotEqual(t, alert.ID, reopened.ID)
		assert.Equal(t, models.AlertStatusPending, reopened.Status)
	})
}

func TestAlertService_ConcurrentRefreshKeepsResponseProgress(t *testing.T) {
	ts, alertService, _ := newAlertFixture(t)

	// A repeat breach refreshing the open alert races a contact's
	// acknowledgement. Whatever the interleaving, an alert that has a
	// response on record must never read as unanswered again.
	for i := 0; i < 60; i++ {
		userID := fmt.Sprintf("user-%d", i)
		threshold := ts.SeedThreshold(userID, models.DataTypeHeartRate, nil, testutils.FloatPtr(100), models.SeverityHigh)
		reading := ts.SeedReading(userID, models.DataTypeHeartRate, 130, time.Now())

		alert, err := alertService.Raise(reading, breachVerdict(threshold))
		require.NoError(t, err)
		require.NoError(t, alertService.MarkSent(alert.ID))

		repeat := ts.SeedReading(userID, models.DataTypeHeartRate, 150, time.Now())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			// Either call may hit a transient store-busy error under
			// contention; the invariant under test is only that the
			// status never moves backwards.
			_, _ = alertService.Raise(repeat, breachVerdict(threshold))
		}()
		go func() {
			defer wg.Done()
			_, _ = alertService.Acknowledge(alert.ID, 1, models.ResponseOnWay, "")
		}()
		wg.Wait()

		final, err := alertService.GetByID(alert.ID)
		require.NoError(t, err)
		if len(final.Responses) > 0 {
			require.NotEqual(t, models.AlertStatusSent, final.Status,
				"answered alert regressed to sent on iteration %d", i)
		}
	}
}

func TestAlertService_Acknowledge(t *testing.T) {
	ts, alertService, dispatcher := newAlertFixture(t)

	threshold := ts.SeedThreshold("user-1", models.DataTypeHeartRate, nil, testutils.FloatPtr(100), models.SeverityHigh)
	reading := ts.SeedReading("user-1", models.DataTypeHeartRate, 130, time.Now())
	alert, err := alertService.Raise(reading, breachVerdict(threshold))
	require.NoError(t, err)
	require.NoError(t, alertService.MarkSent(alert.ID))

	t.Run("Should reject an unknown response type", func(t *testing.T) {
		_, err := alertService.Acknowledge(alert.ID, 1, "shrug", "")
		assert.ErrorIs(t, err, utils.ErrValidation)
	})

	t.Run("Should move the alert to acknowledged and cancel escalation", func(t *testing.T) {
		updated, err := alertService.Acknowledge(alert.ID, 1, models.ResponseOnWay, "be there in 10")
		require.NoError(t, err)

		assert.Equal(t, models.AlertStatusAcknowledged, updated.Status)
		assert.Len(t, updated.Responses, 1)
		assert.Equal(t, models.ResponseOnWay, updated.Responses[0].Type)
		assert.Contains(t, dispatcher.cancelled, alert.ID)
	})

	t.Run("Should keep appending responses after acknowledgement", func(t *testing.T) {
		updated, err := alertService.Acknowledge(alert.ID, 2, models.ResponseContactedServices, "")
		require.NoError(t, err)

		assert.Equal(t, models.AlertStatusAcknowledged, updated.Status)
		assert.Len(t, updated.Responses, 2)
	})

	t.Run("Should reject responses to a resolved alert", func(t *testing.T) {
		_, err := alertService.Resolve(alert.ID, false)
		require.NoError(t, err)

		_, err = alertService.Acknowledge(alert.ID, 1, models.ResponseAcknowledged, "")
		assert.ErrorIs(t, err, utils.ErrStateConflict)
	})
}

func TestAlertService_FalseAlarmResolves(t *testing.T) {
	ts, alertService, _ := newAlertFixture(t)

	threshold := ts.SeedThreshold("user-1", models.DataTypeHeartRate, nil, testutils.FloatPtr(100), models.SeverityHigh)
	reading := ts.SeedReading("user-1", models.DataTypeHeartRate, 130, time.Now())
	alert, err := alertService.Raise(reading, breachVerdict(threshold))
	require.NoError(t, err)
	require.NoError(t, alertService.MarkSent(alert.ID))

	resolved, err := alertService.Acknowledge(alert.ID, 1, models.ResponseFalseAlarm, "sensor glitch")
	require.NoError(t, err)

	assert.Equal(t, models.AlertStatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)
	require.NotNil(t, resolved.AutoResolved)
	assert.False(t, *resolved.AutoResolved)
}

func TestAlertService_Resolve(t *testing.T) {
	ts, alertService, _ := newAlertFixture(t)

	threshold := ts.SeedThreshold("user-1", models.DataTypeHeartRate, nil, testutils.FloatPtr(100), models.SeverityHigh)
	reading := ts.SeedReading("user-1", models.DataTypeHeartRate, 130, time.Now())
	alert, err := alertService.Raise(reading, breachVerdict(threshold))
	require.NoError(t, err)

	resolved, err := alertService.Resolve(alert.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, resolved.Status)
	require.NotNil(t, resolved.AutoResolved)
	assert.True(t, *resolved.AutoResolved)

	// Terminal state: resolving twice is a conflict.
	_, err = alertService.Resolve(alert.ID, true)
	assert.ErrorIs(t, err, utils.ErrStateConflict)
}

func TestAlertService_MarkSent(t *testing.T) {
	ts, alertService, _ := newAlertFixture(t)

	threshold := ts.SeedThreshold("user-1", models.DataTypeHeartRate, nil, testutils.FloatPtr(100), models.SeverityHigh)
	reading := ts.SeedReading("user-1", models.DataTypeHeartRate, 130, time.Now())
	alert, err := alertService.Raise(reading, breachVerdict(threshold))
	require.NoError(t, err)

	require.NoError(t, alertService.MarkSent(alert.ID))

	sent, err := alertService.GetByID(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusSent, sent.Status)

	// An alert already past pending is left alone.
	require.NoError(t, alertService.MarkSent(alert.ID))
	again, err := alertService.GetByID(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusSent, again.Status)
}

func TestAlertService_RecordContactsNotified(t *testing.T) {
	ts, alertService, _ := newAlertFixture(t)

	threshold := ts.SeedThreshold("user-1", models.DataTypeHeartRate, nil, testutils.FloatPtr(100), models.SeverityHigh)
	reading := ts.SeedReading("user-1", models.DataTypeHeartRate, 130, time.Now())
	alert, err := alertService.Raise(reading, breachVerdict(threshold))
	require.NoError(t, err)

	require.NoError(t, alertService.RecordContactsNotified(alert.ID, []string{"7", "9"}))
	require.NoError(t, alertService.RecordContactsNotified(alert.ID, []string{"9", "12"}))

	updated, err := alertService.GetByID(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "9", "12"}, updated.ContactsNotified)
}

func TestAlertService_ActiveAlerts(t *testing.T) {
	ts, alertService, _ := newAlertFixture(t)

	high := ts.SeedThreshold("user-1", models.DataTypeHeartRate, nil, testutils.FloatPtr(100), models.SeverityHigh)
	critical := ts.SeedThreshold("user-1", models.DataTypeBloodOxygen, testutils.FloatPtr(90), nil, models.SeverityCritical)

	r1 := ts.SeedReading("user-1", models.DataTypeHeartRate, 130, time.Now())
	r2 := ts.SeedReading("user-1", models.DataTypeBloodOxygen, 82, time.Now())

	a1, err := alertService.Raise(r1, breachVerdict(high))
	require.NoError(t, err)
	_, err = alertService.Raise(r2, breachVerdict(critical))
	require.NoError(t, err)

	t.Run("Should list all open alerts", func(t *testing.T) {
		alerts, total, err := alertService.ActiveAlerts("user-1", "", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, alerts, 2)
	})

	t.Run("Should filter by severity", func(t *testing.T) {
		alerts, total, err := alertService.ActiveAlerts("user-1", models.SeverityCritical, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, alerts, 1)
		assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
	})

	t.Run("Should exclude resolved alerts", func(t *testing.T) {
		_, err := alertService.Resolve(a1.ID, true)
		require.NoError(t, err)

		_, total, err := alertService.ActiveAlerts("user-1", "", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})
}
