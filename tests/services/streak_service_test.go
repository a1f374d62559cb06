package services_test

import (
	"testing"
	"time"

	"github.com/pulseguard/backend/internal/events"
	"github.com/pulseguard/backend/internal/services"
	"github.com/pulseguard/backend/internal/utils"
	testutils "github.com/pulseguard/backend/tests/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreakFixture(t *testing.T) (*services.StreakService, *events.Bus) {
	ts := testutils.NewTestSetup(t)
	t.Cleanup(ts.Cleanup)
	ts.MigrateAll()

	bus := events.NewBus(ts.Logger)
	return services.NewStreakService(ts.DB, bus, ts.Logger), bus
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func TestStreakService_RecordActivity(t *testing.T) {
	streakService, _ := newStreakFixture(t)

	t.Run("Should start a streak at one", func(t *testing.T) {
		record, milestone, err := streakService.RecordActivity("user-1", "medication", day(2026, 3, 1))
		require.NoError(t, err)

		assert.Equal(t, 1, record.CurrentStreak)
		assert.Equal(t, 1, record.LongestStreak)
		assert.Equal(t, 1, record.TotalActivities)
		assert.Nil(t, milestone)
	})

	t.Run("Should ignore a second recording on the same day", func(t *testing.T) {
		record, milestone, err := streakService.RecordActivity("user-1", "medication", day(2026, 3, 1))
		require.NoError(t, err)

		assert.Equal(t, 1, record.CurrentStreak)
		assert.Equal(t, 1, record.TotalActivities)
		assert.Nil(t, milestone)
	})

	t.Run("Should extend the streak on the next day", func(t *testing.T) {
		record, _, err := streakService.RecordActivity("user-1", "medication", day(2026, 3, 2))
		require.NoError(t, err)

		assert.Equal(t, 2, record.CurrentStreak)
		assert.Equal(t, 2, record.TotalActivities)
	})

	t.Run("Should reset the streak after a gap", func(t *testing.T) {
		record, _, err := streakService.RecordActivity("user-1", "medication", day(2026, 3, 5))
		require.NoError(t, err)

		assert.Equal(t, 1, record.CurrentStreak)
		assert.Equal(t, 2, record.LongestStreak)
		assert.Equal(t, 3, record.TotalActivities)
	})

	t.Run("Should reset on a backdated recording", func(t *testing.T) {
		record, _, err := streakService.RecordActivity("user-1", "medication", day(2026, 3, 3))
		require.NoError(t, err)

		assert.Equal(t, 1, record.CurrentStreak)
	})

	t.Run("Should keep streak types independent", func(t *testing.T) {
		record, _, err := streakService.RecordActivity("user-1", "exercise", day(2026, 3, 10))
		require.NoError(t, err)

		assert.Equal(t, 1, record.CurrentStreak)
		assert.Equal(t, 1, record.TotalActivities)
	})

	t.Run("Should reject missing identifiers", func(t *testing.T) {
		_, _, err := streakService.RecordActivity("", "medication", day(2026, 3, 1))
		assert.ErrorIs(t, err, utils.ErrValidation)

		_, _, err = streakService.RecordActivity("user-1", "", day(2026, 3, 1))
		assert.ErrorIs(t, err, utils.ErrValidation)
	})
}

func TestStreakService_Milestones(t *testing.T) {
	streakService, bus := newStreakFixture(t)

	var published []events.Event
	bus.SubscribeType(events.EventMilestoneAchieved, func(event events.Event) {
		published = append(published, event)
	})

	start := day(2026, 4, 1)

	var milestones []int
	for i := 0; i < 8; i++ {
		_, milestone, err := streakService.RecordActivity("user-1", "medication", start.AddDate(0, 0, i))
		require.NoError(t, err)
		if milestone != nil {
			milestones = append(milestones, milestone.Days)
		}
	}

	// Rungs at 3 and 7 days, each exactly once; day 4 and day 8 emit nothing.
	assert.Equal(t, []int{3, 7}, milestones)
	require.Len(t, published, 2)
	assert.Equal(t, "user-1", published[0].UserID)
}

func TestStreakService_TimeOfDayIgnored(t *testing.T) {
	streakService, _ := newStreakFixture(t)

	late := time.Date(2026, 5, 1, 23, 50, 0, 0, time.UTC)
	early := time.Date(2026, 5, 2, 0, 10, 0, 0, time.UTC)

	_, _, err := streakService.RecordActivity("user-1", "medication", late)
	require.NoError(t, err)

	record, _, err := streakService.RecordActivity("user-1", "medication", early)
	require.NoError(t, err)

	// Ten minutes apart across midnight still counts as consecutive days.
	assert.Equal(t, 2, record.CurrentStreak)
}

func TestStreakService_GetStreak(t *testing.T) {
	streakService, _ := newStreakFixture(t)

	t.Run("Should return a zero record for an unknown user", func(t *testing.T) {
		record, err := streakService.GetStreak("nobody", "medication")
		require.NoError(t, err)

		assert.Equal(t, 0, record.CurrentStreak)
		assert.Equal(t, 0, record.TotalActivities)
	})

	t.Run("Should return the stored record", func(t *testing.T) {
		_, _, err := streakService.RecordActivity("user-1", "medication", day(2026, 6, 1))
		require.NoError(t, err)

		record, err := streakService.GetStreak("user-1", "medication")
		require.NoError(t, err)
		assert.Equal(t, 1, record.CurrentStreak)
	})
}
