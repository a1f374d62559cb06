package services_test

import (
	"math"
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

func newIngestFixture(t *testing.T) (*testutils.TestSetup, *services.IngestService, *events.Bus) {
	ts := testutils.NewTestSetup(t)
	t.Cleanup(ts.Cleanup)
	ts.MigrateAll()

	bus := events.NewBus(ts.Logger)
	evaluator := services.NewEvaluatorService(ts.DB, &ts.Config.Anomaly, ts.Logger)
	ingest := services.NewIngestService(ts.DB, bus, evaluator, ts.Logger)

	return ts, ingest, bus
}

func TestIngestService_Ingest(t *testing.T) {
	ts, ingest, bus := newIngestFixture(t)

	var mu sync.Mutex
	var published []events.Event
	bus.SubscribeType(events.EventReadingAdded, func(event events.Event) {
		mu.Lock()
		published = append(published, event)
		mu.Unlock()
	})

	at := time.Now().Add(-1 * time.Minute).UTC()
	reading, err := ingest.Ingest(services.ReadingInput{
		UserID:    "user-1",
		DataType:  models.DataTypeHeartRate,
		Value:     72,
		Unit:      "bpm",
		Timestamp: at,
		Source:    "watch-1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, reading.ID)
	assert.Equal(t, "user-1", reading.UserID)
	assert.Equal(t, 72.0, reading.Value)

	var stored models.Reading
	require.NoError(t, ts.DB.DB.First(&stored, "id = ?", reading.ID).Error)
	assert.Equal(t, models.DataTypeHeartRate, stored.DataType)
	assert.Equal(t, "watch-1", stored.Source)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 1)
	assert.Equal(t, "user-1", published[0].UserID)
}

func TestIngestService_Validation(t *testing.T) {
	_, ingest, _ := newIngestFixture(t)

	valid := services.ReadingInput{
		UserID:   "user-1",
		DataType: models.DataTypeHeartRate,
		Value:    72,
	}

	t.Run("Should reject a missing user id", func(t *testing.T) {
		input := valid
		input.UserID = ""
		_, err := ingest.Ingest(input)
		assert.ErrorIs(t, err, utils.ErrValidation)
	})

	t.Run("Should reject an unknown data type", func(t *testing.T) {
		input := valid
		input.DataType = "mood"
		_, err := ingest.Ingest(input)
		assert.ErrorIs(t, err, utils.ErrValidation)
	})

	t.Run("Should reject non-finite values", func(t *testing.T) {
		for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			input := valid
			input.Value = v
			_, err := ingest.Ingest(input)
			assert.ErrorIs(t, err, utils.ErrValidation)
		}
	})

	t.Run("Should reject a timestamp in the future", func(t *testing.T) {
		input := valid
		input.Timestamp = time.Now().Add(10 * time.Minute)
		_, err := ingest.Ingest(input)
		assert.ErrorIs(t, err, utils.ErrValidation)
	})

	t.Run("Should tolerate small clock skew", func(t *testing.T) {
		input := valid
		input.Timestamp = time.Now().Add(1 * time.Minute)
		_, err := ingest.Ingest(input)
		assert.NoError(t, err)
	})

	t.Run("Should default a zero timestamp to arrival time", func(t *testing.T) {
		input := valid
		reading, err := ingest.Ingest(input)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), reading.Timestamp, 5*time.Second)
	})
}

func TestIngestService_EvaluationPipeline(t *testing.T) {
	ts, ingest, bus := newIngestFixture(t)

	// Wire a real alert manager so a breach raised by the async evaluator
	// lands in the store.
	alertService := services.NewAlertService(ts.DB, bus, ts.Logger)
	evaluator := services.NewEvaluatorService(ts.DB, &ts.Config.Anomaly, ts.Logger)
	evaluator.SetRaiser(alertService)
	ingest = services.NewIngestService(ts.DB, bus, evaluator, ts.Logger)

	ts.SeedThreshold("user-1", models.DataTypeHeartRate, nil, testutils.FloatPtr(100), models.SeverityHigh)

	reading, err := ingest.Ingest(services.ReadingInput{
		UserID:   "user-1",
		DataType: models.DataTypeHeartRate,
		Value:    140,
		Unit:     "bpm",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var count int64
		ts.DB.DB.Model(&models.Alert{}).Where("user_id = ?", "user-1").Count(&count)
		return count == 1
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		var stored models.Reading
		if err := ts.DB.DB.First(&stored, "id = ?", reading.ID).Error; err != nil {
			return false
		}
		return stored.Processed
	}, 2*time.Second, 20*time.Millisecond)
}

func TestIngestService_RecentReadings(t *testing.T) {
	ts, ingest, _ := newIngestFixture(t)

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		ts.SeedReading("user-1", models.DataTypeHeartRate, 70+float64(i), now.Add(-time.Duration(i)*time.Minute))
	}
	ts.SeedReading("user-1", models.DataTypeGlucose, 110, now)
	ts.SeedReading("user-2", models.DataTypeHeartRate, 80, now)

	t.Run("Should return the user's readings newest first", func(t *testing.T) {
		readings, err := ingest.RecentReadings("user-1", models.DataTypeHeartRate, time.Time{}, time.Time{}, 10)
		require.NoError(t, err)
		require.Len(t, readings, 5)
		assert.Equal(t, 70.0, readings[0].Value)
	})

	t.Run("Should apply the limit", func(t *testing.T) {
		readings, err := ingest.RecentReadings("user-1", models.DataTypeHeartRate, time.Time{}, time.Time{}, 2)
		require.NoError(t, err)
		assert.Len(t, readings, 2)
	})

	t.Run("Should match all data types when none is given", func(t *testing.T) {
		readings, err := ingest.RecentReadings("user-1", "", time.Time{}, time.Time{}, 10)
		require.NoError(t, err)
		assert.Len(t, readings, 6)
	})

	t.Run("Should reject an unknown data type filter", func(t *testing.T) {
		_, err := ingest.RecentReadings("user-1", "mood", time.Time{}, time.Time{}, 10)
		assert.ErrorIs(t, err, utils.ErrValidation)
	})
}
