package controllers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/pulseguard/backend/internal/api/controllers"
	"github.com/pulseguard/backend/internal/api/middleware"
	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/events"
	"github.com/pulseguard/backend/internal/services"
	testutils "github.com/pulseguard/backend/tests/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newReadingControllerFixture(t *testing.T) *testutils.TestSetup {
	ts := testutils.NewTestSetup(t)
	t.Cleanup(ts.Cleanup)
	ts.MigrateAll()

	hash, err := bcrypt.GenerateFromPassword([]byte("device-key"), bcrypt.MinCost)
	require.NoError(t, err)
	ts.Config.Ingest.DeviceKeyHashes = map[string]string{"watch-1": string(hash)}

	bus := events.NewBus(ts.Logger)
	evaluator := services.NewEvaluatorService(ts.DB, &ts.Config.Anomaly, ts.Logger)
	ingest := services.NewIngestService(ts.DB, bus, evaluator, ts.Logger)
	controller := controllers.NewReadingController(ingest, ts.Logger)

	am := middleware.NewAuthMiddleware(&ts.Config.JWT, &ts.Config.Ingest)

	ingestGroup := ts.Router.Group("/api/v1/readings")
	ingestGroup.Use(am.RequireDeviceKey())
	controller.RegisterIngestRoutes(ingestGroup)

	queryGroup := ts.Router.Group("/api/v1/readings")
	queryGroup.Use(am.RequireAuth())
	controller.RegisterQueryRoutes(queryGroup)

	return ts
}

func deviceHeaders() map[string]string {
	return map[string]string{
		"X-Device-ID": "watch-1",
		"X-API-Key":   "device-key",
	}
}

func TestReadingController_IngestReading(t *testing.T) {
	ts := newReadingControllerFixture(t)

	payload := map[string]interface{}{
		"user_id":   "user-1",
		"data_type": "heart_rate",
		"value":     72,
		"unit":      "bpm",
	}

	t.Run("Should require device credentials", func(t *testing.T) {
		resp := ts.ExecuteRequest(http.MethodPost, "/api/v1/readings", payload, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("Should accept a reading and default the source to the device", func(t *testing.T) {
		resp := ts.ExecuteRequest(http.MethodPost, "/api/v1/readings", payload, deviceHeaders())
		require.Equal(t, http.StatusAccepted, resp.Code)

		var body models.Reading
		ts.ParseResponse(resp, &body)
		assert.NotEmpty(t, body.ID)
		assert.Equal(t, "watch-1", body.Source)
	})

	t.Run("Should reject an unknown data type", func(t *testing.T) {
		bad := map[string]interface{}{
			"user_id":   "user-1",
			"data_type": "mood",
			"value":     5,
		}
		resp := ts.ExecuteRequest(http.MethodPost, "/api/v1/readings", bad, deviceHeaders())
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("Should reject a missing user id", func(t *testing.T) {
		bad := map[string]interface{}{
			"data_type": "heart_rate",
			"value":     72,
		}
		resp := ts.ExecuteRequest(http.MethodPost, "/api/v1/readings", bad, deviceHeaders())
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestReadingController_GetRecentReadings(t *testing.T) {
	ts := newReadingControllerFixture(t)

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		ts.SeedReading("user-1", models.DataTypeHeartRate, 70+float64(i), now.Add(-time.Duration(i)*time.Minute))
	}
	ts.SeedReading("user-2", models.DataTypeHeartRate, 90, now)

	token := ts.CreateTestAuthToken("user-1", "user-1@example.com")
	headers := map[string]string{"Authorization": "Bearer " + token}

	t.Run("Should require user authentication", func(t *testing.T) {
		resp := ts.ExecuteRequest(http.MethodGet, "/api/v1/readings/recent", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("Should return the caller's readings newest first", func(t *testing.T) {
		resp := ts.ExecuteRequest(http.MethodGet, "/api/v1/readings/recent?data_type=heart_rate", nil, headers)
		require.Equal(t, http.StatusOK, resp.Code)

		var body struct {
			Readings []models.Reading `json:"readings"`
			Meta     struct {
				Count int `json:"count"`
			} `json:"meta"`
		}
		ts.ParseResponse(resp, &body)
		require.Len(t, body.Readings, 3)
		assert.Equal(t, 3, body.Meta.Count)
		assert.Equal(t, 70.0, body.Readings[0].Value)
		assert.Equal(t, "user-1", body.Readings[0].UserID)
	})

	t.Run("Should apply the limit parameter", func(t *testing.T) {
		resp := ts.ExecuteRequest(http.MethodGet, "/api/v1/readings/recent?limit=1", nil, headers)
		require.Equal(t, http.StatusOK, resp.Code)

		var body struct {
			Readings []models.Reading `json:"readings"`
		}
		ts.ParseResponse(resp, &body)
		assert.Len(t, body.Readings, 1)
	})

	t.Run("Should reject an unknown data type filter", func(t *testing.T) {
		resp := ts.ExecuteRequest(http.MethodGet, "/api/v1/readings/recent?data_type=mood", nil, headers)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}
