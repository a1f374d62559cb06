package utils

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/pulseguard/backend/internal/config"
	"github.com/pulseguard/backend/internal/db"
	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// TestSetup contains utilities for testing
type TestSetup struct {
	Router   *gin.Engine
	DB       *db.Database
	Logger   *utils.Logger
	Config   *config.Config
	Cleanup  func()
	Requires *require.Assertions
}

// NewTestSetup creates a new test setup with in-memory SQLite database
func NewTestSetup(t require.TestingT) *TestSetup {
	// Set Gin to test mode
	gin.SetMode(gin.TestMode)

	// Create a test logger directly using zap for tests
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.OutputPaths = []string{"stdout"}
	zapLogger, err := zapConfig.Build()
	if err != nil {
		require.FailNow(t, "Failed to create zap logger", err)
	}

	logger := &utils.Logger{
		Logger: zapLogger,
	}

	// Create test config
	cfg := &config.Config{
		JWT: config.JWTConfig{
			Secret:          "test-secret-key-for-testing-only",
			ExpirationHours: 1,
		},
		Ingest: config.IngestConfig{
			RatePerSecond: 100,
			RateBurst:     100,
		},
		Anomaly: config.AnomalyConfig{
			WindowSize:    20,
			MinSamples:    10,
			SigmaFactor:   2.0,
			RetryAttempts: 3,
			RetryBaseMS:   10,
		},
		Dispatch: config.DispatchConfig{
			Workers:       2,
			QueueSize:     32,
			SendTimeoutMS: 500,
			RetryDelayMS:  10,
		},
		Database: config.DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			DBName:   "test_db",
			SSLMode:  "disable",
			TimeZone: "UTC",
		},
		Log: config.LogConfig{
			Level:  "info",
			Format: "json",
		},
	}

	// Create in-memory SQLite database. A unique name per setup keeps
	// parallel tests from sharing state through the shared cache.
	gormDB, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		require.FailNow(t, "Failed to create in-memory database", err)
	}

	// Create database wrapper (compatible with the real db.Database)
	database := &db.Database{
		DB: gormDB,
	}

	// Create test router
	router := gin.New()
	router.Use(gin.Recovery())

	// Create cleanup function
	cleanup := func() {
		zapLogger.Sync()
		sqlDB, _ := gormDB.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	}

	return &TestSetup{
		Router:   router,
		DB:       database,
		Logger:   logger,
		Config:   cfg,
		Cleanup:  cleanup,
		Requires: require.New(t),
	}
}

// ExecuteRequest executes a test request and returns the response
func (ts *TestSetup) ExecuteRequest(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	// Create request
	var reqBody []byte
	var err error

	if body != nil {
		reqBody, err = json.Marshal(body)
		ts.Requires.NoError(err, "Failed to marshal request body")
	}

	req, err := http.NewRequest(method, path, bytes.NewBuffer(reqBody))
	ts.Requires.NoError(err, "Failed to create request")

	// Set content type if request has body
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Set additional headers
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	// Execute request
	resp := httptest.NewRecorder()
	ts.Router.ServeHTTP(resp, req)

	return resp
}

// ParseResponse parses the JSON response into the provided struct
func (ts *TestSetup) ParseResponse(response *httptest.ResponseRecorder, target interface{}) {
	err := json.Unmarshal(response.Body.Bytes(), target)
	ts.Requires.NoError(err, "Failed to parse response body: %s", response.Body.String())
}

// SetupTestDatabase creates and migrates test database tables
func (ts *TestSetup) SetupTestDatabase(models ...interface{}) {
	err := ts.DB.DB.AutoMigrate(models...)
	ts.Requires.NoError(err, "Failed to migrate database")
}

// MigrateAll migrates the full engine schema
func (ts *TestSetup) MigrateAll() {
	ts.SetupTestDatabase(
		&models.Reading{},
		&models.Threshold{},
		&models.Alert{},
		&models.Response{},
		&models.Contact{},
		&models.StreakRecord{},
	)
}

// CreateTestAuthToken creates a JWT token for testing authenticated endpoints
func (ts *TestSetup) CreateTestAuthToken(userID, email string) string {
	// Create claims for the token
	claims := &models.Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "pulseguard-test",
		},
	}

	// Create token with claims
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	// Sign the token
	tokenString, err := token.SignedString([]byte(ts.Config.JWT.Secret))
	ts.Requires.NoError(err, "Failed to sign JWT token")

	return tokenString
}

// SeedReading inserts a reading directly into the store
func (ts *TestSetup) SeedReading(userID string, dataType models.DataType, value float64, at time.Time) *models.Reading {
	reading := &models.Reading{
		UserID:    userID,
		DataType:  dataType,
		Value:     value,
		Timestamp: at,
		Source:    "test",
	}
	result := ts.DB.DB.Create(reading)
	ts.Requires.NoError(result.Error, "Failed to seed reading")
	return reading
}

// SeedThreshold inserts an active threshold for a user
func (ts *TestSetup) SeedThreshold(userID string, dataType models.DataType, min, max *float64, severity models.Severity) *models.Threshold {
	threshold := &models.Threshold{
		UserID:   userID,
		DataType: dataType,
		Min:      min,
		Max:      max,
		Severity: severity,
		Active:   true,
	}
	result := ts.DB.DB.Create(threshold)
	ts.Requires.NoError(result.Error, "Failed to seed threshold")
	return threshold
}

// SeedContact inserts an active contact for a user
func (ts *TestSetup) SeedContact(userID, name string, priority int, channels ...models.Channel) *models.Contact {
	contact := &models.Contact{
		UserID:   userID,
		Name:     name,
		Channels: channels,
		Email:    name + "@example.com",
		Phone:    "+10000000000",
		Priority: priority,
		Active:   true,
	}
	result := ts.DB.DB.Create(contact)
	ts.Requires.NoError(result.Error, "Failed to seed contact")
	return contact
}

// FloatPtr returns a pointer to the given float, for threshold bounds
func FloatPtr(v float64) *float64 {
	return &v
}
