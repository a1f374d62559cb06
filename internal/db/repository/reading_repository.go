package repository

import (
	"time"

	"github.com/pulseguard/backend/internal/db/models"
	"gorm.io/gorm"
)

// ReadingRepository defines operations for managing biometric readings
type ReadingRepository interface {
	Repository
	Insert(reading *models.Reading) error
	GetByID(id string) (*models.Reading, error)
	// GetRecent returns readings ordered most recent first. dataType may be
	// empty to match all types; zero start/end leave that side unbounded.
	GetRecent(userID string, dataType models.DataType, start, end time.Time, limit int) ([]models.Reading, error)
	// GetWindow returns the last `limit` readings of one (user, dataType)
	// strictly before the given timestamp, most recent first. Backs the
	// rolling-window anomaly check.
	GetWindow(userID string, dataType models.DataType, before time.Time, limit int) ([]models.Reading, error)
	// MarkProcessed flips the processed flag exactly once; returns
	// ErrNotFound when the reading is missing or already processed.
	MarkProcessed(id string) error
	ListUnprocessed(limit int) ([]models.Reading, error)
}

// readingRepository implements ReadingRepository
type readingRepository struct {
	BaseRepository
}

// NewReadingRepository creates a new reading repository
func NewReadingRepository(db *gorm.DB) ReadingRepository {
	return &readingRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Insert persists a single reading
func (r *readingRepository) Insert(reading *models.Reading) error {
	err := r.GetDB().Create(reading).Error
	return r.handleError(err)
}

// GetByID retrieves a reading by id
func (r *readingRepository) GetByID(id string) (*models.Reading, error) {
	var reading models.Reading
	err := r.GetDB().Where("id = ?", id).First(&reading).Error
	if err != nil {
		return nil, r.handleError(err)
	}
	return &reading, nil
}

// GetRecent retrieves readings for a user ordered most recent first
func (r *readingRepository) GetRecent(userID string, dataType models.DataType, start, end time.Time, limit int) ([]models.Reading, error) {
	var readings []models.Reading

	query := r.GetDB().Where("user_id = ?", userID)

	if dataType != "" {
		query = query.Where("data_type = ?", dataType)
	}
	if !start.IsZero() {
		query = query.Where("timestamp >= ?", start)
	}
	if !end.IsZero() {
		query = query.Where("timestamp <= ?", end)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Order("timestamp desc").Find(&readings).Error
	if err != nil {
		return nil, r.handleError(err)
	}

	return readings, nil
}

// GetWindow retrieves the rolling history window for the anomaly check
func (r *readingRepository) GetWindow(userID string, dataType models.DataType, before time.Time, limit int) ([]models.Reading, error) {
	var readings []models.Reading

	err := r.GetDB().
		Where("user_id = ? AND data_type = ? AND timestamp < ?", userID, dataType, before).
		Order("timestamp desc").
		Limit(limit).
		Find(&readings).Error
	if err != nil {
		return nil, r.handleError(err)
	}

	return readings, nil
}

// MarkProcessed sets the processed flag; a no-op row count means the
// reading was already processed (or missing) and must not be re-evaluated.
func (r *readingRepository) MarkProcessed(id string) error {
	result := r.GetDB().Model(&models.Reading{}).
		Where("id = ? AND processed = ?", id, false).
		Update("processed", true)

	if result.Error != nil {
		return r.handleError(result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListUnprocessed returns readings the evaluator has not seen yet,
// oldest first, for the retry sweep.
func (r *readingRepository) ListUnprocessed(limit int) ([]models.Reading, error) {
	var readings []models.Reading

	query := r.GetDB().Where("processed = ?", false).Order("timestamp asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&readings).Error
	if err != nil {
		return nil, r.handleError(err)
	}

	return readings, nil
}
