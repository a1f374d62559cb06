package repository

import (
	"github.com/pulseguard/backend/internal/db/models"
	"gorm.io/gorm"
)

// ThresholdRepository defines read operations for user-configured
// thresholds. Threshold rows are owned by an external collaborator, so the
// engine only queries them.
type ThresholdRepository interface {
	Repository
	GetByID(id uint) (*models.Threshold, error)
	// GetActive returns the active thresholds for one (user, dataType).
	GetActive(userID string, dataType models.DataType) ([]models.Threshold, error)
}

// thresholdRepository implements ThresholdRepository
type thresholdRepository struct {
	BaseRepository
}

// NewThresholdRepository creates a new threshold repository
func NewThresholdRepository(db *gorm.DB) ThresholdRepository {
	return &thresholdRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// GetByID retrieves a threshold by id
func (r *thresholdRepository) GetByID(id uint) (*models.Threshold, error) {
	var threshold models.Threshold
	err := r.GetDB().First(&threshold, id).Error
	if err != nil {
		return nil, r.handleError(err)
	}
	return &threshold, nil
}

// GetActive retrieves active thresholds matching (user, dataType)
func (r *thresholdRepository) GetActive(userID string, dataType models.DataType) ([]models.Threshold, error) {
	var thresholds []models.Threshold

	err := r.GetDB().
		Where("user_id = ? AND data_type = ? AND active = ?", userID, dataType, true).
		Find(&thresholds).Error
	if err != nil {
		return nil, r.handleError(err)
	}

	return thresholds, nil
}
