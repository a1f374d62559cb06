package repository

import (
	"github.com/pulseguard/backend/internal/db/models"
	"gorm.io/gorm"
)

// StreakRepository defines operations for streak records
type StreakRepository interface {
	Repository
	// Get returns the record for (user, streakType) or ErrNotFound.
	Get(userID, streakType string) (*models.StreakRecord, error)
	// Upsert persists the record inside a transaction. Callers hold the
	// per-key lock, so the read-modify-write cycle is already serialized.
	Upsert(record *models.StreakRecord) error
}

// streakRepository implements StreakRepository
type streakRepository struct {
	BaseRepository
}

// NewStreakRepository creates a new streak repository
func NewStreakRepository(db *gorm.DB) StreakRepository {
	return &streakRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Get retrieves the streak record for (user, streakType)
func (r *streakRepository) Get(userID, streakType string) (*models.StreakRecord, error) {
	var record models.StreakRecord
	err := r.GetDB().
		Where("user_id = ? AND streak_type = ?", userID, streakType).
		First(&record).Error
	if err != nil {
		return nil, r.handleError(err)
	}
	return &record, nil
}

// Upsert creates or updates the streak record transactionally
func (r *streakRepository) Upsert(record *models.StreakRecord) error {
	err := r.GetDB().Transaction(func(tx *gorm.DB) error {
		if record.ID == 0 {
			return tx.Create(record).Error
		}
		return tx.Save(record).Error
	})
	return r.handleError(err)
}
