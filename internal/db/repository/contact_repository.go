package repository

import (
	"github.com/pulseguard/backend/internal/db/models"
	"gorm.io/gorm"
)

// ContactRepository defines read operations for emergency contacts. The
// contact list is owned by an external collaborator; the dispatcher only
// reads it.
type ContactRepository interface {
	Repository
	GetByID(id uint) (*models.Contact, error)
	// GetActiveByPriority returns active contacts for a user whose
	// priority is in tiers, ordered by priority ascending (1 first).
	GetActiveByPriority(userID string, tiers []int) ([]models.Contact, error)
}

// contactRepository implements ContactRepository
type contactRepository struct {
	BaseRepository
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db *gorm.DB) ContactRepository {
	return &contactRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// GetByID retrieves a contact by id
func (r *contactRepository) GetByID(id uint) (*models.Contact, error) {
	var contact models.Contact
	err := r.GetDB().First(&contact, id).Error
	if err != nil {
		return nil, r.handleError(err)
	}
	return &contact, nil
}

// GetActiveByPriority retrieves active contacts in the given priority tiers
func (r *contactRepository) GetActiveByPriority(userID string, tiers []int) ([]models.Contact, error) {
	var contacts []models.Contact

	query := r.GetDB().Where("user_id = ? AND active = ?", userID, true)
	if len(tiers) > 0 {
		query = query.Where("priority IN ?", tiers)
	}

	err := query.Order("priority asc").Find(&contacts).Error
	if err != nil {
		return nil, r.handleError(err)
	}

	return contacts, nil
}
