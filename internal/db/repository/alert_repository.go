package repository

import (
	"time"

	"github.com/pulseguard/backend/internal/db/models"
	"gorm.io/gorm"
)

// AlertRepository defines operations for managing alerts and responses
type AlertRepository interface {
	Repository
	Insert(alert *models.Alert) error
	GetByID(id string) (*models.Alert, error)
	// GetOpenByCondition returns the most recent non-resolved alert for
	// (user, conditionKey), or ErrNotFound. Backs the dedup invariant.
	GetOpenByCondition(userID, conditionKey string) (*models.Alert, error)
	// ListActive returns non-resolved alerts for a user, newest first.
	// severity may be empty to match all severities.
	ListActive(userID string, severity models.Severity, limit, offset int) ([]models.Alert, int64, error)
	// ListUnanswered returns alerts in `sent` with no responses, used to
	// re-arm escalation timers after a restart.
	ListUnanswered() ([]models.Alert, error)
	AppendResponse(response *models.Response) error
	// UpdateSnapshot refreshes the embedded reading snapshot and message
	// of a deduplicated alert. Writes those columns only: status belongs
	// to the guarded UpdateStatus and MarkResolved paths.
	UpdateSnapshot(id string, snapshot models.ReadingSnapshot, message string) error
	// UpdateContactsNotified overwrites the notified-contact list column
	UpdateContactsNotified(id string, contacts []string) error
	// UpdateStatus transitions an alert's status guarded by its current
	// value; returns ErrNotFound when the guard does not match.
	UpdateStatus(id string, from, to models.AlertStatus) error
	// MarkResolved moves an open alert to its terminal state, guarded on
	// the alert not being resolved yet; returns ErrNotFound when another
	// resolver won the race.
	MarkResolved(id string, resolvedAt time.Time, auto bool) error
}

// alertRepository implements AlertRepository
type alertRepository struct {
	BaseRepository
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *gorm.DB) AlertRepository {
	return &alertRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Insert persists a new alert
func (r *alertRepository) Insert(alert *models.Alert) error {
	err := r.GetDB().Create(alert).Error
	return r.handleError(err)
}

// UpdateSnapshot writes the snapshot columns only, so a stale in-memory
// copy can never drag a concurrently advanced status backwards
func (r *alertRepository) UpdateSnapshot(id string, snapshot models.ReadingSnapshot, message string) error {
	err := r.GetDB().Model(&models.Alert{ID: id}).
		Select("data_snapshot", "message", "updated_at").
		Updates(&models.Alert{DataSnapshot: snapshot, Message: message}).Error
	return r.handleError(err)
}

// UpdateContactsNotified writes the notified-contact list column only
func (r *alertRepository) UpdateContactsNotified(id string, contacts []string) error {
	err := r.GetDB().Model(&models.Alert{ID: id}).
		Select("contacts_notified", "updated_at").
		Updates(&models.Alert{ContactsNotified: contacts}).Error
	return r.handleError(err)
}

// GetByID retrieves an alert with its responses preloaded
func (r *alertRepository) GetByID(id string) (*models.Alert, error) {
	var alert models.Alert
	err := r.GetDB().Preload("Responses").Where("id = ?", id).First(&alert).Error
	if err != nil {
		return nil, r.handleError(err)
	}
	return &alert, nil
}

// GetOpenByCondition finds the most recent open alert for a condition
func (r *alertRepository) GetOpenByCondition(userID, conditionKey string) (*models.Alert, error) {
	var alert models.Alert
	err := r.GetDB().Preload("Responses").
		Where("user_id = ? AND condition_key = ? AND status <> ?",
			userID, conditionKey, models.AlertStatusResolved).
		Order("created_at desc").
		First(&alert).Error
	if err != nil {
		return nil, r.handleError(err)
	}
	return &alert, nil
}

// ListActive retrieves non-resolved alerts for a user, newest first
func (r *alertRepository) ListActive(userID string, severity models.Severity, limit, offset int) ([]models.Alert, int64, error) {
	var alerts []models.Alert
	var total int64

	query := r.GetDB().Model(&models.Alert{}).
		Where("user_id = ? AND status <> ?", userID, models.AlertStatusResolved)

	if severity != "" {
		query = query.Where("severity = ?", severity)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, r.handleError(err)
	}

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Preload("Responses").Order("created_at desc").Find(&alerts).Error
	if err != nil {
		return nil, 0, r.handleError(err)
	}

	return alerts, total, nil
}

// ListUnanswered retrieves sent alerts that have no responses yet
func (r *alertRepository) ListUnanswered() ([]models.Alert, error) {
	var alerts []models.Alert

	err := r.GetDB().Preload("Responses").
		Where("status = ?", models.AlertStatusSent).
		Order("created_at asc").
		Find(&alerts).Error
	if err != nil {
		return nil, r.handleError(err)
	}

	// Responses cannot be filtered in the same query portably across
	// postgres and the sqlite test driver, so drop answered rows here.
	unanswered := alerts[:0]
	for _, a := range alerts {
		if len(a.Responses) == 0 {
			unanswered = append(unanswered, a)
		}
	}

	return unanswered, nil
}

// AppendResponse persists a response row
func (r *alertRepository) AppendResponse(response *models.Response) error {
	if response.Timestamp.IsZero() {
		response.Timestamp = time.Now().UTC()
	}
	err := r.GetDB().Create(response).Error
	return r.handleError(err)
}

// UpdateStatus transitions status guarded by the expected current value
func (r *alertRepository) UpdateStatus(id string, from, to models.AlertStatus) error {
	result := r.GetDB().Model(&models.Alert{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)

	if result.Error != nil {
		return r.handleError(result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkResolved transitions to resolved guarded on the alert still being open
func (r *alertRepository) MarkResolved(id string, resolvedAt time.Time, auto bool) error {
	result := r.GetDB().Model(&models.Alert{}).
		Where("id = ? AND status <> ?", id, models.AlertStatusResolved).
		Updates(map[string]interface{}{
			"status":        models.AlertStatusResolved,
			"resolved_at":   resolvedAt,
			"auto_resolved": auto,
		})

	if result.Error != nil {
		return r.handleError(result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
