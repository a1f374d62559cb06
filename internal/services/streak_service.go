package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/pulseguard/backend/internal/db"
	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/db/repository"
	"github.com/pulseguard/backend/internal/events"
	"github.com/pulseguard/backend/internal/utils"
	"go.uber.org/zap"
)

// StreakService maintains consecutive-day activity streaks and emits
// milestone events when a streak lands exactly on a ladder rung.
type StreakService struct {
	logger     *utils.Logger
	streakRepo repository.StreakRepository
	bus        *events.Bus
	locks      *utils.KeyedMutex
}

// NewStreakService creates a new streak service
func NewStreakService(database *db.Database, bus *events.Bus, logger *utils.Logger) *StreakService {
	repoFactory := repository.NewRepositoryFactory(database.DB)
	return &StreakService{
		logger:     logger.Named("streak_service"),
		streakRepo: repoFactory.Streak(),
		bus:        bus,
		locks:      utils.NewKeyedMutex(),
	}
}

// RecordActivity registers one activity for (user, streakType) on the
// given date and returns the updated record plus the milestone hit, if
// any. The rules:
//   - same date as the last activity: no-op, counters unchanged;
//   - exactly one day after: streak extends by one;
//   - anything else (gap or backdated): streak resets to one.
//
// The read-modify-write runs under a per-(user,type) lock so concurrent
// recordings for the same streak serialize.
func (s *StreakService) RecordActivity(userID, streakType string, date time.Time) (*models.StreakRecord, *models.Milestone, error) {
	if userID == "" || streakType == "" {
		return nil, nil, fmt.Errorf("user id and streak type are required: %w", utils.ErrValidation)
	}

	day := normalizeDate(date)
	lockKey := userID + "|" + streakType

	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	record, err := s.streakRepo.Get(userID, streakType)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, nil, storeErr(err)
		}
		record = &models.StreakRecord{
			UserID:     userID,
			StreakType: streakType,
		}
	}

	prev := normalizeDate(record.LastActivityDate)

	switch {
	case record.TotalActivities > 0 && day.Equal(prev):
		// Second recording for the same day changes nothing.
		return record, nil, nil
	case record.TotalActivities > 0 && day.Equal(prev.AddDate(0, 0, 1)):
		record.CurrentStreak++
	default:
		record.CurrentStreak = 1
	}

	record.LastActivityDate = day
	record.TotalActivities++
	if record.CurrentStreak > record.LongestStreak {
		record.LongestStreak = record.CurrentStreak
	}

	if err := s.streakRepo.Upsert(record); err != nil {
		return nil, nil, storeErr(err)
	}

	milestone := s.checkMilestone(record)

	s.logger.Debug("Activity recorded",
		zap.String("user_id", userID),
		zap.String("streak_type", streakType),
		zap.Int("current_streak", record.CurrentStreak))

	return record, milestone, nil
}

// GetStreak returns the record for (user, streakType). A user with no
// recorded activity gets a zero-value record rather than an error.
func (s *StreakService) GetStreak(userID, streakType string) (*models.StreakRecord, error) {
	record, err := s.streakRepo.Get(userID, streakType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &models.StreakRecord{
				UserID:     userID,
				StreakType: streakType,
			}, nil
		}
		return nil, storeErr(err)
	}
	return record, nil
}

// checkMilestone emits a milestone event when the current streak sits
// exactly on a ladder rung. Exact match only: day 31 of a streak is not a
// repeat of the 30-day milestone.
func (s *StreakService) checkMilestone(record *models.StreakRecord) *models.Milestone {
	for _, rung := range models.MilestoneLadder {
		if record.CurrentStreak == rung {
			m := &models.Milestone{
				UserID:     record.UserID,
				StreakType: record.StreakType,
				Days:       rung,
			}

			s.logger.Info("Milestone achieved",
				zap.String("user_id", m.UserID),
				zap.String("streak_type", m.StreakType),
				zap.Int("days", m.Days))

			s.bus.Publish(events.Event{
				Type:    events.EventMilestoneAchieved,
				UserID:  m.UserID,
				Payload: m,
			})
			return m
		}
	}
	return nil
}

// normalizeDate strips the time-of-day component in UTC
func normalizeDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
