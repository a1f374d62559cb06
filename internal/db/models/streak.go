package models

import "time"

// StreakRecord tracks consecutive-day activity for one (user, streakType).
// Never deleted, only reset. Mutated under a per-key lock so concurrent
// recordings for the same user serialize.
type StreakRecord struct {
	ID               uint      `gorm:"primarykey" json:"id"`
	UserID           string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_streaks_user_type,priority:1" json:"user_id"`
	StreakType       string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_streaks_user_type,priority:2" json:"streak_type"`
	CurrentStreak    int       `gorm:"not null;default:0" json:"current_streak"`
	LongestStreak    int       `gorm:"not null;default:0" json:"longest_streak"`
	LastActivityDate time.Time `gorm:"type:date" json:"last_activity_date"`
	TotalActivities  int       `gorm:"not null;default:0" json:"total_activities"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName overrides the table name for StreakRecord
func (StreakRecord) TableName() string {
	return "streak_records"
}

// MilestoneLadder is the fixed set of streak lengths that emit a milestone
// when CurrentStreak lands exactly on a rung.
var MilestoneLadder = []int{3, 7, 14, 30, 60, 90, 180, 365}

// Milestone describes a streak-length rung a user just hit
type Milestone struct {
	UserID     string `json:"user_id"`
	StreakType string `json:"streak_type"`
	Days       int    `json:"days"`
}
