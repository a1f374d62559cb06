package repository

import "gorm.io/gorm"

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db            *gorm.DB
	readingRepo   ReadingRepository
	thresholdRepo ThresholdRepository
	alertRepo     AlertRepository
	contactRepo   ContactRepository
	streakRepo    StreakRepository
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(db *gorm.DB) *RepositoryFactory {
	return &RepositoryFactory{
		db: db,
	}
}

// Reading returns the reading repository
func (f *RepositoryFactory) Reading() ReadingRepository {
	if f.readingRepo == nil {
		f.readingRepo = NewReadingRepository(f.db)
	}
	return f.readingRepo
}

// Threshold returns the threshold repository
func (f *RepositoryFactory) Threshold() ThresholdRepository {
	if f.thresholdRepo == nil {
		f.thresholdRepo = NewThresholdRepository(f.db)
	}
	return f.thresholdRepo
}

// Alert returns the alert repository
func (f *RepositoryFactory) Alert() AlertRepository {
	if f.alertRepo == nil {
		f.alertRepo = NewAlertRepository(f.db)
	}
	return f.alertRepo
}

// Contact returns the contact repository
func (f *RepositoryFactory) Contact() ContactRepository {
	if f.contactRepo == nil {
		f.contactRepo = NewContactRepository(f.db)
	}
	return f.contactRepo
}

// Streak returns the streak repository
func (f *RepositoryFactory) Streak() StreakRepository {
	if f.streakRepo == nil {
		f.streakRepo = NewStreakRepository(f.db)
	}
	return f.streakRepo
}
