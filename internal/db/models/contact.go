package models

import "time"

// Channel identifies an outbound notification transport
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Contact is an emergency contact for a user. Owned by the external
// contact-management collaborator; read-only to this engine. Priority 1 is
// highest and is notified first.
type Contact struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	UserID      string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Channels    []Channel `gorm:"serializer:json" json:"channels"`
	PushTarget  string    `gorm:"type:varchar(255)" json:"push_target,omitempty"`
	Email       string    `gorm:"type:varchar(255)" json:"email,omitempty"`
	Phone       string    `gorm:"type:varchar(50)" json:"phone,omitempty"`
	Priority    int       `gorm:"not null;default:1" json:"priority"`
	Active      bool      `gorm:"default:true" json:"active"`
	// AvailabilityWindow is an optional "HH:MM-HH:MM" local-time window
	// outside which the contact prefers not to be notified. Critical
	// alerts ignore it.
	AvailabilityWindow string    `gorm:"type:varchar(20)" json:"availability_window,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName overrides the table name for Contact
func (Contact) TableName() string {
	return "contacts"
}

// Recipient returns the delivery address for the given channel
func (c *Contact) Recipient(ch Channel) string {
	switch ch {
	case ChannelPush:
		return c.PushTarget
	case ChannelEmail:
		return c.Email
	case ChannelSMS:
		return c.Phone
	}
	return ""
}
