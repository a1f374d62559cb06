package notify

import (
	"context"

	"github.com/pulseguard/backend/internal/db/models"
)

// Message is the rendered notification handed to a transport
type Message struct {
	AlertID  string          `json:"alert_id"`
	UserID   string          `json:"user_id"`
	Severity models.Severity `json:"severity"`
	Title    string          `json:"title"`
	Body     string          `json:"body"`
}

// Sender delivers one message to one recipient on a single transport.
// Implementations must honor ctx cancellation; the dispatcher wraps every
// call in a bounded timeout so a slow channel cannot starve the pool.
type Sender interface {
	Channel() models.Channel
	Send(ctx context.Context, recipient string, msg Message) error
}

// Registry maps channels to their senders
type Registry struct {
	senders map[models.Channel]Sender
}

// NewRegistry builds a registry from the given senders
func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: make(map[models.Channel]Sender)}
	for _, s := range senders {
		r.senders[s.Channel()] = s
	}
	return r
}

// Sender returns the sender for a channel, or nil when none is configured
func (r *Registry) Sender(ch models.Channel) Sender {
	return r.senders[ch]
}
