// Package notify defines the domain notifications the engine publishes after
// a commit, and the publisher seam the fan-out plugs into.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/okian/bet/internal/domain/model"
)

// Kind names a notification.
type Kind string

const (
	EventAdded        Kind = "event_added"
	VetoUpdate        Kind = "veto_update"
	LeaderboardUpdate Kind = "leaderboard_update"
)

// Notification is one message for a group's subscribers. Exactly one of
// Event or Leaderboard is set, depending on Kind.
type Notification struct {
	Kind        Kind               `json:"type"`
	GroupID     string             `json:"groupId"`
	Event       *model.Event       `json:"event,omitempty"`
	Leaderboard *model.Leaderboard `json:"leaderboard,omitempty"`
	At          time.Time          `json:"at"`
}

// Payload returns the body subscribers receive for this kind.
func (n Notification) Payload() any {
	if n.Kind == LeaderboardUpdate {
		return n.Leaderboard
	}
	return n.Event
}

// ForEvent builds an event_added or veto_update notification.
func ForEvent(kind Kind, e model.Event) Notification {
	c := e.Clone()
	return Notification{Kind: kind, GroupID: e.GroupID, Event: &c, At: time.Now()}
}

// ForLeaderboard builds a leaderboard_update notification.
func ForLeaderboard(lb model.Leaderboard) Notification {
	c := lb.Clone()
	return Notification{Kind: LeaderboardUpdate, GroupID: lb.GroupID, Leaderboard: &c, At: time.Now()}
}

// Publisher accepts notifications without blocking. It returns false when
// the notification was dropped.
type Publisher interface {
	Publish(ctx context.Context, n Notification) bool
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, n Notification) bool

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, n Notification) bool { return f(ctx, n) }

// Recorder keeps published notifications in memory.
type Recorder struct {
	mu  sync.Mutex
	out []Notification
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, n Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, n)
	return true
}

// Take returns and clears what was recorded.
func (r *Recorder) Take() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.out
	r.out = nil
	return out
}
