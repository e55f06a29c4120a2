// Package repository defines the record store behind the scoreboard: groups,
// their events and leaderboards, plus the rule catalog and user directory.
package repository

import (
	"context"

	"github.com/okian/bet/internal/domain/model"
)

// Store provides read/write access to scoreboard records.
//
// All writes touching one group go through Transact, which serializes them
// per group. Reads return copies and never observe a partially applied
// transaction.
type Store interface {
	// CreateGroup stores a new group with its initial leaderboard.
	// Returns errs.ErrAlreadyExists if the id is taken.
	CreateGroup(ctx context.Context, g model.Group, lb model.Leaderboard) error

	// Transact runs fn with exclusive access to the group's records. Writes
	// staged through tx become visible together when fn returns nil and are
	// discarded otherwise. Returns errs.ErrGroupNotFound for unknown groups.
	Transact(ctx context.Context, groupID string, fn func(tx Tx) error) error

	Group(ctx context.Context, id string) (model.Group, error)
	Groups(ctx context.Context) ([]model.Group, error)

	// Event looks an event up by id across all groups.
	Event(ctx context.Context, id string) (model.Event, error)
	// Events returns a group's events in insertion order.
	Events(ctx context.Context, groupID string) ([]model.Event, error)

	Leaderboard(ctx context.Context, groupID string) (model.Leaderboard, error)

	Rule(ctx context.Context, id string) (model.Rule, error)
	Rules(ctx context.Context) ([]model.Rule, error)
	// PutRule adds a rule. Rules are append-only: an existing id yields
	// errs.ErrAlreadyExists.
	PutRule(ctx context.Context, r model.Rule) error

	User(ctx context.Context, id string) (model.User, error)
	Users(ctx context.Context) ([]model.User, error)
	// PutUser inserts or renames a user.
	PutUser(ctx context.Context, u model.User) error

	// Counts reports the number of groups and events held.
	Counts(ctx context.Context) (groups, events int, err error)

	Close() error
}

// Tx is the view of one group inside Transact.
type Tx interface {
	Group() model.Group
	Leaderboard() model.Leaderboard
	// Event returns an event of this group, staged writes included.
	Event(id string) (model.Event, error)

	PutEvent(e model.Event)
	SetGroup(g model.Group)
	SetLeaderboard(lb model.Leaderboard)
}

// staged collects the writes of one transaction.
type staged struct {
	group  model.Group
	lb     model.Leaderboard
	events map[string]model.Event
	order  []string // staged event ids, first write first
	groupW bool
	boardW bool
	lookup func(id string) (model.Event, error)
}

func newStaged(g model.Group, lb model.Leaderboard, lookup func(id string) (model.Event, error)) *staged {
	return &staged{
		group:  g.Clone(),
		lb:     lb.Clone(),
		events: make(map[string]model.Event),
		lookup: lookup,
	}
}

func (s *staged) Group() model.Group             { return s.group.Clone() }
func (s *staged) Leaderboard() model.Leaderboard { return s.lb.Clone() }

func (s *staged) Event(id string) (model.Event, error) {
	if e, ok := s.events[id]; ok {
		return e.Clone(), nil
	}
	return s.lookup(id)
}

func (s *staged) PutEvent(e model.Event) {
	if _, ok := s.events[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.events[e.ID] = e.Clone()
}

func (s *staged) SetGroup(g model.Group) {
	s.group = g.Clone()
	s.groupW = true
}

func (s *staged) SetLeaderboard(lb model.Leaderboard) {
	s.lb = lb.Clone()
	s.boardW = true
}
