package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/bet/internal/domain/errs"
	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/pkg/metrics"
)

// shard holds one group's records. Its mutex serializes that group's
// transactions; different groups never contend.
type shard struct {
	mu     sync.RWMutex
	group  model.Group
	lb     model.Leaderboard
	events map[string]model.Event
	order  []string
}

// MemStore is the in-memory Store.
type MemStore struct {
	mu         sync.RWMutex
	shards     map[string]*shard
	groupOrder []string
	eventGroup map[string]string // event id -> group id
	rules      map[string]model.Rule
	ruleOrder  []string
	users      map[string]model.User
	userOrder  []string

	gauges gaugeUpdater
}

// NewMemStore constructs an in-memory store and starts its gauge updater,
// which runs until ctx is done or Close is called.
func NewMemStore(ctx context.Context, opts ...Option) *MemStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &MemStore{
		shards:     make(map[string]*shard),
		eventGroup: make(map[string]string),
		rules:      make(map[string]model.Rule),
		users:      make(map[string]model.User),
	}
	s.gauges.start(ctx, o.metricsUpdateInterval, s.Counts)
	return s
}

// Close stops background work.
func (s *MemStore) Close() error {
	s.gauges.stop()
	return nil
}

func (s *MemStore) shard(groupID string) (*shard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shards[groupID]
	return sh, ok
}

// CreateGroup implements Store.CreateGroup.
func (s *MemStore) CreateGroup(_ context.Context, g model.Group, lb model.Leaderboard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shards[g.ID]; ok {
		return errs.ErrAlreadyExists
	}
	s.shards[g.ID] = &shard{
		group:  g.Clone(),
		lb:     lb.Clone(),
		events: make(map[string]model.Event),
	}
	s.groupOrder = append(s.groupOrder, g.ID)
	return nil
}

// Transact implements Store.Transact.
func (s *MemStore) Transact(ctx context.Context, groupID string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh, ok := s.shard(groupID)
	if !ok {
		return errs.ErrGroupNotFound
	}

	start := time.Now()
	sh.mu.Lock()
	defer sh.mu.Unlock()

	tx := newStaged(sh.group, sh.lb, func(id string) (model.Event, error) {
		e, ok := sh.events[id]
		if !ok {
			return model.Event{}, errs.ErrEventNotFound
		}
		return e.Clone(), nil
	})
	if err := fn(tx); err != nil {
		return err
	}

	if tx.groupW {
		sh.group = tx.group
	}
	if tx.boardW {
		sh.lb = tx.lb
	}
	var added []string
	for _, id := range tx.order {
		if _, exists := sh.events[id]; !exists {
			sh.order = append(sh.order, id)
			added = append(added, id)
		}
		sh.events[id] = tx.events[id]
	}
	if len(added) > 0 {
		s.mu.Lock()
		for _, id := range added {
			s.eventGroup[id] = groupID
		}
		s.mu.Unlock()
	}
	metrics.RecordStoreTxLatency("transact", float64(time.Since(start).Microseconds())/1000)
	return nil
}

// Group implements Store.Group.
func (s *MemStore) Group(_ context.Context, id string) (model.Group, error) {
	sh, ok := s.shard(id)
	if !ok {
		return model.Group{}, errs.ErrGroupNotFound
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.group.Clone(), nil
}

// Groups implements Store.Groups.
func (s *MemStore) Groups(ctx context.Context) ([]model.Group, error) {
	s.mu.RLock()
	ids := append([]string(nil), s.groupOrder...)
	s.mu.RUnlock()

	out := make([]model.Group, 0, len(ids))
	for _, id := range ids {
		g, err := s.Group(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// Event implements Store.Event.
func (s *MemStore) Event(_ context.Context, id string) (model.Event, error) {
	s.mu.RLock()
	groupID, ok := s.eventGroup[id]
	sh := s.shards[groupID]
	s.mu.RUnlock()
	if !ok || sh == nil {
		return model.Event{}, errs.ErrEventNotFound
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.events[id]
	if !ok {
		return model.Event{}, errs.ErrEventNotFound
	}
	return e.Clone(), nil
}

// Events implements Store.Events.
func (s *MemStore) Events(_ context.Context, groupID string) ([]model.Event, error) {
	sh, ok := s.shard(groupID)
	if !ok {
		return nil, errs.ErrGroupNotFound
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	out := make([]model.Event, 0, len(sh.order))
	for _, id := range sh.order {
		out = append(out, sh.events[id].Clone())
	}
	return out, nil
}

// Leaderboard implements Store.Leaderboard.
func (s *MemStore) Leaderboard(_ context.Context, groupID string) (model.Leaderboard, error) {
	sh, ok := s.shard(groupID)
	if !ok {
		return model.Leaderboard{}, errs.ErrGroupNotFound
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.lb.Clone(), nil
}

// Rule implements Store.Rule.
func (s *MemStore) Rule(_ context.Context, id string) (model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return model.Rule{}, errs.ErrRuleNotFound
	}
	return r, nil
}

// Rules implements Store.Rules.
func (s *MemStore) Rules(_ context.Context) ([]model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Rule, 0, len(s.ruleOrder))
	for _, id := range s.ruleOrder {
		out = append(out, s.rules[id])
	}
	return out, nil
}

// PutRule implements Store.PutRule.
func (s *MemStore) PutRule(_ context.Context, r model.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; ok {
		return errs.ErrAlreadyExists
	}
	s.rules[r.ID] = r
	s.ruleOrder = append(s.ruleOrder, r.ID)
	return nil
}

// User implements Store.User.
func (s *MemStore) User(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, errs.ErrUserNotFound
	}
	return u, nil
}

// Users implements Store.Users.
func (s *MemStore) Users(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		out = append(out, s.users[id])
	}
	return out, nil
}

// PutUser implements Store.PutUser.
func (s *MemStore) PutUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		s.userOrder = append(s.userOrder, u.ID)
	}
	s.users[u.ID] = u
	return nil
}

// Counts implements Store.Counts.
func (s *MemStore) Counts(_ context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shards), len(s.eventGroup), nil
}
