// Package engine owns the event lifecycle: submissions, veto votes and the
// score adjustments they cause. Every mutation of a group runs in one store
// transaction, so an event and the leaderboard delta it implies commit
// together or not at all.
package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/bet/internal/adapters/repository"
	"github.com/okian/bet/internal/domain/catalog"
	"github.com/okian/bet/internal/domain/errs"
	"github.com/okian/bet/internal/domain/leaderboard"
	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/internal/domain/notify"
	"github.com/okian/bet/pkg/logger"
	"github.com/okian/bet/pkg/metrics"
)

const (
	defaultRecentLimit    = 10
	defaultMaxRecentLimit = 100
)

// Engine applies submissions and vetoes.
type Engine struct {
	store repository.Store
	rules *catalog.Catalog
	pub   notify.Publisher
	log   logger.Logger

	// order holds one mutex per group; holding it across commit and publish
	// keeps a group's notifications in commit order.
	order sync.Map

	now            func() time.Time
	newID          func() string
	recentLimit    int
	maxRecentLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets where committed changes are announced.
func WithPublisher(p notify.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.pub = p
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock overrides time.Now for createdAt stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides uuid generation for new records.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithRecentLimit sets the default and maximum size of the recent view.
func WithRecentLimit(def, maxLimit int) Option {
	return func(e *Engine) {
		if def > 0 {
			e.recentLimit = def
		}
		if maxLimit > 0 {
			e.maxRecentLimit = maxLimit
		}
	}
}

// New returns an engine over store using rules as the catalog.
func New(store repository.Store, rules *catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		rules:          rules,
		log:            logger.Nop(),
		now:            time.Now,
		newID:          uuid.NewString,
		recentLimit:    defaultRecentLimit,
		maxRecentLimit: defaultMaxRecentLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxRecentLimit < e.recentLimit {
		e.maxRecentLimit = e.recentLimit
	}
	return e
}

func (e *Engine) lockGroup(groupID string) func() {
	mu, _ := e.order.LoadOrStore(groupID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func required(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return errs.Invalid("missing " + fields[i])
		}
	}
	return nil
}

// SubmitEvent records an approved event for userID under ruleID and credits
// the rule's points to the user's row in the same transaction.
func (e *Engine) SubmitEvent(ctx context.Context, userID, ruleID, groupID string) (model.Event, error) {
	if err := required("userId", userID, "ruleId", ruleID, "groupId", groupID); err != nil {
		metrics.RecordSubmitRejected(errs.Code(err))
		return model.Event{}, err
	}
	rule, err := e.rules.Lookup(ctx, ruleID)
	if err != nil {
		metrics.RecordSubmitRejected(errs.Code(err))
		return model.Event{}, err
	}

	ev := model.Event{
		ID:         e.newID(),
		UserID:     userID,
		RuleID:     ruleID,
		GroupID:    groupID,
		PointValue: rule.PointValue,
		Votes:      []string{},
		Approved:   true,
		CreatedAt:  e.now(),
	}
	if _, err := e.store.Group(ctx, groupID); err != nil {
		metrics.RecordSubmitRejected(errs.Code(err))
		return model.Event{}, err
	}
	defer e.lockGroup(groupID)()
	var lb model.Leaderboard
	err = e.store.Transact(ctx, groupID, func(tx repository.Tx) error {
		tx.PutEvent(ev)
		lb = leaderboard.Apply(tx.Leaderboard(), userID, rule.PointValue)
		tx.SetLeaderboard(lb)
		return nil
	})
	if err != nil {
		e.fail(ctx, "submit", err)
		metrics.RecordSubmitRejected(errs.Code(err))
		return model.Event{}, err
	}

	metrics.RecordEventSubmitted()
	metrics.RecordLeaderboardUpdate()
	e.log.Debug(ctx, "event submitted",
		logger.String("event_id", ev.ID),
		logger.String("group_id", groupID),
		logger.String("user_id", userID),
		logger.Int("points", ev.PointValue),
	)
	e.publish(ctx, notify.ForEvent(notify.EventAdded, ev))
	e.publish(ctx, notify.ForLeaderboard(lb))
	return ev, nil
}

// CastVeto adds voterID's veto to the event. The vote that brings the count
// to the rule's threshold voids the event and takes its stored points back;
// later votes only grow the vote set. A repeated vote changes nothing and
// announces nothing.
func (e *Engine) CastVeto(ctx context.Context, eventID, voterID string) (model.Event, error) {
	if err := required("eventId", eventID, "userId", voterID); err != nil {
		return model.Event{}, err
	}
	located, err := e.store.Event(ctx, eventID)
	if err != nil {
		return model.Event{}, err
	}
	if located.UserID == voterID {
		return model.Event{}, errs.ErrSelfVeto
	}
	// An event's rule id never changes and rules are immutable, so the rule
	// is resolved before the transaction takes the group.
	rule, err := e.rules.Lookup(ctx, located.RuleID)
	if err != nil {
		if errors.Is(err, errs.ErrRuleNotFound) {
			e.log.Error(ctx, "event references a missing rule",
				logger.String("event_id", located.ID),
				logger.String("rule_id", located.RuleID),
			)
		}
		return model.Event{}, err
	}

	defer e.lockGroup(located.GroupID)()
	var (
		out       model.Event
		lb        model.Leaderboard
		duplicate bool
		crossed   bool
	)
	err = e.store.Transact(ctx, located.GroupID, func(tx repository.Tx) error {
		cur, err := tx.Event(eventID)
		if err != nil {
			return err
		}

		if !cur.AddVote(voterID) {
			duplicate = true
			out = cur
			return nil
		}
		if cur.Approved && len(cur.Votes) >= rule.VetoThreshold {
			cur.Approved = false
			lb = leaderboard.Apply(tx.Leaderboard(), cur.UserID, -cur.PointValue)
			tx.SetLeaderboard(lb)
			crossed = true
		}
		tx.PutEvent(cur)
		out = cur
		return nil
	})
	if err != nil {
		e.fail(ctx, "veto", err)
		return model.Event{}, err
	}

	metrics.RecordVoteCast(duplicate)
	if duplicate {
		return out, nil
	}
	e.publish(ctx, notify.ForEvent(notify.VetoUpdate, out))
	if crossed {
		metrics.RecordEventVetoed()
		metrics.RecordLeaderboardUpdate()
		e.log.Info(ctx, "event vetoed",
			logger.String("event_id", out.ID),
			logger.String("group_id", out.GroupID),
			logger.Int("votes", len(out.Votes)),
		)
		e.publish(ctx, notify.ForLeaderboard(lb))
	}
	return out, nil
}

// ListEvents returns the group's events, newest first.
func (e *Engine) ListEvents(ctx context.Context, groupID string) ([]model.Event, error) {
	events, err := e.store.Events(ctx, groupID)
	if err != nil {
		return nil, err
	}
	slices.Reverse(events)
	slices.SortStableFunc(events, func(a, b model.Event) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return events, nil
}

// ListRecentApproved returns up to limit approved events, newest first.
// limit <= 0 selects the default; larger values are capped.
func (e *Engine) ListRecentApproved(ctx context.Context, groupID string, limit int) ([]model.Event, error) {
	switch {
	case limit <= 0:
		limit = e.recentLimit
	case limit > e.maxRecentLimit:
		limit = e.maxRecentLimit
	}
	events, err := e.ListEvents(ctx, groupID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, min(limit, len(events)))
	for _, ev := range events {
		if len(out) == limit {
			break
		}
		if ev.Approved {
			out = append(out, ev)
		}
	}
	return out, nil
}

// CreateGroup stores a group and seeds a zero row for each member. Duplicate
// member ids collapse; every rule id must exist.
func (e *Engine) CreateGroup(ctx context.Context, name string, members, ruleIDs []string) (model.Group, error) {
	return e.createGroup(ctx, e.newID(), name, members, ruleIDs)
}

// EnsureGroup creates the group with a fixed id unless it already exists.
func (e *Engine) EnsureGroup(ctx context.Context, id, name string, members, ruleIDs []string) (model.Group, error) {
	g, err := e.createGroup(ctx, id, name, members, ruleIDs)
	if errors.Is(err, errs.ErrAlreadyExists) {
		return e.store.Group(ctx, id)
	}
	return g, err
}

func (e *Engine) createGroup(ctx context.Context, id, name string, members, ruleIDs []string) (model.Group, error) {
	if err := required("name", name); err != nil {
		return model.Group{}, err
	}
	for _, r := range ruleIDs {
		if _, err := e.rules.Lookup(ctx, r); err != nil {
			return model.Group{}, err
		}
	}

	g := model.Group{ID: id, Name: name, Members: []string{}, Rules: slices.Clone(ruleIDs), CreatedAt: e.now()}
	if g.Rules == nil {
		g.Rules = []string{}
	}
	g.AddMembers(members...)
	lb := leaderboard.InitGroup(g.ID, g.Members)
	if err := e.store.CreateGroup(ctx, g, lb); err != nil {
		if !errors.Is(err, errs.ErrAlreadyExists) {
			e.fail(ctx, "create_group", err)
		}
		return model.Group{}, err
	}
	e.log.Info(ctx, "group created",
		logger.String("group_id", g.ID),
		logger.Int("members", len(g.Members)),
	)
	return g, nil
}

// AddMembers unions ids into the group and seeds zero rows for the new
// members. Repeating the call is harmless.
func (e *Engine) AddMembers(ctx context.Context, groupID string, ids []string) (model.Group, error) {
	if err := required("groupId", groupID); err != nil {
		return model.Group{}, err
	}
	if _, err := e.store.Group(ctx, groupID); err != nil {
		return model.Group{}, err
	}
	defer e.lockGroup(groupID)()
	var (
		out   model.Group
		lb    model.Leaderboard
		added []string
	)
	err := e.store.Transact(ctx, groupID, func(tx repository.Tx) error {
		g := tx.Group()
		added = g.AddMembers(ids...)
		out = g
		if len(added) == 0 {
			return nil
		}
		lb = leaderboard.AddMembers(tx.Leaderboard(), added...)
		tx.SetGroup(g)
		tx.SetLeaderboard(lb)
		return nil
	})
	if err != nil {
		e.fail(ctx, "add_members", err)
		return model.Group{}, err
	}
	if len(added) > 0 {
		metrics.RecordLeaderboardUpdate()
		e.publish(ctx, notify.ForLeaderboard(lb))
	}
	return out, nil
}

// Group returns one group.
func (e *Engine) Group(ctx context.Context, id string) (model.Group, error) {
	return e.store.Group(ctx, id)
}

// Groups returns every group in creation order.
func (e *Engine) Groups(ctx context.Context) ([]model.Group, error) {
	return e.store.Groups(ctx)
}

// Event returns one event.
func (e *Engine) Event(ctx context.Context, id string) (model.Event, error) {
	return e.store.Event(ctx, id)
}

func (e *Engine) publish(ctx context.Context, n notify.Notification) {
	if e.pub == nil {
		return
	}
	if e.pub.Publish(ctx, n) {
		metrics.RecordNotificationPublished(string(n.Kind))
		return
	}
	e.log.Warn(ctx, "notification dropped",
		logger.String("kind", string(n.Kind)),
		logger.String("group_id", n.GroupID),
	)
}

// fail logs and counts store failures; domain rejections pass silently.
func (e *Engine) fail(ctx context.Context, op string, err error) {
	if !errors.Is(err, errs.ErrStore) {
		return
	}
	metrics.RecordStoreTxError(op)
	metrics.RecordErrorByComponent("engine", "store")
	e.log.Error(ctx, "store transaction failed", logger.String("op", op), logger.Error(err))
}
