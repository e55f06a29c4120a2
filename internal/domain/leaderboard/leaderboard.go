// Package leaderboard maintains per-group running totals and serves ranked
// views of them. Totals change only through the engine's commit step; reads
// never recompute from history.
package leaderboard

import (
	"cmp"
	"context"
	"slices"

	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/internal/domain/types"
)

// UnknownName is shown for users missing from the directory.
const UnknownName = "Unknown"

// InitGroup returns a leaderboard with a zero row per member, in member order.
func InitGroup(groupID string, members []string) model.Leaderboard {
	return AddMembers(model.Leaderboard{GroupID: groupID, Scores: []model.Score{}}, members...)
}

// AddMembers appends a zero row for every id without one. Existing rows are
// untouched.
func AddMembers(lb model.Leaderboard, ids ...string) model.Leaderboard {
	lb = lb.Clone()
	for _, id := range ids {
		if id == "" || index(lb, id) >= 0 {
			continue
		}
		lb.Scores = append(lb.Scores, model.Score{UserID: id})
	}
	return lb
}

// Apply adds delta to userID's total, creating the row if absent.
func Apply(lb model.Leaderboard, userID string, delta int) model.Leaderboard {
	lb = lb.Clone()
	if i := index(lb, userID); i >= 0 {
		lb.Scores[i].TotalPoints += delta
		return lb
	}
	lb.Scores = append(lb.Scores, model.Score{UserID: userID, TotalPoints: delta})
	return lb
}

// Total returns userID's total and whether a row exists.
func Total(lb model.Leaderboard, userID string) (int, bool) {
	if i := index(lb, userID); i >= 0 {
		return lb.Scores[i].TotalPoints, true
	}
	return 0, false
}

func index(lb model.Leaderboard, userID string) int {
	return slices.IndexFunc(lb.Scores, func(s model.Score) bool { return s.UserID == userID })
}

// Rank orders rows by total descending. Ties keep seeding order, which is
// not a guarantee callers should rely on.
func Rank(lb model.Leaderboard, names map[string]string) []types.Entry {
	out := make([]types.Entry, 0, len(lb.Scores))
	for _, s := range lb.Scores {
		name, ok := names[s.UserID]
		if !ok {
			name = UnknownName
		}
		out = append(out, types.Entry{UserID: s.UserID, UserName: name, TotalPoints: s.TotalPoints})
	}
	slices.SortStableFunc(out, func(a, b types.Entry) int { return cmp.Compare(b.TotalPoints, a.TotalPoints) })
	return out
}

// Expected sums approved event points per user.
func Expected(events []model.Event) map[string]int {
	sums := make(map[string]int)
	for _, e := range events {
		if e.Approved {
			sums[e.UserID] += e.PointValue
		}
	}
	return sums
}

// Check compares recorded totals with the event history. Users with approved
// events but no row count as recorded 0.
func Check(lb model.Leaderboard, events []model.Event) types.Audit {
	expected := Expected(events)
	audit := types.Audit{GroupID: lb.GroupID, Mismatches: []types.Mismatch{}}
	seen := make(map[string]bool, len(lb.Scores))
	for _, s := range lb.Scores {
		seen[s.UserID] = true
		if want := expected[s.UserID]; want != s.TotalPoints {
			audit.Mismatches = append(audit.Mismatches, types.Mismatch{UserID: s.UserID, Recorded: s.TotalPoints, Expected: want})
		}
	}
	for _, e := range events {
		if seen[e.UserID] || expected[e.UserID] == 0 {
			continue
		}
		seen[e.UserID] = true
		audit.Mismatches = append(audit.Mismatches, types.Mismatch{UserID: e.UserID, Expected: expected[e.UserID]})
	}
	audit.Consistent = len(audit.Mismatches) == 0
	return audit
}

// Reader is the store surface the projector needs.
type Reader interface {
	Leaderboard(ctx context.Context, groupID string) (model.Leaderboard, error)
	Events(ctx context.Context, groupID string) ([]model.Event, error)
	Groups(ctx context.Context) ([]model.Group, error)
	Users(ctx context.Context) ([]model.User, error)
}

// Projector serves ranked leaderboard views.
type Projector struct {
	store Reader
}

// NewProjector returns a projector reading from store.
func NewProjector(store Reader) *Projector {
	return &Projector{store: store}
}

func (p *Projector) names(ctx context.Context) (map[string]string, error) {
	users, err := p.store.Users(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names, nil
}

// GetLeaderboard returns the group's ranked rows.
func (p *Projector) GetLeaderboard(ctx context.Context, groupID string) ([]types.Entry, error) {
	lb, err := p.store.Leaderboard(ctx, groupID)
	if err != nil {
		return nil, err
	}
	names, err := p.names(ctx)
	if err != nil {
		return nil, err
	}
	return Rank(lb, names), nil
}

// All returns every group's ranked rows keyed by group id.
func (p *Projector) All(ctx context.Context) (map[string][]types.Entry, error) {
	groups, err := p.store.Groups(ctx)
	if err != nil {
		return nil, err
	}
	names, err := p.names(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]types.Entry, len(groups))
	for _, g := range groups {
		lb, err := p.store.Leaderboard(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		out[g.ID] = Rank(lb, names)
	}
	return out, nil
}

// Audit recomputes the group's totals from its events and reports rows that
// diverge. It never repairs anything. The two reads are not taken under the
// group's write lock, so a write landing between them shows up as a
// transient mismatch.
func (p *Projector) Audit(ctx context.Context, groupID string) (types.Audit, error) {
	lb, err := p.store.Leaderboard(ctx, groupID)
	if err != nil {
		return types.Audit{}, err
	}
	events, err := p.store.Events(ctx, groupID)
	if err != nil {
		return types.Audit{}, err
	}
	return Check(lb, events), nil
}
