package engine_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/bet/internal/adapters/repository"
	"github.com/okian/bet/internal/domain/catalog"
	"github.com/okian/bet/internal/domain/engine"
	"github.com/okian/bet/internal/domain/errs"
	"github.com/okian/bet/internal/domain/leaderboard"
	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/internal/domain/notify"
	. "github.com/smartystreets/goconvey/convey"
)

type fixture struct {
	store    repository.Store
	engine   *engine.Engine
	recorder *notify.Recorder
	group    model.Group
}

func stores(t *testing.T) map[string]func() repository.Store {
	return map[string]func() repository.Store{
		"memory": func() repository.Store {
			s := repository.NewMemStore(context.Background())
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"sqlite": func() repository.Store {
			s, err := repository.NewSQLStore(context.Background())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

// newFixture seeds rules r10 (10 pts, 2 vetoes), r15 (15 pts, 1 veto) and
// r5 (5 pts, 3 vetoes) plus a group with members A, B, C.
func newFixture(open func() repository.Store) fixture {
	ctx := context.Background()
	store := open()
	cat := catalog.New(store)
	for _, r := range []model.Rule{
		{ID: "r10", Description: "Run 1 mile", PointValue: 10, VetoThreshold: 2},
		{ID: "r15", Description: "Do 50 push-ups", PointValue: 15, VetoThreshold: 1},
		{ID: "r5", Description: "Meditate", PointValue: 5, VetoThreshold: 3},
	} {
		So(cat.Register(ctx, r), ShouldBeNil)
	}

	var tick atomic.Int64
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := &notify.Recorder{}
	eng := engine.New(store, cat,
		engine.WithPublisher(rec),
		engine.WithClock(func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) }),
	)
	g, err := eng.CreateGroup(ctx, "Fitness", []string{"A", "B", "C"}, []string{"r10", "r15", "r5"})
	So(err, ShouldBeNil)
	rec.Take()
	return fixture{store: store, engine: eng, recorder: rec, group: g}
}

func total(f fixture, userID string) int {
	lb, err := f.store.Leaderboard(context.Background(), f.group.ID)
	So(err, ShouldBeNil)
	points, _ := leaderboard.Total(lb, userID)
	return points
}

func kinds(ns []notify.Notification) []notify.Kind {
	out := make([]notify.Kind, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Kind)
	}
	return out
}

func TestScenarios(t *testing.T) {
	for name, open := range stores(t) {
		Convey("Given a "+name+" store with a seeded group", t, func() {
			ctx := context.Background()
			f := newFixture(open)
			gid := f.group.ID

			Convey("Scenario A: a single veto voids a threshold-1 event", func() {
				ev, err := f.engine.SubmitEvent(ctx, "A", "r15", gid)
				So(err, ShouldBeNil)
				So(ev.Approved, ShouldBeTrue)
				So(ev.PointValue, ShouldEqual, 15)
				So(ev.Votes, ShouldBeEmpty)
				So(total(f, "A"), ShouldEqual, 15)
				So(kinds(f.recorder.Take()), ShouldResemble, []notify.Kind{notify.EventAdded, notify.LeaderboardUpdate})

				ev, err = f.engine.CastVeto(ctx, ev.ID, "B")
				So(err, ShouldBeNil)
				So(ev.Approved, ShouldBeFalse)
				So(ev.Votes, ShouldResemble, []string{"B"})
				So(total(f, "A"), ShouldEqual, 0)

				sent := f.recorder.Take()
				So(kinds(sent), ShouldResemble, []notify.Kind{notify.VetoUpdate, notify.LeaderboardUpdate})
				So(sent[0].Event.Approved, ShouldBeFalse)
				points, _ := leaderboard.Total(*sent[1].Leaderboard, "A")
				So(points, ShouldEqual, 0)
			})

			Convey("Scenario B: the second veto voids a threshold-2 event", func() {
				ev, err := f.engine.SubmitEvent(ctx, "A", "r10", gid)
				So(err, ShouldBeNil)
				So(total(f, "A"), ShouldEqual, 10)
				f.recorder.Take()

				ev, err = f.engine.CastVeto(ctx, ev.ID, "B")
				So(err, ShouldBeNil)
				So(ev.Approved, ShouldBeTrue)
				So(len(ev.Votes), ShouldEqual, 1)
				So(total(f, "A"), ShouldEqual, 10)
				So(kinds(f.recorder.Take()), ShouldResemble, []notify.Kind{notify.VetoUpdate})

				ev, err = f.engine.CastVeto(ctx, ev.ID, "C")
				So(err, ShouldBeNil)
				So(ev.Approved, ShouldBeFalse)
				So(len(ev.Votes), ShouldEqual, 2)
				So(total(f, "A"), ShouldEqual, 0)
				So(kinds(f.recorder.Take()), ShouldResemble, []notify.Kind{notify.VetoUpdate, notify.LeaderboardUpdate})
			})

			Convey("Scenario C: a fresh group lists every member at zero", func() {
				g, err := f.engine.CreateGroup(ctx, "Pair", []string{"A", "B"}, nil)
				So(err, ShouldBeNil)
				rows, err := leaderboard.NewProjector(f.store).GetLeaderboard(ctx, g.ID)
				So(err, ShouldBeNil)
				So(len(rows), ShouldEqual, 2)
				for _, r := range rows {
					So(r.TotalPoints, ShouldEqual, 0)
				}
			})

			Convey("Scenario D: an unknown rule changes nothing", func() {
				_, err := f.engine.SubmitEvent(ctx, "A", "missing", gid)
				So(errors.Is(err, errs.ErrRuleNotFound), ShouldBeTrue)
				events, err := f.engine.ListEvents(ctx, gid)
				So(err, ShouldBeNil)
				So(events, ShouldBeEmpty)
				So(total(f, "A"), ShouldEqual, 0)
				So(f.recorder.Take(), ShouldBeEmpty)
			})
		})
	}
}

func TestVetoRules(t *testing.T) {
	for name, open := range stores(t) {
		Convey("Given a "+name+" store and a submitted threshold-2 event", t, func() {
			ctx := context.Background()
			f := newFixture(open)
			ev, err := f.engine.SubmitEvent(ctx, "A", "r10", f.group.ID)
			So(err, ShouldBeNil)
			f.recorder.Take()

			Convey("Voting twice counts once and announces once", func() {
				_, err := f.engine.CastVeto(ctx, ev.ID, "B")
				So(err, ShouldBeNil)
				again, err := f.engine.CastVeto(ctx, ev.ID, "B")
				So(err, ShouldBeNil)
				So(again.Votes, ShouldResemble, []string{"B"})
				So(again.Approved, ShouldBeTrue)
				So(kinds(f.recorder.Take()), ShouldResemble, []notify.Kind{notify.VetoUpdate})
			})

			Convey("The owner cannot veto their own event", func() {
				_, err := f.engine.CastVeto(ctx, ev.ID, "A")
				So(errors.Is(err, errs.ErrSelfVeto), ShouldBeTrue)
				So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
				stored, _ := f.engine.Event(ctx, ev.ID)
				So(stored.Votes, ShouldBeEmpty)
			})

			Convey("Votes past the threshold never reverse twice or un-veto", func() {
				for _, voter := range []string{"B", "C", "D", "E"} {
					_, err := f.engine.CastVeto(ctx, ev.ID, voter)
					So(err, ShouldBeNil)
				}
				stored, err := f.engine.Event(ctx, ev.ID)
				So(err, ShouldBeNil)
				So(stored.Approved, ShouldBeFalse)
				So(len(stored.Votes), ShouldEqual, 4)
				So(total(f, "A"), ShouldEqual, 0)
			})

			Convey("Unknown events and blank ids are rejected", func() {
				_, err := f.engine.CastVeto(ctx, "nope", "B")
				So(errors.Is(err, errs.ErrEventNotFound), ShouldBeTrue)
				_, err = f.engine.CastVeto(ctx, "", "B")
				So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
				_, err = f.engine.SubmitEvent(ctx, "A", "r10", " ")
				So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
				_, err = f.engine.SubmitEvent(ctx, "A", "r10", "no-such-group")
				So(errors.Is(err, errs.ErrGroupNotFound), ShouldBeTrue)
			})

			Convey("Points are credited to non-members by creating their row", func() {
				_, err := f.engine.SubmitEvent(ctx, "Z", "r5", f.group.ID)
				So(err, ShouldBeNil)
				So(total(f, "Z"), ShouldEqual, 5)
			})
		})
	}
}

func TestQueries(t *testing.T) {
	Convey("Given a group with a mix of approved and vetoed events", t, func() {
		ctx := context.Background()
		f := newFixture(stores(t)["memory"])
		gid := f.group.ID

		var ids []string
		for i := 0; i < 14; i++ {
			ev, err := f.engine.SubmitEvent(ctx, "A", "r15", gid)
			So(err, ShouldBeNil)
			ids = append(ids, ev.ID)
		}
		// Veto every third event.
		for i := 0; i < len(ids); i += 3 {
			_, err := f.engine.CastVeto(ctx, ids[i], "B")
			So(err, ShouldBeNil)
		}

		Convey("ListEvents returns everything newest first", func() {
			events, err := f.engine.ListEvents(ctx, gid)
			So(err, ShouldBeNil)
			So(len(events), ShouldEqual, 14)
			So(events[0].ID, ShouldEqual, ids[13])
			for i := 1; i < len(events); i++ {
				So(events[i-1].CreatedAt.After(events[i].CreatedAt), ShouldBeTrue)
			}
		})

		Convey("ListRecentApproved filters and truncates", func() {
			events, err := f.engine.ListRecentApproved(ctx, gid, 0)
			So(err, ShouldBeNil)
			So(len(events), ShouldEqual, 9)
			for _, ev := range events {
				So(ev.Approved, ShouldBeTrue)
			}
			So(events[0].ID, ShouldEqual, ids[13])

			events, err = f.engine.ListRecentApproved(ctx, gid, 3)
			So(err, ShouldBeNil)
			So(len(events), ShouldEqual, 3)
		})

		Convey("The default recent limit is ten", func() {
			for i := 0; i < 5; i++ {
				_, err := f.engine.SubmitEvent(ctx, "B", "r5", gid)
				So(err, ShouldBeNil)
			}
			events, err := f.engine.ListRecentApproved(ctx, gid, -1)
			So(err, ShouldBeNil)
			So(len(events), ShouldEqual, 10)
		})

		Convey("Unknown groups are not found", func() {
			_, err := f.engine.ListEvents(ctx, "nope")
			So(errors.Is(err, errs.ErrGroupNotFound), ShouldBeTrue)
		})
	})
}

func TestGroups(t *testing.T) {
	for name, open := range stores(t) {
		Convey("Given a "+name+" store", t, func() {
			ctx := context.Background()
			f := newFixture(open)

			Convey("Creating a group needs a name and known rules", func() {
				_, err := f.engine.CreateGroup(ctx, "", []string{"A"}, nil)
				So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
				_, err = f.engine.CreateGroup(ctx, "X", []string{"A"}, []string{"nope"})
				So(errors.Is(err, errs.ErrRuleNotFound), ShouldBeTrue)
			})

			Convey("Duplicate members collapse at creation", func() {
				g, err := f.engine.CreateGroup(ctx, "X", []string{"A", "A", "B"}, nil)
				So(err, ShouldBeNil)
				So(g.Members, ShouldResemble, []string{"A", "B"})
				So(g.Rules, ShouldResemble, []string{})
			})

			Convey("AddMembers is an idempotent union", func() {
				g, err := f.engine.AddMembers(ctx, f.group.ID, []string{"C", "D"})
				So(err, ShouldBeNil)
				So(g.Members, ShouldResemble, []string{"A", "B", "C", "D"})
				So(kinds(f.recorder.Take()), ShouldResemble, []notify.Kind{notify.LeaderboardUpdate})

				g, err = f.engine.AddMembers(ctx, f.group.ID, []string{"D"})
				So(err, ShouldBeNil)
				So(g.Members, ShouldResemble, []string{"A", "B", "C", "D"})
				So(f.recorder.Take(), ShouldBeEmpty)

				lb, err := f.store.Leaderboard(ctx, f.group.ID)
				So(err, ShouldBeNil)
				So(len(lb.Scores), ShouldEqual, 4)
			})

			Convey("AddMembers keeps existing totals", func() {
				_, err := f.engine.SubmitEvent(ctx, "A", "r10", f.group.ID)
				So(err, ShouldBeNil)
				_, err = f.engine.AddMembers(ctx, f.group.ID, []string{"A", "E"})
				So(err, ShouldBeNil)
				So(total(f, "A"), ShouldEqual, 10)
				So(total(f, "E"), ShouldEqual, 0)
			})

			Convey("EnsureGroup is idempotent on a fixed id", func() {
				g1, err := f.engine.EnsureGroup(ctx, "fixed", "Fixed", []string{"A"}, nil)
				So(err, ShouldBeNil)
				g2, err := f.engine.EnsureGroup(ctx, "fixed", "Other", []string{"B"}, nil)
				So(err, ShouldBeNil)
				So(g2.Name, ShouldEqual, g1.Name)
				groups, err := f.engine.Groups(ctx)
				So(err, ShouldBeNil)
				So(len(groups), ShouldEqual, 2)
			})

			Convey("Unknown groups are not found", func() {
				_, err := f.engine.AddMembers(ctx, "nope", []string{"A"})
				So(errors.Is(err, errs.ErrGroupNotFound), ShouldBeTrue)
				_, err = f.engine.Group(ctx, "nope")
				So(errors.Is(err, errs.ErrGroupNotFound), ShouldBeTrue)
			})
		})
	}
}

// TestProperties drives random concurrent submits and vetoes and then checks
// the sum invariant, monotonic vetoes, vote sets and threshold exactness.
func TestProperties(t *testing.T) {
	for name, open := range stores(t) {
		Convey("Given a "+name+" store under concurrent load", t, func() {
			ctx := context.Background()
			f := newFixture(open)
			gid := f.group.ID
			users := []string{"A", "B", "C", "D", "E"}
			rules := []string{"r10", "r15", "r5"}

			var (
				mu     sync.Mutex
				events []string
				wg     sync.WaitGroup
			)
			for w := 0; w < 6; w++ {
				wg.Add(1)
				go func(seed uint64) {
					defer wg.Done()
					rng := rand.New(rand.NewPCG(seed, seed*7+1))
					for i := 0; i < 30; i++ {
						user := users[rng.IntN(len(users))]
						if rng.IntN(3) == 0 {
							ev, err := f.engine.SubmitEvent(ctx, user, rules[rng.IntN(len(rules))], gid)
							if err == nil {
								mu.Lock()
								events = append(events, ev.ID)
								mu.Unlock()
							}
							continue
						}
						mu.Lock()
						if len(events) == 0 {
							mu.Unlock()
							continue
						}
						id := events[rng.IntN(len(events))]
						mu.Unlock()
						_, _ = f.engine.CastVeto(ctx, id, user)
					}
				}(uint64(w + 1))
			}
			wg.Wait()

			all, err := f.engine.ListEvents(ctx, gid)
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, len(events))

			Convey("Then every total equals its approved events", func() {
				audit, err := leaderboard.NewProjector(f.store).Audit(ctx, gid)
				So(err, ShouldBeNil)
				So(audit.Mismatches, ShouldBeEmpty)
			})

			Convey("Then vote sets and approval agree with thresholds", func() {
				thresholds := map[string]int{"r10": 2, "r15": 1, "r5": 3}
				for _, ev := range all {
					seen := map[string]bool{}
					for _, v := range ev.Votes {
						So(seen[v], ShouldBeFalse)
						So(v, ShouldNotEqual, ev.UserID)
						seen[v] = true
					}
					So(ev.Approved, ShouldEqual, len(ev.Votes) < thresholds[ev.RuleID])
				}
			})

			Convey("Then the ranked view is sorted descending", func() {
				rows, err := leaderboard.NewProjector(f.store).GetLeaderboard(ctx, gid)
				So(err, ShouldBeNil)
				for i := 1; i < len(rows); i++ {
					So(rows[i-1].TotalPoints, ShouldBeGreaterThanOrEqualTo, rows[i].TotalPoints)
				}
			})
		})
	}
}

func TestNotificationOrder(t *testing.T) {
	Convey("Given concurrent submissions to one group", t, func() {
		ctx := context.Background()
		f := newFixture(stores(t)["memory"])

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _ = f.engine.SubmitEvent(ctx, fmt.Sprintf("u%d", i%4), "r5", f.group.ID)
			}(i)
		}
		wg.Wait()

		Convey("Then leaderboard updates are announced in commit order", func() {
			sum := 0
			last := -1
			for _, n := range f.recorder.Take() {
				if n.Kind != notify.LeaderboardUpdate {
					continue
				}
				sum = 0
				for _, s := range n.Leaderboard.Scores {
					sum += s.TotalPoints
				}
				So(sum, ShouldBeGreaterThan, last)
				last = sum
			}
			So(sum, ShouldEqual, 100)
		})
	})
}

// failingStore runs each transaction body and then reports a commit failure,
// so staged writes are discarded.
type failingStore struct {
	repository.Store
	fail atomic.Bool
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) Transact(ctx context.Context, groupID string, fn func(tx repository.Tx) error) error {
	if !s.fail.Load() {
		return s.Store.Transact(ctx, groupID, fn)
	}
	return s.Store.Transact(ctx, groupID, func(tx repository.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errs.Store("commit", errDiskFull)
	})
}

func TestStoreFailure(t *testing.T) {
	for name, open := range stores(t) {
		Convey("Given a "+name+" store whose commits start failing", t, func() {
			ctx := context.Background()
			store := &failingStore{Store: open()}
			f := newFixture(func() repository.Store { return store })
			gid := f.group.ID

			ev, err := f.engine.SubmitEvent(ctx, "A", "r15", gid)
			So(err, ShouldBeNil)
			f.recorder.Take()
			before, err := f.store.Leaderboard(ctx, gid)
			So(err, ShouldBeNil)
			store.fail.Store(true)

			Convey("When a submission cannot be committed", func() {
				_, err := f.engine.SubmitEvent(ctx, "B", "r10", gid)

				Convey("Then the caller sees a store failure and nothing changed", func() {
					So(errors.Is(err, errs.ErrStore), ShouldBeTrue)
					So(errors.Is(err, errDiskFull), ShouldBeTrue)
					events, err := f.store.Events(ctx, gid)
					So(err, ShouldBeNil)
					So(len(events), ShouldEqual, 1)
					after, err := f.store.Leaderboard(ctx, gid)
					So(err, ShouldBeNil)
					So(after, ShouldResemble, before)
					So(f.recorder.Take(), ShouldBeEmpty)
				})
			})

			Convey("When a threshold-crossing veto cannot be committed", func() {
				_, err := f.engine.CastVeto(ctx, ev.ID, "B")

				Convey("Then the event keeps its state and no notification is sent", func() {
					So(errors.Is(err, errs.ErrStore), ShouldBeTrue)
					stored, err := f.store.Event(ctx, ev.ID)
					So(err, ShouldBeNil)
					So(stored.Approved, ShouldBeTrue)
					So(stored.Votes, ShouldBeEmpty)
					So(total(f, "A"), ShouldEqual, 15)
					So(f.recorder.Take(), ShouldBeEmpty)
				})
			})
		})
	}
}
