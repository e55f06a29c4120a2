package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/bet/internal/adapters/repository"
	"github.com/okian/bet/internal/domain/errs"
	"github.com/okian/bet/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type storeFactory struct {
	name string
	open func(t *testing.T) repository.Store
}

func factories() []storeFactory {
	return []storeFactory{
		{name: "memory", open: func(t *testing.T) repository.Store {
			s := repository.NewMemStore(context.Background(), repository.WithMetricsUpdateInterval(10*time.Millisecond))
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{name: "sqlite", open: func(t *testing.T) repository.Store {
			s, err := repository.NewSQLStore(context.Background(), repository.WithMetricsUpdateInterval(10*time.Millisecond))
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

func seedGroup(ctx context.Context, s repository.Store) error {
	g := model.Group{ID: "g1", Name: "Fitness", Members: []string{"A", "B"}, Rules: []string{"r1"}, CreatedAt: time.Now()}
	lb := model.Leaderboard{GroupID: "g1", Scores: []model.Score{{UserID: "A"}, {UserID: "B"}}}
	return s.CreateGroup(ctx, g, lb)
}

func TestStoreContract(t *testing.T) {
	for _, f := range factories() {
		Convey("Given a "+f.name+" store with one group", t, func() {
			ctx := context.Background()
			s := f.open(t)
			So(seedGroup(ctx, s), ShouldBeNil)

			Convey("Creating the same group again fails", func() {
				err := seedGroup(ctx, s)
				So(errors.Is(err, errs.ErrAlreadyExists), ShouldBeTrue)
			})

			Convey("Unknown ids map to their not-found kinds", func() {
				_, err := s.Group(ctx, "nope")
				So(errors.Is(err, errs.ErrGroupNotFound), ShouldBeTrue)
				_, err = s.Event(ctx, "nope")
				So(errors.Is(err, errs.ErrEventNotFound), ShouldBeTrue)
				_, err = s.Leaderboard(ctx, "nope")
				So(errors.Is(err, errs.ErrGroupNotFound), ShouldBeTrue)
				_, err = s.Events(ctx, "nope")
				So(errors.Is(err, errs.ErrGroupNotFound), ShouldBeTrue)
				_, err = s.Rule(ctx, "nope")
				So(errors.Is(err, errs.ErrRuleNotFound), ShouldBeTrue)
				_, err = s.User(ctx, "nope")
				So(errors.Is(err, errs.ErrUserNotFound), ShouldBeTrue)
				err = s.Transact(ctx, "nope", func(repository.Tx) error { return nil })
				So(errors.Is(err, errs.ErrGroupNotFound), ShouldBeTrue)
			})

			Convey("When a transaction stages an event and a score", func() {
				err := s.Transact(ctx, "g1", func(tx repository.Tx) error {
					tx.PutEvent(model.Event{ID: "e1", GroupID: "g1", UserID: "A", RuleID: "r1", PointValue: 10, Approved: true, CreatedAt: time.Now()})
					lb := tx.Leaderboard()
					lb.Scores[0].TotalPoints += 10
					tx.SetLeaderboard(lb)

					staged, err := tx.Event("e1")
					So(err, ShouldBeNil)
					So(staged.PointValue, ShouldEqual, 10)
					return nil
				})
				So(err, ShouldBeNil)

				Convey("Then both are visible after commit", func() {
					e, err := s.Event(ctx, "e1")
					So(err, ShouldBeNil)
					So(e.GroupID, ShouldEqual, "g1")
					So(e.Votes, ShouldResemble, []string{})

					lb, err := s.Leaderboard(ctx, "g1")
					So(err, ShouldBeNil)
					So(lb.Scores, ShouldResemble, []model.Score{{UserID: "A", TotalPoints: 10}, {UserID: "B"}})
				})

				Convey("And a later transaction updates the event in place", func() {
					err := s.Transact(ctx, "g1", func(tx repository.Tx) error {
						e, err := tx.Event("e1")
						if err != nil {
							return err
						}
						e.AddVote("B")
						e.Approved = false
						tx.PutEvent(e)
						return nil
					})
					So(err, ShouldBeNil)

					events, err := s.Events(ctx, "g1")
					So(err, ShouldBeNil)
					So(len(events), ShouldEqual, 1)
					So(events[0].Votes, ShouldResemble, []string{"B"})
					So(events[0].Approved, ShouldBeFalse)

					_, events2, err := s.Counts(ctx)
					So(err, ShouldBeNil)
					So(events2, ShouldEqual, 1)
				})
			})

			Convey("When the transaction function fails", func() {
				boom := errors.New("boom")
				err := s.Transact(ctx, "g1", func(tx repository.Tx) error {
					tx.PutEvent(model.Event{ID: "e2", GroupID: "g1", UserID: "A", PointValue: 5, Approved: true})
					lb := tx.Leaderboard()
					lb.Scores[0].TotalPoints = 99
					tx.SetLeaderboard(lb)
					return boom
				})

				Convey("Then nothing it staged is visible", func() {
					So(err, ShouldEqual, boom)
					_, err := s.Event(ctx, "e2")
					So(errors.Is(err, errs.ErrEventNotFound), ShouldBeTrue)
					lb, _ := s.Leaderboard(ctx, "g1")
					So(lb.Scores[0].TotalPoints, ShouldEqual, 0)
				})
			})

			Convey("Group membership changes through SetGroup", func() {
				err := s.Transact(ctx, "g1", func(tx repository.Tx) error {
					g := tx.Group()
					g.AddMembers("C")
					tx.SetGroup(g)
					return nil
				})
				So(err, ShouldBeNil)
				g, err := s.Group(ctx, "g1")
				So(err, ShouldBeNil)
				So(g.Members, ShouldResemble, []string{"A", "B", "C"})
			})

			Convey("Rules are append-only and users can be renamed", func() {
				So(s.PutRule(ctx, model.Rule{ID: "r1", Description: "Run", PointValue: 10, VetoThreshold: 2}), ShouldBeNil)
				err := s.PutRule(ctx, model.Rule{ID: "r1", PointValue: 99, VetoThreshold: 1})
				So(errors.Is(err, errs.ErrAlreadyExists), ShouldBeTrue)
				r, err := s.Rule(ctx, "r1")
				So(err, ShouldBeNil)
				So(r.PointValue, ShouldEqual, 10)

				So(s.PutUser(ctx, model.User{ID: "A", Name: "Alex"}), ShouldBeNil)
				So(s.PutUser(ctx, model.User{ID: "B", Name: "Jordan"}), ShouldBeNil)
				So(s.PutUser(ctx, model.User{ID: "A", Name: "Alexandra"}), ShouldBeNil)
				users, err := s.Users(ctx)
				So(err, ShouldBeNil)
				So(users, ShouldResemble, []model.User{{ID: "A", Name: "Alexandra"}, {ID: "B", Name: "Jordan"}})
			})

			Convey("Concurrent transactions on one group do not lose updates", func() {
				const n = 20
				var wg sync.WaitGroup
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_ = s.Transact(ctx, "g1", func(tx repository.Tx) error {
							lb := tx.Leaderboard()
							lb.Scores[1].TotalPoints++
							tx.SetLeaderboard(lb)
							return nil
						})
					}()
				}
				wg.Wait()
				lb, err := s.Leaderboard(ctx, "g1")
				So(err, ShouldBeNil)
				So(lb.Scores[1].TotalPoints, ShouldEqual, n)
			})
		})
	}
}
