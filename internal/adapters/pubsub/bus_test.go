package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/okian/bet/internal/adapters/pubsub"
	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/internal/domain/notify"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBus(t *testing.T) {
	Convey("Given a bus with a subscriber on group g", t, func() {
		bus := pubsub.NewBus()
		defer bus.Close()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		msgs, err := bus.Subscribe(ctx, "g")
		So(err, ShouldBeNil)

		Convey("When notifications for g and another group are forwarded", func() {
			go func() {
				_ = bus.Forward(ctx, notify.ForEvent(notify.EventAdded, model.Event{ID: "e1", GroupID: "g"}))
				_ = bus.Forward(ctx, notify.ForEvent(notify.EventAdded, model.Event{ID: "x", GroupID: "other"}))
				_ = bus.Forward(ctx, notify.ForLeaderboard(model.Leaderboard{GroupID: "g", Scores: []model.Score{{UserID: "A", TotalPoints: 5}}}))
			}()

			var frames []map[string]any
			var kinds []notify.Kind
			for len(frames) < 2 {
				select {
				case msg := <-msgs:
					var f map[string]any
					So(json.Unmarshal(msg.Payload, &f), ShouldBeNil)
					frames = append(frames, f)
					kinds = append(kinds, pubsub.Kind(msg))
					msg.Ack()
				case <-time.After(2 * time.Second):
					t.Fatal("timed out waiting for frames")
				}
			}

			Convey("Then only g's frames arrive, in order", func() {
				So(kinds, ShouldResemble, []notify.Kind{notify.EventAdded, notify.LeaderboardUpdate})
				So(frames[0]["type"], ShouldEqual, "event_added")
				So(frames[0]["groupId"], ShouldEqual, "g")
				So(frames[0]["payload"].(map[string]any)["id"], ShouldEqual, "e1")
				So(frames[1]["payload"].(map[string]any)["groupId"], ShouldEqual, "g")
			})
		})

		Convey("Forwarding to a group without subscribers does not block", func() {
			done := make(chan error, 1)
			go func() {
				done <- bus.Forward(ctx, notify.ForEvent(notify.EventAdded, model.Event{ID: "e", GroupID: "nobody"}))
			}()
			select {
			case err := <-done:
				So(err, ShouldBeNil)
			case <-time.After(2 * time.Second):
				t.Fatal("forward blocked")
			}
		})
	})
}
