package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	service "github.com/okian/bet/internal/app"
	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithFanout(2, 16),
			service.WithDedupeSize(100),
			service.WithRecentLimit(5, 20),
			service.WithWSSendBuffer(8),
		)

		Convey("Then it reports its settings before start", func() {
			stats := svc.GetStats(context.Background())
			So(stats["started"], ShouldBeFalse)
			So(stats["partitions"], ShouldEqual, 2)
			So(stats["queueSize"], ShouldEqual, 16)
			So(stats["store"], ShouldEqual, service.DriverMemory)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service with the demo seed", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc := service.New(service.WithDemoSeed(true))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Then the demo group is ready", func() {
			g, err := svc.Engine().Group(ctx, "1")
			So(err, ShouldBeNil)
			So(g.Name, ShouldEqual, "Fitness Challenge")
			So(g.Members, ShouldResemble, []string{"1", "2", "3"})

			rows, err := svc.Projector().GetLeaderboard(ctx, "1")
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 3)
			So(rows[0].UserName, ShouldEqual, "Alex")
		})

		Convey("Then starting twice is harmless", func() {
			So(svc.Start(ctx), ShouldBeNil)
		})

		Convey("Then stats include record counts", func() {
			_, err := svc.Engine().SubmitEvent(ctx, "1", "1", "1")
			So(err, ShouldBeNil)
			stats := svc.GetStats(ctx)
			So(stats["started"], ShouldBeTrue)
			So(stats["groups"], ShouldEqual, 1)
			So(stats["events"], ShouldEqual, 1)
		})

		Convey("When stopped", func() {
			svc.Stop()

			Convey("Then it reports stopped and a second stop is a no-op", func() {
				So(svc.GetStats(ctx)["started"], ShouldBeFalse)
				So(svc.Stop, ShouldNotPanic)
			})
		})
	})
}

func TestService_UnknownDriver(t *testing.T) {
	Convey("Given an unsupported store driver", t, func() {
		svc := service.New(service.WithStoreDriver("postgres"))

		Convey("Then Start fails", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, service.ErrUnknownDriver), ShouldBeTrue)
		})
	})
}

func TestService_SeedIsIdempotent(t *testing.T) {
	Convey("Given a sqlite file seeded twice", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "bet.db")
		extra := service.Seed{
			Users:  []model.User{{ID: "9", Name: "Robin"}},
			Rules:  []model.Rule{{ID: "stretch", Description: "Stretch", PointValue: 3, VetoThreshold: 1}},
			Groups: []service.SeedGroup{{ID: "office", Name: "Office", Members: []string{"9"}, Rules: []string{"stretch"}}},
		}
		open := func() *service.Service {
			svc := service.New(
				service.WithStoreDriver(service.DriverSQLite),
				service.WithSQLitePath(path),
				service.WithDemoSeed(true),
				service.WithSeed(extra),
			)
			So(svc.Start(ctx), ShouldBeNil)
			return svc
		}

		first := open()
		_, err := first.Engine().SubmitEvent(ctx, "9", "stretch", "office")
		So(err, ShouldBeNil)
		first.Stop()

		second := open()
		defer second.Stop()

		Convey("Then records survive and nothing is duplicated", func() {
			groups, err := second.Engine().Groups(ctx)
			So(err, ShouldBeNil)
			So(groups, ShouldHaveLength, 2)
			rows, err := second.Projector().GetLeaderboard(ctx, "office")
			So(err, ShouldBeNil)
			So(rows[0].TotalPoints, ShouldEqual, 3)
			So(rows[0].UserName, ShouldEqual, "Robin")
		})
	})
}
