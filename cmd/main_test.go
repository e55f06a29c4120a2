package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/okian/bet/internal/config"
	"github.com/okian/bet/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().String()
}

func TestSeedFromConfig(t *testing.T) {
	convey.Convey("Given configured seed records", t, func() {
		cfg := config.New()
		cfg.Users = []config.User{{ID: "7", Name: "Robin"}}
		cfg.Rules = []config.Rule{{ID: "s", Description: "Stretch", Points: 3, VetoThreshold: 2}}
		cfg.Groups = []config.Group{{ID: "o", Name: "Office", Members: []string{"7"}, Rules: []string{"s"}}}

		seed := seedFromConfig(cfg)

		convey.Convey("Then they map onto the service seed", func() {
			convey.So(seed.Users[0].Name, convey.ShouldEqual, "Robin")
			convey.So(seed.Rules[0].PointValue, convey.ShouldEqual, 3)
			convey.So(seed.Rules[0].VetoThreshold, convey.ShouldEqual, 2)
			convey.So(seed.Groups[0].Members, convey.ShouldResemble, []string{"7"})
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a config on a free port", t, func() {
		cfg := config.New()
		cfg.Addr = freeAddr(t)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- run(ctx, cfg) }()

		convey.Convey("Then the demo leaderboard is served until cancel", func() {
			var (
				resp *http.Response
				err  error
			)
			for range 50 {
				resp, err = http.Get(fmt.Sprintf("http://%s/leaderboard/1", cfg.Addr))
				if err == nil {
					break
				}
				time.Sleep(20 * time.Millisecond)
			}
			convey.So(err, convey.ShouldBeNil)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

			cancel()
			select {
			case err := <-done:
				convey.So(err, convey.ShouldBeNil)
			case <-time.After(5 * time.Second):
				t.Fatal("run did not return after cancel")
			}
		})
	})
}

func TestUpdateSystemMetrics(t *testing.T) {
	convey.Convey("Given the system metrics updater", t, func() {
		convey.Convey("Then a single update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})
	})
}
