package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/bet/pkg/metrics"
)

// gaugeUpdater periodically publishes store size gauges.
type gaugeUpdater struct {
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

func (g *gaugeUpdater) start(ctx context.Context, interval time.Duration, counts func(context.Context) (int, int, error)) {
	g.stopChan = make(chan struct{})
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-g.stopChan:
				return
			case <-ticker.C:
				groups, events, err := counts(ctx)
				if err != nil {
					continue
				}
				metrics.UpdateGroupsTotal(groups)
				metrics.UpdateEventsTotal(events)
			}
		}
	}()
}

func (g *gaugeUpdater) stop() {
	g.stopOnce.Do(func() { close(g.stopChan) })
	g.wg.Wait()
}
