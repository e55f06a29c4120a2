package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/internal/domain/notify"
)

func item(groupID, eventID string) Item {
	return notify.ForEvent(notify.EventAdded, model.Event{ID: eventID, GroupID: groupID})
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.Enqueue(ctx, item("g", "e1")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.Event.ID != "e1" {
		t.Errorf("expected e1, got %v", got.Event.ID)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, item("g", "e1")) || !q.Enqueue(ctx, item("g", "e2")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, item("g", "e3")) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()
	q.Enqueue(ctx, item("g", "e1"))

	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to report closed")
	}
	if q.Enqueue(ctx, item("g", "e2")) {
		t.Error("expected enqueue on closed queue to fail")
	}

	var drained []string
	for it := range q.Dequeue(ctx) {
		drained = append(drained, it.Event.ID)
	}
	if len(drained) != 1 || drained[0] != "e1" {
		t.Errorf("expected queued item to drain after close, got %v", drained)
	}
}

func TestPartitioned_GroupOrder(t *testing.T) {
	p := NewPartitioned(WithPartitions(3), WithCapacity(100))
	ctx := context.Background()
	groups := []string{"g1", "g2", "g3", "g4"}

	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func(g string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if !p.Publish(ctx, item(g, fmt.Sprintf("%s-%02d", g, i))) {
					t.Errorf("publish %s/%d dropped", g, i)
				}
			}
		}(g)
	}
	wg.Wait()
	if l := p.Len(ctx); l != 80 {
		t.Fatalf("expected 80 queued, got %d", l)
	}
	_ = p.Close()

	seen := map[string][]string{}
	for i := 0; i < p.Partitions(); i++ {
		for it := range p.Partition(i).Dequeue(ctx) {
			if p.PartitionFor(it.GroupID) != i {
				t.Errorf("group %s read from partition %d", it.GroupID, i)
			}
			seen[it.GroupID] = append(seen[it.GroupID], it.Event.ID)
		}
	}
	for _, g := range groups {
		ids := seen[g]
		if len(ids) != 20 {
			t.Fatalf("group %s: expected 20 items, got %d", g, len(ids))
		}
		for i, id := range ids {
			if want := fmt.Sprintf("%s-%02d", g, i); id != want {
				t.Errorf("group %s out of order at %d: got %s want %s", g, i, id, want)
			}
		}
	}
}

func TestPartitioned_DropsWhenFull(t *testing.T) {
	p := NewPartitioned(WithPartitions(1), WithCapacity(1))
	ctx := context.Background()

	if !p.Publish(ctx, item("g", "e1")) {
		t.Fatal("first publish should fit")
	}
	start := time.Now()
	if p.Publish(ctx, item("g", "e2")) {
		t.Error("second publish should be dropped")
	}
	if time.Since(start) > time.Second {
		t.Error("publish to a full queue must not block")
	}
}
