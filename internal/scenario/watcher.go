package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/okian/bet/internal/domain/model"
	"github.com/okian/bet/pkg/logger"
)

const joinTimeout = 5 * time.Second

// Frame is one message received over /ws. Payload holds an event for
// event_added and veto_update, and a leaderboard for leaderboard_update.
type Frame struct {
	Type    string          `json:"type"`
	GroupID string          `json:"groupId"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event decodes the payload of an event frame.
func (f Frame) Event() (model.Event, error) {
	var ev model.Event
	if len(f.Payload) == 0 {
		return ev, errors.New("frame has no payload")
	}
	err := json.Unmarshal(f.Payload, &ev)
	return ev, err
}

// Leaderboard decodes the payload of a leaderboard_update frame.
func (f Frame) Leaderboard() (model.Leaderboard, error) {
	var lb model.Leaderboard
	if len(f.Payload) == 0 {
		return lb, errors.New("frame has no payload")
	}
	err := json.Unmarshal(f.Payload, &lb)
	return lb, err
}

// Watcher records every frame pushed for one group.
type Watcher struct {
	conn *websocket.Conn
	done chan struct{}

	mu     sync.Mutex
	frames []Frame
}

// Watch opens /ws on the service, joins groupID and starts recording.
func Watch(ctx context.Context, baseURL, groupID string) (*Watcher, error) {
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	cfg, err := websocket.NewConfig(wsURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}
	if err := websocket.JSON.Send(conn, map[string]string{"type": "join_group", "groupId": groupID}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to join group: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(joinTimeout))
	var ack Frame
	if err := websocket.JSON.Receive(conn, &ack); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("no join acknowledgement: %w", err)
	}
	if ack.Type != "joined" {
		_ = conn.Close()
		return nil, fmt.Errorf("join rejected: %s %s", ack.Type, ack.Error)
	}
	_ = conn.SetReadDeadline(time.Time{})

	w := &Watcher{conn: conn, done: make(chan struct{})}
	go w.readLoop()
	return w, nil
}

func (w *Watcher) readLoop() {
	defer close(w.done)
	for {
		var f Frame
		if err := websocket.JSON.Receive(w.conn, &f); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Get().Debug(context.Background(), "watcher stopped", logger.Error(err))
			}
			return
		}
		w.mu.Lock()
		w.frames = append(w.frames, f)
		w.mu.Unlock()
	}
}

// Count returns the number of frames seen so far.
func (w *Watcher) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

// Close stops the watcher and returns every recorded frame in arrival order.
func (w *Watcher) Close() []Frame {
	_ = w.conn.Close()
	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Frame(nil), w.frames...)
}
