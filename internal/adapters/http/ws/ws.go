// Package ws serves the live push channel. A client joins one or more group
// channels and then receives that group's notifications as JSON text frames.
// There is no backfill: a client that joins or reconnects re-fetches state
// over HTTP.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/net/websocket"

	"github.com/okian/bet/internal/adapters/pubsub"
	"github.com/okian/bet/internal/domain/notify"
	"github.com/okian/bet/pkg/logger"
	"github.com/okian/bet/pkg/metrics"
)

const (
	frameJoin   = "join_group"
	frameLeave  = "leave_group"
	frameJoined = "joined"
	frameLeft   = "left"
	frameError  = "error"

	defaultSendBuffer      = 64
	maxDecodeErrorsPerConn = 5
	maxGroupsPerConn       = 32
)

// Subscriber opens a group's message stream.
type Subscriber interface {
	Subscribe(ctx context.Context, groupID string) (<-chan *message.Message, error)
}

// clientFrame is what clients send.
type clientFrame struct {
	Type    string `json:"type"`
	GroupID string `json:"groupId"`
}

// controlFrame is what the server sends besides notifications.
type controlFrame struct {
	Type    string `json:"type"`
	GroupID string `json:"groupId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type outbound struct {
	kind    notify.Kind
	payload []byte
}

// Handler upgrades GET requests to WebSocket connections.
type Handler struct {
	bus        Subscriber
	log        logger.Logger
	sendBuffer int
	ws         websocket.Server
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithSendBuffer sets how many frames may wait for a slow client before
// new ones are dropped.
func WithSendBuffer(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// NewHandler returns the push channel handler.
func NewHandler(bus Subscriber, opts ...Option) *Handler {
	h := &Handler{bus: bus, log: logger.Nop(), sendBuffer: defaultSendBuffer}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Named("ws")
	h.ws = websocket.Server{
		// Any origin may connect; the channel carries no private data.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   h.serve,
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.ws.ServeHTTP(w, r)
}

// peer serializes writes to one connection.
type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peer) send(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return websocket.Message.Send(p.conn, string(b))
}

func (p *peer) control(f controlFrame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return p.send(b)
}

// session is one connection's joined groups.
type session struct {
	h    *Handler
	ctx  context.Context
	peer *peer
	out  chan outbound

	mu     sync.Mutex
	groups map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func (h *Handler) serve(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(conn.Request().Context())
	s := &session{
		h:      h,
		ctx:    ctx,
		peer:   &peer{conn: conn},
		out:    make(chan outbound, h.sendBuffer),
		groups: make(map[string]context.CancelFunc),
	}
	defer func() {
		cancel()
		s.wg.Wait()
		_ = conn.Close()
	}()
	go s.writeLoop()

	decodeErrors := 0
	for {
		// One websocket message is one frame, so a malformed frame never
		// poisons the ones after it.
		var raw []byte
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				h.log.Debug(ctx, "websocket read failed", logger.Error(err))
			}
			return
		}
		var f clientFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			decodeErrors++
			_ = s.peer.control(controlFrame{Type: frameError, Error: "invalid frame"})
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		groupID := strings.TrimSpace(f.GroupID)
		switch {
		case groupID == "" && (f.Type == frameJoin || f.Type == frameLeave):
			_ = s.peer.control(controlFrame{Type: frameError, Error: "missing groupId"})
		case f.Type == frameJoin:
			s.join(groupID)
		case f.Type == frameLeave:
			s.leave(groupID)
			_ = s.peer.control(controlFrame{Type: frameLeft, GroupID: groupID})
		default:
			_ = s.peer.control(controlFrame{Type: frameError, Error: "unsupported frame type"})
		}
	}
}

func (s *session) join(groupID string) {
	s.mu.Lock()
	if _, ok := s.groups[groupID]; ok {
		s.mu.Unlock()
		_ = s.peer.control(controlFrame{Type: frameJoined, GroupID: groupID})
		return
	}
	if len(s.groups) >= maxGroupsPerConn {
		s.mu.Unlock()
		_ = s.peer.control(controlFrame{Type: frameError, GroupID: groupID, Error: "too many groups"})
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	msgs, err := s.h.bus.Subscribe(ctx, groupID)
	if err != nil {
		s.mu.Unlock()
		cancel()
		s.h.log.Error(s.ctx, "subscribe failed", logger.String("group_id", groupID), logger.Error(err))
		_ = s.peer.control(controlFrame{Type: frameError, GroupID: groupID, Error: "subscribe failed"})
		return
	}
	s.groups[groupID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.AddWSSubscribers(1)
	go s.relay(ctx, groupID, msgs)
	_ = s.peer.control(controlFrame{Type: frameJoined, GroupID: groupID})
}

func (s *session) leave(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.groups[groupID]; ok {
		cancel()
		delete(s.groups, groupID)
	}
}

// relay acks every message at once so a slow client never holds up the bus,
// then queues it for the writer or drops it when the client is behind.
func (s *session) relay(ctx context.Context, groupID string, msgs <-chan *message.Message) {
	defer func() {
		metrics.AddWSSubscribers(-1)
		s.wg.Done()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			msg.Ack()
			select {
			case s.out <- outbound{kind: pubsub.Kind(msg), payload: msg.Payload}:
			default:
				metrics.RecordNotificationDropped("slow_client")
				s.h.log.Debug(ctx, "client behind, frame dropped", logger.String("group_id", groupID))
			}
		}
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case o := <-s.out:
			if err := s.peer.send(o.payload); err != nil {
				return
			}
			metrics.RecordNotificationDelivered(string(o.kind))
		}
	}
}
