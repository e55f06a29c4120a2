// Package pubsub carries notifications to live subscribers over per-group
// topics on an in-process watermill channel.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/okian/bet/internal/domain/notify"
	"github.com/okian/bet/pkg/logger"
)

const (
	topicPrefix   = "group."
	metadataKind  = "kind"
	defaultBuffer = 64
)

// Frame is the wire shape subscribers receive.
type Frame struct {
	Type    notify.Kind `json:"type"`
	GroupID string      `json:"groupId"`
	Payload any         `json:"payload"`
}

// Topic returns the topic carrying groupID's notifications.
func Topic(groupID string) string {
	return topicPrefix + groupID
}

// Bus publishes notifications to group topics. Publishing to a topic with no
// subscribers drops the message; nothing is replayed to late joiners.
type Bus struct {
	ch  *gochannel.GoChannel
	log logger.Logger
}

// Option configures a Bus.
type Option func(*busOptions)

type busOptions struct {
	buffer int64
	log    logger.Logger
}

// WithBuffer sets the per-subscriber output buffer.
func WithBuffer(n int) Option {
	return func(o *busOptions) {
		if n > 0 {
			o.buffer = int64(n)
		}
	}
}

// WithLogger sets the bus logger. Watermill's own logs go to the global
// slog handler.
func WithLogger(l logger.Logger) Option {
	return func(o *busOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// NewBus creates a bus.
func NewBus(opts ...Option) *Bus {
	o := busOptions{buffer: defaultBuffer, log: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: o.buffer,
		// Waiting for acks keeps each subscriber's stream in publish order.
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NewSlogLogger(logger.Slog()))
	return &Bus{ch: ch, log: o.log.Named("pubsub")}
}

// Forward implements worker.Forwarder.
func (b *Bus) Forward(_ context.Context, n notify.Notification) error {
	payload, err := json.Marshal(Frame{Type: n.Kind, GroupID: n.GroupID, Payload: n.Payload()})
	if err != nil {
		return fmt.Errorf("encode %s: %w", n.Kind, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataKind, string(n.Kind))
	if err := b.ch.Publish(Topic(n.GroupID), msg); err != nil {
		return fmt.Errorf("publish %s: %w", n.Kind, err)
	}
	return nil
}

// Subscribe returns groupID's messages until ctx is done. Receivers must Ack
// every message.
func (b *Bus) Subscribe(ctx context.Context, groupID string) (<-chan *message.Message, error) {
	msgs, err := b.ch.Subscribe(ctx, Topic(groupID))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", groupID, err)
	}
	b.log.Debug(ctx, "subscribed", logger.String("group_id", groupID))
	return msgs, nil
}

// Kind returns the notification kind carried by msg.
func Kind(msg *message.Message) notify.Kind {
	return notify.Kind(msg.Metadata.Get(metadataKind))
}

// Close stops the bus and closes every subscription.
func (b *Bus) Close() error {
	return b.ch.Close()
}
