// Package relay consumes gateway events from Kafka and feeds them onto the
// in-process event bus. It is the boundary between the platform gateway
// (which runs elsewhere and owns the websocket) and the reconcile engine.
package relay

import (
	"context"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/chanscribe/chanscribe/internal/bus"
)

// Relay reads event envelopes from a Kafka topic and publishes the decoded
// events to the bus.
type Relay struct {
	reader *kafka.Reader
	bus    *bus.EventBus
}

// New creates a Relay consuming topic from the given comma-separated broker
// list as part of consumerGroup.
func New(brokers, consumerGroup, topic string, b *bus.EventBus) *Relay {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(brokers, ","),
		Topic:    topic,
		GroupID:  consumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Relay{reader: reader, bus: b}
}

// Run consumes until ctx is cancelled. Malformed envelopes are logged and
// skipped; a poison message must not wedge the topic.
func (r *Relay) Run(ctx context.Context) error {
	for {
		msg, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("relay: read error", "error", err)
			continue
		}
		evt, err := Decode(msg.Value)
		if err != nil {
			slog.Error("relay: dropping undecodable event", "offset", msg.Offset, "error", err)
			continue
		}
		r.bus.Publish(evt)
	}
}

// Close releases the Kafka reader.
func (r *Relay) Close() error {
	return r.reader.Close()
}
