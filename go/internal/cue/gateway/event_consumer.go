package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/cuecast/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// EventConsumer consumes cue events from JetStream and broadcasts them to WebSocket clients
type EventConsumer struct {
	connectionManager *ConnectionManager
	nc                *nats.Conn
	js                jetstream.JetStream
	config            JetStreamConfig
}

// NewEventConsumer creates a new JetStream event consumer
func NewEventConsumer(cm *ConnectionManager, config JetStreamConfig) (*EventConsumer, error) {
	nc, js, err := connectNATS(config)
	if err != nil {
		return nil, err
	}

	return &EventConsumer{
		connectionManager: cm,
		nc:                nc,
		js:                js,
		config:            config,
	}, nil
}

// Start consumes new events until ctx is cancelled. Each replica gets its own
// ordered consumer since every replica must see every event.
func (ec *EventConsumer) Start(ctx context.Context) error {
	consumer, err := ec.js.OrderedConsumer(ctx, ec.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ec.config.SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create ordered consumer: %w", err)
	}

	log.Info().
		Str("stream", ec.config.StreamName).
		Msg("starting JetStream event consumer")

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := ec.processMessage(msg.Data()); err != nil {
			log.Error().
				Err(err).
				Str("subject", msg.Subject()).
				Msg("failed to process message")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	log.Info().Msg("event consumer shutting down")
	return nil
}

func (ec *EventConsumer) processMessage(data []byte) error {
	var event models.CueEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("unmarshal cue event: %w", err)
	}
	if event.Room == "" {
		return fmt.Errorf("cue event %s has no room", event.ID)
	}

	ec.connectionManager.BroadcastToRoom(event.Room, event.Record)
	return nil
}

// Stop closes the NATS connection
func (ec *EventConsumer) Stop() error {
	log.Info().Msg("stopping event consumer")
	if ec.nc != nil {
		ec.nc.Close()
	}
	return nil
}
