package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/cuecast/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConfig holds the stream settings shared by the publisher and the consumer
type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
	// Only the latest record of a room matters to a viewer
	MaxMsgsPerSubject int64
}

// DefaultJetStreamConfig returns default JetStream configuration
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:               nats.DefaultURL,
		StreamName:        "CUE_EVENTS",
		SubjectPrefix:     "cue.events",
		MaxReconnects:     -1, // Infinite
		ReconnectWait:     2 * time.Second,
		MaxAge:            24 * time.Hour,
		MaxMsgsPerSubject: 1,
	}
}

// Subject returns the subject a room's events are published on
func (c JetStreamConfig) Subject(room string) string {
	return fmt.Sprintf("%s.%s", c.SubjectPrefix, subjectToken(room))
}

// subjectToken maps a free-form room id onto a single NATS subject token.
func subjectToken(room string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, room)
}

func connectNATS(cfg JetStreamConfig) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return nc, js, nil
}

// JetStreamPublisher publishes cue events so every gateway replica can fan them out
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

// NewJetStreamPublisher connects to NATS and ensures the cue stream exists
func NewJetStreamPublisher(ctx context.Context, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	nc, js, err := connectNATS(cfg)
	if err != nil {
		return nil, err
	}

	p := &JetStreamPublisher{nc: nc, js: js, config: cfg}
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return p, nil
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:              p.config.StreamName,
		Description:       "Latest cue record per room",
		Subjects:          []string{p.config.SubjectPrefix + ".>"},
		Retention:         jetstream.LimitsPolicy,
		MaxAge:            p.config.MaxAge,
		MaxMsgsPerSubject: p.config.MaxMsgsPerSubject,
		Storage:           jetstream.MemoryStorage,
		Replicas:          1,
	}

	if _, err := p.js.CreateOrUpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("create or update stream: %w", err)
	}
	log.Info().Str("stream", p.config.StreamName).Msg("JetStream stream ready")
	return nil
}

// Publish sends event on the room's subject
func (p *JetStreamPublisher) Publish(ctx context.Context, event models.CueEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := p.config.Subject(event.Room)
	_, err = p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Room":     []string{event.Room},
			"Event-ID": []string{event.ID},
		},
	},
		jetstream.WithMsgID(event.ID),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", event.ID).
		Int64("seq", event.Record.Seq).
		Msg("cue event published")
	return nil
}

// Connected reports whether the NATS connection is up
func (p *JetStreamPublisher) Connected() bool {
	return p.nc.IsConnected()
}

// Close drains the NATS connection
func (p *JetStreamPublisher) Close() error {
	return p.nc.Drain()
}
