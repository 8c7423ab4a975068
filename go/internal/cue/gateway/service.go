package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mcdev12/cuecast/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Service is the cue push gateway: WebSocket fan-out fed either directly by the
// cue app or by a JetStream consumer.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
}

// Config holds configuration for the cue gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConfig
	// UseJetStream enables the consumer; otherwise the service must be used as
	// the app's in-process publisher.
	UseJetStream bool
}

// DefaultConfig returns default configuration for the cue gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConfig(),
	}
}

// NewService creates a new cue gateway service
func NewService(config Config, reader CueReader, metrics ConnectionMetrics) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig, reader, metrics)

	s := &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
	}

	if config.UseJetStream {
		eventConsumer, err := NewEventConsumer(connectionManager, config.JetStreamConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create event consumer: %w", err)
		}
		s.eventConsumer = eventConsumer
	}

	return s, nil
}

// Start runs the gateway until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("jetstream", s.eventConsumer != nil).Msg("starting cue gateway service")

	go s.connectionManager.Start(ctx)

	if s.eventConsumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("cue gateway service shutting down")
	return s.Stop()
}

// Stop shuts down the event consumer; connections close with the manager's context
func (s *Service) Stop() error {
	if s.eventConsumer != nil {
		if err := s.eventConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop event consumer")
		}
	}
	return nil
}

// Publish broadcasts event to local connections
func (s *Service) Publish(ctx context.Context, event models.CueEvent) error {
	return s.connectionManager.Publish(ctx, event)
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
}
