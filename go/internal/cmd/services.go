package main

import (
	"context"
	"fmt"

	"github.com/mcdev12/cuecast/go/internal/cue"
	"github.com/mcdev12/cuecast/go/internal/cue/gateway"
	"github.com/mcdev12/cuecast/go/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Store     *cue.Store
	App       *cue.App
	Handler   *cue.Handler
	Gateway   *gateway.Service
	Publisher *gateway.JetStreamPublisher
	Repo      *cue.PostgresRepository
	Registry  *prometheus.Registry
}

func setupServices(ctx context.Context, cfg Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store → App → Handler, with the gateway and snapshots as followers

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	serverMetrics := metrics.NewServerMetrics(registry)

	store := cue.NewStore(nil)

	repo, err := setupRepository(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.JetStreamConfig.StreamName = cfg.StreamName
	if cfg.SendBuffer > 0 {
		gatewayConfig.ConnectionConfig.SendBuffer = cfg.SendBuffer
	}
	if cfg.NATSURL != "" {
		gatewayConfig.JetStreamConfig.URL = cfg.NATSURL
		gatewayConfig.UseJetStream = true
	}

	var publisher *gateway.JetStreamPublisher
	var eventPublisher cue.EventPublisher
	if gatewayConfig.UseJetStream {
		publisher, err = gateway.NewJetStreamPublisher(ctx, gatewayConfig.JetStreamConfig)
		if err != nil {
			closeRepo(repo)
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		eventPublisher = publisher
	}

	gatewayService, err := gateway.NewService(gatewayConfig, store, serverMetrics)
	if err != nil {
		closeRepo(repo)
		if publisher != nil {
			_ = publisher.Close()
		}
		return nil, fmt.Errorf("failed to create gateway service: %w", err)
	}
	if eventPublisher == nil {
		eventPublisher = gatewayService
	}

	opts := []cue.Option{
		cue.WithPublisher(eventPublisher),
		cue.WithMetrics(serverMetrics),
	}
	if repo != nil {
		opts = append(opts, cue.WithRepository(repo))
	}
	app := cue.NewApp(store, opts...)

	if restored, err := app.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to restore cue records, starting empty")
	} else if restored > 0 {
		log.Info().Int("rooms", restored).Strs("known_rooms", store.Rooms()).Msg("cue store restored")
	}

	return &Services{
		Store:     store,
		App:       app,
		Handler:   cue.NewHandler(app),
		Gateway:   gatewayService,
		Publisher: publisher,
		Repo:      repo,
		Registry:  registry,
	}, nil
}

// Close releases external connections.
func (s *Services) Close() {
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close event publisher")
		}
	}
	closeRepo(s.Repo)
}

func closeRepo(repo *cue.PostgresRepository) {
	if repo != nil {
		repo.Close()
	}
}
