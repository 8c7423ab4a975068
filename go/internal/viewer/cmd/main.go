package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cuecast/go/clients"
	"github.com/mcdev12/cuecast/go/internal/device"
	"github.com/mcdev12/cuecast/go/internal/metrics"
	"github.com/mcdev12/cuecast/go/internal/viewer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const saveInterval = 5 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg := loadConfig()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	viewerMetrics := metrics.NewViewerMetrics(registry)
	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, registry)
	}

	sessions := viewer.NewSessionStore(cfg.StateFile)
	state, err := sessions.Load()
	if err != nil {
		log.Warn().Err(err).Str("file", cfg.StateFile).Msg("could not load session, starting fresh")
	}
	if cfg.Room != "" {
		state.Room = cfg.Room
	}

	clock := clockwork.NewRealClock()
	peripheral := device.NewSimPeripheral(device.DefaultDeviceName)
	link := device.NewLink(device.NewSimHost(peripheral), device.DefaultConfig(), clock, viewerMetrics)
	channel := clients.NewCueClient(cfg.ServerURL, cfg.PollTimeout)

	controller := viewer.NewController(channel, link, clock, viewerMetrics, viewer.Config{
		PollInterval: cfg.PollInterval,
	}, state)

	if _, err := controller.ConnectDevice(ctx); err != nil {
		log.Error().Err(err).Msg("device not connected, cues will not reach the peripheral")
	}

	// The simulated peripheral has no user; a fresh session skips straight to a game.
	if controller.Snapshot().Screen != viewer.ScreenLive {
		controller.SetAge(10)
		if err := controller.SetMode(viewer.ModeStandard); err == nil {
			if err := controller.StartGame(); err != nil {
				log.Warn().Err(err).Msg("could not start game")
			}
		}
	}

	if cfg.SimTapInterval > 0 {
		go simulateTaps(ctx, clock, peripheral, cfg.SimTapInterval)
	}
	go reportDisplay(ctx, clock, controller, sessions)

	snapshot := controller.Snapshot()
	log.Info().
		Str("server", cfg.ServerURL).
		Str("room", snapshot.Room).
		Str("parent_mission", snapshot.MissionParent).
		Str("child_mission", snapshot.MissionChild).
		Str("state_file", cfg.StateFile).
		Msg("viewer starting")

	if err := controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("controller stopped")
	}

	controller.DisconnectDevice()

	summary := controller.FinishGame()
	log.Info().
		Int("hits", summary.Hits).
		Int("cues", summary.Cues).
		Str("message", summary.Message).
		Msg("game finished")

	if err := sessions.Save(controller.Snapshot()); err != nil {
		log.Error().Err(err).Msg("failed to save session")
	}
}

func simulateTaps(ctx context.Context, clock clockwork.Clock, p *device.SimPeripheral, interval time.Duration) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !p.Tap([]byte{1}) {
				log.Debug().Msg("simulated tap not delivered")
			}
		}
	}
}

// reportDisplay logs the tap meter and saves the session periodically.
func reportDisplay(ctx context.Context, clock clockwork.Clock, c *viewer.Controller, sessions *viewer.SessionStore) {
	ticker := clock.NewTicker(saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			d := c.Display(clock.Now())
			log.Info().
				Int("hits", d.Hits).
				Int("per_minute", d.PerMinute).
				Int("tier", d.Tier).
				Bool("surging", d.Surging).
				Str("cue", string(d.CueKey)).
				Bool("connected", d.Connected).
				Str("sync", string(d.Health)).
				Msg("viewer status")

			if err := sessions.Save(c.Snapshot()); err != nil {
				log.Warn().Err(err).Msg("failed to save session")
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	log.Info().Str("addr", addr).Msg("viewer metrics listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics server failed")
	}
}
