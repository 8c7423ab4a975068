package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(cfg Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: cfg.CORSOrigins,
		AllowedHeaders: []string{"*"},
	})

	// Cue polling contract
	services.Handler.RegisterRoutes(mux)

	// Push hints
	services.Gateway.RegisterRoutes(mux)

	mux.Handle("/metrics", promhttp.HandlerFor(services.Registry, promhttp.HandlerOpts{}))
	setupHealthCheck(mux, services)

	// Wrap with CORS
	handler := c.Handler(mux)

	return &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func setupHealthCheck(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"status": "ok",
			"rooms":  len(services.Store.Rooms()),
		}
		if services.Publisher != nil {
			status["nats"] = services.Publisher.Connected()
		}
		if services.Repo != nil {
			status["database"] = true
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
