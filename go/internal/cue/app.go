package cue

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/cuecast/go/internal/models"
	"github.com/rs/zerolog/log"
)

// EventPublisher fans a changed record out to push subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event models.CueEvent) error
}

// Repository persists the current record of each room.
type Repository interface {
	SaveRecord(ctx context.Context, room string, rec models.CueRecord) error
	LoadRecords(ctx context.Context) (map[string]models.CueRecord, error)
}

// MetricsCollector records cue traffic.
type MetricsCollector interface {
	RecordWrite(cueKey models.CueKey)
	RecordPoll(changed bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordWrite(models.CueKey) {}
func (noopMetrics) RecordPoll(bool)           {}

// App is the operator-side cue service. The store is authoritative; the
// publisher and repository are best-effort followers.
type App struct {
	store     *Store
	publisher EventPublisher
	repo      Repository
	metrics   MetricsCollector
}

// Option configures an App.
type Option func(*App)

// WithPublisher attaches a change publisher.
func WithPublisher(p EventPublisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithRepository attaches snapshot persistence.
func WithRepository(r Repository) Option {
	return func(a *App) { a.repo = r }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(a *App) { a.metrics = m }
}

// NewApp creates a new cue app on top of store
func NewApp(store *Store, opts ...Option) *App {
	a := &App{
		store:   store,
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NormalizeRoom trims the room id and falls back to the default room.
func NormalizeRoom(room string) string {
	room = strings.TrimSpace(room)
	if room == "" {
		return models.DefaultRoom
	}
	return room
}

// Read returns the current record of room.
func (a *App) Read(room string) models.CueRecord {
	return a.store.Read(NormalizeRoom(room))
}

// Poll returns nil when since matches the room's seq, otherwise the current record.
func (a *App) Poll(ctx context.Context, room string, since int64) *models.CueRecord {
	rec := a.store.Read(NormalizeRoom(room))
	if rec.Seq == since {
		a.metrics.RecordPoll(false)
		return nil
	}
	a.metrics.RecordPoll(true)
	return &rec
}

// Write advances room to cueKey. An empty key means stop.
func (a *App) Write(ctx context.Context, room string, cueKey models.CueKey) (models.CueRecord, error) {
	room = NormalizeRoom(room)
	if cueKey == "" {
		cueKey = models.CueKeyStop
	}
	if !cueKey.Valid() {
		return models.CueRecord{}, fmt.Errorf("%w: %q", ErrUnknownCueKey, cueKey)
	}

	rec := a.store.Write(room, cueKey)
	a.metrics.RecordWrite(cueKey)

	log.Info().
		Str("room", room).
		Int64("seq", rec.Seq).
		Str("cue_key", string(rec.CueKey)).
		Msg("cue written")

	if a.repo != nil {
		if err := a.repo.SaveRecord(ctx, room, rec); err != nil {
			log.Error().Err(err).Str("room", room).Int64("seq", rec.Seq).Msg("failed to persist cue record")
		}
	}

	if a.publisher != nil {
		event := models.CueEvent{
			ID:     uuid.New().String(),
			Room:   room,
			Record: rec,
		}
		if err := a.publisher.Publish(ctx, event); err != nil {
			log.Warn().Err(err).Str("room", room).Int64("seq", rec.Seq).Msg("failed to publish cue event")
		}
	}

	return rec, nil
}

// Restore seeds the store from the repository. Restored records never lower a room's seq.
func (a *App) Restore(ctx context.Context) (int, error) {
	if a.repo == nil {
		return 0, nil
	}

	records, err := a.repo.LoadRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("load cue records: %w", err)
	}

	restored := 0
	for room, rec := range records {
		if a.store.Seed(room, rec) {
			restored++
		}
	}

	log.Info().Int("rooms", restored).Msg("restored cue records")
	return restored, nil
}
