package cue

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cuecast/go/internal/models"
)

// roomSlot holds one room's current record. Writers serialize on mu;
// readers load the pointer and never wait for a writer.
type roomSlot struct {
	mu  sync.Mutex
	cur atomic.Pointer[models.CueRecord]
}

// Store is the in-memory source of truth for the current cue of every room.
type Store struct {
	clock clockwork.Clock

	mu    sync.RWMutex
	rooms map[string]*roomSlot
}

// NewStore creates an empty store. A nil clock uses the real clock.
func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock: clock,
		rooms: make(map[string]*roomSlot),
	}
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}

// slot returns the room's slot, creating it with the initial record on first access.
func (s *Store) slot(room string) *roomSlot {
	s.mu.RLock()
	sl, ok := s.rooms[room]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.rooms[room]; ok {
		return sl
	}
	sl = &roomSlot{}
	initial := models.InitialCueRecord(s.now())
	sl.cur.Store(&initial)
	s.rooms[room] = sl
	return sl
}

// Read returns the room's current record, initializing unseen rooms.
func (s *Store) Read(room string) models.CueRecord {
	return *s.slot(room).cur.Load()
}

// Write replaces the room's record with one whose seq is exactly one higher.
func (s *Store) Write(room string, key models.CueKey) models.CueRecord {
	sl := s.slot(room)

	sl.mu.Lock()
	defer sl.mu.Unlock()

	next := sl.cur.Load().Next(key, s.now())
	sl.cur.Store(&next)
	return next
}

// Seed installs a restored record if it is ahead of what the room holds.
// It reports whether the record was applied.
func (s *Store) Seed(room string, rec models.CueRecord) bool {
	sl := s.slot(room)

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if rec.Seq <= sl.cur.Load().Seq {
		return false
	}
	sl.cur.Store(&rec)
	return true
}

// Rooms lists every room the store has seen, sorted.
func (s *Store) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}
