package models

import (
	"time"
)

// CueKey identifies the game-state signal broadcast to viewers.
type CueKey string

const (
	CueKeyNormal CueKey = "normal"
	CueKeyChance CueKey = "chance"
	CueKeyPinch  CueKey = "pinch"
	CueKeyStop   CueKey = "stop"
)

// DefaultRoom is used when a request does not name a room.
const DefaultRoom = "demo"

// Valid reports whether k is one of the known cue keys.
func (k CueKey) Valid() bool {
	switch k {
	case CueKeyNormal, CueKeyChance, CueKeyPinch, CueKeyStop:
		return true
	}
	return false
}

// CueRecord is the current cue of a room. Records are replaced, never mutated.
type CueRecord struct {
	Seq    int64     `json:"seq"`
	CueKey CueKey    `json:"cueKey"`
	At     time.Time `json:"at"`
}

// Next builds the record that follows r.
func (r CueRecord) Next(key CueKey, at time.Time) CueRecord {
	return CueRecord{
		Seq:    r.Seq + 1,
		CueKey: key,
		At:     at,
	}
}

// InitialCueRecord is the lazily created record of an unseen room.
func InitialCueRecord(at time.Time) CueRecord {
	return CueRecord{
		Seq:    1,
		CueKey: CueKeyStop,
		At:     at,
	}
}

// CueEvent is published whenever a room's record changes.
type CueEvent struct {
	ID     string    `json:"id"`
	Room   string    `json:"room"`
	Record CueRecord `json:"record"`
}
