package viewer

import (
	"errors"
	"time"

	"github.com/mcdev12/cuecast/go/internal/models"
)

var (
	ErrUnknownScreen = errors.New("unknown screen")
	ErrUnknownMode   = errors.New("unknown game mode")
	ErrAgeRequired   = errors.New("an age preset is required before pregame")
	ErrModeRequired  = errors.New("a game mode is required before starting")
)

// Screen is the viewer's current display. Only ScreenLive attributes taps.
type Screen string

const (
	ScreenSetup   Screen = "setup"
	ScreenPregame Screen = "pregame"
	ScreenLive    Screen = "live"
	ScreenNowWhat Screen = "nowwhat"
	ScreenTrouble Screen = "trouble"
	ScreenPost    Screen = "post"
)

func (s Screen) Valid() bool {
	switch s {
	case ScreenSetup, ScreenPregame, ScreenLive, ScreenNowWhat, ScreenTrouble, ScreenPost:
		return true
	}
	return false
}

// GameMode is the cheering style picked before a game.
type GameMode string

const (
	ModeFamily   GameMode = "family"
	ModeCalm     GameMode = "calm"
	ModeStandard GameMode = "standard"
	ModeExcite   GameMode = "excite"
)

func (m GameMode) Valid() bool {
	switch m {
	case ModeFamily, ModeCalm, ModeStandard, ModeExcite:
		return true
	}
	return false
}

const (
	MinIntensityLimit = 1
	MaxIntensityLimit = 5

	defaultGameID = "today-1"
)

// State is everything about a viewer session that survives a restart.
type State struct {
	Screen         Screen        `yaml:"screen"`
	Room           string        `yaml:"room"`
	Age            int           `yaml:"age,omitempty"`
	IntensityLimit int           `yaml:"intensity_limit"`
	GameID         string        `yaml:"game_id"`
	Mode           GameMode      `yaml:"mode,omitempty"`
	Paused         bool          `yaml:"paused"`
	Muted          bool          `yaml:"muted"`
	HitCount       int           `yaml:"hit_count"`
	CueKey         models.CueKey `yaml:"cue_key"`
	CueCount       int           `yaml:"cue_count"`
	LastCueAt      time.Time     `yaml:"last_cue_at,omitempty"`
	LastSeq        int64         `yaml:"last_seq"`
	MissionParent  string        `yaml:"mission_parent,omitempty"`
	MissionChild   string        `yaml:"mission_child,omitempty"`
}

// DefaultState is a fresh session in the default room.
func DefaultState() State {
	return State{
		Screen:         ScreenSetup,
		Room:           models.DefaultRoom,
		IntensityLimit: MaxIntensityLimit,
		GameID:         defaultGameID,
		CueKey:         models.CueKeyStop,
	}
}

// normalize repairs values a hand-edited or older session file may carry.
func (s State) normalize() State {
	d := DefaultState()
	if !s.Screen.Valid() {
		s.Screen = d.Screen
	}
	if s.Room == "" {
		s.Room = d.Room
	}
	s.IntensityLimit = clamp(s.IntensityLimit, MinIntensityLimit, MaxIntensityLimit)
	if s.GameID == "" {
		s.GameID = d.GameID
	}
	if s.Mode != "" && !s.Mode.Valid() {
		s.Mode = ""
	}
	if !s.CueKey.Valid() {
		s.CueKey = models.CueKeyStop
	}
	if s.LastSeq < 0 {
		s.LastSeq = 0
	}
	return s
}

var (
	parentMissions = []string{
		"Explain each cue to your child in one sentence",
		"Tap together when a chance comes",
		"Keep a calm voice through a pinch",
	}
	childMissions = []string{
		"Tap three times on a chance cue",
		"Stay quiet and watch on a pinch cue",
		"Take a drink when the cue stops",
	}
)

// SyncHealth reflects the outcome of the most recent poll.
type SyncHealth string

const (
	SyncUnknown  SyncHealth = "unknown"
	SyncOK       SyncHealth = "ok"
	SyncDegraded SyncHealth = "degraded"
)

// Summary is shown when a game is finished.
type Summary struct {
	Hits    int
	Cues    int
	Mode    GameMode
	GameID  string
	Message string
}

func summaryMessage(hits int) string {
	switch {
	case hits >= 60:
		return "Your energy came through today."
	case hits >= 30:
		return "Amazing. Your cheering took shape."
	default:
		return "Carry today's effort into the next game."
	}
}

// Display is the live readout of the tap meter.
type Display struct {
	Hits      int
	PerMinute int
	Tier      int
	Surging   bool
	CueKey    models.CueKey
	Connected bool
	Health    SyncHealth
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
