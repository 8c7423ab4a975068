package device

import "github.com/mcdev12/cuecast/go/internal/models"

// Pattern ids written to the pattern characteristic.
const (
	PatternStop   byte = 0
	PatternChance byte = 1
	PatternPinch  byte = 2
)

// PatternFor maps a cue to the pattern the peripheral plays. Normal shares
// the stop baseline; unknown cues fall back to stop.
func PatternFor(key models.CueKey) byte {
	switch key {
	case models.CueKeyChance:
		return PatternChance
	case models.CueKeyPinch:
		return PatternPinch
	default:
		return PatternStop
	}
}

// Command is the first byte of an operator command frame.
type Command byte

const (
	CommandNormal    Command = 0
	CommandChance    Command = 1
	CommandPinch     Command = 2
	CommandIntensity Command = 10
	CommandStop      Command = 99
)

// CommandFor maps a cue to its operator command.
func CommandFor(key models.CueKey) Command {
	switch key {
	case models.CueKeyChance:
		return CommandChance
	case models.CueKeyPinch:
		return CommandPinch
	case models.CueKeyStop:
		return CommandStop
	default:
		return CommandNormal
	}
}

// EncodeCommand builds the two-byte frame [cmd, intensity], intensity
// clamped to 0..100.
func EncodeCommand(cmd Command, intensity int) []byte {
	if intensity < 0 {
		intensity = 0
	}
	if intensity > 100 {
		intensity = 100
	}
	return []byte{byte(cmd), byte(intensity)}
}

// CountsAsTap reports whether a tap notification payload is a tap. Only a
// payload whose first byte is present and zero is not.
func CountsAsTap(payload []byte) bool {
	return len(payload) == 0 || payload[0] != 0
}
