package cue

import "errors"

// ErrUnknownCueKey is returned when a write names a cue outside the known set.
var ErrUnknownCueKey = errors.New("unknown cue key")
