package models

import (
	"time"
)

// RoundState describes where a round is in its lifecycle.
type RoundState string

const (
	RoundStateCountdown RoundState = "COUNTDOWN"
	RoundStateActive    RoundState = "ACTIVE"
)

// Round is the single authoritative "reveal a phrase, race to type it"
// instance. The phrase is immutable for the life of the round. There is no
// terminal state; a new Round replaces the old one forever while the process
// runs.
type Round struct {
	Phrase   string    `json:"phrase"`
	RevealAt time.Time `json:"revealAt"`
}

// State derives the lifecycle state from the reveal deadline. The deadline
// broadcast to clients is the single source of truth; no timer callback
// flips the state.
func (r *Round) State(now time.Time) RoundState {
	if now.Before(r.RevealAt) {
		return RoundStateCountdown
	}
	return RoundStateActive
}

// Active reports whether the phrase has been revealed.
func (r *Round) Active(now time.Time) bool {
	return r.State(now) == RoundStateActive
}
