package game

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/typeswift/typeswift/internal/models"
)

// Event is the envelope for every coordinator-to-client message.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventType identifies an outbound event.
type EventType string

const (
	EventTypeInitialState  EventType = "initialState"
	EventTypeRosterJoined  EventType = "rosterJoined"
	EventTypeRosterLeft    EventType = "rosterLeft"
	EventTypeRosterUpdated EventType = "rosterUpdated"
	EventTypeProgressDelta EventType = "progressDelta"
	EventTypeSpeedUpdate   EventType = "speedUpdate"
	EventTypeRoundStarted  EventType = "roundStarted"
	EventTypeInteraction   EventType = "interaction"
	EventTypeIdleNotice    EventType = "idleNotice"
)

// InitialStatePayload is unicast to a connection right after it joins. The
// phrase is withheld while the round is still counting down; RevealAt lets a
// late joiner render the same countdown everyone else sees.
type InitialStatePayload struct {
	Phrase   string               `json:"phrase,omitempty"`
	RevealAt time.Time            `json:"revealAt"`
	Self     models.Participant   `json:"self"`
	Roster   []models.Participant `json:"roster"`
}

// RosterJoinedPayload announces a new participant to every connection.
type RosterJoinedPayload struct {
	Participant models.Participant `json:"participant"`
}

// RosterLeftPayload announces a departure, voluntary or evicted.
type RosterLeftPayload struct {
	ConnectionID string `json:"connectionId"`
}

// RosterUpdatedPayload carries a profile change.
type RosterUpdatedPayload struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
	Emoji        string `json:"emoji"`
}

// ProgressDeltaPayload carries one participant's typing progress.
type ProgressDeltaPayload struct {
	ConnectionID string `json:"connectionId"`
	Progress     int    `json:"progress"`
	Position     int    `json:"position"`
}

// SpeedUpdatePayload carries the speed figures published when a participant
// finishes the phrase.
type SpeedUpdatePayload struct {
	ConnectionID string `json:"connectionId"`
	WPM          int    `json:"wpm"`
	BestWPM      int    `json:"bestWpm"`
	LatestWPM    int    `json:"latestWpm"`
}

// RoundStartedPayload carries the new phrase, the reset roster, and the
// authoritative reveal instant.
type RoundStartedPayload struct {
	Phrase   string               `json:"phrase"`
	RevealAt time.Time            `json:"revealAt"`
	Roster   []models.Participant `json:"roster"`
}

// InteractionPayload relays a fireworks trigger between two participants.
type InteractionPayload struct {
	SourceConnectionID string `json:"sourceConnectionId"`
	TargetConnectionID string `json:"targetConnectionId"`
}

// NewEvent wraps a payload in the outbound envelope stamped at ts. The
// coordinator passes its injected clock's time so envelope timestamps stay
// consistent with every other time read in the authority.
func NewEvent(ts time.Time, t EventType, payload any) *Event {
	evt := &Event{Type: t, Timestamp: ts}
	if payload == nil {
		return evt
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are plain structs; this only fires on a programming error.
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to marshal event payload")
		return evt
	}
	evt.Data = data
	return evt
}

// DecodePayload unmarshals the envelope data into the given payload struct.
func (e *Event) DecodePayload(into any) error {
	return json.Unmarshal(e.Data, into)
}
