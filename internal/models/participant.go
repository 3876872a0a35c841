package models

import (
	"time"
)

// MaxNameLength is the longest display name a participant may carry.
const MaxNameLength = 15

// Participant is the in-memory race record for one live connection. It is a
// volatile projection of the durable profile plus session-local race state;
// it never outlives the connection.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	ClientID     string `json:"clientId"`
	Name         string `json:"name"`
	Emoji        string `json:"emoji"`

	Progress       int  `json:"progress"`
	CursorPosition int  `json:"position"`
	CurrentSpeed   int  `json:"wpm"`
	BestSpeed      int  `json:"bestWpm"`
	LatestSpeed    int  `json:"latestWpm"`
	HasFinished    bool `json:"hasFinished"`

	LastActivityAt time.Time `json:"-"`
}

// ResetForRound clears the per-round race state. Profile fields and speed
// history survive the reset.
func (p *Participant) ResetForRound() {
	p.Progress = 0
	p.CursorPosition = 0
	p.HasFinished = false
}

// TruncateName enforces the display-name length limit, counting runes so a
// multi-byte name is not cut mid-character.
func TruncateName(name string) string {
	runes := []rune(name)
	if len(runes) > MaxNameLength {
		return string(runes[:MaxNameLength])
	}
	return name
}
