// Package game owns the authoritative race state: the participant registry,
// the current round, progress aggregation, and the interaction relay. All
// mutations funnel through one mutex so the registry, the round, and the
// majority-completion test are atomic with respect to each other.
package game

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/typeswift/typeswift/internal/models"
	"github.com/typeswift/typeswift/internal/phrases"
	"github.com/typeswift/typeswift/internal/profile"
	"github.com/typeswift/typeswift/internal/typing"
)

// Broadcaster is the outbound channel to the connected clients. Broadcast and
// Unicast must not block the caller; Disconnect force-closes a connection
// after any already-queued unicasts have been delivered.
type Broadcaster interface {
	Broadcast(evt *Event)
	Unicast(connectionID string, evt *Event)
	Disconnect(connectionID string)
}

// Coordinator is the single authority over the participant map and the
// current round. It is safe for concurrent use; every operation serializes on
// one internal mutex.
type Coordinator struct {
	broadcaster Broadcaster
	store       profile.Store
	source      phrases.Source
	clock       clockwork.Clock

	revealDelay    time.Duration
	idleTimeout    time.Duration
	persistTimeout time.Duration

	mu           sync.Mutex
	participants map[string]*models.Participant
	round        *models.Round
	advancing    bool
}

// Config carries the coordinator timing knobs.
type Config struct {
	RevealDelay time.Duration
	IdleTimeout time.Duration
}

// NewCoordinator wires the coordinator to its collaborators. The clock is
// injectable so time-driven behavior is testable with a fake.
func NewCoordinator(b Broadcaster, store profile.Store, source phrases.Source, clock clockwork.Clock, cfg Config) *Coordinator {
	return &Coordinator{
		broadcaster:    b,
		store:          store,
		source:         source,
		clock:          clock,
		revealDelay:    cfg.RevealDelay,
		idleTimeout:    cfg.IdleTimeout,
		persistTimeout: 5 * time.Second,
		participants:   make(map[string]*models.Participant),
	}
}

var defaultEmojis = []string{
	"😀", "😎", "🚀", "🔥", "⭐", "🌈", "🦄", "🐱", "🐶", "🦊",
	"🦁", "🐯", "🦝", "🐼", "🐨", "🐮", "🐷", "🐸", "🐙", "🦋",
}

func randomEmoji() string {
	return defaultEmojis[rand.Intn(len(defaultEmojis))]
}

func randomName() string {
	return fmt.Sprintf("Player_%d", rand.Intn(1000))
}

// Bootstrap starts the first round. It must be called exactly once before
// connections are accepted; afterwards rounds advance only through the
// majority-completion check.
func (c *Coordinator) Bootstrap(ctx context.Context) {
	c.startRound(ctx)
}

// Join registers a new connection, hydrating the participant from the
// profile store by its durable client id. The initial round+roster snapshot
// goes to the new connection only; everyone else sees a rosterJoined event.
func (c *Coordinator) Join(ctx context.Context, connectionID, clientID string) {
	name := randomName()
	emoji := randomEmoji()

	p := &models.Participant{
		ConnectionID: connectionID,
		ClientID:     clientID,
		Name:         name,
		Emoji:        emoji,
	}

	hydrateCtx, cancel := context.WithTimeout(ctx, c.persistTimeout)
	defer cancel()
	prof, err := c.store.FindOrCreate(hydrateCtx, clientID, name, emoji)
	if err != nil {
		// A degraded store never blocks play; the session just starts from
		// defaults and stats writes are dropped until it recovers.
		log.Error().Err(err).Str("client_id", clientID).Msg("failed to hydrate profile, using defaults")
	} else {
		p.Name = prof.Name
		p.Emoji = prof.Emoji
		p.BestSpeed = prof.BestWPM
		p.LatestSpeed = prof.LatestWPM
	}

	c.mu.Lock()
	p.LastActivityAt = c.clock.Now()
	c.participants[connectionID] = p

	now := c.clock.Now()
	snapshot := InitialStatePayload{
		RevealAt: c.round.RevealAt,
		Self:     *p,
		Roster:   c.rosterLocked(),
	}
	if c.round.Active(now) {
		snapshot.Phrase = c.round.Phrase
	}
	c.broadcaster.Unicast(connectionID, NewEvent(now, EventTypeInitialState, snapshot))
	c.broadcaster.Broadcast(NewEvent(now, EventTypeRosterJoined, RosterJoinedPayload{Participant: *p}))
	c.mu.Unlock()

	log.Info().
		Str("connection_id", connectionID).
		Str("client_id", clientID).
		Str("name", p.Name).
		Msg("participant joined")
}

// Leave removes a connection from the registry. Unknown connections are a
// no-op; a disconnect can race the eviction sweep.
func (c *Coordinator) Leave(connectionID string) {
	c.mu.Lock()
	_, ok := c.participants[connectionID]
	if ok {
		delete(c.participants, connectionID)
		c.broadcaster.Broadcast(NewEvent(c.clock.Now(), EventTypeRosterLeft, RosterLeftPayload{ConnectionID: connectionID}))
	}
	c.mu.Unlock()

	if ok {
		log.Info().Str("connection_id", connectionID).Msg("participant left")
	}
}

// UpdateProfile renames a participant and swaps its emoji, persisting the
// change asynchronously. An empty name leaves the participant untouched.
func (c *Coordinator) UpdateProfile(connectionID, name, emoji string) {
	if name == "" {
		return
	}
	name = models.TruncateName(name)

	c.mu.Lock()
	p, ok := c.participants[connectionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	p.LastActivityAt = c.clock.Now()
	p.Name = name
	p.Emoji = emoji
	clientID := p.ClientID
	c.broadcaster.Broadcast(NewEvent(c.clock.Now(), EventTypeRosterUpdated, RosterUpdatedPayload{
		ConnectionID: connectionID,
		Name:         name,
		Emoji:        emoji,
	}))
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.persistTimeout)
		defer cancel()
		if err := c.store.UpdateProfile(ctx, clientID, name, emoji); err != nil {
			log.Error().Err(err).Str("client_id", clientID).Msg("failed to persist profile update")
		}
	}()
}

// UpdateSettings stores the opaque per-client settings document. Settings
// are private to the client, so nothing is broadcast.
func (c *Coordinator) UpdateSettings(connectionID string, settings json.RawMessage) {
	c.mu.Lock()
	p, ok := c.participants[connectionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	p.LastActivityAt = c.clock.Now()
	clientID := p.ClientID
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.persistTimeout)
		defer cancel()
		if err := c.store.UpdateSettings(ctx, clientID, settings); err != nil {
			log.Error().Err(err).Str("client_id", clientID).Msg("failed to persist settings")
		}
	}()
}

// ApplyProgress records a typing update and fans it out. On completion it
// publishes the speed figures, persists stats asynchronously, and runs the
// majority-completion check inside the same critical section as the
// mutation, so two racing completions can never both trigger a round start.
func (c *Coordinator) ApplyProgress(connectionID string, progressPct int, position, wpm *int) {
	c.mu.Lock()
	p, ok := c.participants[connectionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	p.LastActivityAt = c.clock.Now()

	if progressPct < 0 || progressPct > 100 {
		c.mu.Unlock()
		return
	}
	if position != nil && (*position < 0 || *position > typing.PhraseLength(c.round.Phrase)) {
		c.mu.Unlock()
		return
	}
	if wpm != nil && *wpm < 0 {
		c.mu.Unlock()
		return
	}

	p.Progress = progressPct
	if position != nil {
		p.CursorPosition = *position
	}
	c.broadcaster.Broadcast(NewEvent(c.clock.Now(), EventTypeProgressDelta, ProgressDeltaPayload{
		ConnectionID: connectionID,
		Progress:     p.Progress,
		Position:     p.CursorPosition,
	}))

	finished := progressPct == 100
	persistWPM := -1
	clientID := p.ClientID
	if finished {
		p.HasFinished = true
		if wpm != nil {
			speed := *wpm
			p.CurrentSpeed = speed
			p.LatestSpeed = speed
			if speed > p.BestSpeed {
				p.BestSpeed = speed
			}
			c.broadcaster.Broadcast(NewEvent(c.clock.Now(), EventTypeSpeedUpdate, SpeedUpdatePayload{
				ConnectionID: connectionID,
				WPM:          p.CurrentSpeed,
				BestWPM:      p.BestSpeed,
				LatestWPM:    p.LatestSpeed,
			}))
			persistWPM = speed
		}
	}

	// Majority check and the single-flight guard live inside the same
	// serialized region as the progress mutation: round advancement must be
	// idempotent no matter how completions interleave.
	advance := false
	if finished && !c.advancing {
		completed := 0
		for _, q := range c.participants {
			if q.Progress == 100 {
				completed++
			}
		}
		if 2*completed > len(c.participants) {
			c.advancing = true
			advance = true
		}
	}
	c.mu.Unlock()

	if persistWPM >= 0 {
		// Fire-and-forget: durable stats never gate round advancement.
		go c.persistStats(clientID, persistWPM)
	}
	if advance {
		c.startRound(context.Background())
	}
}

// TriggerFireworks relays a fireworks interaction. The event reaches every
// connection, the source included; a vanished target is silently dropped.
func (c *Coordinator) TriggerFireworks(sourceConnectionID, targetConnectionID string) {
	c.mu.Lock()
	src, ok := c.participants[sourceConnectionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	src.LastActivityAt = c.clock.Now()
	if _, ok := c.participants[targetConnectionID]; ok {
		c.broadcaster.Broadcast(NewEvent(c.clock.Now(), EventTypeInteraction, InteractionPayload{
			SourceConnectionID: sourceConnectionID,
			TargetConnectionID: targetConnectionID,
		}))
	}
	c.mu.Unlock()
}

// Heartbeat refreshes the activity timestamp for a connection whose player
// is present but not typing.
func (c *Coordinator) Heartbeat(connectionID string) {
	c.mu.Lock()
	if p, ok := c.participants[connectionID]; ok {
		p.LastActivityAt = c.clock.Now()
	}
	c.mu.Unlock()
}

// EvictIdle removes every participant whose last activity is older than the
// idle timeout. Each eviction sends the idle notice to that connection,
// force-closes it, and announces the departure. Returns how many were
// evicted.
func (c *Coordinator) EvictIdle() int {
	now := c.clock.Now()

	c.mu.Lock()
	var evicted []string
	for id, p := range c.participants {
		if now.Sub(p.LastActivityAt) > c.idleTimeout {
			evicted = append(evicted, id)
			c.broadcaster.Unicast(id, NewEvent(now, EventTypeIdleNotice, nil))
			delete(c.participants, id)
			c.broadcaster.Broadcast(NewEvent(now, EventTypeRosterLeft, RosterLeftPayload{ConnectionID: id}))
		}
	}
	c.mu.Unlock()

	for _, id := range evicted {
		c.broadcaster.Disconnect(id)
		log.Info().Str("connection_id", id).Msg("participant evicted for inactivity")
	}
	return len(evicted)
}

// Roster returns a copy of the current participant set.
func (c *Coordinator) Roster() []models.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rosterLocked()
}

// Round returns the current round value.
func (c *Coordinator) Round() models.Round {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.round
}

// startRound fetches the next phrase, resets every participant, installs the
// new round, and broadcasts it. The phrase fetch happens outside the lock so
// a slow source cannot stall inbound events; the reset and the broadcast
// happen together inside it so no client can observe a half-reset roster.
func (c *Coordinator) startRound(ctx context.Context) {
	phrase := c.fetchPhrase(ctx)

	c.mu.Lock()
	for _, p := range c.participants {
		p.ResetForRound()
	}
	c.round = &models.Round{
		Phrase:   phrase,
		RevealAt: c.clock.Now().Add(c.revealDelay),
	}
	c.advancing = false
	payload := RoundStartedPayload{
		Phrase:   c.round.Phrase,
		RevealAt: c.round.RevealAt,
		Roster:   c.rosterLocked(),
	}
	c.broadcaster.Broadcast(NewEvent(c.clock.Now(), EventTypeRoundStarted, payload))
	c.mu.Unlock()

	log.Info().
		Str("phrase", phrase).
		Time("reveal_at", payload.RevealAt).
		Int("participants", len(payload.Roster)).
		Msg("round started")
}

func (c *Coordinator) fetchPhrase(ctx context.Context) string {
	fetchCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	phrase, err := c.source.RandomPhrase(fetchCtx)
	if err != nil {
		log.Error().Err(err).Msg("phrase source failed, using fallback phrase")
		return phrases.FallbackPhrase
	}
	return phrase
}

func (c *Coordinator) persistStats(clientID string, wpm int) {
	ctx, cancel := context.WithTimeout(context.Background(), c.persistTimeout)
	defer cancel()
	if err := c.store.UpdateStats(ctx, clientID, wpm, true); err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("failed to persist stats")
	}
}

func (c *Coordinator) rosterLocked() []models.Participant {
	roster := make([]models.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		roster = append(roster, *p)
	}
	return roster
}
