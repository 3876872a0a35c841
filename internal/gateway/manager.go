// Package gateway is the WebSocket transport in front of the coordinator:
// connection upgrade, identity recovery from the signed cookie, inbound
// message dispatch, and the outbound fan-out.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/typeswift/typeswift/internal/game"
)

// Coordinator is what the gateway needs from the game authority.
type Coordinator interface {
	Join(ctx context.Context, connectionID, clientID string)
	Leave(connectionID string)
	UpdateProfile(connectionID, name, emoji string)
	UpdateSettings(connectionID string, settings json.RawMessage)
	ApplyProgress(connectionID string, progressPct int, position, wpm *int)
	TriggerFireworks(sourceConnectionID, targetConnectionID string)
	Heartbeat(connectionID string)
}

// EventTap receives a copy of every broadcast event. Used to mirror the
// event stream onto an external bus; failures must stay internal to the tap.
type EventTap interface {
	Publish(ctx context.Context, evt *game.Event)
}

// ConnectionConfig holds the WebSocket transport knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     90 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// outbound is one unit of work for the fan-out loop. An empty ConnectionID
// means broadcast; Close force-disconnects after queued writes.
type outbound struct {
	ConnectionID string
	Event        *game.Event
	Close        bool
}

// ConnectionManager owns the live WebSocket connections and the fan-out
// loop. All outbound traffic funnels through one channel so every client
// observes events in the order the authority produced them.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	upgrader websocket.Upgrader
	config   ConnectionConfig
	outCh    chan outbound

	coordinator Coordinator
	tap         EventTap
}

// NewConnectionManager creates a manager with the given transport config.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		conns: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		outCh:  make(chan outbound, 1024),
	}
}

// Bind attaches the game authority. Must be called before serving traffic.
func (cm *ConnectionManager) Bind(c Coordinator) {
	cm.coordinator = c
}

// SetTap attaches an optional mirror for broadcast events.
func (cm *ConnectionManager) SetTap(tap EventTap) {
	cm.tap = tap
}

// Start drains the outbound channel until the context is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case msg := <-cm.outCh:
			cm.handleOutbound(ctx, msg)
		}
	}
}

// Broadcast queues an event for every connection.
func (cm *ConnectionManager) Broadcast(evt *game.Event) {
	cm.enqueue(outbound{Event: evt})
}

// Unicast queues an event for a single connection.
func (cm *ConnectionManager) Unicast(connectionID string, evt *game.Event) {
	cm.enqueue(outbound{ConnectionID: connectionID, Event: evt})
}

// Disconnect force-closes a connection after its queued events are written.
func (cm *ConnectionManager) Disconnect(connectionID string) {
	cm.enqueue(outbound{ConnectionID: connectionID, Close: true})
}

func (cm *ConnectionManager) enqueue(msg outbound) {
	select {
	case cm.outCh <- msg:
	default:
		log.Warn().Str("connection_id", msg.ConnectionID).Msg("outbound channel full, dropping message")
	}
}

// Upgrade promotes an HTTP request to a WebSocket connection and registers
// it under a fresh connection id.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, clientID string) (*Connection, error) {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		ClientID:    clientID,
		ws:          ws,
		Send:        make(chan []byte, 256),
		manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.mu.Lock()
	cm.conns[conn.ID] = conn
	total := len(cm.conns)
	cm.mu.Unlock()

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("client_id", clientID).
		Int("total_connections", total).
		Msg("websocket connection established")

	return conn, nil
}

// handleOutbound processes one fan-out unit on the serialized loop.
func (cm *ConnectionManager) handleOutbound(ctx context.Context, msg outbound) {
	if msg.Close {
		cm.mu.Lock()
		conn, ok := cm.conns[msg.ConnectionID]
		if ok {
			conn.closed = true
			delete(cm.conns, msg.ConnectionID)
			close(conn.Send)
		}
		cm.mu.Unlock()
		return
	}

	data, err := json.Marshal(msg.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal outbound event")
		return
	}

	if msg.ConnectionID != "" {
		cm.mu.RLock()
		conn, ok := cm.conns[msg.ConnectionID]
		cm.mu.RUnlock()
		if ok {
			cm.send(conn, data)
		}
		return
	}

	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.conns))
	for _, conn := range cm.conns {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		cm.send(conn, data)
	}

	if cm.tap != nil {
		cm.tap.Publish(ctx, msg.Event)
	}
}

// send delivers marshaled bytes to one connection, closing it when its
// buffer is full rather than letting a slow consumer stall the loop. The
// closed check, the channel write, and every close of Send all happen under
// cm.mu, so a teardown on another goroutine can never close the channel
// mid-send.
func (cm *ConnectionManager) send(conn *Connection, data []byte) {
	cm.mu.Lock()
	if conn.closed {
		cm.mu.Unlock()
		return
	}
	select {
	case conn.Send <- data:
		cm.mu.Unlock()
	default:
		conn.closed = true
		delete(cm.conns, conn.ID)
		close(conn.Send)
		cm.mu.Unlock()
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("send buffer full, closing connection")
		conn.ws.Close()
		if cm.coordinator != nil {
			cm.coordinator.Leave(conn.ID)
		}
	}
}

// handleClosed is called when the underlying socket is gone or given up on.
// The registry entry and the participant go together; a second teardown of
// the same connection is a no-op.
func (cm *ConnectionManager) handleClosed(conn *Connection) {
	cm.mu.Lock()
	open := !conn.closed
	if open {
		conn.closed = true
		delete(cm.conns, conn.ID)
		close(conn.Send)
	}
	cm.mu.Unlock()

	if open && cm.coordinator != nil {
		cm.coordinator.Leave(conn.ID)
	}
}

// ConnectionCount reports how many sockets are registered.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}
