package gateway

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Connection is one live WebSocket client.
type Connection struct {
	ID       string
	ClientID string

	ws      *websocket.Conn
	Send    chan []byte
	manager *ConnectionManager

	// closed is guarded by the manager's mutex; once set, Send is closed
	// and must never be written again.
	closed bool

	ConnectedAt time.Time
}

// ClientMessage is the inbound envelope: a type tag plus a type-specific
// payload.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound message types.
const (
	MessageTypeUpdateProfile    = "updateProfile"
	MessageTypeUpdateSettings   = "updateSettings"
	MessageTypeTypingProgress   = "typingProgress"
	MessageTypeTriggerFireworks = "triggerFireworks"
	MessageTypeHeartbeat        = "heartbeat"
)

type updateProfilePayload struct {
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
}

type updateSettingsPayload struct {
	Settings json.RawMessage `json:"settings"`
}

type typingProgressPayload struct {
	Progress *int `json:"progress"`
	Position *int `json:"position,omitempty"`
	WPM      *int `json:"wpm,omitempty"`
}

type triggerFireworksPayload struct {
	TargetConnectionID string `json:"targetConnectionId"`
}

// writePump pushes queued events to the socket and keeps the connection
// alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client messages and dispatches them to the coordinator.
// When the read loop exits the connection and its participant are torn down.
func (c *Connection) readPump() {
	defer func() {
		c.manager.handleClosed(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.manager.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			break
		}
		c.handleClientMessage(message)
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}

// handleClientMessage routes one inbound envelope. Malformed payloads are
// dropped without touching participant state.
func (c *Connection) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("dropping malformed message")
		return
	}

	coord := c.manager.coordinator

	switch msg.Type {
	case MessageTypeUpdateProfile:
		var p updateProfilePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		coord.UpdateProfile(c.ID, p.Name, p.Emoji)

	case MessageTypeUpdateSettings:
		var p updateSettingsPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		coord.UpdateSettings(c.ID, p.Settings)

	case MessageTypeTypingProgress:
		var p typingProgressPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.Progress == nil {
			return
		}
		coord.ApplyProgress(c.ID, *p.Progress, p.Position, p.WPM)

	case MessageTypeTriggerFireworks:
		var p triggerFireworksPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.TargetConnectionID == "" {
			return
		}
		coord.TriggerFireworks(c.ID, p.TargetConnectionID)

	case MessageTypeHeartbeat:
		coord.Heartbeat(c.ID)

	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("message_type", msg.Type).
			Msg("unknown message type")
	}
}
