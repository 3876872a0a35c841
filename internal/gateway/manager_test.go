package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/typeswift/typeswift/internal/game"
)

func newRegisteredConn(cm *ConnectionManager, id string) *Connection {
	conn := &Connection{ID: id, Send: make(chan []byte, 256), manager: cm}
	cm.mu.Lock()
	cm.conns[id] = conn
	cm.mu.Unlock()
	return conn
}

// Connections tear down on their own read goroutines while the fan-out loop
// is mid-broadcast; a close must never race a send on the same channel.
func TestBroadcastDuringTeardown(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())

	conns := make([]*Connection, 64)
	for i := range conns {
		conns[i] = newRegisteredConn(cm, fmt.Sprintf("c%d", i))
	}

	evt := game.NewEvent(time.Now(), game.EventTypeRosterLeft, game.RosterLeftPayload{ConnectionID: "gone"})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			cm.handleOutbound(context.Background(), outbound{Event: evt})
		}
	}()
	go func() {
		defer wg.Done()
		for _, conn := range conns {
			cm.handleClosed(conn)
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, cm.ConnectionCount())
}

func TestHandleClosedIdempotent(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	conn := newRegisteredConn(cm, "c1")

	cm.handleClosed(conn)
	cm.handleClosed(conn)

	assert.Equal(t, 0, cm.ConnectionCount())
}

// A disconnect queued through the fan-out loop and a socket-level teardown
// can both target the same connection; only one of them may close Send.
func TestDisconnectAfterTeardown(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	conn := newRegisteredConn(cm, "c1")

	cm.handleClosed(conn)
	cm.handleOutbound(context.Background(), outbound{ConnectionID: "c1", Close: true})

	assert.Equal(t, 0, cm.ConnectionCount())
}
