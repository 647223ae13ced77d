// Package connmgr implements the Connection Manager (C10): per-connection
// state and a send path that retries before giving up and tearing the
// connection down.
package connmgr

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// maxSendAttempts and sendBackoffUnit implement the documented retry policy:
// up to 3 attempts, backoff = 0.5 * attempt seconds.
const (
	maxSendAttempts = 3
	sendBackoffUnit = 500 * time.Millisecond
)

// ErrUnregistered is returned by Send when client_id is not (or is no
// longer) registered.
var ErrUnregistered = errors.New("connmgr: connection not registered")

// Sender abstracts the transport write so tests don't need a real
// WebSocket. Implementations should be safe for concurrent use by at most
// one writer at a time (Send already serializes per connection).
type Sender interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ChatTurn is one turn of a connection's rolling chat history.
type ChatTurn struct {
	Role    string
	Content string
}

// preferredTTS holds a connection's sticky TTS engine/voice/speed/volume choice.
type preferredTTS struct {
	Engine string
	Voice  string
	Speed  float64
	Volume float64
}

// Connection is the per-socket state owned exclusively by its own session
// task, except for the counters below which Manager updates under lock.
type Connection struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	sender  Sender
	writeMu sync.Mutex

	mu            sync.Mutex
	lastActivity  time.Time
	messagesSent  int
	messagesRecv  int
	preferredTTS  preferredTTS
	chatHistory   []ChatTurn
	historyWindow int
}

// SetPreferredTTS updates the connection's sticky TTS preferences.
func (c *Connection) SetPreferredTTS(engine, voice string, speed, volume float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preferredTTS = preferredTTS{Engine: engine, Voice: voice, Speed: speed, Volume: volume}
}

// PreferredTTS returns the connection's current sticky TTS preferences.
func (c *Connection) PreferredTTS() (engine, voice string, speed, volume float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.preferredTTS
	return p.Engine, p.Voice, p.Speed, p.Volume
}

// AppendHistory appends a turn, trimming to the last historyWindow turns
// around the sticky system prompt (turn 0, if role == "system", is never
// trimmed away).
func (c *Connection) AppendHistory(turn ChatTurn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatHistory = append(c.chatHistory, turn)
	if c.historyWindow <= 0 {
		return
	}

	hasSystem := len(c.chatHistory) > 0 && c.chatHistory[0].Role == "system"
	limit := c.historyWindow
	if hasSystem {
		limit++
	}
	if len(c.chatHistory) <= limit {
		return
	}
	if hasSystem {
		c.chatHistory = append([]ChatTurn{c.chatHistory[0]}, c.chatHistory[len(c.chatHistory)-c.historyWindow:]...)
	} else {
		c.chatHistory = c.chatHistory[len(c.chatHistory)-c.historyWindow:]
	}
}

// History returns a copy of the connection's current chat history.
func (c *Connection) History() []ChatTurn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatTurn(nil), c.chatHistory...)
}

// Counters returns (messages_sent, messages_recv).
func (c *Connection) Counters() (sent, recv int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messagesSent, c.messagesRecv
}

// RecordRecv increments the received-message counter and last-activity
// timestamp; call this from the reader task on every inbound frame.
func (c *Connection) RecordRecv() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesRecv++
	c.lastActivity = time.Now()
}

// Manager owns every registered Connection.
type Manager struct {
	historyWindow int

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewManager builds a Manager; historyWindow bounds each connection's chat
// history (0 disables trimming).
func NewManager(historyWindow int) *Manager {
	return &Manager{
		historyWindow: historyWindow,
		conns:         map[string]*Connection{},
	}
}

// Register creates and tracks a Connection for id.
func (m *Manager) Register(id, remoteAddr string, sender Sender) *Connection {
	conn := &Connection{
		ID:            id,
		RemoteAddr:    remoteAddr,
		ConnectedAt:   time.Now(),
		sender:        sender,
		lastActivity:  time.Now(),
		historyWindow: m.historyWindow,
	}
	m.mu.Lock()
	m.conns[id] = conn
	m.mu.Unlock()
	return conn
}

// Unregister removes id from the manager and closes its underlying sender.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	conn, ok := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()
	if ok {
		conn.sender.Close()
	}
}

// Get returns the Connection for id, if registered.
func (m *Manager) Get(id string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	return conn, ok
}

// Count returns the number of currently registered connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Send writes data as a websocket message to id, retrying up to
// maxSendAttempts times with a 0.5*attempt second backoff. Repeated failure
// unregisters and closes the connection.
func (m *Manager) Send(ctx context.Context, id string, messageType int, data []byte) error {
	m.mu.Lock()
	conn, ok := m.conns[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnregistered
	}

	var lastErr error
attempts:
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		conn.writeMu.Lock()
		err := conn.sender.WriteMessage(messageType, data)
		conn.writeMu.Unlock()
		if err == nil {
			conn.mu.Lock()
			conn.messagesSent++
			conn.lastActivity = time.Now()
			conn.mu.Unlock()
			return nil
		} else {
			lastErr = err
		}

		if attempt == maxSendAttempts {
			break
		}
		backoff := time.Duration(attempt) * sendBackoffUnit
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			break attempts
		case <-time.After(backoff):
		}
	}

	slog.Warn("connection send failed repeatedly, tearing down", "client_id", id, "error", lastErr)
	m.Unregister(id)
	return lastErr
}
