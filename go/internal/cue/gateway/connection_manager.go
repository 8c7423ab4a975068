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
	"github.com/mcdev12/cuecast/go/internal/models"
	"github.com/rs/zerolog/log"
)

// CueReader supplies the record sent to a client right after it connects
type CueReader interface {
	Read(room string) models.CueRecord
}

// ConnectionMetrics observes the number of open push connections
type ConnectionMetrics interface {
	SetConnections(n int)
}

type noopConnectionMetrics struct{}

func (noopConnectionMetrics) SetConnections(int) {}

// ConnectionManager manages WebSocket connections that receive cue change hints
type ConnectionManager struct {
	// Connection pools organized by room
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	reader   CueReader
	metrics  ConnectionMetrics

	broadcastCh chan BroadcastMessage
	// lastSeq is owned by the Start loop.
	lastSeq map[string]int64
}

// Connection represents a WebSocket connection to a viewer
type Connection struct {
	ID      string
	Room    string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a record to deliver to every connection of a room
type BroadcastMessage struct {
	Room   string
	Record models.CueRecord
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  512,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      16,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, reader CueReader, metrics ConnectionMetrics) *ConnectionManager {
	if metrics == nil {
		metrics = noopConnectionMetrics{}
	}
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		reader:      reader,
		metrics:     metrics,
		broadcastCh: make(chan BroadcastMessage, 1000),
		lastSeq:     make(map[string]int64),
	}
}

// Start processes broadcast messages until ctx is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection and subscribes it to room
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, room string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Room:        room,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer+1),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	// Late joiners get the current record first
	if cm.reader != nil {
		if data, err := json.Marshal(cm.reader.Read(room)); err == nil {
			connection.Send <- data
		}
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("room", room).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.Room] == nil {
		cm.roomConnections[conn.Room] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.Room][conn] = true
	cm.metrics.SetConnections(cm.countLocked())
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.roomConnections[conn.Room]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}

	delete(connections, conn)
	close(conn.Send)
	if len(connections) == 0 {
		delete(cm.roomConnections, conn.Room)
	}
	cm.metrics.SetConnections(cm.countLocked())

	log.Info().
		Str("connection_id", conn.ID).
		Str("room", conn.Room).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) countLocked() int {
	total := 0
	for _, connections := range cm.roomConnections {
		total += len(connections)
	}
	return total
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.roomConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

// BroadcastToRoom queues rec for every connection in room
func (cm *ConnectionManager) BroadcastToRoom(room string, rec models.CueRecord) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Room: room, Record: rec}:
	default:
		log.Warn().Str("room", room).Msg("broadcast channel full, dropping message")
	}
}

// Publish lets the manager act as an in-process event publisher
func (cm *ConnectionManager) Publish(_ context.Context, event models.CueEvent) error {
	cm.BroadcastToRoom(event.Room, event.Record)
	return nil
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	// Writers publish outside the room lock, so records can arrive out of order
	if message.Record.Seq <= cm.lastSeq[message.Room] {
		log.Debug().
			Str("room", message.Room).
			Int64("seq", message.Record.Seq).
			Int64("last_seq", cm.lastSeq[message.Room]).
			Msg("stale record not broadcasted")
		return
	}
	cm.lastSeq[message.Room] = message.Record.Seq

	data, err := json.Marshal(message.Record)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal record for broadcast")
		return
	}

	// Sends happen under the read lock so unregisterConnection cannot close
	// a Send channel mid-broadcast.
	var slow []*Connection
	cm.mu.RLock()
	connections := cm.roomConnections[message.Room]
	delivered := len(connections)
	for conn := range connections {
		select {
		case conn.Send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	// Slow viewers fall back to polling
	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("room", conn.Room).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("room", message.Room).
		Int64("seq", message.Record.Seq).
		Int("connections", delivered-len(slow)).
		Msg("record broadcasted")
}

// ConnectionStats returns the number of open connections per room
func (cm *ConnectionManager) ConnectionStats() map[string]int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := make(map[string]int, len(cm.roomConnections))
	for room, connections := range cm.roomConnections {
		stats[room] = len(connections)
	}
	return stats
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump only drains control frames; viewers never send commands here.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
