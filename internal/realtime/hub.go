package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains class_id -> set of connections and fans events out to
// them. Delivery is at-most-once with no history: a client that joins
// after an event was published never sees it, and a client whose buffer
// is full simply misses that event.
//
// Uses Redis pub/sub for horizontal scaling: local broadcast + publish to
// Redis, with a per-class subscription feeding remote events back in.
type Hub struct {
	// classID -> map[clientID]*Client
	rooms  map[uuid.UUID]map[string]*Client
	subs   map[uuid.UUID]func() // cancel Redis subscription per class
	mu     sync.RWMutex
	pubMu  sync.Mutex // serializes fan-out so each listener sees publish order
	logger *zap.Logger
	pub    Publisher
	sub    Subscriber
}

// Publisher publishes class events to Redis for cross-instance broadcast.
type Publisher interface {
	PublishClassEvent(classID uuid.UUID, event string, payload []byte) error
}

// Subscriber subscribes to a class channel and invokes handler for
// incoming events from other instances.
type Subscriber interface {
	SubscribeClass(classID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a class event hub. pub and sub may be nil for a purely
// local (single-instance) hub.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[uuid.UUID]map[string]*Client),
		subs:   make(map[uuid.UUID]func()),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// Register adds a client to its class room, starting the Redis
// subscription for that class when it is the first local listener.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.ClassID] == nil {
		h.rooms[c.ClassID] = make(map[string]*Client)
		if h.sub != nil {
			cancel, err := h.sub.SubscribeClass(c.ClassID, func(event string, payload []byte) {
				h.Broadcast(c.ClassID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[c.ClassID] = cancel
			} else {
				h.logger.Warn("class subscription failed", zap.String("class_id", c.ClassID.String()), zap.Error(err))
			}
		}
	}
	h.rooms[c.ClassID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined class channel", zap.String("client_id", c.ID), zap.String("class_id", c.ClassID.String()))
}

// Unregister removes a client, cancelling the Redis subscription when the
// last local listener of the class leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.rooms[c.ClassID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, c.ClassID)
			if cancel, ok := h.subs[c.ClassID]; ok {
				cancel()
				delete(h.subs, c.ClassID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left class channel", zap.String("client_id", c.ID), zap.String("class_id", c.ClassID.String()))
}

// Broadcast delivers an event to every client currently in the class room
// (local instance only). The subscriber set is snapshotted before sending,
// so a concurrent Register or Unregister never corrupts the fan-out.
func (h *Hub) Broadcast(classID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := Message{Event: event, Data: data}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[classID]))
	for _, c := range h.rooms[classID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Publish fans an event out to the class channel. With a Redis bridge the
// event goes through Redis only, so the subscription callback performs the
// local broadcast exactly once per instance (including this one) and no
// listener sees a duplicate. Without a bridge it broadcasts locally.
func (h *Hub) Publish(classID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.pub != nil {
		if err := h.pub.PublishClassEvent(classID, event, data); err == nil {
			return
		} else {
			h.logger.Warn("class event publish failed, delivering locally only",
				zap.String("class_id", classID.String()), zap.Error(err))
		}
	}
	h.Broadcast(classID, event, json.RawMessage(data))
}

// ListenerCount returns the number of local clients in a class room.
func (h *Hub) ListenerCount(classID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[classID])
}
