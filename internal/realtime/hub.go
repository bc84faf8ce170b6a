// Package realtime pushes entitlement updates to connected clients.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storegate/internal/entitlements"
)

// Hub manages WebSocket clients and broadcasts messages to them.
type Hub struct {
	connections map[*websocket.Conn]struct{}
	Register    chan *websocket.Conn
	Unregister  chan *websocket.Conn
	Broadcast   chan []byte
	mu          sync.Mutex
}

// NewHub constructs a Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]struct{}),
		Register:    make(chan *websocket.Conn),
		Unregister:  make(chan *websocket.Conn),
		Broadcast:   make(chan []byte),
	}
}

// Run processes register/unregister/broadcast events until ctx ends, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.connections {
				conn.Close()
				delete(h.connections, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.Register:
			h.mu.Lock()
			h.connections[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.Unregister:
			h.mu.Lock()
			delete(h.connections, conn)
			h.mu.Unlock()
			conn.Close()
		case msg := <-h.Broadcast:
			h.mu.Lock()
			for conn := range h.connections {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount reports the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// entitlementEvent is the wire shape pushed to clients on grant or revoke.
type entitlementEvent struct {
	Type          string `json:"type"`
	UserID        string `json:"user_id"`
	ProductID     string `json:"product_id"`
	TransactionID string `json:"transaction_id,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	Source        string `json:"source,omitempty"`
}

// EntitlementNotifier turns entitlement updates into hub broadcasts. Sends
// never block: when the hub is busy the event is dropped and logged.
type EntitlementNotifier struct {
	hub    *Hub
	logger *zap.Logger
}

// NewEntitlementNotifier constructs a notifier for the hub.
func NewEntitlementNotifier(hub *Hub, logger *zap.Logger) *EntitlementNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntitlementNotifier{hub: hub, logger: logger}
}

// EntitlementUpdated broadcasts the update to connected clients.
func (n *EntitlementNotifier) EntitlementUpdated(ent entitlements.Entitlement) {
	event := entitlementEvent{
		Type:          "entitlement_updated",
		UserID:        ent.UserID,
		ProductID:     ent.ProductID,
		TransactionID: ent.TransactionID,
		Source:        ent.Source,
	}
	if !ent.ExpiresAt.IsZero() {
		event.ExpiresAt = ent.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("encode entitlement event", zap.Error(err))
		return
	}
	select {
	case n.hub.Broadcast <- payload:
	default:
		n.logger.Warn("dropping entitlement event, hub busy",
			zap.String("user_id", ent.UserID),
			zap.String("product_id", ent.ProductID))
	}
}
