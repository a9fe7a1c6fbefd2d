package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"caravel/internal/saga"
)

// StatusUpdate is the wire shape pushed to WebSocket clients whenever
// an order changes status.
type StatusUpdate struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

// Hub manages WebSocket clients and broadcasts messages to them.
type Hub struct {
	connections map[*websocket.Conn]struct{}
	Register    chan *websocket.Conn
	Unregister  chan *websocket.Conn
	Broadcast   chan []byte
	logger      *slog.Logger
	mu          sync.Mutex
	done        chan struct{}
	stop        sync.Once
}

// NewHub constructs a Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections: make(map[*websocket.Conn]struct{}),
		Register:    make(chan *websocket.Conn),
		Unregister:  make(chan *websocket.Conn),
		Broadcast:   make(chan []byte, 16),
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Run processes register/unregister/broadcast events until Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
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

// Stop terminates Run and closes every registered connection. Safe to
// call more than once.
func (h *Hub) Stop() {
	h.stop.Do(func() { close(h.done) })
}

// OrderStatusChanged satisfies the coordinator's status listener: it
// fans the transition out to every connected client. Non-blocking; if
// the hub is saturated the update is dropped and logged, a client can
// always re-fetch the order.
func (h *Hub) OrderStatusChanged(o saga.Order, reason string) {
	update := StatusUpdate{
		OrderID: o.ID,
		Status:  string(o.Status),
		Reason:  reason,
	}
	msg, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("marshal status update", "order_id", o.ID, "error", err)
		return
	}
	select {
	case h.Broadcast <- msg:
	default:
		h.logger.Warn("status broadcast dropped", "order_id", o.ID)
	}
}
