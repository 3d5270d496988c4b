package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/shopflow/printbridge/internal/models"
)

// Identifier resolves an agent handshake to a registered printer
type Identifier interface {
	IdentifyAgent(ctx context.Context, token, deviceID string) (*models.Printer, error)
}

// Liveness receives heartbeat and disconnect signals from agent connections
type Liveness interface {
	Heartbeat(ctx context.Context, printerID uint, jobCount int) error
	MarkOffline(ctx context.Context, printerID uint) error
}

// Completer applies job results reported by agents
type Completer interface {
	Complete(ctx context.Context, jobID uint, success bool, errDetail string) (*models.PrintJob, error)
}

// Hub maintains the set of connected printer agents and routes print
// commands to them
type Hub struct {
	// Connected agents map: printer ID -> Client
	clients map[uint]*Client

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	identifier Identifier
	liveness   Liveness
	completer  Completer

	// sendTimeout bounds how long a push may wait on a slow agent
	sendTimeout time.Duration

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(identifier Identifier, liveness Liveness, completer Completer, sendTimeout time.Duration) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Hub{
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		clients:     make(map[uint]*Client),
		identifier:  identifier,
		liveness:    liveness,
		completer:   completer,
		sendTimeout: sendTimeout,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if client.PrinterID != 0 {
				// If the agent connects again, shut the old connection down
				if old, ok := h.clients[client.PrinterID]; ok {
					old.shutdown()
				}
				h.clients[client.PrinterID] = client
				log.Printf("🖨️ Printer connected: %d (%s)", client.PrinterID, client.DeviceID)
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			client.shutdown()
			h.mu.Lock()
			if client.PrinterID != 0 {
				// Only drop the entry if it is still this connection; a
				// reconnect may have replaced it already
				if current, ok := h.clients[client.PrinterID]; ok && current == client {
					delete(h.clients, client.PrinterID)
					log.Printf("📴 Printer disconnected: %d (%s)", client.PrinterID, client.DeviceID)
					if err := h.liveness.MarkOffline(context.Background(), client.PrinterID); err != nil {
						log.Printf("⚠️ WS: mark offline: %v", err)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// SendToPrinter pushes a message to a connected printer agent. Returns false
// when the agent is not connected or does not drain its send buffer within
// the hub's send timeout.
func (h *Hub) SendToPrinter(printerID uint, message interface{}) bool {
	h.mu.RLock()
	client, ok := h.clients[printerID]
	h.mu.RUnlock()

	if !ok {
		return false
	}

	jsonMsg, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return false
	}

	timer := time.NewTimer(h.sendTimeout)
	defer timer.Stop()

	select {
	case client.send <- jsonMsg:
		return true
	case <-client.done:
		// Connection dropped while we were waiting
		return false
	case <-timer.C:
		// Buffer full and the agent is not draining it
		return false
	}
}

// Connected reports whether a printer agent currently holds a connection
func (h *Hub) Connected(printerID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[printerID]
	return ok
}
