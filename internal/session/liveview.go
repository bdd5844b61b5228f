package session

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scoundrel-labs/scoundrel/internal/storage"
	"github.com/scoundrel-labs/scoundrel/pkg/logging"
)

// EventBus decouples the trading core from whatever renders it live. The
// out-of-scope HUD attaches a Hub (below) or any other implementation; the
// core only ever calls Publish.
type EventBus interface {
	Publish(eventType string, data interface{})
}

// SetEventBus attaches bus so session lifecycle and live-view calls
// broadcast their results. Nil is valid and disables broadcasting.
func (m *Manager) SetEventBus(bus EventBus) {
	m.bus = bus
}

func (m *Manager) publish(eventType string, data interface{}) {
	if m.bus != nil {
		m.bus.Publish(eventType, data)
	}
}

// LiveView is the combined session + per-run PnL snapshot the HUD polls or
// subscribes to. The per-run view is preferred over per-mint per §4.5.
type LiveView struct {
	Session *storage.Session      `json:"session"`
	Run     *storage.RunLiveView  `json:"run,omitempty"`
	Mint    *storage.MintLiveView `json:"mint,omitempty"`
}

// LiveViewParams selects which rollup to attach to the session snapshot.
type LiveViewParams struct {
	SessionID       string
	WalletID        int64
	CoinMint        string
	TradeUUID       string // when set, attaches the per-run view
	CurrentPriceSol float64
}

// LiveView assembles a LiveView snapshot and publishes it on the event bus,
// if one is attached.
func (m *Manager) LiveView(params LiveViewParams) (*LiveView, error) {
	sess, err := m.store.GetSession(params.SessionID)
	if err != nil {
		return nil, err
	}

	view := &LiveView{Session: sess}
	if params.TradeUUID != "" {
		run, err := m.store.RunLiveView(params.WalletID, params.CoinMint, params.TradeUUID, params.CurrentPriceSol)
		if err != nil && err != storage.ErrRollupNotFound {
			return nil, err
		}
		view.Run = run
	} else {
		mint, err := m.store.MintLiveView(params.WalletID, params.CoinMint, 0, params.CurrentPriceSol)
		if err != nil && err != storage.ErrRollupNotFound {
			return nil, err
		}
		view.Mint = mint
	}

	m.publish("live_view", view)
	return view, nil
}

// --- Hub: a minimal gorilla/websocket-backed EventBus -----------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEvent is the wire shape broadcast to attached clients.
type wsEvent struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// client is one connected WebSocket subscriber.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is a minimal broadcast EventBus for the HUD: a connected client
// receives every published event as JSON. It carries no subscription
// filtering; that belongs to the (out-of-scope) HUD client.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan *wsEvent
	log        *logging.Logger
}

// NewHub creates a Hub. Run must be started in its own goroutine before any
// client connects.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan *wsEvent, 256),
		log:        logging.GetDefault().Component("session.hub"),
	}
}

// Run drives the hub's event loop until ctx-less shutdown (callers stop it
// by exiting the process; there is no dedicated Stop since the process that
// owns the HUD owns the hub's lifetime too).
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.log.Error("failed to marshal live-view event", "error", err)
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.log.Warn("client send buffer full, dropping client")
					go func(c *client) { h.unregister <- c }(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish implements EventBus.
func (h *Hub) Publish(eventType string, data interface{}) {
	event := &wsEvent{Type: eventType, Data: data, Timestamp: time.Now().UnixMilli()}
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("broadcast channel full, dropping event", "type", eventType)
	}
}

// ServeHTTP upgrades r into a WebSocket subscriber of every published
// event.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	h.register <- c
	go h.writePump(c)
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.unregister <- c
			return
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
