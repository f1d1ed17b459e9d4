package infra

import (
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"updowntrade.com/internal/domain"
)

// WsManager manages WebSocket connections, per-user routing and symbol
// subscriptions. Settlement events go to the owning user via PushToUser;
// market ticks go to symbol subscribers via Broadcast.
type WsManager struct {
	// Active clients
	clients map[*websocket.Conn]bool

	// map[symbol]map[conn]bool
	subscriptions map[string]map[*websocket.Conn]bool

	// UserID -> set of connections
	userConns map[string]map[*websocket.Conn]bool

	// sendChannels stores a buffered channel per client so one slow client
	// cannot block the engine.
	sendChannels map[*websocket.Conn]chan interface{}

	mu sync.RWMutex

	Register   chan UserConnection
	Unregister chan UserConnection
	subscribe  chan Subscription
	unsub      chan Subscription
}

type UserConnection struct {
	UserID string
	Conn   *websocket.Conn
}

type Subscription struct {
	Conn   *websocket.Conn
	Symbol string
}

func NewWsManager() *WsManager {
	return &WsManager{
		clients:       make(map[*websocket.Conn]bool),
		subscriptions: make(map[string]map[*websocket.Conn]bool),
		userConns:     make(map[string]map[*websocket.Conn]bool),
		sendChannels:  make(map[*websocket.Conn]chan interface{}),
		Register:      make(chan UserConnection),
		Unregister:    make(chan UserConnection),
		subscribe:     make(chan Subscription),
		unsub:         make(chan Subscription),
	}
}

// Subscribe adds the connection to a symbol's subscriber set.
func (manager *WsManager) Subscribe(conn *websocket.Conn, symbol string) {
	manager.subscribe <- Subscription{Conn: conn, Symbol: symbol}
}

// Unsubscribe removes the connection from a symbol's subscriber set.
func (manager *WsManager) Unsubscribe(conn *websocket.Conn, symbol string) {
	manager.unsub <- Subscription{Conn: conn, Symbol: symbol}
}

func (manager *WsManager) Start() {
	log.Println("Starting WebSocket Manager...")
	for {
		select {
		case req := <-manager.Register:
			manager.mu.Lock()
			manager.clients[req.Conn] = true

			sendCh := make(chan interface{}, 256)
			manager.sendChannels[req.Conn] = sendCh

			// Dedicated writer goroutine per connection
			go func(conn *websocket.Conn, ch chan interface{}) {
				for msg := range ch {
					if err := conn.WriteJSON(msg); err != nil {
						log.Printf("WS WriteLoop error: %v", err)
						conn.Close()
						return
					}
				}
			}(req.Conn, sendCh)

			if req.UserID != "" {
				if manager.userConns[req.UserID] == nil {
					manager.userConns[req.UserID] = make(map[*websocket.Conn]bool)
				}
				manager.userConns[req.UserID][req.Conn] = true
			}

			manager.mu.Unlock()
			log.Printf("New WebSocket client connected: %s", req.UserID)

		case req := <-manager.Unregister:
			manager.mu.Lock()
			if _, ok := manager.clients[req.Conn]; ok {
				delete(manager.clients, req.Conn)

				if ch, exists := manager.sendChannels[req.Conn]; exists {
					close(ch)
					delete(manager.sendChannels, req.Conn)
				}

				if req.UserID != "" && manager.userConns[req.UserID] != nil {
					delete(manager.userConns[req.UserID], req.Conn)
					if len(manager.userConns[req.UserID]) == 0 {
						delete(manager.userConns, req.UserID)
					}
				}

				for topic, clients := range manager.subscriptions {
					delete(clients, req.Conn)
					if len(clients) == 0 {
						delete(manager.subscriptions, topic)
					}
				}
			}
			manager.mu.Unlock()
			log.Println("WebSocket client disconnected")

		case sub := <-manager.subscribe:
			manager.mu.Lock()
			if manager.subscriptions[sub.Symbol] == nil {
				manager.subscriptions[sub.Symbol] = make(map[*websocket.Conn]bool)
			}
			manager.subscriptions[sub.Symbol][sub.Conn] = true
			manager.mu.Unlock()
			log.Printf("Client subscribed to %s", sub.Symbol)

		case sub := <-manager.unsub:
			manager.mu.Lock()
			if clients, ok := manager.subscriptions[sub.Symbol]; ok {
				delete(clients, sub.Conn)
				if len(clients) == 0 {
					delete(manager.subscriptions, sub.Symbol)
				}
			}
			manager.mu.Unlock()
			log.Printf("Client unsubscribed from %s", sub.Symbol)
		}
	}
}

// Broadcast sends the payload to all subscribers of a symbol.
func (manager *WsManager) Broadcast(symbol string, payload interface{}) {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	subscribers, ok := manager.subscriptions[symbol]
	if !ok {
		return
	}
	for conn := range subscribers {
		if ch, exists := manager.sendChannels[conn]; exists {
			select {
			case ch <- payload:
			default:
				// Buffer full: drop for this slow client
			}
		}
	}
}

// PushToUser sends a message to all active connections of a specific user.
func (manager *WsManager) PushToUser(userID string, msg interface{}) {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	conns, ok := manager.userConns[userID]
	if !ok {
		return
	}
	for conn := range conns {
		if ch, exists := manager.sendChannels[conn]; exists {
			select {
			case ch <- msg:
			default:
				// Skip if buffer is full
			}
		}
	}
}

var _ domain.Notifier = (*WsManager)(nil)
