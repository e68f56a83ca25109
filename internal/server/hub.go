package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is meant to be reachable from any local origin
	},
}

// hubClient owns one dashboard websocket connection's outbound queue, so a
// single stalled browser tab can't block the broadcast of live solver
// progress to every other connected tab — writes go through this client's
// own goroutine and buffered channel rather than the hub writing to every
// socket in turn.
type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *hubClient) writeLoop() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Hub maintains the set of connected dashboard websocket clients and
// broadcasts whatever JSON payload Broadcast is given (the server's
// periodic stats snapshots) to all of them.
type Hub struct {
	mu         sync.Mutex
	clients    map[*hubClient]bool
	register   chan *hubClient
	unregister chan *hubClient
	broadcast  chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*hubClient]bool),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		broadcast:  make(chan []byte, 256),
	}
}

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

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// c's queue is already full; drop it rather than let
					// one stalled tab back up stats for everyone else.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Subscribe upgrades a dashboard HTTP request to a websocket stream.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("server: failed to upgrade dashboard websocket: %v", err)
		return
	}

	client := &hubClient{conn: conn, send: make(chan []byte, 16)}
	h.register <- client

	go client.writeLoop()
	go h.readLoop(client)
}

// readLoop only exists to detect the client going away: the dashboard
// never sends anything over this socket.
func (h *Hub) readLoop(c *hubClient) {
	defer func() { h.unregister <- c }()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast pushes a JSON payload to every connected dashboard client.
func (h *Hub) Broadcast(data []byte) {
	h.broadcast <- data
}
