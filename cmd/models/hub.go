package models

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// FeedEvent is pushed to connected clients when the feed changes. The
// original app leaned on its backend's realtime listeners for this; here the
// hub does the fan-out.
type FeedEvent struct {
	Type    string      `json:"type"` // post.created, post.liked, post.unliked, comment.created, user.followed
	PostID  uint        `json:"post_id,omitempty"`
	ActorID uint        `json:"actor_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

type ClientConnection struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	UserID uint
}

type Hub struct {
	Register   chan *ClientConnection
	Unregister chan *ClientConnection

	mu        sync.RWMutex
	clients   map[*ClientConnection]bool
	userConns map[uint][]*ClientConnection
}

func NewHub() *Hub {
	return &Hub{
		Register:   make(chan *ClientConnection),
		Unregister: make(chan *ClientConnection),
		clients:    make(map[*ClientConnection]bool),
		userConns:  make(map[uint][]*ClientConnection),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			h.userConns[client.UserID] = append(h.userConns[client.UserID], client)
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)

				conns := h.userConns[client.UserID]
				for i, conn := range conns {
					if conn == client {
						h.userConns[client.UserID] = append(conns[:i], conns[i+1:]...)
						break
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a feed event to every connected client.
func (h *Hub) Broadcast(event FeedEvent) {
	msg, err := json.Marshal(event)
	if err != nil {
		log.Printf("error marshaling feed event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.Send <- msg:
		default:
			// Slow consumer; drop the event rather than block the hub.
		}
	}
}

// NotifyUser sends a feed event to a single user's connections.
func (h *Hub) NotifyUser(userID uint, event FeedEvent) {
	msg, err := json.Marshal(event)
	if err != nil {
		log.Printf("error marshaling feed event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.userConns[userID] {
		select {
		case client.Send <- msg:
		default:
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *ClientConnection) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
