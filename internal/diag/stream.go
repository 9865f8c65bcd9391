package diag

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// client is one websocket subscriber. Messages go through a buffered
// channel drained by a writer goroutine; a client that falls a full buffer
// behind is dropped.
type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer), done: make(chan struct{})}

	s.mu.Lock()
	backlog := make([]Event, len(s.events))
	copy(backlog, s.events)
	stats := s.stats
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.log.Debug().Int("clients", n).Str("remote", r.RemoteAddr).Msg("stream client connected")

	// Catch the client up with the current state before live updates.
	if over := len(backlog) - clientBuffer/2; over > 0 {
		backlog = backlog[over:]
	}
	if stats != nil {
		s.enqueue(c, envelope{Type: "stats", Stats: stats})
	}
	for i := range backlog {
		s.enqueue(c, envelope{Type: "event", Event: &backlog[i]})
	}

	go s.writePump(c)
	s.readPump(c)
}

// readPump discards inbound messages and notices the disconnect.
func (s *Server) readPump(c *client) {
	defer s.drop(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.drop(c)
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.Debug().Err(err).Msg("stream write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) enqueue(c *client, env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		s.log.Warn().Err(err).Str("type", env.Type).Msg("encode stream message")
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		s.log.Warn().Msg("stream client too slow, dropping")
		s.drop(c)
	}
}

func (s *Server) broadcast(env envelope) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.enqueue(c, env)
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
	if ok {
		s.log.Debug().Msg("stream client disconnected")
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.drop(c)
	}
}
