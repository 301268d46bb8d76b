package dashboard

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Event is one message on the progress stream.
type Event struct {
	Type    string  `json:"type"` // "snapshot", "progress", "run-started", "run-resolved"
	RunID   string  `json:"runId,omitempty"`
	State   string  `json:"state,omitempty"`
	Phase   string  `json:"phase,omitempty"`
	Percent float64 `json:"percent,omitempty"`
	Queue   int     `json:"queue,omitempty"`
	Errors  int     `json:"errors,omitempty"`
	Data    string  `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Loopback only; the listener never leaves 127.0.0.1.
		return true
	},
}

// handleProgressWS upgrades the connection and registers it for
// broadcasts. The read loop exists only to notice the peer going away.
func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	s.wsMu.Lock()
	s.clients[conn] = struct{}{}
	n := len(s.clients)
	s.wsMu.Unlock()
	s.logger.Debug("websocket client connected", "clients", n)

	go func() {
		defer s.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends an event to every connected client, dropping clients
// whose writes fail.
func (s *Server) Broadcast(ev Event) {
	s.wsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.wsMu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			s.dropClient(conn)
		}
	}
}

// ProgressWriter returns an io.Writer that broadcasts whatever the
// progress renderer emits, preserving its append-only framing.
func (s *Server) ProgressWriter() *progressWriter {
	return &progressWriter{server: s}
}

type progressWriter struct {
	server *Server
}

func (p *progressWriter) Write(data []byte) (int, error) {
	p.server.Broadcast(Event{Type: "progress", Data: string(data)})
	return len(data), nil
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.wsMu.Lock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		conn.Close()
	}
	s.wsMu.Unlock()
}

func (s *Server) closeClients() {
	s.wsMu.Lock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
	s.wsMu.Unlock()
}
