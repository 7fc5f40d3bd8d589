package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"appfuel/mvc"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// callRequest is one dispatch sent over the socket
type callRequest struct {
	ID     string                 `json:"id,omitempty"`
	URI    string                 `json:"uri"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type callResponse struct {
	ID     string          `json:"id,omitempty"`
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

func newHub() *hub {
	return &hub{clients: make(map[*wsClient]struct{})}
}

func (h *hub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// serveWebSocket upgrades the connection. Every text message is a
// callRequest dispatched through the front with the acl codes of the
// upgrade request; the answer is a callResponse with the same id.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already answered
		s.logger.Warnw("WebSocket upgrade failed", "request_id", RequestID(r.Context()), "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBufferSize), done: make(chan struct{})}
	if !s.hub.add(c) {
		_ = conn.Close()
		return
	}
	s.logger.Debugw("WebSocket client connected", "request_id", RequestID(r.Context()), "clients", s.hub.count())

	// the request context ends when the handler returns
	ctx := mvc.WithAclCodes(context.Background(), mvc.AclCodes(r.Context()))
	go s.writePump(c)
	go s.readPump(ctx, c)
}

func (s *Server) readPump(ctx context.Context, c *wsClient) {
	defer func() {
		s.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warnw("WebSocket read failed", "error", err)
			}
			return
		}
		out, err := json.Marshal(s.handleCall(ctx, msg))
		if err != nil {
			s.logger.Errorw("Failed to encode websocket response", "error", err)
			continue
		}
		select {
		case c.send <- out:
		case <-c.done:
			return
		}
	}
}

func (s *Server) handleCall(ctx context.Context, msg []byte) callResponse {
	var req callRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return callResponse{Status: http.StatusBadRequest, Error: "invalid request"}
	}
	if strings.TrimSpace(req.URI) == "" {
		return callResponse{ID: req.ID, Status: http.StatusBadRequest, Error: "uri is required"}
	}
	status, body, err := s.front.Call(ctx, req.URI, req.Params)
	if err != nil {
		s.logger.Warnw("WebSocket dispatch failed", "uri", req.URI, "status", status, "error", err)
		return callResponse{ID: req.ID, Status: status, Error: mvc.PublicMessage(status, err)}
	}
	return callResponse{ID: req.ID, Status: status, Data: body}
}

func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
