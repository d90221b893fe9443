package web

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"nhooyr.io/websocket"

	"smartweb-monitor/internal/ecs"
	"smartweb-monitor/internal/monitor"
)

// EventSnapshot is the first message a websocket client receives.
const EventSnapshot = "snapshot"

type snapshotData struct {
	Status  statusResponse `json:"status"`
	Devices []*ecs.Device  `json:"devices"`
	Cameras []*ecs.Camera  `json:"cameras"`
}

// WSHub fans monitor events out to websocket clients.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan any

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	// types limits delivery to these event types; nil means everything.
	types map[string]bool
}

func (c *wsClient) wants(eventType string) bool {
	return c.types == nil || eventType == "" || c.types[eventType]
}

func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger.With("component", "ws"),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan any, 256),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until Stop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c, "disconnected")
		case msg := <-h.broadcast:
			h.fanout(msg)
		}
	}
}

func (h *WSHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", "clients", n)
}

// remove drops c and closes its queue. Unknown clients are ignored.
func (h *WSHub) remove(c *wsClient, why string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("client "+why, "clients", n)
	}
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// fanout queues msg for every interested client. A client whose queue is
// full is evicted rather than allowed to stall the others.
func (h *WSHub) fanout(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal event", "err", err)
		return
	}
	var eventType string
	if ev, ok := msg.(monitor.Event); ok {
		eventType = ev.Type
	}

	h.mu.RLock()
	var slow []*wsClient
	for c := range h.clients {
		if !c.wants(eventType) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("evicting slow client", "event", eventType)
		h.remove(c, "evicted")
	}
}

// Stop shuts the hub down. Safe to call more than once.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues msg without blocking; when the queue is full msg is
// dropped.
func (h *WSHub) Broadcast(msg any) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping message")
	}
}

// parseEventTypes reads ?types=a,b into a filter. Empty means no filter.
func parseEventTypes(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	types := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = true
		}
	}
	if len(types) == 0 {
		return nil
	}
	return types
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	c, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	c.SetReadLimit(4096)

	client := &wsClient{
		conn:  c,
		send:  make(chan []byte, 64),
		types: parseEventTypes(r.URL.Query().Get("types")),
	}
	// The snapshot is queued before registering so it always arrives first.
	if data, err := json.Marshal(s.snapshotEvent()); err == nil {
		client.send <- data
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		c.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	go s.wsWriter(ctx, client)
	s.wsReader(ctx, client)
}

func (s *Server) wsWriter(ctx context.Context, client *wsClient) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				client.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := client.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := client.conn.Ping(pctx)
			cancel()
			if err != nil {
				s.logger.Debug("ws ping failed", "err", err)
				client.conn.Close(websocket.StatusPolicyViolation, "ping timeout")
				return
			}
		}
	}
}

// wsReader discards inbound messages; it only notices the peer going away.
func (s *Server) wsReader(ctx context.Context, client *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- client:
		case <-s.wsHub.done:
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()
	for {
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (s *Server) snapshotEvent() monitor.Event {
	engine := s.mon.Engine()
	return monitor.Event{Type: EventSnapshot, Data: snapshotData{
		Status:  s.statusSnapshot(),
		Devices: engine.Devices(),
		Cameras: nonNil(engine.UniqueCameras()),
	}}
}
