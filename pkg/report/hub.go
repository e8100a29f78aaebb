package report

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/detection-plane/internal/metrics"
)

const (
	hubPingInterval = 30 * time.Second
	hubWriteTimeout = 10 * time.Second
)

// Hub broadcasts events to WebSocket subscribers. Each client gets a
// buffered channel and its own writer goroutine; a client too slow to
// drain its buffer is dropped rather than allowed to stall the rest.
type Hub struct {
	log    *logger.Handler
	metric *metrics.Handler
	buffer int

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan *Event
}

// NewHub creates the stream hub.
func NewHub(buffer int, log *logger.Handler, metric *metrics.Handler) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		log:     log,
		metric:  metric,
		buffer:  buffer,
		clients: make(map[*hubClient]struct{}),
	}
}

// Serve registers a connection and writes events to it until the
// client disconnects, falls behind, or the hub closes. Blocks for the
// connection's lifetime; ownership of conn transfers to the hub.
func (h *Hub) Serve(conn *websocket.Conn) {
	client := &hubClient{
		conn: conn,
		send: make(chan *Event, h.buffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.metric.StreamClients.Inc()
	h.log.Info().Msg("findings stream subscriber connected")

	// Discard inbound frames so control messages are processed and a
	// closing client is noticed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(client)
				return
			}
		}
	}()

	ping := time.NewTicker(hubPingInterval)
	defer ping.Stop()
	defer h.drop(client)

	for {
		select {
		case event, ok := <-client.send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.log.Warn().Err(err).Msg("findings stream write failed")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast fans an event out to every subscriber. Never blocks: a
// full client buffer drops that client.
func (h *Hub) Broadcast(event *Event) {
	h.mu.Lock()
	stale := make([]*hubClient, 0)
	for client := range h.clients {
		select {
		case client.send <- event:
		default:
			stale = append(stale, client)
		}
	}
	h.mu.Unlock()

	for _, client := range stale {
		h.log.Warn().Msg("findings stream subscriber too slow, dropping")
		h.drop(client)
	}
}

// Subscribers reports the current client count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.closed = true
	h.mu.Unlock()

	for _, client := range clients {
		h.drop(client)
	}
}

func (h *Hub) drop(client *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	h.mu.Unlock()

	h.metric.StreamClients.Dec()
	close(client.send)
	client.conn.Close()
}
