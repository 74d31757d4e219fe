// Package statusfeed implements the optional websocket status broadcaster
// collaborator: pushes phase/replication-lag snapshots to connected
// clients. Adapted from teacher internal/server/websocket.go's Hub, which
// broadcast metrics.Snapshot over the same library; here the Hub is driven
// by explicit Publish calls from the `status` command's watch loop instead of
// a metrics.Collector subscription, since this domain has no background
// metrics collector.
package statusfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/serenorg/pgreplicator/internal/orchestrator"
)

// Snapshot is one broadcastable status update.
type Snapshot struct {
	Phase       string                        `json:"phase"`
	Databases   []orchestrator.DatabaseStatus `json:"databases"`
	AllCaughtUp bool                          `json:"all_caught_up"`
	Timestamp   time.Time                     `json:"timestamp"`
}

// Hub manages websocket clients and broadcasts Snapshot updates published
// by the caller.
type Hub struct {
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    *Snapshot
}

type wsClient struct {
	conn *websocket.Conn
}

// New creates a Hub.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "statusfeed").Logger(),
		clients: make(map[*wsClient]struct{}),
	}
}

// Publish broadcasts snap to every connected client and caches it as the
// initial snapshot for clients that connect afterward.
func (h *Hub) Publish(snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		h.logger.Err(err).Msg("marshal status snapshot")
		return
	}

	h.mu.Lock()
	h.last = &snap
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.remove(c)
		}
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug().Int("clients", len(h.clients)).Msg("status client connected")
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
	h.mu.Unlock()
}

// ServeHTTP accepts a websocket connection and streams snapshots to it
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Err(err).Msg("status ws accept")
		return
	}

	client := &wsClient{conn: conn}
	h.add(client)

	h.mu.Lock()
	last := h.last
	h.mu.Unlock()
	if last != nil {
		if data, err := json.Marshal(last); err == nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, data)
			cancel()
		}
	}

	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			h.remove(client)
			return
		}
	}
}
