// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// hubSendQueueSize bounds each client's outbound buffer; a slow reader
// only misses the snapshots broadcast while its own buffer is full, the
// same per-subscriber skip policy internal/eventbus uses.
const hubSendQueueSize = 4

// Snapshot is the WebSocket broadcast payload: a state-sync snapshot
// carrying the project snapshot (opaque, owned by the editor UI
// collaborator), active agents, trust scores, and the current control
// mode (spec.md §6.4).
type Snapshot struct {
	Tick            int64             `json:"tick"`
	ProjectSnapshot any               `json:"projectSnapshot,omitempty"`
	ActiveAgents    []string          `json:"activeAgents"`
	TrustScores     []TrustScoreEntry `json:"trustScores"`
	ControlMode     string            `json:"controlMode"`
}

// TrustScoreEntry is one agent's current global trust score.
type TrustScoreEntry struct {
	AgentID string `json:"agentId"`
	Score   int    `json:"score"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan Snapshot
}

// Hub tracks connected WebSocket clients and fans a Snapshot out to
// all of them on Broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*hubClient
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*hubClient)}
}

// HandleWebSocket upgrades the connection and registers it for future
// broadcasts. It blocks for the life of the connection, reading (and
// discarding) client frames only to detect disconnects.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &hubClient{id: uuid.New().String(), conn: conn, send: make(chan Snapshot, hubSendQueueSize)}
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) writePump(client *hubClient) {
	defer client.conn.Close()
	for snap := range client.send {
		if err := client.conn.WriteJSON(snap); err != nil {
			return
		}
	}
}

// readPump drains incoming frames until the client disconnects, then
// unregisters it. State-sync is broadcast-only; client messages are
// not interpreted.
func (h *Hub) readPump(client *hubClient) {
	defer h.unregister(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) unregister(client *hubClient) {
	h.mu.Lock()
	delete(h.clients, client.id)
	h.mu.Unlock()
	close(client.send)
}

// Broadcast fans a Snapshot out to every connected client. A client
// whose send buffer is full is skipped for this publication rather
// than blocking the broadcaster.
func (h *Hub) Broadcast(snap Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- snap:
		default:
		}
	}
}

// ClientCount returns the number of currently connected clients, for
// tests and operator tooling.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
