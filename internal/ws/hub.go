package ws

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"relay-service/internal/models"
	"relay-service/internal/observability"
)

// Hub owns the process-wide presence state: which sessions are live for each
// logical user. It is also the delivery fan-out point for persisted messages.
// Presence has no persistence; clients re-register on every (re)connect.
type Hub struct {
	sessions map[string]map[string]Session
	mu       sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]map[string]Session),
	}
}

// Register adds a session to its user's live set. Re-registering the same
// conn id is a no-op.
func (h *Hub) Register(s Session) {
	info := s.Info()
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[info.UserID]; !ok {
		h.sessions[info.UserID] = make(map[string]Session)
	}
	h.sessions[info.UserID][info.ConnID] = s
}

// Deregister removes a session; an emptied user bucket is removed entirely.
func (h *Hub) Deregister(s Session) {
	info := s.Info()
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.sessions[info.UserID]; ok {
		delete(conns, info.ConnID)
		if len(conns) == 0 {
			delete(h.sessions, info.UserID)
		}
	}
}

// SessionsFor returns a snapshot of the user's live sessions.
func (h *Hub) SessionsFor(userID string) []Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.sessions[userID]
	snapshot := make([]Session, 0, len(conns))
	for _, s := range conns {
		snapshot = append(snapshot, s)
	}
	return snapshot
}

// OnlineUserIDs returns a sorted snapshot of users with at least one live
// session.
func (h *Hub) OnlineUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeliverMessage pushes a persisted message to every live session of sender
// and receiver, once per session. Pushes are best effort: a dead session is
// logged, closed and dropped, and never fails the submit path. Durability
// belongs to the store; offline receivers catch up through the transcript.
func (h *Hub) DeliverMessage(msg models.Message) {
	event := models.PushEvent{Type: "message", Message: &msg}
	payload, _ := json.Marshal(event)
	for _, s := range h.deliveryTargets(msg.SenderID, msg.ReceiverID) {
		h.push(s, payload, "message")
	}
}

// DeliverDeletion notifies both parties' live sessions that a message is gone.
func (h *Hub) DeliverDeletion(msg models.Message) {
	event := models.PushEvent{Type: "delete", MessageID: msg.ID}
	payload, _ := json.Marshal(event)
	for _, s := range h.deliveryTargets(msg.SenderID, msg.ReceiverID) {
		h.push(s, payload, "delete")
	}
}

// BroadcastPresence pushes the current online-user set to every live session.
func (h *Hub) BroadcastPresence() {
	online := h.OnlineUserIDs()
	event := models.PushEvent{Type: "presence", OnlineUserIDs: online}
	payload, _ := json.Marshal(event)

	h.mu.RLock()
	snapshot := make([]Session, 0)
	for _, conns := range h.sessions {
		for _, s := range conns {
			snapshot = append(snapshot, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range snapshot {
		h.push(s, payload, "presence")
	}
}

// deliveryTargets snapshots the union of both users' sessions, deduplicated
// by conn id so a shared session (or sender==receiver) is pushed once.
func (h *Hub) deliveryTargets(senderID, receiverID string) []Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]bool)
	targets := make([]Session, 0)
	for _, userID := range []string{senderID, receiverID} {
		for connID, s := range h.sessions[userID] {
			if seen[connID] {
				continue
			}
			seen[connID] = true
			targets = append(targets, s)
		}
	}
	return targets
}

func (h *Hub) push(s Session, payload []byte, event string) {
	if err := s.Write(payload); err != nil {
		log.Printf("websocket write error: %v", err)
		s.Close()
		h.Deregister(s)
		observability.IncPush("error")
		h.publishWSError(s, event, err)
		return
	}
	observability.IncPush("ok")
}

func (h *Hub) publishWSError(s Session, event string, err error) {
	info := s.Info()
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       "ws_error",
			"push_event":  event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.relay", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("ws_error")
}
