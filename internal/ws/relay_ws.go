package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"relay-service/internal/observability"
)

// RelayWebSocketHandler handles relay websocket connections.
type RelayWebSocketHandler struct {
	hub *Hub
}

// NewRelayWebSocketHandler constructs a RelayWebSocketHandler.
func NewRelayWebSocketHandler(hub *Hub) *RelayWebSocketHandler {
	return &RelayWebSocketHandler{hub: hub}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the session for its user.
// Identities are pre-validated upstream; the user id arrives as a query
// parameter on the handshake.
func (h *RelayWebSocketHandler) Handle(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	ctx, span := otel.Tracer("relay-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	session := NewSession(conn, info)
	h.hub.Register(session)
	h.hub.BroadcastPresence()

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycleEvent(ctx, info, "ws_connect", "")

	// Keep connection alive and clean on close. Deregistering immediately
	// revokes the session's eligibility for further pushes.
	go func() {
		var closeReason string
		defer func() {
			h.hub.Deregister(session)
			h.hub.BroadcastPresence()
			observability.DecWSActive()
			observability.IncWSEvent("ws_disconnect")
			h.publishLifecycleEvent(ctx, info, "ws_disconnect", closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("ws_error")
					h.publishLifecycleEvent(ctx, info, "ws_error", closeReason)
				}
				return
			}
		}
	}()
}

func (h *RelayWebSocketHandler) publishLifecycleEvent(ctx context.Context, info ConnInfo, event, reason string) {
	_ = observability.PublishEvent(ctx, "ws_events.relay", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
