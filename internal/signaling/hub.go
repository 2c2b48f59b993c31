package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"chat-platform/internal/auth"
	"chat-platform/internal/calls"
	"chat-platform/internal/identity"
	"chat-platform/internal/presence"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

// Hub owns the gateway's WebSocket connections. Each connection is tracked
// in the presence registry under its user; frames to a user fan out to all
// of that user's connections. Delivery is at most once: a connection whose
// send buffer is full has the frame dropped.
type Hub struct {
	svc      *calls.Service
	relay    *Relay
	presence *presence.Registry
	tokens   *auth.Manager
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	id       string
	userID   string
	username string
	conn     *websocket.Conn
	send     chan []byte
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

func NewHub(svc *calls.Service, presenceReg *presence.Registry, tokens *auth.Manager, allowedOrigins []string, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		svc:      svc,
		presence: presenceReg,
		tokens:   tokens,
		log:      log,
		clients:  make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
	h.relay = NewRelay(svc.Registry(), h, log)
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// HandleWS authenticates and upgrades a connection, then serves it until
// the peer goes away.
func (h *Hub) HandleWS(c *gin.Context) {
	tok := auth.TokenFromRequest(c.Request)
	if tok == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	claims, err := h.tokens.Verify(tok, auth.TokenTypeAccess, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the response.
		h.log.Warn("ws upgrade failed", "err", err)
		return
	}

	cl := &client{
		id:       uuid.NewString(),
		userID:   claims.UserID,
		username: claims.Username,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.clients[cl.id] = cl
	h.mu.Unlock()
	h.presence.Connect(cl.userID, cl.id)
	h.log.Info("client connected", "user", cl.userID, "conn", cl.id)

	go h.writePump(cl)
	h.readLoop(c.Request.Context(), cl)

	h.presence.Disconnect(cl.id)
	h.mu.Lock()
	delete(h.clients, cl.id)
	h.mu.Unlock()
	cl.close()
	h.log.Info("client disconnected", "user", cl.userID, "conn", cl.id)
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, cl *client) {
	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("ws read failed", "user", cl.userID, "err", err)
			}
			return
		}
		frame := struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}{}
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			h.sendError(cl, "", "malformed frame")
			continue
		}
		h.dispatch(ctx, cl, frame.Event, frame.Data)
	}
}

func (h *Hub) dispatch(ctx context.Context, cl *client, event string, data json.RawMessage) {
	switch event {
	case EventCallInitiate:
		h.handleInitiate(ctx, cl, data)
	case EventCallAccept:
		h.handleAccept(ctx, cl, data)
	case EventCallReject:
		h.handleReject(ctx, cl, data)
	case EventCallEnd:
		h.handleEnd(ctx, cl, data)
	case EventCallJoin:
		h.handleJoin(cl, data)
	case EventCallMediaStatus:
		h.handleMediaStatus(cl, data)
	case EventWebRTCOffer:
		h.handleSignal(cl, SignalOffer, data)
	case EventWebRTCAnswer:
		h.handleSignal(cl, SignalAnswer, data)
	case EventWebRTCCandidate:
		h.handleSignal(cl, SignalCandidate, data)
	default:
		h.sendError(cl, event, "unknown event")
	}
}

func (h *Hub) handleInitiate(ctx context.Context, cl *client, data json.RawMessage) {
	var req struct {
		ReceiverID json.RawMessage `json:"receiverId"`
		CallType   calls.CallType  `json:"callType"`
		Metadata   string          `json:"metadata"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(cl, EventCallInitiate, "malformed payload")
		return
	}

	call, err := h.svc.Initiate(ctx, cl.userID, rawIdentity(req.ReceiverID), req.CallType, req.Metadata)
	if err != nil {
		h.sendError(cl, EventCallInitiate, errorMessage(err))
		return
	}

	h.sendTo(cl, Envelope{Event: EventCallInitiated, Data: call})
	h.NotifyIncoming(call, cl.userID, cl.username)
}

// NotifyIncoming rings the receiver's devices for a freshly created call.
// Also used by the REST surface, which has no connection of its own.
func (h *Hub) NotifyIncoming(call calls.Call, callerID, callerName string) {
	h.SendToUser(call.ReceiverID, Envelope{Event: EventCallIncoming, Data: gin.H{
		"callId": call.CallID,
		"call":   call,
		"caller": gin.H{"id": callerID, "username": callerName},
	}})
	h.svc.MarkRinging(context.Background(), call.CallID)
}

func (h *Hub) handleAccept(ctx context.Context, cl *client, data json.RawMessage) {
	var req struct {
		CallID string `json:"callId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(cl, EventCallAccept, "malformed payload")
		return
	}

	call, err := h.svc.Accept(ctx, cl.userID, req.CallID)
	if err != nil {
		h.sendError(cl, EventCallAccept, errorMessage(err))
		return
	}

	env := Envelope{Event: EventCallAccepted, Data: call}
	h.SendToUser(call.CallerID, env)
	h.SendToUser(call.ReceiverID, env)
}

func (h *Hub) handleReject(ctx context.Context, cl *client, data json.RawMessage) {
	var req struct {
		CallID string `json:"callId"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(cl, EventCallReject, "malformed payload")
		return
	}

	call, err := h.svc.Reject(ctx, cl.userID, req.CallID, req.Reason)
	if err != nil {
		h.sendError(cl, EventCallReject, errorMessage(err))
		return
	}

	h.SendToUser(call.CallerID, Envelope{Event: EventCallRejected, Data: gin.H{
		"callId": call.CallID,
		"reason": call.FailureReason,
	}})
}

func (h *Hub) handleEnd(ctx context.Context, cl *client, data json.RawMessage) {
	var req struct {
		CallID string `json:"callId"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(cl, EventCallEnd, "malformed payload")
		return
	}

	call, err := h.svc.End(ctx, cl.userID, req.CallID, req.Reason)
	if err != nil {
		h.sendError(cl, EventCallEnd, errorMessage(err))
		return
	}

	env := Envelope{Event: EventCallEnded, Data: gin.H{
		"callId":   call.CallID,
		"endedBy":  cl.userID,
		"duration": call.DurationSeconds,
		"reason":   call.FailureReason,
	}}
	h.SendToUser(call.CallerID, env)
	h.SendToUser(call.ReceiverID, env)
}

// handleJoin marks the joiner ready and exchanges presence with the other
// participants.
func (h *Hub) handleJoin(cl *client, data json.RawMessage) {
	var req struct {
		CallID           string `json:"callId"`
		MediaConstraints *struct {
			Audio *bool `json:"audio"`
			Video *bool `json:"video"`
		} `json:"mediaConstraints"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(cl, EventCallJoin, "malformed payload")
		return
	}

	active, ok := h.svc.ActiveCall(req.CallID)
	if !ok {
		h.sendError(cl, EventCallJoin, errorMessage(calls.ErrCallNotFound))
		return
	}
	if _, ok := active.Participant(cl.userID); !ok {
		h.sendError(cl, EventCallJoin, errorMessage(calls.ErrUnauthorized))
		return
	}

	h.svc.UpdateParticipantStatus(req.CallID, cl.userID, true)
	if mc := req.MediaConstraints; mc != nil {
		h.svc.UpdateMediaStatus(req.CallID, cl.userID, mc.Audio, mc.Video)
	}

	snapshot, _ := h.svc.ActiveCall(req.CallID)
	h.sendTo(cl, Envelope{Event: EventCallJoined, Data: snapshot})

	joined, _ := snapshot.Participant(cl.userID)
	for _, p := range snapshot.Participants {
		if p.UserID == cl.userID {
			continue
		}
		h.SendToUser(p.UserID, Envelope{Event: EventCallParticipantJoined, Data: gin.H{
			"callId": req.CallID,
			"userId": cl.userID,
			"media":  joined.Media,
		}})
	}
}

func (h *Hub) handleMediaStatus(cl *client, data json.RawMessage) {
	var req struct {
		CallID string `json:"callId"`
		Audio  *bool  `json:"audio"`
		Video  *bool  `json:"video"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(cl, EventCallMediaStatus, "malformed payload")
		return
	}

	h.svc.UpdateMediaStatus(req.CallID, cl.userID, req.Audio, req.Video)

	active, ok := h.svc.ActiveCall(req.CallID)
	if !ok {
		return
	}
	p, ok := active.Participant(cl.userID)
	if !ok {
		return
	}
	if other, ok := active.Other(cl.userID); ok {
		h.SendToUser(other, Envelope{Event: EventCallMediaUpdated, Data: gin.H{
			"callId": req.CallID,
			"userId": cl.userID,
			"media":  p.Media,
		}})
	}
}

func (h *Hub) handleSignal(cl *client, kind SignalKind, data json.RawMessage) {
	var req struct {
		CallID string          `json:"callId"`
		Target json.RawMessage `json:"targetUserId"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(cl, kind.event(), "malformed payload")
		return
	}

	if err := h.relay.Forward(kind, req.CallID, cl.userID, rawIdentity(req.Target), req.Data); err != nil {
		h.sendError(cl, kind.event(), errorMessage(err))
	}
}

// SendToUser fans an envelope out to every live connection of the user.
// Connections with a full buffer have the frame dropped.
func (h *Hub) SendToUser(userID string, env Envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		h.log.Error("marshal frame", "event", env.Event, "err", err)
		return
	}
	for _, connID := range h.presence.ConnectionsOf(userID) {
		h.mu.RLock()
		cl, ok := h.clients[connID]
		h.mu.RUnlock()
		if !ok {
			continue
		}
		select {
		case cl.send <- msg:
		default:
			h.log.Warn("send buffer full, frame dropped", "user", userID, "conn", connID, "event", env.Event)
		}
	}
}

// NotifyReaped broadcasts a call:ended frame to the participants of a
// force-failed call. Wired as the reaper's OnReaped callback.
func (h *Hub) NotifyReaped(call calls.Call, participants []calls.Participant, cause string) {
	env := Envelope{Event: EventCallEnded, Data: gin.H{
		"callId": call.CallID,
		"reason": cause,
		"status": calls.CallStatusFailed,
	}}
	if len(participants) == 0 {
		h.SendToUser(call.CallerID, env)
		h.SendToUser(call.ReceiverID, env)
		return
	}
	for _, p := range participants {
		h.SendToUser(p.UserID, env)
	}
}

func (h *Hub) sendTo(cl *client, env Envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		h.log.Error("marshal frame", "event", env.Event, "err", err)
		return
	}
	select {
	case cl.send <- msg:
	default:
		h.log.Warn("send buffer full, frame dropped", "user", cl.userID, "conn", cl.id, "event", env.Event)
	}
}

func (h *Hub) sendError(cl *client, event, message string) {
	h.sendTo(cl, Envelope{Event: EventCallError, Data: gin.H{
		"message": message,
		"event":   event,
	}})
}

// rawIdentity converts an optional JSON field into a value the identity
// resolver accepts. Absent fields and explicit null both map to nil so
// the relay falls back to the implicit other-participant target.
func rawIdentity(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, identity.ErrMalformedIdentity):
		return "malformed user identity"
	case errors.Is(err, calls.ErrSelfCall):
		return "cannot call yourself"
	case errors.Is(err, calls.ErrAlreadyActive):
		return "user already in an active call"
	case errors.Is(err, calls.ErrReceiverUnavailable):
		return "receiver is not connected"
	case errors.Is(err, calls.ErrCallNotFound):
		return "call not found"
	case errors.Is(err, calls.ErrUnauthorized):
		return "not allowed for this call"
	case errors.Is(err, calls.ErrInvalidState):
		return "call is not in a state that allows this"
	case errors.Is(err, ErrNotParticipant):
		return "not a participant of this call"
	case errors.Is(err, ErrNoTarget):
		return "no target participant"
	case errors.Is(err, calls.ErrStorageUnavailable):
		return "temporary storage failure"
	default:
		return "internal error"
	}
}
