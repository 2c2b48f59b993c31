package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"chat-platform/internal/auth"
	"chat-platform/internal/calls"
	"chat-platform/internal/identity"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth  *auth.Manager
	Calls *calls.Service

	// Notify rings the receiver's live connections after a REST-initiated
	// call. Nil when no realtime gateway is wired (tests).
	Notify IncomingNotifier
}

// IncomingNotifier pushes an incoming-call notification over the realtime
// gateway. Implemented by signaling.Hub.
type IncomingNotifier interface {
	NotifyIncoming(call calls.Call, callerID, callerName string)
}

// Every response uses the same envelope so clients branch on one shape.
func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, gin.H{
		"success": status < 400,
		"message": message,
		"data":    data,
	})
}

func respondErr(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusForErr(err), gin.H{
		"success": false,
		"message": publicMessage(err),
		"data":    nil,
	})
}

func statusForErr(err error) int {
	switch {
	case errors.Is(err, identity.ErrMalformedIdentity),
		errors.Is(err, calls.ErrSelfCall):
		return http.StatusBadRequest
	case errors.Is(err, calls.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, calls.ErrCallNotFound):
		return http.StatusNotFound
	case errors.Is(err, calls.ErrAlreadyActive),
		errors.Is(err, calls.ErrReceiverUnavailable),
		errors.Is(err, calls.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, calls.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
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
	case errors.Is(err, calls.ErrStorageUnavailable):
		return "temporary storage failure"
	default:
		return "internal error"
	}
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		respond(c, http.StatusInternalServerError, "auth not configured", nil)
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "invalid json", nil)
		return
	}
	if req.UserID == "" {
		respond(c, http.StatusBadRequest, "user_id required", nil)
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Username)
	if err != nil {
		respond(c, http.StatusInternalServerError, "token issuance failed", nil)
		return
	}
	respond(c, http.StatusOK, "tokens issued", gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

// --- Calls ---

type initiateCallRequest struct {
	// ReceiverID stays raw: clients send a bare id, a serialized object or
	// an expanded profile; the resolver sorts it out.
	ReceiverID json.RawMessage `json:"receiverId"`
	CallType   calls.CallType  `json:"callType"`
	Metadata   string          `json:"metadata"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		respond(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "invalid json", nil)
		return
	}
	if len(req.ReceiverID) == 0 {
		respond(c, http.StatusBadRequest, "receiverId required", nil)
		return
	}

	call, err := h.Calls.Initiate(c.Request.Context(), userID, req.ReceiverID, req.CallType, req.Metadata)
	if err != nil {
		respondErr(c, err)
		return
	}
	if h.Notify != nil {
		h.Notify.NotifyIncoming(call, userID, auth.Username(c.Request.Context()))
	}
	respond(c, http.StatusCreated, "call initiated", call)
}

func (h Handlers) AcceptCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		respond(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	call, err := h.Calls.Accept(c.Request.Context(), userID, c.Param("call_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, "call accepted", call)
}

type terminalCallRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) RejectCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		respond(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	var req terminalCallRequest
	// Body is optional; a bare PUT rejects without a reason.
	_ = c.ShouldBindJSON(&req)

	call, err := h.Calls.Reject(c.Request.Context(), userID, c.Param("call_id"), req.Reason)
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, "call rejected", call)
}

func (h Handlers) EndCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		respond(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	var req terminalCallRequest
	_ = c.ShouldBindJSON(&req)

	call, err := h.Calls.End(c.Request.Context(), userID, c.Param("call_id"), req.Reason)
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, "call ended", call)
}

func (h Handlers) CallHistory(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		respond(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	records, err := h.Calls.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, "call history", gin.H{
		"calls": records,
		"pagination": gin.H{
			"limit":  limit,
			"offset": offset,
			"count":  len(records),
		},
	})
}

func (h Handlers) ActiveCalls(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		respond(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	records, err := h.Calls.UserActiveCalls(c.Request.Context(), userID)
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, "active calls", records)
}

func (h Handlers) CallStatistics(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		respond(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	stats, err := h.Calls.Statistics(c.Request.Context(), userID)
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, "call statistics", stats)
}

// CallDetails returns the durable record; participants may fetch a call in
// any state, including terminal ones.
func (h Handlers) CallDetails(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		respond(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	call, err := h.Calls.CallForUser(c.Request.Context(), userID, c.Param("call_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, "call details", call)
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
