// Package signaling carries call control and WebRTC negotiation frames
// between the participants of an active call over WebSocket connections.
package signaling

// Client-to-server events.
const (
	EventCallInitiate    = "call:initiate"
	EventCallAccept      = "call:accept"
	EventCallReject      = "call:reject"
	EventCallEnd         = "call:end"
	EventCallJoin        = "call:join"
	EventCallMediaStatus = "call:media-status"

	EventWebRTCOffer     = "webrtc:offer"
	EventWebRTCAnswer    = "webrtc:answer"
	EventWebRTCCandidate = "webrtc:ice-candidate"
)

// Server-to-client events.
const (
	EventCallIncoming          = "call:incoming"
	EventCallInitiated         = "call:initiated"
	EventCallAccepted          = "call:accepted"
	EventCallRejected          = "call:rejected"
	EventCallEnded             = "call:ended"
	EventCallJoined            = "call:joined"
	EventCallParticipantJoined = "call:participant-joined"
	EventCallMediaUpdated      = "call:media-status-changed"
	EventCallError             = "call:error"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}
