package rtc

import "encoding/json"

type Kind string

// Inbound message kinds.
const (
	KindJoinRoom     Kind = "join-room"
	KindLeaveRoom    Kind = "leave-room"
	KindOffer        Kind = "negotiation-offer"
	KindAnswer       Kind = "negotiation-answer"
	KindICECandidate Kind = "connectivity-candidate"
)

// Outbound message kinds. Offer/answer/candidate envelopes go back out under
// their inbound kind with a from field added.
const (
	KindRoomJoined Kind = "room-joined"
	KindPeerJoined Kind = "peer-joined"
	KindPeerLeft   Kind = "peer-left"
	KindError      Kind = "error"
)

// Error reasons surfaced to real-time callers.
const (
	ReasonNotFound      = "not-found"
	ReasonNotAuthorized = "not-authorized"
	ReasonBadRequest    = "bad-request"
)

// Envelope is the single JSON frame exchanged over a connection. Fields are
// populated per kind; Payload is opaque and forwarded untouched.
type Envelope struct {
	Kind          Kind            `json:"kind"`
	AppointmentID string          `json:"appointment_id,omitempty"`
	RoomID        string          `json:"room_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	From          string          `json:"from,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Identity      string          `json:"identity,omitempty"`
	DisplayName   string          `json:"display_name,omitempty"`
	Role          string          `json:"role,omitempty"`
	Peers         []PeerInfo      `json:"peers,omitempty"`
}

// PeerInfo describes a current room member to a joining connection.
type PeerInfo struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

func isRelayKind(k Kind) bool {
	switch k {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}
