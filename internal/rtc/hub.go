package rtc

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/telecare-coordinator/internal/metrics"
	"github.com/carelink/telecare-coordinator/internal/scheduling"
)

const lookupTimeout = 5 * time.Second

// AppointmentSource is the slice of the scheduler the hub needs for join
// authorization. *scheduling.Service satisfies it.
type AppointmentSource interface {
	Get(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

type member struct {
	client *Client
	role   scheduling.Role
	name   string
}

// room holds the live membership for one appointment. Keyed by identity, so a
// rejoin by the same identity supersedes its earlier connection and the two
// appointment parties are the only possible members.
type room struct {
	members map[uuid.UUID]*member
}

// Hub owns every active room. One mutex guards the room map and membership
// mutation; frame delivery goes through per-client buffered channels and
// never happens under the lock.
type Hub struct {
	appts   AppointmentSource
	metrics *metrics.Collector

	mu    sync.Mutex
	rooms map[uuid.UUID]*room
}

func NewHub(appts AppointmentSource, collector *metrics.Collector) *Hub {
	return &Hub{
		appts:   appts,
		metrics: collector,
		rooms:   make(map[uuid.UUID]*room),
	}
}

// Join authorizes c against the appointment record and, on success, adds it
// to the appointment's room and notifies the other member. Denial leaves the
// connection open and membership untouched.
func (h *Hub) Join(c *Client, appointmentID string) {
	roomID, err := uuid.Parse(appointmentID)
	if err != nil {
		c.sendError(ReasonBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	appt, err := h.appts.Get(ctx, roomID)
	cancel()
	if err != nil {
		h.metrics.RecordJoinDenied(ReasonNotFound)
		c.sendError(ReasonNotFound)
		return
	}

	if !appt.IsParticipant(c.identity.ID) || appt.Status == scheduling.StatusCancelled {
		h.metrics.RecordJoinDenied(ReasonNotAuthorized)
		c.sendError(ReasonNotAuthorized)
		return
	}

	role := appt.RoleOf(c.identity.ID)

	h.mu.Lock()

	// A connection sits in at most one room; joining another implies leaving.
	prevPeers := h.removeLocked(c)

	rm, ok := h.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[uuid.UUID]*member)}
		h.rooms[roomID] = rm
		h.metrics.RoomOpened()
	}

	var superseded *Client
	if prev, ok := rm.members[c.identity.ID]; ok {
		superseded = prev.client
		superseded.roomID = uuid.Nil
	}

	rm.members[c.identity.ID] = &member{client: c, role: role, name: c.identity.DisplayName}
	c.roomID = roomID

	peers := make([]PeerInfo, 0, len(rm.members)-1)
	others := make([]*Client, 0, len(rm.members)-1)
	for id, m := range rm.members {
		if id == c.identity.ID {
			continue
		}
		peers = append(peers, PeerInfo{Identity: id.String(), DisplayName: m.name, Role: string(m.role)})
		others = append(others, m.client)
	}

	h.mu.Unlock()

	if len(prevPeers) > 0 {
		left := Envelope{Kind: KindPeerLeft, Identity: c.identity.ID.String()}
		for _, peer := range prevPeers {
			peer.sendEnvelope(left)
		}
	}

	if superseded != nil && superseded != c {
		superseded.shutdown()
	}

	joined := Envelope{
		Kind:        KindPeerJoined,
		Identity:    c.identity.ID.String(),
		DisplayName: c.identity.DisplayName,
		Role:        string(role),
	}
	for _, peer := range others {
		peer.sendEnvelope(joined)
	}

	c.sendEnvelope(Envelope{
		Kind:   KindRoomJoined,
		RoomID: roomID.String(),
		Peers:  peers,
	})
}

// Relay fans payload out to every member of roomID except the sender. A
// sender that is not a member, or a room with no other members, is a silent
// no-op mirroring best-effort delivery.
func (h *Hub) Relay(c *Client, roomIDRaw string, kind Kind, payload json.RawMessage) {
	roomID, err := uuid.Parse(roomIDRaw)
	if err != nil {
		return
	}

	h.mu.Lock()
	rm, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	self, ok := rm.members[c.identity.ID]
	if !ok || self.client != c {
		h.mu.Unlock()
		return
	}

	recipients := make([]*Client, 0, len(rm.members)-1)
	for id, m := range rm.members {
		if id == c.identity.ID {
			continue
		}
		recipients = append(recipients, m.client)
	}
	h.mu.Unlock()

	if len(recipients) == 0 {
		return
	}

	out := Envelope{
		Kind:    kind,
		RoomID:  roomID.String(),
		Payload: payload,
		From:    c.identity.ID.String(),
	}
	frame, err := json.Marshal(out)
	if err != nil {
		log.Printf("marshal relay frame: %v", err)
		return
	}

	for _, peer := range recipients {
		peer.enqueue(frame)
	}
	h.metrics.RecordRelay(string(kind))
}

// Leave handles an explicit leave-room message.
func (h *Hub) Leave(c *Client) {
	h.purge(c)
}

// Disconnect is invoked by the read pump when the transport closes, covering
// both clean closes and heartbeat failure. Identical to an explicit leave.
func (h *Hub) Disconnect(c *Client) {
	h.purge(c)
}

func (h *Hub) purge(c *Client) {
	h.mu.Lock()
	remaining := h.removeLocked(c)
	h.mu.Unlock()

	if remaining == nil {
		return
	}

	left := Envelope{Kind: KindPeerLeft, Identity: c.identity.ID.String()}
	for _, peer := range remaining {
		peer.sendEnvelope(left)
	}
}

// removeLocked detaches c from its room, deletes the room when it empties,
// and returns the members to notify. A superseded connection no longer owns
// its identity's membership and is skipped. Callers hold h.mu.
func (h *Hub) removeLocked(c *Client) []*Client {
	if c.roomID == uuid.Nil {
		return nil
	}

	roomID := c.roomID
	c.roomID = uuid.Nil

	rm, ok := h.rooms[roomID]
	if !ok {
		return nil
	}

	entry, ok := rm.members[c.identity.ID]
	if !ok || entry.client != c {
		return nil
	}

	delete(rm.members, c.identity.ID)

	if len(rm.members) == 0 {
		delete(h.rooms, roomID)
		h.metrics.RoomClosed()
		return nil
	}

	remaining := make([]*Client, 0, len(rm.members))
	for _, m := range rm.members {
		remaining = append(remaining, m.client)
	}
	return remaining
}
