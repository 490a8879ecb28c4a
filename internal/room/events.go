package room

import "github.com/ubl-proto/ubl/internal/models"

// Event names on a room stream.
const (
	EventMessageCreated = "message.created"
	EventRoomGap        = "room.gap"
	EventRoomCreated    = "room.created"
	EventMemberJoined   = "room.member_joined"
)

// Event is one frame on a room stream. ID is the room_seq for message events
// and zero for events without a timeline position.
type Event struct {
	ID   int64  `json:"-"`
	Name string `json:"-"`
	Data any    `json:"-"`
}

// GapData tells a reconnecting client that part of its requested range fell
// out of the hot window and must be backfilled via history.
type GapData struct {
	FromSeq       int64 `json:"from_seq"`
	AvailableFrom int64 `json:"available_from"`
}

// MessageData is the payload of a message.created event.
type MessageData struct {
	Message *models.Message `json:"message"`
}

// MemberJoinedData is the payload of a room.member_joined event.
type MemberJoinedData struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// CreatedData is the payload of a room.created event.
type CreatedData struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind is dropped rather than blocking the coordinator.
const subscriberBuffer = 64

// Subscriber is one live stream attached to a room.
type Subscriber struct {
	ch chan Event
}

// Events is the subscriber's receive channel. Closed when the coordinator
// drops the subscriber.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}
