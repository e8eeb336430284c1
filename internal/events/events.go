package events

import "time"

type EventType string

const (
	EventMessage     EventType = "message"
	EventUserJoined  EventType = "user_joined"
	EventUserLeft    EventType = "user_left"
	EventRoomCreated EventType = "room_created"
	EventRoomDeleted EventType = "room_deleted"
)

// Event is the payload published on the notification channels. It
// describes a state change that has already been committed to the
// store; subscribers can always re-read the state it refers to.
type Event struct {
	Type      EventType `json:"type"`
	RoomId    string    `json:"room_id,omitempty"`
	UserId    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DiscoveryChannel carries room creation and deletion events for every
// connected client.
const DiscoveryChannel = "discovery"

func RoomChannel(roomId string) string {
	return "room:" + roomId
}

func UserChannel(userId string) string {
	return "user:" + userId
}
