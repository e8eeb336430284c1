package types

import "time"

// ChatRoom is the API-facing representation of a room. Participants are
// listed in join order with the creator first.
type ChatRoom struct {
	Id               string    `json:"id"`
	Title            string    `json:"title"`
	Topic            string    `json:"topic"`
	CreatorId        string    `json:"creator_id"`
	CreatorUsername  string    `json:"creator_username"`
	Participants     []string  `json:"participants"`
	ParticipantCount int       `json:"participant_count"`
	Interests        []string  `json:"interests"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
}

type Message struct {
	Id         string    `json:"id"`
	ChatRoomId string    `json:"chat_room_id"`
	UserId     string    `json:"user_id"`
	Username   string    `json:"username"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// UserProfile holds a user's interest selections and the denormalized
// active-chat cache. ActiveChats is maintained by the request layer on
// join/leave and may lag behind actual room membership.
type UserProfile struct {
	Id          string    `json:"id"`
	Username    string    `json:"username"`
	Interests   []string  `json:"interests"`
	ActiveChats []string  `json:"active_chats"`
	CreatedAt   time.Time `json:"created_at"`
}

type InterestTag struct {
	Id            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Color         string `json:"color"`
	ChatRoomCount int    `json:"chat_room_count"`
}
