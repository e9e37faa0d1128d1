package kafka

import "time"

// Room lifecycle event types.
const (
	EventRoomCreated  = "room_created"
	EventRoomLoaded   = "room_loaded"
	EventRoomUnloaded = "room_unloaded"
)

// RoomEvent is a room lifecycle event published to the room_events topic.
type RoomEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	RoomName  string    `json:"room_name"`
	Reason    string    `json:"reason,omitempty"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}
