// Package bus ties Balancers and Monoliths together through the durable
// snapshot store and the per-room publish/subscribe channels. Room and
// registry logic depend only on the interfaces here, so the Redis adapter
// can be swapped or faked in tests.
package bus

import (
	"context"
	"strings"

	"roomdeck/pkg/models"
)

// Store is the durable snapshot store plus the room pub/sub channels.
// The snapshot under room:{name} is the authoritative copy of a room
// whenever no process has it loaded.
type Store interface {
	// GetSnapshot returns the durable snapshot for a room, or
	// models.ErrRoomNotFound when the key is absent.
	GetSnapshot(ctx context.Context, name string) (*models.RoomSnapshot, error)
	SetSnapshot(ctx context.Context, snap *models.RoomSnapshot) error
	DeleteSnapshot(ctx context.Context, name string) error

	// NextLoadEpoch returns the next value of the durable monotonic load
	// counter. The counter resets to 0 before it would overflow a 32-bit
	// signed integer.
	NextLoadEpoch(ctx context.Context) (int32, error)

	// PublishSync broadcasts a field-overwrite delta on room:{name} and
	// records it under room-sync:{name} as in-flight sync bookkeeping.
	PublishSync(ctx context.Context, room string, delta models.SyncMessage) error
	// PublishControl broadcasts a non-sync payload (chat, announcement,
	// unload notice) on room:{name}.
	PublishControl(ctx context.Context, room string, payload interface{}) error
	// DeleteSyncState clears room-sync:{name}; called on unload alongside
	// the main snapshot.
	DeleteSyncState(ctx context.Context, room string) error

	// SubscribeRoom blocks delivering raw room:{name} payloads (sync
	// deltas and control messages) until ctx is cancelled. Edges call
	// this once per room with connected clients.
	SubscribeRoom(ctx context.Context, room string, handler func([]byte)) error

	// PublishRequest forwards a client request to whichever process owns
	// the room, over room_requests:{name}.
	PublishRequest(ctx context.Context, env models.RequestEnvelope) error
	// SubscribeRequests blocks delivering forwarded requests for one room
	// until ctx is cancelled. The owning process calls this once per
	// loaded room.
	SubscribeRequests(ctx context.Context, room string, handler func(models.RequestEnvelope)) error
}

// Events receives in-process registry lifecycle signals. Implementations
// must not block; the registry calls them on its tick goroutine.
type Events interface {
	RoomCreated(name string)
	RoomLoaded(name string)
	RoomUnloaded(name string, reason string)
}

// NopEvents discards all signals.
type NopEvents struct{}

func (NopEvents) RoomCreated(string)          {}
func (NopEvents) RoomLoaded(string)           {}
func (NopEvents) RoomUnloaded(string, string) {}

// NormalizeRoomName lowercases a room name; room identity is
// case-insensitive everywhere.
func NormalizeRoomName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RoomChannel is the pub/sub channel carrying sync deltas and control
// messages for a room.
func RoomChannel(name string) string {
	return "room:" + NormalizeRoomName(name)
}

// RequestChannel is the pub/sub channel carrying requests forwarded to the
// room's owning process.
func RequestChannel(name string) string {
	return "room_requests:" + NormalizeRoomName(name)
}
