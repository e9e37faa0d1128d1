package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	goredis "github.com/redis/go-redis/v9"

	"roomdeck/pkg/models"
	pkgredis "roomdeck/pkg/redis"
)

const epochKey = "roommanager:load_epoch"

// RedisStore implements Store on a Redis key/value store plus its pub/sub.
type RedisStore struct {
	client goredis.UniversalClient
	reqs   *pkgredis.TypedPubSub[models.RequestEnvelope]
}

func NewRedisStore(client goredis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		reqs:   pkgredis.NewTypedPubSub[models.RequestEnvelope](client),
	}
}

func snapshotKey(name string) string {
	return "room:" + NormalizeRoomName(name)
}

func syncStateKey(name string) string {
	return "room-sync:" + NormalizeRoomName(name)
}

func (s *RedisStore) GetSnapshot(ctx context.Context, name string) (*models.RoomSnapshot, error) {
	val, err := s.client.Get(ctx, snapshotKey(name)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, models.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap models.RoomSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisStore) SetSnapshot(ctx context.Context, snap *models.RoomSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey(snap.Name), payload, 0).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteSnapshot(ctx context.Context, name string) error {
	return s.client.Del(ctx, snapshotKey(name)).Err()
}

// NextLoadEpoch issues the next load epoch. The counter is reset to 0 just
// before it would overflow int32; competing loads still observe strictly
// increasing values between any two loads of the same room in practice.
func (s *RedisStore) NextLoadEpoch(ctx context.Context) (int32, error) {
	val, err := s.client.Incr(ctx, epochKey).Result()
	if err != nil {
		return 0, fmt.Errorf("incr load epoch: %w", err)
	}
	if val >= math.MaxInt32-1 {
		if err := s.client.Set(ctx, epochKey, 0, 0).Err(); err != nil {
			return 0, fmt.Errorf("reset load epoch: %w", err)
		}
	}
	return int32(val % math.MaxInt32), nil
}

func (s *RedisStore) PublishSync(ctx context.Context, room string, delta models.SyncMessage) error {
	payload, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("encode sync delta: %w", err)
	}
	// Bookkeeping first: room-sync holds the last delta in flight so it can
	// be inspected or cleared independently of the main snapshot.
	if err := s.client.Set(ctx, syncStateKey(room), payload, 0).Err(); err != nil {
		return fmt.Errorf("record sync state: %w", err)
	}
	if err := s.client.Publish(ctx, RoomChannel(room), payload).Err(); err != nil {
		return fmt.Errorf("publish sync: %w", err)
	}
	return nil
}

func (s *RedisStore) PublishControl(ctx context.Context, room string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode control message: %w", err)
	}
	if err := s.client.Publish(ctx, RoomChannel(room), raw).Err(); err != nil {
		return fmt.Errorf("publish control: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteSyncState(ctx context.Context, room string) error {
	return s.client.Del(ctx, syncStateKey(room)).Err()
}

func (s *RedisStore) SubscribeRoom(ctx context.Context, room string, handler func([]byte)) error {
	sub := s.client.Subscribe(ctx, RoomChannel(room))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe room channel: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handler([]byte(msg.Payload))
		}
	}
}

func (s *RedisStore) PublishRequest(ctx context.Context, env models.RequestEnvelope) error {
	return s.reqs.Publish(ctx, RequestChannel(env.Room), env)
}

func (s *RedisStore) SubscribeRequests(ctx context.Context, room string, handler func(models.RequestEnvelope)) error {
	return s.reqs.Subscribe(ctx, RequestChannel(room), handler)
}
