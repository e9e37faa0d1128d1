package bus

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"roomdeck/pkg/models"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestSnapshotRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	snap := &models.RoomSnapshot{
		Name:       "Lobby",
		Title:      "the lobby",
		Visibility: models.VisibilityPublic,
		QueueMode:  models.QueueModeManual,
		Queue:      []models.Video{{Service: "yt", ID: "abc123"}},
		IsPlaying:  true,
		LoadEpoch:  7,
	}
	if err := store.SetSnapshot(ctx, snap); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Lookup is case-insensitive.
	got, err := store.GetSnapshot(ctx, "LOBBY")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != snap.Title || got.LoadEpoch != 7 || len(got.Queue) != 1 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestGetSnapshotAbsent(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.GetSnapshot(context.Background(), "ghost"); !errors.Is(err, models.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestNextLoadEpochMonotonic(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a, err := store.NextLoadEpoch(ctx)
	if err != nil {
		t.Fatalf("epoch: %v", err)
	}
	b, err := store.NextLoadEpoch(ctx)
	if err != nil {
		t.Fatalf("epoch: %v", err)
	}
	if b <= a {
		t.Fatalf("epoch must increase: %d then %d", a, b)
	}
}

func TestNextLoadEpochOverflowResets(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	mr.Set(epochKey, strconv.FormatInt(math.MaxInt32-2, 10))

	if _, err := store.NextLoadEpoch(ctx); err != nil {
		t.Fatalf("epoch at boundary: %v", err)
	}
	next, err := store.NextLoadEpoch(ctx)
	if err != nil {
		t.Fatalf("epoch after reset: %v", err)
	}
	if next != 1 {
		t.Fatalf("expected counter restart at 1, got %d", next)
	}
}

func TestPublishSyncRecordsStateAndDeliversInOrder(t *testing.T) {
	store, mr := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	sub := client.Subscribe(ctx, RoomChannel("lobby"))
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 3; i++ {
		delta := models.NewSyncMessage("lobby")
		delta["playbackPosition"] = float64(i)
		if err := store.PublishSync(ctx, "lobby", delta); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	ch := sub.Channel()
	for i := 0; i < 3; i++ {
		select {
		case msg := <-ch:
			var got map[string]interface{}
			if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got["playbackPosition"] != float64(i) {
				t.Fatalf("out of order: got %v at index %d", got["playbackPosition"], i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delta %d", i)
		}
	}

	// Latest delta is recorded as in-flight sync state.
	if !mr.Exists(syncStateKey("lobby")) {
		t.Fatal("room-sync bookkeeping key missing")
	}

	if err := store.DeleteSyncState(ctx, "lobby"); err != nil {
		t.Fatalf("delete sync state: %v", err)
	}
	if mr.Exists(syncStateKey("lobby")) {
		t.Fatal("room-sync key should be cleared")
	}
}

func TestRequestForwardingRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan models.RequestEnvelope, 1)
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = store.SubscribeRequests(ctx, "lobby", func(env models.RequestEnvelope) {
			received <- env
		})
	}()
	<-ready
	// Give the subscriber a moment to register with redis.
	time.Sleep(50 * time.Millisecond)

	state := true
	env := models.RequestEnvelope{
		Room:     "lobby",
		ClientID: "c1",
		Username: "alice",
		Request:  models.RoomRequest{Type: models.RequestPlayback, State: &state},
	}
	if err := store.PublishRequest(ctx, env); err != nil {
		t.Fatalf("publish request: %v", err)
	}

	select {
	case got := <-received:
		if got.ClientID != "c1" || got.Request.Type != models.RequestPlayback {
			t.Fatalf("unexpected envelope: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded request")
	}
}
