package rooms

import (
	"errors"
	"testing"
	"time"

	"roomdeck/pkg/grants"
	"roomdeck/pkg/logging"
	"roomdeck/pkg/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func testVideo(id string, length int) models.Video {
	return models.Video{Service: "direct", ID: id, Title: "video " + id, Length: length}
}

func newTestRoom(t *testing.T, mode models.QueueMode) (*Room, *fakeClock) {
	t.Helper()
	room := NewRoom(models.RoomOptions{
		Name:      "TestRoom",
		QueueMode: mode,
		Owner:     "owner-1",
	}, 1, logging.NewNopLogger())
	clock := newFakeClock()
	room.SetClock(clock.Now)
	return room, clock
}

func ownerReq(req models.RoomRequest) models.RequestEnvelope {
	return models.RequestEnvelope{
		Room:     "testroom",
		ClientID: "c-owner",
		UserID:   "owner-1",
		Username: "owner",
		LoggedIn: true,
		Request:  req,
	}
}

func guestReq(clientID string, req models.RoomRequest) models.RequestEnvelope {
	return models.RequestEnvelope{
		Room:     "testroom",
		ClientID: clientID,
		UserID:   "",
		Username: "guest-" + clientID,
		LoggedIn: false,
		Request:  req,
	}
}

func mustProcess(t *testing.T, room *Room, env models.RequestEnvelope) {
	t.Helper()
	if _, err := room.ProcessRequest(env); err != nil {
		t.Fatalf("request %s failed: %v", env.Request.Type, err)
	}
}

func addVideo(t *testing.T, room *Room, env models.RequestEnvelope, v models.Video) {
	t.Helper()
	env.Request = models.RoomRequest{Type: models.RequestAdd, Video: &v}
	mustProcess(t, room, env)
}

func TestAddDeduplicatesQueueAndCurrent(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeManual)
	a := testVideo("a", 10)

	addVideo(t, room, ownerReq(models.RoomRequest{}), a)
	if _, err := room.ProcessRequest(ownerReq(models.RoomRequest{Type: models.RequestAdd, Video: &a})); !errors.Is(err, models.ErrVideoAlreadyQueued) {
		t.Fatalf("duplicate add: got %v, want ErrVideoAlreadyQueued", err)
	}

	room.Update()
	snap := room.Snapshot()
	if snap.CurrentSource == nil || snap.CurrentSource.ID != "a" {
		t.Fatalf("expected a promoted to current, got %+v", snap.CurrentSource)
	}
	if _, err := room.ProcessRequest(ownerReq(models.RoomRequest{Type: models.RequestAdd, Video: &a})); !errors.Is(err, models.ErrVideoAlreadyQueued) {
		t.Fatalf("add of current item: got %v, want ErrVideoAlreadyQueued", err)
	}
}

func TestUpdatePromotesQueueHead(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeManual)
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("a", 10))
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("b", 20))

	room.Update()

	snap := room.Snapshot()
	if snap.CurrentSource == nil || snap.CurrentSource.ID != "a" {
		t.Fatalf("current = %+v, want a", snap.CurrentSource)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].ID != "b" {
		t.Fatalf("queue = %+v, want [b]", snap.Queue)
	}
	if snap.PlaybackPosition != 0 {
		t.Fatalf("position = %v, want 0", snap.PlaybackPosition)
	}
}

func TestUpdateWhilePausedIsIdempotent(t *testing.T) {
	room, clock := newTestRoom(t, models.QueueModeManual)
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("a", 10))
	room.Update()

	pos := 3.0
	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestSeek, Position: &pos}))

	clock.Advance(time.Minute)
	room.Update()
	room.Update()

	snap := room.Snapshot()
	if snap.CurrentSource == nil || snap.CurrentSource.ID != "a" {
		t.Fatalf("current = %+v, want a", snap.CurrentSource)
	}
	if snap.PlaybackPosition != 3 {
		t.Fatalf("position drifted to %v while paused", snap.PlaybackPosition)
	}
}

func TestPauseFoldsObservedPosition(t *testing.T) {
	room, clock := newTestRoom(t, models.QueueModeManual)
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("a", 100))
	room.Update()

	play, pause := true, false
	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestPlayback, State: &play}))
	clock.Advance(4 * time.Second)
	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestPlayback, State: &pause}))

	snap := room.Snapshot()
	if snap.IsPlaying {
		t.Fatal("room still playing after pause")
	}
	if snap.PlaybackPosition != 4 {
		t.Fatalf("position = %v, want 4", snap.PlaybackPosition)
	}
}

func TestLoopModeRequeuesFinishedItem(t *testing.T) {
	room, clock := newTestRoom(t, models.QueueModeLoop)
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("a", 10))
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("b", 20))
	room.Update()

	play := true
	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestPlayback, State: &play}))
	clock.Advance(11 * time.Second)
	room.Update()

	snap := room.Snapshot()
	if snap.CurrentSource == nil || snap.CurrentSource.ID != "b" {
		t.Fatalf("current = %+v, want b", snap.CurrentSource)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].ID != "a" {
		t.Fatalf("queue = %+v, want [a] requeued", snap.Queue)
	}
	if snap.PlaybackPosition != 0 {
		t.Fatalf("position = %v, want 0", snap.PlaybackPosition)
	}
}

func TestDJModeRestartsCurrentItem(t *testing.T) {
	room, clock := newTestRoom(t, models.QueueModeDJ)
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("a", 10))
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("b", 20))
	room.Update()

	play := true
	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestPlayback, State: &play}))
	clock.Advance(11 * time.Second)
	room.Update()

	snap := room.Snapshot()
	if snap.CurrentSource == nil || snap.CurrentSource.ID != "a" {
		t.Fatalf("current = %+v, want a restarted", snap.CurrentSource)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].ID != "b" {
		t.Fatalf("queue = %+v, want [b] untouched", snap.Queue)
	}
	if snap.PlaybackPosition != 0 {
		t.Fatalf("position = %v, want 0 after restart", snap.PlaybackPosition)
	}
}

func TestDJModeSkipMovesOn(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeDJ)
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("a", 10))
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("b", 20))
	room.Update()

	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestSkip}))

	snap := room.Snapshot()
	if snap.CurrentSource == nil || snap.CurrentSource.ID != "b" {
		t.Fatalf("current = %+v, want b after explicit skip", snap.CurrentSource)
	}
}

func TestVoteModePromotesMostVoted(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeVote)
	a, b, c := testVideo("a", 10), testVideo("b", 10), testVideo("c", 10)
	addVideo(t, room, ownerReq(models.RoomRequest{}), a)
	addVideo(t, room, ownerReq(models.RoomRequest{}), b)
	addVideo(t, room, ownerReq(models.RoomRequest{}), c)

	// Re-adding a queued item in vote mode casts that client's vote.
	mustProcess(t, room, guestReq("c-1", models.RoomRequest{Type: models.RequestAdd, Video: &b}))
	mustProcess(t, room, guestReq("c-2", models.RoomRequest{Type: models.RequestAdd, Video: &b}))

	counts := room.VoteCounts()
	if counts[b.Key()] != 3 || counts[a.Key()] != 1 {
		t.Fatalf("vote counts = %v, want b=3 a=1", counts)
	}

	room.Update()
	snap := room.Snapshot()
	if snap.CurrentSource == nil || snap.CurrentSource.ID != "b" {
		t.Fatalf("current = %+v, want b (most voted)", snap.CurrentSource)
	}
	// Ties keep queue order: a was added before c.
	if len(snap.Queue) != 2 || snap.Queue[0].ID != "a" || snap.Queue[1].ID != "c" {
		t.Fatalf("queue = %+v, want [a c]", snap.Queue)
	}
	if _, ok := room.VoteCounts()[b.Key()]; ok {
		t.Fatal("votes for the promoted item were not pruned")
	}
}

func TestVoteModeRemoveRetractsOwnVote(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeVote)
	a := testVideo("a", 10)
	mustProcess(t, room, guestReq("c-1", models.RoomRequest{Type: models.RequestAdd, Video: &a}))

	if got := room.VoteCounts()[a.Key()]; got != 1 {
		t.Fatalf("votes = %d, want 1 after add", got)
	}

	// A guest lacks manage-queue.remove but may retract its own vote.
	mustProcess(t, room, guestReq("c-1", models.RoomRequest{Type: models.RequestRemove, Video: &a}))

	if got := room.VoteCounts()[a.Key()]; got != 0 {
		t.Fatalf("votes = %d, want 0 after retraction", got)
	}
	if len(room.Snapshot().Queue) != 1 {
		t.Fatal("retracting a vote must not remove the item")
	}
}

func TestPermissionDeniedNamesPermissionAndMutatesNothing(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeManual)
	a := testVideo("a", 10)
	addVideo(t, room, ownerReq(models.RoomRequest{}), a)
	before := room.Snapshot()
	room.Sync() // drain dirty state from setup

	_, err := room.ProcessRequest(guestReq("c-1", models.RoomRequest{Type: models.RequestRemove, Video: &a}))
	denied, ok := models.AsPermissionDenied(err)
	if !ok {
		t.Fatalf("got %v, want PermissionDeniedError", err)
	}
	if denied.Permission != grants.PermissionName(grants.PermQueueRemove) {
		t.Fatalf("denied permission = %q, want %q", denied.Permission, grants.PermissionName(grants.PermQueueRemove))
	}

	after := room.Snapshot()
	if len(after.Queue) != len(before.Queue) {
		t.Fatal("rejected request mutated the queue")
	}
	if delta := room.Sync(); delta != nil {
		t.Fatalf("rejected request produced a sync delta: %v", delta)
	}
}

func TestOwnerAlwaysHoldsEveryPermission(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeManual)
	// Strip every explicit grant; the owner must still pass.
	room.grants.SetRoleGrants(grants.RoleUnregistered, 0)
	a := testVideo("a", 10)
	addVideo(t, room, ownerReq(models.RoomRequest{}), a)
	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestRemove, Video: &a}))

	if _, err := room.ProcessRequest(guestReq("c-1", models.RoomRequest{Type: models.RequestAdd, Video: &a})); err == nil {
		t.Fatal("guest add passed with empty grants")
	}
}

func TestUndoSeekRestoresPosition(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeManual)
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("a", 100))
	room.Update()

	pos := 50.0
	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestSeek, Position: &pos}))
	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestUndo}))

	if got := room.Snapshot().PlaybackPosition; got != 0 {
		t.Fatalf("position = %v, want 0 after undo", got)
	}
}

func TestUndoRemoveRestoresIndex(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeManual)
	b := testVideo("b", 10)
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("a", 10))
	addVideo(t, room, ownerReq(models.RoomRequest{}), b)
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("c", 10))

	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestRemove, Video: &b}))
	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestUndo}))

	snap := room.Snapshot()
	if len(snap.Queue) != 3 || snap.Queue[1].ID != "b" {
		t.Fatalf("queue = %+v, want b restored at index 1", snap.Queue)
	}
}

func TestUndoSkipRestoresCurrent(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeManual)
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("a", 100))
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("b", 100))
	room.Update()

	pos := 5.0
	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestSeek, Position: &pos}))
	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestSkip}))

	if cur := room.Snapshot().CurrentSource; cur == nil || cur.ID != "b" {
		t.Fatalf("current = %+v, want b after skip", cur)
	}

	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestUndo}))
	snap := room.Snapshot()
	if snap.CurrentSource == nil || snap.CurrentSource.ID != "a" {
		t.Fatalf("current = %+v, want a restored", snap.CurrentSource)
	}
	if snap.PlaybackPosition != 5 {
		t.Fatalf("position = %v, want 5 restored", snap.PlaybackPosition)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].ID != "b" {
		t.Fatalf("queue = %+v, want [b] back at head", snap.Queue)
	}
}

func TestUndoRequiresOriginalPermission(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeManual)
	a := testVideo("a", 10)
	addVideo(t, room, ownerReq(models.RoomRequest{}), a)
	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestRemove, Video: &a}))

	_, err := room.ProcessRequest(guestReq("c-1", models.RoomRequest{Type: models.RequestUndo}))
	if _, ok := models.AsPermissionDenied(err); !ok {
		t.Fatalf("got %v, want PermissionDeniedError for undoing a remove", err)
	}
}

func TestPlayNowInterruptsCurrent(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeManual)
	b := testVideo("b", 10)
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("a", 10))
	addVideo(t, room, ownerReq(models.RoomRequest{}), b)
	room.Update()

	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestPlayNow, Video: &b}))

	snap := room.Snapshot()
	if snap.CurrentSource == nil || snap.CurrentSource.ID != "b" {
		t.Fatalf("current = %+v, want b", snap.CurrentSource)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].ID != "a" {
		t.Fatalf("queue = %+v, want interrupted a at the front", snap.Queue)
	}
}

func TestOrderMovesItem(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeManual)
	for _, id := range []string{"a", "b", "c"} {
		addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo(id, 10))
	}
	from, to := 0, 2
	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestOrder, FromIdx: &from, ToIdx: &to}))

	snap := room.Snapshot()
	want := []string{"b", "c", "a"}
	for i, id := range want {
		if snap.Queue[i].ID != id {
			t.Fatalf("queue = %+v, want %v", snap.Queue, want)
		}
	}
}

func TestJoinLeaveTracksUsers(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeManual)
	mustProcess(t, room, guestReq("c-1", models.RoomRequest{Type: models.RequestJoin}))
	mustProcess(t, room, guestReq("c-1", models.RoomRequest{Type: models.RequestJoin}))

	snap := room.Snapshot()
	if len(snap.Users) != 1 {
		t.Fatalf("users = %+v, want exactly one entry", snap.Users)
	}
	if snap.Users[0].Role != grants.RoleUnregistered.String() {
		t.Fatalf("role = %q, want unregistered", snap.Users[0].Role)
	}

	mustProcess(t, room, guestReq("c-1", models.RoomRequest{Type: models.RequestLeave}))
	if got := room.UserCount(); got != 0 {
		t.Fatalf("user count = %d after leave, want 0", got)
	}
}

func TestPromoteChangesRole(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeManual)
	joined := models.RequestEnvelope{
		Room: "testroom", ClientID: "c-2", UserID: "user-2", Username: "mod", LoggedIn: true,
		Request: models.RoomRequest{Type: models.RequestJoin},
	}
	mustProcess(t, room, joined)
	mustProcess(t, room, ownerReq(models.RoomRequest{
		Type:     models.RequestPromote,
		TargetID: "user-2",
		Role:     grants.RoleModerator.String(),
	}))

	snap := room.Snapshot()
	if got := snap.UserRoles[grants.RoleModerator.String()]; len(got) != 1 || got[0] != "user-2" {
		t.Fatalf("moderator roles = %v, want [user-2]", got)
	}
}

func TestSyncDrainsDirtyFields(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeManual)
	addVideo(t, room, ownerReq(models.RoomRequest{}), testVideo("a", 100))
	room.Update()
	room.Sync()

	pos := 7.0
	mustProcess(t, room, ownerReq(models.RoomRequest{Type: models.RequestSeek, Position: &pos}))

	delta := room.Sync()
	if delta == nil {
		t.Fatal("seek produced no delta")
	}
	if delta["action"] != models.ActionSync || delta["name"] != "testroom" {
		t.Fatalf("delta envelope = %v", delta)
	}
	if delta["playbackPosition"] != 7.0 {
		t.Fatalf("playbackPosition = %v, want 7", delta["playbackPosition"])
	}
	if _, ok := delta["playbackStartTime"]; !ok {
		t.Fatal("position delta must carry the new start time")
	}
	if _, ok := delta["queue"]; ok {
		t.Fatal("delta carries unchanged field queue")
	}

	if again := room.Sync(); again != nil {
		t.Fatalf("second Sync = %v, want nil", again)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	room, _ := newTestRoom(t, models.QueueModeVote)
	a, b := testVideo("a", 10), testVideo("b", 10)
	addVideo(t, room, ownerReq(models.RoomRequest{}), a)
	addVideo(t, room, ownerReq(models.RoomRequest{}), b)
	mustProcess(t, room, guestReq("c-1", models.RoomRequest{Type: models.RequestAdd, Video: &b}))
	mustProcess(t, room, guestReq("c-1", models.RoomRequest{Type: models.RequestJoin}))

	restored := FromSnapshot(room.Snapshot(), 2, logging.NewNopLogger())

	if restored.Name() != room.Name() {
		t.Fatalf("name = %q, want %q", restored.Name(), room.Name())
	}
	if restored.LoadEpoch() != 2 {
		t.Fatalf("epoch = %d, want the freshly issued 2", restored.LoadEpoch())
	}
	counts := restored.VoteCounts()
	if counts[b.Key()] != 2 || counts[a.Key()] != 1 {
		t.Fatalf("restored vote counts = %v, want b=2 a=1", counts)
	}
	if restored.UserCount() != 1 {
		t.Fatalf("restored users = %d, want 1", restored.UserCount())
	}
}
