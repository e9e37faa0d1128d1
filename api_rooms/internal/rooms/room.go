// Package rooms holds the room state machine and the per-process registry
// that owns loaded rooms. A room is mutated only by its owning process,
// only through ProcessRequest/Update; every observable change is pushed out
// as a field-overwrite sync delta.
package rooms

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"roomdeck/pkg/bus"
	"roomdeck/pkg/grants"
	"roomdeck/pkg/logging"
	"roomdeck/pkg/models"
)

type undoKind int

const (
	undoNone undoKind = iota
	undoSeek
	undoRemove
	undoSkip
)

// undoEntry holds the inverse delta of the most recent undoable mutation.
type undoEntry struct {
	kind     undoKind
	video    models.Video
	index    int     // original queue index of a removed item
	position float64 // playback position before a seek/skip
}

// Room is one room's playback/queue/permission state machine. The mutex
// serializes the tick loop against request-driven mutations: a request is
// fully applied or fully rejected before the next one is processed.
type Room struct {
	mu sync.Mutex

	name        string // normalized, immutable
	isTemporary bool
	owner       string

	title       string
	description string
	visibility  models.Visibility
	queueMode   models.QueueMode

	queue             []models.Video
	currentSource     *models.Video
	isPlaying         bool
	playbackPosition  float64
	playbackStartTime time.Time

	votes     map[string]map[string]struct{} // video key → voter client ids
	grants    *grants.Grants
	userRoles map[grants.Role]map[string]struct{}
	users     []models.RoomUser

	loadEpoch  int32
	lastActive time.Time

	// voteCounts is a cached view over votes, invalidated whenever queue
	// membership changes.
	voteCounts map[string]int

	dirty map[string]bool
	undo  *undoEntry

	log logging.Logger
	now func() time.Time
}

// NewRoom constructs a fresh room from creation options.
func NewRoom(opts models.RoomOptions, epoch int32, log logging.Logger) *Room {
	visibility := opts.Visibility
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	queueMode := opts.QueueMode
	if queueMode == "" {
		queueMode = models.QueueModeManual
	}
	g := grants.NewDefault()
	if opts.Grants != nil {
		g = grants.FromMap(opts.Grants)
	}

	r := &Room{
		name:        bus.NormalizeRoomName(opts.Name),
		isTemporary: opts.IsTemporary,
		owner:       opts.Owner,
		title:       opts.Title,
		description: opts.Description,
		visibility:  visibility,
		queueMode:   queueMode,
		votes:       make(map[string]map[string]struct{}),
		grants:      g,
		userRoles:   make(map[grants.Role]map[string]struct{}),
		loadEpoch:   epoch,
		dirty:       make(map[string]bool),
		log:         log,
		now:         time.Now,
	}
	r.lastActive = r.now()
	return r
}

// FromSnapshot reconstructs a room from its durable snapshot, assigning the
// freshly issued load epoch.
func FromSnapshot(snap *models.RoomSnapshot, epoch int32, log logging.Logger) *Room {
	r := NewRoom(models.RoomOptions{
		Name:        snap.Name,
		Title:       snap.Title,
		Description: snap.Description,
		Visibility:  snap.Visibility,
		QueueMode:   snap.QueueMode,
		IsTemporary: snap.IsTemporary,
		Owner:       snap.Owner,
		Grants:      snap.Grants,
	}, epoch, log)

	r.queue = append(r.queue, snap.Queue...)
	r.currentSource = snap.CurrentSource
	r.isPlaying = snap.IsPlaying
	r.playbackPosition = snap.PlaybackPosition
	r.playbackStartTime = snap.PlaybackStartTime
	r.users = append(r.users, snap.Users...)

	for key, voters := range snap.Votes {
		set := make(map[string]struct{}, len(voters))
		for _, v := range voters {
			set[v] = struct{}{}
		}
		r.votes[key] = set
	}
	for roleName, ids := range snap.UserRoles {
		role, ok := grants.RoleFromName(roleName)
		if !ok {
			continue
		}
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		r.userRoles[role] = set
	}
	return r
}

func (r *Room) Name() string      { return r.name }
func (r *Room) IsTemporary() bool { return r.isTemporary }
func (r *Room) LoadEpoch() int32  { return r.loadEpoch }

func (r *Room) Title() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.title
}

func (r *Room) Visibility() models.Visibility {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visibility
}

func (r *Room) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// SetClock overrides the wall clock, for tests.
func (r *Room) SetClock(now func() time.Time) { r.now = now }

func (r *Room) markDirty(fields ...string) {
	for _, f := range fields {
		r.dirty[f] = true
	}
}

// observedPosition is the playback position as seen from outside right now,
// derived from the wall clock rather than a per-tick counter.
func (r *Room) observedPosition(now time.Time) float64 {
	if !r.isPlaying || r.currentSource == nil {
		return r.playbackPosition
	}
	return r.playbackPosition + now.Sub(r.playbackStartTime).Seconds()
}

// IsStale reports whether the room has had no connected clients for longer
// than the keepalive threshold.
func (r *Room) IsStale(keepalive time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users) == 0 && r.now().Sub(r.lastActive) > keepalive
}

// Update advances the state machine one step: promotes the queue head when
// nothing is playing, and advances past a finished item according to the
// queue mode.
func (r *Room) Update() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	if r.currentSource == nil && len(r.queue) > 0 {
		r.promoteNext(now)
	}

	if r.currentSource != nil && r.currentSource.Length > 0 {
		if r.observedPosition(now) > float64(r.currentSource.Length) {
			r.advance(now)
		}
	}

	if r.currentSource == nil && len(r.queue) == 0 && r.isPlaying {
		r.isPlaying = false
		r.playbackPosition = 0
		r.markDirty("isPlaying", "playbackPosition")
	}
}

// promoteNext dequeues the queue head into currentSource. Vote mode
// re-sorts the queue by descending vote count first; ties keep their prior
// relative order.
func (r *Room) promoteNext(now time.Time) {
	if len(r.queue) == 0 {
		r.currentSource = nil
		return
	}
	if r.queueMode == models.QueueModeVote {
		r.sortQueueByVotes()
	}
	head := r.queue[0]
	r.queue = r.queue[1:]
	r.currentSource = &head
	r.pruneVotes(head.Key())
	r.playbackPosition = 0
	r.playbackStartTime = now
	r.markDirty("currentSource", "queue", "playbackPosition", "voteCounts")
}

// advance moves past the finished current item according to the queue mode.
func (r *Room) advance(now time.Time) {
	switch r.queueMode {
	case models.QueueModeLoop:
		finished := *r.currentSource
		r.queue = append(r.queue, finished)
		r.currentSource = nil
		r.promoteNext(now)
	case models.QueueModeDJ:
		// Restart the same item from the top.
		r.playbackPosition = 0
		r.playbackStartTime = now
		r.markDirty("playbackPosition")
	default: // manual, vote
		r.currentSource = nil
		r.promoteNext(now)
	}
}

func (r *Room) sortQueueByVotes() {
	counts := r.voteCountView()
	sort.SliceStable(r.queue, func(i, j int) bool {
		return counts[r.queue[i].Key()] > counts[r.queue[j].Key()]
	})
}

// VoteCounts returns vote tallies per queued video key.
func (r *Room) VoteCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.voteCountView()
}

// voteCountView recomputes the cached tallies if queue membership changed
// since the last call. Callers hold the lock.
func (r *Room) voteCountView() map[string]int {
	if r.voteCounts == nil {
		counts := make(map[string]int, len(r.votes))
		for key, voters := range r.votes {
			counts[key] = len(voters)
		}
		r.voteCounts = counts
	}
	return r.voteCounts
}

func (r *Room) invalidateVoteCounts() {
	r.voteCounts = nil
	r.markDirty("voteCounts")
}

// pruneVotes drops the vote set of a video no longer in the queue.
func (r *Room) pruneVotes(key string) {
	if _, ok := r.votes[key]; ok {
		delete(r.votes, key)
		r.invalidateVoteCounts()
	}
}

func (r *Room) indexInQueue(v models.Video) int {
	for i, item := range r.queue {
		if item.SameVideo(v) {
			return i
		}
	}
	return -1
}

// roleOf resolves the effective role of a requester.
func (r *Room) roleOf(env models.RequestEnvelope) grants.Role {
	if r.owner != "" && env.UserID == r.owner {
		return grants.RoleOwner
	}
	for role := grants.RoleAdministrator; role >= grants.RoleTrusted; role-- {
		if set, ok := r.userRoles[role]; ok {
			if _, ok := set[env.UserID]; ok {
				return role
			}
		}
	}
	if env.LoggedIn {
		return grants.RoleRegistered
	}
	return grants.RoleUnregistered
}

// require checks a permission for the requester and returns a
// PermissionDeniedError naming the missing permission on failure.
func (r *Room) require(env models.RequestEnvelope, perm grants.Mask) error {
	if r.grants.Granted(r.roleOf(env), perm) {
		return nil
	}
	return models.PermissionDeniedError{Permission: grants.PermissionName(perm)}
}

// Snapshot produces the full durable serialization of the room.
func (r *Room) Snapshot() *models.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := &models.RoomSnapshot{
		Name:              r.name,
		Title:             r.title,
		Description:       r.description,
		IsTemporary:       r.isTemporary,
		Visibility:        r.visibility,
		QueueMode:         r.queueMode,
		Queue:             append([]models.Video(nil), r.queue...),
		CurrentSource:     r.currentSource,
		IsPlaying:         r.isPlaying,
		PlaybackPosition:  r.playbackPosition,
		PlaybackStartTime: r.playbackStartTime,
		Users:             append([]models.RoomUser(nil), r.users...),
		Grants:            r.grants.ToMap(),
		Owner:             r.owner,
		LoadEpoch:         r.loadEpoch,
	}

	if len(r.votes) > 0 {
		snap.Votes = make(map[string][]string, len(r.votes))
		for key, voters := range r.votes {
			ids := make([]string, 0, len(voters))
			for id := range voters {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			snap.Votes[key] = ids
		}
	}
	if len(r.userRoles) > 0 {
		snap.UserRoles = make(map[string][]string, len(r.userRoles))
		for role, ids := range r.userRoles {
			list := make([]string, 0, len(ids))
			for id := range ids {
				list = append(list, id)
			}
			sort.Strings(list)
			snap.UserRoles[role.String()] = list
		}
	}
	return snap
}

// syncField renders one field for a sync payload.
func (r *Room) syncField(msg models.SyncMessage, field string) {
	switch field {
	case "title":
		msg["title"] = r.title
	case "description":
		msg["description"] = r.description
	case "visibility":
		msg["visibility"] = r.visibility
	case "queueMode":
		msg["queueMode"] = r.queueMode
	case "isPlaying":
		msg["isPlaying"] = r.isPlaying
	case "playbackPosition":
		msg["playbackPosition"] = r.playbackPosition
		msg["playbackStartTime"] = r.playbackStartTime
	case "currentSource":
		msg["currentSource"] = r.currentSource
	case "queue":
		msg["queue"] = append([]models.Video(nil), r.queue...)
	case "users":
		msg["users"] = append([]models.RoomUser(nil), r.users...)
	case "voteCounts":
		msg["voteCounts"] = r.voteCountView()
	case "grants":
		msg["grants"] = r.grants.ToMap()
	}
}

// Sync drains the dirty set into a field-overwrite delta, or returns nil
// when nothing changed. It never mutates room state.
func (r *Room) Sync() models.SyncMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.dirty) == 0 {
		return nil
	}
	msg := models.NewSyncMessage(r.name)
	for field := range r.dirty {
		r.syncField(msg, field)
	}
	r.dirty = make(map[string]bool)
	return msg
}

// FullSync renders every field, for the initial broadcast after a load and
// for snapshot round-trip checks.
func (r *Room) FullSync() models.SyncMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := models.NewSyncMessage(r.name)
	for _, field := range []string{
		"title", "description", "visibility", "queueMode", "isPlaying",
		"playbackPosition", "currentSource", "queue", "users", "voteCounts",
		"grants",
	} {
		r.syncField(msg, field)
	}
	return msg
}

// ProcessRequest validates the request against the requester's grants and
// applies it. It returns control payloads (chat relays, rejections are
// returned as errors) to publish alongside the next sync.
func (r *Room) ProcessRequest(env models.RequestEnvelope) ([]interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req := env.Request
	switch req.Type {
	case models.RequestAdd:
		return nil, r.handleAdd(env)
	case models.RequestRemove:
		return nil, r.handleRemove(env)
	case models.RequestPlayback:
		return nil, r.handlePlayback(env)
	case models.RequestSeek:
		return nil, r.handleSeek(env)
	case models.RequestSkip:
		return nil, r.handleSkip(env)
	case models.RequestOrder:
		return nil, r.handleOrder(env)
	case models.RequestShuffle:
		return nil, r.handleShuffle(env)
	case models.RequestPlayNow:
		return nil, r.handlePlayNow(env)
	case models.RequestPromote:
		return nil, r.handlePromote(env)
	case models.RequestChat:
		return r.handleChat(env)
	case models.RequestJoin:
		return nil, r.handleJoin(env)
	case models.RequestLeave:
		return nil, r.handleLeave(env)
	case models.RequestStatus:
		return nil, r.handleStatus(env)
	case models.RequestUndo:
		return nil, r.handleUndo(env)
	default:
		return nil, fmt.Errorf("unknown request type %q", req.Type)
	}
}

func (r *Room) handleAdd(env models.RequestEnvelope) error {
	req := env.Request
	if req.Video == nil {
		return fmt.Errorf("add request missing video")
	}
	video := *req.Video

	queued := r.indexInQueue(video) >= 0
	current := r.currentSource != nil && r.currentSource.SameVideo(video)

	if queued && r.queueMode == models.QueueModeVote {
		// Adding an already-queued item in vote mode casts a vote.
		if err := r.require(env, grants.PermQueueVote); err != nil {
			return err
		}
		r.castVote(video.Key(), env.ClientID)
		return nil
	}
	if queued || current {
		return models.ErrVideoAlreadyQueued
	}

	if err := r.require(env, grants.PermQueueAdd); err != nil {
		return err
	}
	r.queue = append(r.queue, video)
	r.markDirty("queue")
	r.invalidateVoteCounts()
	if r.queueMode == models.QueueModeVote {
		r.castVote(video.Key(), env.ClientID)
	}
	return nil
}

func (r *Room) castVote(key, clientID string) {
	set, ok := r.votes[key]
	if !ok {
		set = make(map[string]struct{})
		r.votes[key] = set
	}
	if _, voted := set[clientID]; voted {
		delete(set, clientID)
	} else {
		set[clientID] = struct{}{}
	}
	r.invalidateVoteCounts()
}

func (r *Room) handleRemove(env models.RequestEnvelope) error {
	req := env.Request
	if req.Video == nil {
		return fmt.Errorf("remove request missing video")
	}
	idx := r.indexInQueue(*req.Video)
	if idx < 0 {
		return models.ErrVideoNotFound
	}
	key := req.Video.Key()

	// In vote mode a client retracting its own vote does not need the
	// remove permission.
	if r.queueMode == models.QueueModeVote {
		if set, ok := r.votes[key]; ok {
			if _, voted := set[env.ClientID]; voted {
				if err := r.require(env, grants.PermQueueVote); err != nil {
					return err
				}
				r.castVote(key, env.ClientID)
				return nil
			}
		}
	}

	if err := r.require(env, grants.PermQueueRemove); err != nil {
		return err
	}
	removed := r.queue[idx]
	r.queue = append(r.queue[:idx], r.queue[idx+1:]...)
	r.pruneVotes(key)
	r.markDirty("queue")
	r.invalidateVoteCounts()
	r.undo = &undoEntry{kind: undoRemove, video: removed, index: idx}
	return nil
}

func (r *Room) handlePlayback(env models.RequestEnvelope) error {
	req := env.Request
	if req.State == nil {
		return fmt.Errorf("playback request missing state")
	}
	if err := r.require(env, grants.PermPlayback); err != nil {
		return err
	}
	now := r.now()
	state := *req.State
	if state == r.isPlaying {
		return nil
	}
	if state {
		if r.currentSource == nil {
			// Playing an empty room promotes the queue head first.
			r.promoteNext(now)
			if r.currentSource == nil {
				return models.ErrVideoNotFound
			}
		}
		r.isPlaying = true
		r.playbackStartTime = now
	} else {
		r.playbackPosition = r.observedPosition(now)
		r.isPlaying = false
	}
	r.markDirty("isPlaying", "playbackPosition")
	return nil
}

func (r *Room) handleSeek(env models.RequestEnvelope) error {
	req := env.Request
	if req.Position == nil {
		return fmt.Errorf("seek request missing position")
	}
	if err := r.require(env, grants.PermSeek); err != nil {
		return err
	}
	if r.currentSource == nil {
		return models.ErrVideoNotFound
	}
	now := r.now()
	prev := r.observedPosition(now)

	pos := *req.Position
	if pos < 0 {
		pos = 0
	}
	if r.currentSource.Length > 0 && pos > float64(r.currentSource.Length) {
		pos = float64(r.currentSource.Length)
	}
	r.playbackPosition = pos
	r.playbackStartTime = now
	r.markDirty("playbackPosition")
	r.undo = &undoEntry{kind: undoSeek, position: prev}
	return nil
}

func (r *Room) handleSkip(env models.RequestEnvelope) error {
	if err := r.require(env, grants.PermSkip); err != nil {
		return err
	}
	if r.currentSource == nil {
		return models.ErrVideoNotFound
	}
	now := r.now()
	skipped := *r.currentSource
	prev := r.observedPosition(now)

	if r.queueMode == models.QueueModeDJ {
		// An explicit skip in dj mode moves on instead of restarting.
		r.currentSource = nil
		r.promoteNext(now)
	} else {
		r.advance(now)
	}
	r.undo = &undoEntry{kind: undoSkip, video: skipped, position: prev}
	r.markDirty("currentSource", "queue", "playbackPosition")
	return nil
}

func (r *Room) handleOrder(env models.RequestEnvelope) error {
	req := env.Request
	if req.FromIdx == nil || req.ToIdx == nil {
		return fmt.Errorf("order request missing indices")
	}
	if err := r.require(env, grants.PermQueueOrder); err != nil {
		return err
	}
	from, to := *req.FromIdx, *req.ToIdx
	if from < 0 || from >= len(r.queue) || to < 0 || to >= len(r.queue) {
		return fmt.Errorf("order indices out of range")
	}
	if from == to {
		return nil
	}
	item := r.queue[from]
	r.queue = append(r.queue[:from], r.queue[from+1:]...)
	r.queue = append(r.queue[:to], append([]models.Video{item}, r.queue[to:]...)...)
	r.markDirty("queue")
	return nil
}

func (r *Room) handleShuffle(env models.RequestEnvelope) error {
	if err := r.require(env, grants.PermQueueOrder); err != nil {
		return err
	}
	rand.Shuffle(len(r.queue), func(i, j int) {
		r.queue[i], r.queue[j] = r.queue[j], r.queue[i]
	})
	r.markDirty("queue")
	return nil
}

func (r *Room) handlePlayNow(env models.RequestEnvelope) error {
	req := env.Request
	if req.Video == nil {
		return fmt.Errorf("playnow request missing video")
	}
	if err := r.require(env, grants.PermQueueOrder); err != nil {
		return err
	}
	idx := r.indexInQueue(*req.Video)
	if idx < 0 {
		return models.ErrVideoNotFound
	}
	now := r.now()
	target := r.queue[idx]
	r.queue = append(r.queue[:idx], r.queue[idx+1:]...)

	// The interrupted item goes back to the front of the queue.
	if r.currentSource != nil {
		r.queue = append([]models.Video{*r.currentSource}, r.queue...)
	}
	r.currentSource = &target
	r.pruneVotes(target.Key())
	r.playbackPosition = 0
	r.playbackStartTime = now
	r.markDirty("currentSource", "queue", "playbackPosition")
	r.invalidateVoteCounts()
	return nil
}

func (r *Room) handlePromote(env models.RequestEnvelope) error {
	req := env.Request
	role, ok := grants.RoleFromName(req.Role)
	if !ok {
		return fmt.Errorf("unknown role %q", req.Role)
	}
	var perm grants.Mask
	switch role {
	case grants.RoleAdministrator:
		perm = grants.PermPromoteAdmin
	case grants.RoleModerator:
		perm = grants.PermPromoteModerator
	case grants.RoleTrusted:
		perm = grants.PermPromoteTrusted
	default:
		return fmt.Errorf("cannot promote to role %q", req.Role)
	}
	if err := r.require(env, perm); err != nil {
		return err
	}
	r.setUserRole(req.TargetID, role)
	return nil
}

func (r *Room) setUserRole(userID string, role grants.Role) {
	for _, set := range r.userRoles {
		delete(set, userID)
	}
	set, ok := r.userRoles[role]
	if !ok {
		set = make(map[string]struct{})
		r.userRoles[role] = set
	}
	set[userID] = struct{}{}

	for i := range r.users {
		if r.users[i].ID == userID {
			r.users[i].Role = role.String()
		}
	}
	r.markDirty("users")
}

func (r *Room) handleChat(env models.RequestEnvelope) ([]interface{}, error) {
	if err := r.require(env, grants.PermChat); err != nil {
		return nil, err
	}
	if env.Request.Text == "" {
		return nil, nil
	}
	msg := models.ChatMessage{
		Action: models.ActionChat,
		From:   env.Username,
		Text:   env.Request.Text,
	}
	return []interface{}{msg}, nil
}

func (r *Room) handleJoin(env models.RequestEnvelope) error {
	for _, u := range r.users {
		if u.ID == env.ClientID {
			return nil
		}
	}
	r.users = append(r.users, models.RoomUser{
		ID:       env.ClientID,
		Name:     env.Username,
		LoggedIn: env.LoggedIn,
		Role:     r.roleOf(env).String(),
	})
	r.lastActive = r.now()
	r.markDirty("users")
	return nil
}

func (r *Room) handleLeave(env models.RequestEnvelope) error {
	for i, u := range r.users {
		if u.ID == env.ClientID {
			r.users = append(r.users[:i], r.users[i+1:]...)
			r.lastActive = r.now()
			r.markDirty("users")
			return nil
		}
	}
	return nil
}

func (r *Room) handleStatus(env models.RequestEnvelope) error {
	for i := range r.users {
		if r.users[i].ID == env.ClientID {
			if r.users[i].Status != env.Request.Status {
				r.users[i].Status = env.Request.Status
				r.markDirty("users")
			}
			return nil
		}
	}
	return nil
}

// handleUndo re-applies the inverse delta of the most recent undoable
// mutation. The requester needs the permission of the action being undone.
func (r *Room) handleUndo(env models.RequestEnvelope) error {
	if r.undo == nil {
		return fmt.Errorf("nothing to undo")
	}
	entry := r.undo
	now := r.now()

	switch entry.kind {
	case undoSeek:
		if err := r.require(env, grants.PermSeek); err != nil {
			return err
		}
		r.playbackPosition = entry.position
		r.playbackStartTime = now
		r.markDirty("playbackPosition")
	case undoRemove:
		if err := r.require(env, grants.PermQueueRemove); err != nil {
			return err
		}
		idx := entry.index
		if idx > len(r.queue) {
			idx = len(r.queue)
		}
		r.queue = append(r.queue[:idx], append([]models.Video{entry.video}, r.queue[idx:]...)...)
		r.markDirty("queue")
		r.invalidateVoteCounts()
	case undoSkip:
		if err := r.require(env, grants.PermSkip); err != nil {
			return err
		}
		// Put whatever replaced the skipped item back at the queue head.
		if r.currentSource != nil {
			r.queue = append([]models.Video{*r.currentSource}, r.queue...)
		}
		video := entry.video
		r.currentSource = &video
		r.playbackPosition = entry.position
		r.playbackStartTime = now
		r.markDirty("currentSource", "queue", "playbackPosition")
	}
	r.undo = nil
	return nil
}
