package rooms

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"roomdeck/pkg/bus"
	"roomdeck/pkg/logging"
	"roomdeck/pkg/models"
)

// Unload reasons carried in the room-unload notice and lifecycle events.
const (
	UnloadReasonKeepalive = "keepalive"
	UnloadReasonAdmin     = "admin"
	UnloadReasonShutdown  = "shutdown"
	UnloadReasonClaimed   = "claimed-elsewhere"
)

// ConfigStore persists permanent room configuration. Temporary rooms never
// touch it.
type ConfigStore interface {
	// GetRoomByName returns the saved configuration, or
	// models.ErrRoomNotFound when no such room exists. Lookup is
	// case-insensitive.
	GetRoomByName(ctx context.Context, name string) (*models.RoomOptions, error)
	IsRoomNameTaken(ctx context.Context, name string) (bool, error)
	SaveRoom(ctx context.Context, opts models.RoomOptions) error
	DeleteRoom(ctx context.Context, name string) error
}

// Config tunes the registry loops.
type Config struct {
	// TickInterval is the fixed cadence of Update/Sync over loaded rooms.
	TickInterval time.Duration
	// Keepalive is how long a room may sit empty before being evicted.
	Keepalive time.Duration
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.Keepalive <= 0 {
		c.Keepalive = 5 * time.Minute
	}
}

type roomEntry struct {
	room   *Room
	cancel context.CancelFunc
}

// Manager is the per-process registry of loaded rooms. Exactly one process
// may own a room at a time; the durable load epoch settles races when two
// processes load the same room concurrently.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*roomEntry
	loads singleflight.Group

	store   bus.Store
	configs ConfigStore
	events  bus.Events
	cfg     Config
	log     logging.Logger
}

func NewManager(store bus.Store, configs ConfigStore, events bus.Events, cfg Config, log logging.Logger) *Manager {
	cfg.applyDefaults()
	if events == nil {
		events = bus.NopEvents{}
	}
	return &Manager{
		rooms:   make(map[string]*roomEntry),
		store:   store,
		configs: configs,
		events:  events,
		cfg:     cfg,
		log:     log,
	}
}

// CreateRoom validates the options, claims the name, and loads the new room
// into this process. The durable snapshot is checked before the permanent
// config store so a loaded-but-unsaved temporary room also blocks the name.
func (m *Manager) CreateRoom(ctx context.Context, opts models.RoomOptions) (*Room, error) {
	opts.Name = bus.NormalizeRoomName(opts.Name)
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	_, loaded := m.rooms[opts.Name]
	m.mu.Unlock()
	if loaded {
		return nil, models.ErrRoomNameTaken
	}

	if _, err := m.store.GetSnapshot(ctx, opts.Name); err == nil {
		return nil, models.ErrRoomNameTaken
	} else if !errors.Is(err, models.ErrRoomNotFound) {
		return nil, err
	}

	if !opts.IsTemporary {
		taken, err := m.configs.IsRoomNameTaken(ctx, opts.Name)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, models.ErrRoomNameTaken
		}
		if err := m.configs.SaveRoom(ctx, opts); err != nil {
			return nil, err
		}
	}

	epoch, err := m.store.NextLoadEpoch(ctx)
	if err != nil {
		return nil, err
	}
	room := NewRoom(opts, epoch, m.log)
	if err := m.register(ctx, room); err != nil {
		return nil, err
	}

	m.events.RoomCreated(room.Name())
	m.events.RoomLoaded(room.Name())
	m.log.WithFields(logging.Fields{
		"room":      room.Name(),
		"epoch":     epoch,
		"temporary": opts.IsTemporary,
	}).Info("Room created")
	return room, nil
}

// GetRoom returns the loaded room, hydrating it from the durable snapshot or
// the permanent config store when necessary. With mustBeLoaded set it only
// consults memory, for callers that must not trigger a load.
func (m *Manager) GetRoom(ctx context.Context, name string, mustBeLoaded bool) (*Room, error) {
	name = bus.NormalizeRoomName(name)

	m.mu.Lock()
	entry, ok := m.rooms[name]
	m.mu.Unlock()
	if ok {
		return entry.room, nil
	}
	if mustBeLoaded {
		return nil, models.ErrRoomNotFound
	}

	// Collapse concurrent loads of the same room into one, otherwise each
	// caller would claim its own epoch and all but one would lose it.
	v, err, _ := m.loads.Do(name, func() (interface{}, error) {
		return m.loadRoom(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

func (m *Manager) loadRoom(ctx context.Context, name string) (*Room, error) {
	m.mu.Lock()
	entry, ok := m.rooms[name]
	m.mu.Unlock()
	if ok {
		return entry.room, nil
	}

	snap, err := m.store.GetSnapshot(ctx, name)
	switch {
	case err == nil:
		epoch, err := m.store.NextLoadEpoch(ctx)
		if err != nil {
			return nil, err
		}
		room := FromSnapshot(snap, epoch, m.log)
		if err := m.register(ctx, room); err != nil {
			return nil, err
		}
		m.events.RoomLoaded(name)
		m.log.WithFields(logging.Fields{"room": name, "epoch": epoch}).Info("Room hydrated from snapshot")
		return room, nil
	case errors.Is(err, models.ErrRoomNotFound):
		// Fall through to the permanent config store.
	default:
		return nil, err
	}

	opts, err := m.configs.GetRoomByName(ctx, name)
	if err != nil {
		return nil, err
	}
	epoch, err := m.store.NextLoadEpoch(ctx)
	if err != nil {
		return nil, err
	}
	room := NewRoom(*opts, epoch, m.log)
	if err := m.register(ctx, room); err != nil {
		return nil, err
	}
	m.events.RoomLoaded(name)
	m.log.WithFields(logging.Fields{"room": name, "epoch": epoch}).Info("Room loaded from config")
	return room, nil
}

// register installs the room, writes its snapshot (stamping this process's
// load epoch into the durable copy), broadcasts a full sync, and starts the
// forwarded-request subscriber.
func (m *Manager) register(ctx context.Context, room *Room) error {
	subCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if _, exists := m.rooms[room.Name()]; exists {
		m.mu.Unlock()
		cancel()
		return models.ErrRoomAlreadyLoaded
	}
	m.rooms[room.Name()] = &roomEntry{room: room, cancel: cancel}
	m.mu.Unlock()

	if err := m.store.SetSnapshot(ctx, room.Snapshot()); err != nil {
		m.mu.Lock()
		delete(m.rooms, room.Name())
		m.mu.Unlock()
		cancel()
		return err
	}
	if err := m.store.PublishSync(ctx, room.Name(), room.FullSync()); err != nil {
		m.log.WithFields(logging.Fields{"room": room.Name(), "error": err}).Warn("Failed to publish full sync on load")
	}

	go func() {
		err := m.store.SubscribeRequests(subCtx, room.Name(), func(env models.RequestEnvelope) {
			if err := m.Apply(subCtx, env); err != nil {
				m.log.WithFields(logging.Fields{
					"room":  room.Name(),
					"type":  env.Request.Type,
					"error": err,
				}).Debug("Forwarded request rejected")
			}
		})
		if err != nil && subCtx.Err() == nil {
			m.log.WithFields(logging.Fields{"room": room.Name(), "error": err}).Error("Request subscriber exited")
		}
	}()
	return nil
}

// Apply runs one request through the room's state machine, then persists and
// publishes the resulting delta. Rejections are pushed back over the room
// channel so the originating edge can relay them to the one client.
func (m *Manager) Apply(ctx context.Context, env models.RequestEnvelope) error {
	room, err := m.GetRoom(ctx, env.Room, true)
	if err != nil {
		return err
	}

	payloads, err := room.ProcessRequest(env)
	if err != nil {
		reject := models.RequestErrorMessage{
			Action:   models.ActionRequestError,
			ClientID: env.ClientID,
			Error:    err.Error(),
		}
		if denied, ok := models.AsPermissionDenied(err); ok {
			reject.Permission = denied.Permission
		}
		if pubErr := m.store.PublishControl(ctx, env.Room, reject); pubErr != nil {
			m.log.WithFields(logging.Fields{"room": env.Room, "error": pubErr}).Warn("Failed to publish request rejection")
		}
		return err
	}

	if err := m.persistAndPublish(ctx, room); err != nil {
		return err
	}
	for _, payload := range payloads {
		if err := m.store.PublishControl(ctx, env.Room, payload); err != nil {
			m.log.WithFields(logging.Fields{"room": env.Room, "error": err}).Warn("Failed to publish control payload")
		}
	}
	return nil
}

// persistAndPublish writes the durable snapshot and broadcasts the pending
// delta, if any.
func (m *Manager) persistAndPublish(ctx context.Context, room *Room) error {
	delta := room.Sync()
	if err := m.store.SetSnapshot(ctx, room.Snapshot()); err != nil {
		return err
	}
	if delta == nil {
		return nil
	}
	return m.store.PublishSync(ctx, room.Name(), delta)
}

// Announce broadcasts an operator message to one room's channel.
func (m *Manager) Announce(ctx context.Context, name, text string) error {
	return m.store.PublishControl(ctx, bus.NormalizeRoomName(name), models.AnnouncementMessage{
		Action: models.ActionAnnouncement,
		Text:   text,
	})
}

// RoomListing is the directory view of one loaded room.
type RoomListing struct {
	Name       string            `json:"name"`
	Title      string            `json:"title"`
	Visibility models.Visibility `json:"visibility"`
	Users      int               `json:"users"`
}

// List returns the loaded rooms, for the directory endpoint. Private rooms
// are excluded.
func (m *Manager) List() []RoomListing {
	m.mu.Lock()
	entries := make([]*roomEntry, 0, len(m.rooms))
	for _, e := range m.rooms {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	listings := make([]RoomListing, 0, len(entries))
	for _, e := range entries {
		if e.room.Visibility() == models.VisibilityPrivate {
			continue
		}
		listings = append(listings, RoomListing{
			Name:       e.room.Name(),
			Title:      e.room.Title(),
			Visibility: e.room.Visibility(),
			Users:      e.room.UserCount(),
		})
	}
	return listings
}

// LoadedCount reports how many rooms this process currently owns.
func (m *Manager) LoadedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// UnloadRoom evicts a loaded room. With preserveRedis the durable snapshot
// stays behind so another process can claim the room; otherwise the snapshot
// and sync bookkeeping are deleted. A claimed-elsewhere unload touches
// nothing durable and sends no notice, since the new owner already took over.
func (m *Manager) UnloadRoom(ctx context.Context, name, reason string, preserveRedis bool) error {
	name = bus.NormalizeRoomName(name)

	m.mu.Lock()
	entry, ok := m.rooms[name]
	if ok {
		delete(m.rooms, name)
	}
	m.mu.Unlock()
	if !ok {
		return models.ErrRoomNotFound
	}
	entry.cancel()

	if reason != UnloadReasonClaimed {
		notice := models.UnloadMessage{Action: models.ActionRoomUnload, Reason: reason}
		if err := m.store.PublishControl(ctx, name, notice); err != nil {
			m.log.WithFields(logging.Fields{"room": name, "error": err}).Warn("Failed to publish unload notice")
		}
		if preserveRedis {
			if err := m.store.SetSnapshot(ctx, entry.room.Snapshot()); err != nil {
				m.log.WithFields(logging.Fields{"room": name, "error": err}).Error("Failed to write final snapshot")
			}
		} else {
			if err := m.store.DeleteSnapshot(ctx, name); err != nil {
				m.log.WithFields(logging.Fields{"room": name, "error": err}).Warn("Failed to delete snapshot")
			}
			if err := m.store.DeleteSyncState(ctx, name); err != nil {
				m.log.WithFields(logging.Fields{"room": name, "error": err}).Warn("Failed to delete sync state")
			}
		}
	}

	m.events.RoomUnloaded(name, reason)
	m.log.WithFields(logging.Fields{"room": name, "reason": reason}).Info("Room unloaded")
	return nil
}

// Tick runs one pass over every loaded room: the epoch self-check, the state
// machine update, persistence of any delta, and stale eviction. A failure in
// one room never blocks the others.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	entries := make(map[string]*roomEntry, len(m.rooms))
	for name, e := range m.rooms {
		entries[name] = e
	}
	m.mu.Unlock()

	for name, entry := range entries {
		m.tickRoom(ctx, name, entry.room)
	}
}

// tickRoom handles one room for one tick. It returns true when the room was
// unloaded during the pass.
func (m *Manager) tickRoom(ctx context.Context, name string, room *Room) bool {
	durable, err := m.store.GetSnapshot(ctx, name)
	switch {
	case err == nil:
		if durable.LoadEpoch > room.LoadEpoch() {
			// Another process claimed the room after us; back off without
			// touching its state.
			m.log.WithFields(logging.Fields{
				"room":   name,
				"ours":   room.LoadEpoch(),
				"theirs": durable.LoadEpoch,
			}).Warn("Room claimed by another process")
			_ = m.UnloadRoom(ctx, name, UnloadReasonClaimed, true)
			return true
		}
	case errors.Is(err, models.ErrRoomNotFound):
		// Snapshot deleted out from under us; treat it as an external unload.
		m.log.WithFields(logging.Fields{"room": name}).Warn("Durable snapshot missing, unloading")
		_ = m.UnloadRoom(ctx, name, UnloadReasonClaimed, true)
		return true
	default:
		m.log.WithFields(logging.Fields{"room": name, "error": err}).Error("Epoch check failed")
		return false
	}

	room.Update()
	if err := m.persistAndPublish(ctx, room); err != nil {
		m.log.WithFields(logging.Fields{"room": name, "error": err}).Error("Failed to persist room state")
	}

	if room.IsStale(m.cfg.Keepalive) {
		_ = m.UnloadRoom(ctx, name, UnloadReasonKeepalive, false)
		return true
	}
	return false
}

// Run drives the tick loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Shutdown unloads every room, preserving durable snapshots so another
// process can pick them up.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	names := make([]string, 0, len(m.rooms))
	for name := range m.rooms {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		if err := m.UnloadRoom(ctx, name, UnloadReasonShutdown, true); err != nil {
			m.log.WithFields(logging.Fields{"room": name, "error": err}).Error("Failed to unload room on shutdown")
		}
	}
}
