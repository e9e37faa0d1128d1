package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"roomdeck/pkg/bus"
	"roomdeck/pkg/logging"
	"roomdeck/pkg/models"
	"roomdeck/pkg/ratelimit"
)

// Owner handles requests for rooms loaded in the local process. An edge
// running next to a room owner can short-circuit the bus; a standalone edge
// wires NoLocalRooms and forwards everything.
type Owner interface {
	OwnsRoom(name string) bool
	Apply(ctx context.Context, env models.RequestEnvelope) error
}

// NoLocalRooms owns nothing; every request is forwarded over the bus.
type NoLocalRooms struct{}

func (NoLocalRooms) OwnsRoom(string) bool { return false }
func (NoLocalRooms) Apply(context.Context, models.RequestEnvelope) error {
	return models.ErrRoomNotFound
}

// Loader asks a room owner to load a room on demand. A nil loader means
// only rooms with a durable snapshot can be joined.
type Loader interface {
	EnsureLoaded(ctx context.Context, name string) error
}

// edgeRoom is the per-room edge state: the connected sockets, the merged
// field-overwrite view, and the local player statuses.
type edgeRoom struct {
	name    string
	clients map[string]*Client
	state   models.SyncMessage
	// playerStatus tracks local clients' buffering state; it resets every
	// time the room moves to a new current source.
	playerStatus map[string]string
	cancel       context.CancelFunc
}

// ClientManager owns every websocket on this edge and the per-room bus
// subscriptions feeding them.
type ClientManager struct {
	store     bus.Store
	loader    Loader
	owner     Owner
	limiter   *ratelimit.Limiter
	jwtSecret []byte
	logger    logging.Logger

	mu    sync.Mutex
	rooms map[string]*edgeRoom
}

func NewClientManager(store bus.Store, loader Loader, owner Owner, limiter *ratelimit.Limiter, jwtSecret []byte, logger logging.Logger) *ClientManager {
	if owner == nil {
		owner = NoLocalRooms{}
	}
	return &ClientManager{
		store:     store,
		loader:    loader,
		owner:     owner,
		limiter:   limiter,
		jwtSecret: jwtSecret,
		logger:    logger,
		rooms:     make(map[string]*edgeRoom),
	}
}

// ServeWS upgrades the connection and runs the client until it disconnects.
// An unusable room name is rejected over the socket so the client sees a
// close code rather than a failed upgrade.
func (m *ClientManager) ServeWS(w http.ResponseWriter, r *http.Request, roomName string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.WithError(err).Error("Failed to upgrade websocket connection")
		return
	}

	client := &Client{
		manager: m,
		conn:    conn,
		send:    make(chan []byte, 256),
		id:      uuid.New().String(),
		room:    bus.NormalizeRoomName(roomName),
		logger:  m.logger,
	}

	if client.room == "" || len(client.room) > 32 {
		client.closeWith(models.CloseInvalidURL, "invalid room name")
		return
	}

	go client.writePump()
	client.readPump()
}

// join binds an authenticated client to its room, seeding the merged view
// from the durable snapshot when this edge has no subscription yet.
func (m *ClientManager) join(c *Client) error {
	ctx := context.Background()

	m.mu.Lock()
	room, ok := m.rooms[c.room]
	m.mu.Unlock()

	if !ok {
		if m.loader != nil {
			if err := m.loader.EnsureLoaded(ctx, c.room); err != nil {
				return err
			}
		}
		snap, err := m.store.GetSnapshot(ctx, c.room)
		if err != nil {
			return err
		}

		subCtx, cancel := context.WithCancel(context.Background())
		fresh := &edgeRoom{
			name:         c.room,
			clients:      make(map[string]*Client),
			state:        snap.SyncView(),
			playerStatus: make(map[string]string),
			cancel:       cancel,
		}

		m.mu.Lock()
		if existing, raced := m.rooms[c.room]; raced {
			// Another client subscribed while we hydrated.
			cancel()
			room = existing
		} else {
			m.rooms[c.room] = fresh
			room = fresh
			go m.runSubscription(subCtx, c.room)
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	room.clients[c.id] = c
	initial, err := json.Marshal(room.state)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	c.enqueue(initial)
	m.route(ctx, c.envelope(models.RoomRequest{Type: models.RequestJoin}))

	m.logger.WithFields(logging.Fields{
		"room":      c.room,
		"client_id": c.id,
	}).Info("Client joined room")
	return nil
}

// disconnect detaches a client, tells the room owner it left, and drops the
// room subscription when the last local client is gone.
func (m *ClientManager) disconnect(c *Client) {
	m.mu.Lock()
	room, ok := m.rooms[c.room]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, present := room.clients[c.id]; !present {
		m.mu.Unlock()
		return
	}
	delete(room.clients, c.id)
	delete(room.playerStatus, c.id)
	empty := len(room.clients) == 0
	if empty {
		room.cancel()
		delete(m.rooms, c.room)
	}
	m.mu.Unlock()

	m.route(context.Background(), c.envelope(models.RoomRequest{Type: models.RequestLeave}))

	m.logger.WithFields(logging.Fields{
		"room":      c.room,
		"client_id": c.id,
	}).Info("Client left room")
}

// handleRequest rate-limits and routes one client request.
func (m *ClientManager) handleRequest(c *Client, req models.RoomRequest) {
	ctx := context.Background()

	if m.limiter != nil {
		retryAfter, err := m.limiter.Consume(ctx, "client:"+c.id, requestCost(req.Type))
		if errors.Is(err, models.ErrRateLimited) {
			m.sendToClient(c, models.RequestErrorMessage{
				Action:   models.ActionRequestError,
				ClientID: c.id,
				Error:    "rate limit exceeded, retry in " + retryAfter.String(),
			})
			return
		}
		if err != nil {
			m.logger.WithError(err).Warn("Rate limiter unavailable, letting request through")
		}
	}

	if req.Type == models.RequestStatus {
		m.mu.Lock()
		if room, ok := m.rooms[c.room]; ok {
			room.playerStatus[c.id] = req.Status
		}
		m.mu.Unlock()
	}

	m.route(ctx, c.envelope(req))
}

// route applies a request locally when this process owns the room and
// forwards it over the bus otherwise.
func (m *ClientManager) route(ctx context.Context, env models.RequestEnvelope) {
	if m.owner.OwnsRoom(env.Room) {
		if err := m.owner.Apply(ctx, env); err != nil {
			m.logger.WithError(err).WithField("room", env.Room).Debug("Local request rejected")
		}
		return
	}
	if err := m.store.PublishRequest(ctx, env); err != nil {
		m.logger.WithError(err).WithField("room", env.Room).Error("Failed to forward request")
	}
}

// runSubscription pumps one room's bus channel into the local fan-out.
func (m *ClientManager) runSubscription(ctx context.Context, name string) {
	err := m.store.SubscribeRoom(ctx, name, func(payload []byte) {
		m.dispatch(name, payload)
	})
	if err != nil && ctx.Err() == nil {
		m.logger.WithError(err).WithField("room", name).Error("Room subscription exited")
	}
}

// dispatch handles one payload from the room channel.
func (m *ClientManager) dispatch(name string, payload []byte) {
	var head struct {
		Action   string `json:"action"`
		ClientID string `json:"clientId"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		m.logger.WithError(err).Warn("Undecodable room channel payload")
		return
	}

	switch head.Action {
	case models.ActionSync:
		m.mergeAndFanOut(name, payload)
	case models.ActionChat, models.ActionAnnouncement:
		m.fanOut(name, payload)
	case models.ActionRequestError:
		m.sendToClientID(name, head.ClientID, payload)
	case models.ActionRoomUnload:
		m.closeRoom(name, payload)
	default:
		m.logger.WithField("action", head.Action).Warn("Unknown room channel action")
	}
}

// mergeAndFanOut folds a field-overwrite delta into the room's merged view,
// then relays the raw delta to every local client.
func (m *ClientManager) mergeAndFanOut(name string, payload []byte) {
	var delta map[string]interface{}
	if err := json.Unmarshal(payload, &delta); err != nil {
		m.logger.WithError(err).Warn("Undecodable sync delta")
		return
	}

	m.mu.Lock()
	room, ok := m.rooms[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	for field, value := range delta {
		room.state[field] = value
	}
	if _, changed := delta["currentSource"]; changed {
		// A new item is playing; stale buffering reports no longer apply.
		room.playerStatus = make(map[string]string)
	}
	targets := collectClients(room)
	m.mu.Unlock()

	for _, c := range targets {
		c.enqueue(payload)
	}
}

func (m *ClientManager) fanOut(name string, payload []byte) {
	m.mu.Lock()
	room, ok := m.rooms[name]
	var targets []*Client
	if ok {
		targets = collectClients(room)
	}
	m.mu.Unlock()

	for _, c := range targets {
		c.enqueue(payload)
	}
}

// sendToClientID delivers a payload to exactly one local client; clients on
// other edges receive it from their own subscription.
func (m *ClientManager) sendToClientID(name, clientID string, payload []byte) {
	m.mu.Lock()
	var target *Client
	if room, ok := m.rooms[name]; ok {
		target = room.clients[clientID]
	}
	m.mu.Unlock()

	if target != nil {
		target.enqueue(payload)
	}
}

// closeRoom relays the unload notice and closes every local socket with the
// room-unloaded code.
func (m *ClientManager) closeRoom(name string, payload []byte) {
	var notice models.UnloadMessage
	_ = json.Unmarshal(payload, &notice)

	m.mu.Lock()
	room, ok := m.rooms[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	targets := collectClients(room)
	room.cancel()
	delete(m.rooms, name)
	m.mu.Unlock()

	for _, c := range targets {
		c.closeWith(models.CloseRoomUnloaded, notice.Reason)
	}

	m.logger.WithFields(logging.Fields{
		"room":    name,
		"clients": len(targets),
		"reason":  notice.Reason,
	}).Info("Room unloaded, sockets closed")
}

func (m *ClientManager) sendToClient(c *Client, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		m.logger.WithError(err).Error("Failed to marshal client payload")
		return
	}
	c.enqueue(raw)
}

// GetStats reports connection counts per room.
func (m *ClientManager) GetStats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	perRoom := make(map[string]int, len(m.rooms))
	total := 0
	for name, room := range m.rooms {
		perRoom[name] = len(room.clients)
		total += len(room.clients)
	}
	return map[string]interface{}{
		"connections": total,
		"rooms":       perRoom,
	}
}

// ConnectionCount reports the number of sockets currently attached.
func (m *ClientManager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, room := range m.rooms {
		total += len(room.clients)
	}
	return total
}

// Shutdown closes every socket; callers drain before process exit.
func (m *ClientManager) Shutdown() {
	m.mu.Lock()
	var targets []*Client
	for _, room := range m.rooms {
		targets = append(targets, collectClients(room)...)
		room.cancel()
	}
	m.rooms = make(map[string]*edgeRoom)
	m.mu.Unlock()

	for _, c := range targets {
		c.closeWith(models.CloseRoomUnloaded, "server shutting down")
	}
}

func collectClients(room *edgeRoom) []*Client {
	out := make([]*Client, 0, len(room.clients))
	for _, c := range room.clients {
		out = append(out, c)
	}
	return out
}

// requestCost weights the rate limit per request type; queue mutations are
// costlier than chat or player status.
func requestCost(t models.RequestType) int {
	switch t {
	case models.RequestAdd, models.RequestPlayNow:
		return 5
	case models.RequestShuffle, models.RequestOrder:
		return 3
	case models.RequestJoin, models.RequestLeave, models.RequestStatus:
		return 0
	default:
		return 1
	}
}
