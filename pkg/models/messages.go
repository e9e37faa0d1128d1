package models

// Socket protocol actions, client → server.
const (
	ActionAuth   = "auth"
	ActionReq    = "req"
	ActionStatus = "status"
	ActionKickMe = "kickme"
)

// Socket protocol actions, server → client and bus → edge.
const (
	ActionSync         = "sync"
	ActionChat         = "chat"
	ActionAnnouncement = "announcement"
	ActionRoomUnload   = "room-unload"
	ActionRequestError = "request-error"
)

// Application-level websocket close codes. Codes at or above 4000 signal a
// rejection the client must not auto-reconnect from.
const (
	CloseInvalidURL   = 4001
	CloseRoomNotFound = 4002
	CloseRoomUnloaded = 4003
	CloseMissingToken = 4004
	CloseKicked       = 4005
)

// RequestType discriminates room mutation requests.
type RequestType string

const (
	RequestAdd      RequestType = "add"
	RequestRemove   RequestType = "remove"
	RequestPlayback RequestType = "playback"
	RequestSeek     RequestType = "seek"
	RequestSkip     RequestType = "skip"
	RequestOrder    RequestType = "order"
	RequestPromote  RequestType = "promote"
	RequestChat     RequestType = "chat"
	RequestJoin     RequestType = "join"
	RequestLeave    RequestType = "leave"
	RequestShuffle  RequestType = "shuffle"
	RequestPlayNow  RequestType = "playnow"
	RequestUndo     RequestType = "undo"
	RequestStatus   RequestType = "playerstatus"
)

// RoomRequest is the tagged union carried in {action:"req"} messages and on
// the cross-process request channel. Only the fields relevant to Type are
// set.
type RoomRequest struct {
	Type RequestType `json:"type"`

	Video    *Video   `json:"video,omitempty"`    // add, remove, playnow
	State    *bool    `json:"state,omitempty"`    // playback
	Position *float64 `json:"position,omitempty"` // seek
	FromIdx  *int     `json:"fromIdx,omitempty"`  // order
	ToIdx    *int     `json:"toIdx,omitempty"`    // order
	Text     string   `json:"text,omitempty"`     // chat
	TargetID string   `json:"targetId,omitempty"` // promote
	Role     string   `json:"role,omitempty"`     // promote
	Status   string   `json:"status,omitempty"`   // playerstatus
}

// ClientMessage is the envelope for all client → server socket traffic.
type ClientMessage struct {
	Action  string       `json:"action"`
	Token   string       `json:"token,omitempty"`
	Request *RoomRequest `json:"request,omitempty"`
	Status  string       `json:"status,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

// RequestEnvelope wraps a forwarded request with the requester's identity so
// the owning process can evaluate grants without a second lookup.
type RequestEnvelope struct {
	Room     string      `json:"room"`
	ClientID string      `json:"clientId"`
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
	LoggedIn bool        `json:"loggedIn"`
	Request  RoomRequest `json:"request"`
}

// SyncMessage is a field-overwrite delta published on room:{name}. Every
// key present carries the complete new value for that field; subscribers
// merge by overwriting keys, so partial/nested patches must never be sent.
type SyncMessage map[string]interface{}

// NewSyncMessage returns a sync payload pre-tagged with its action and room.
func NewSyncMessage(room string) SyncMessage {
	return SyncMessage{
		"action": ActionSync,
		"name":   room,
	}
}

// ChatMessage is relayed verbatim to every socket in the room.
type ChatMessage struct {
	Action string `json:"action"`
	From   string `json:"from"`
	Text   string `json:"text"`
}

// AnnouncementMessage is an operator broadcast to a room.
type AnnouncementMessage struct {
	Action string `json:"action"`
	Text   string `json:"text"`
}

// UnloadMessage tells edges the room is going away.
type UnloadMessage struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// RequestErrorMessage reports a rejected forwarded request back through the
// room channel. Edges deliver it only to the socket named by ClientID.
type RequestErrorMessage struct {
	Action     string `json:"action"`
	ClientID   string `json:"clientId"`
	Error      string `json:"error"`
	Permission string `json:"permission,omitempty"`
}
