package models

import (
	"fmt"
	"time"
)

// Visibility controls who can discover a room.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
)

// QueueMode selects how the queue advances when the current item ends.
type QueueMode string

const (
	QueueModeManual QueueMode = "manual"
	QueueModeVote   QueueMode = "vote"
	QueueModeLoop   QueueMode = "loop"
	QueueModeDJ     QueueMode = "dj"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityUnlisted, VisibilityPrivate:
		return true
	}
	return false
}

// Valid reports whether m is a known queue mode.
func (m QueueMode) Valid() bool {
	switch m {
	case QueueModeManual, QueueModeVote, QueueModeLoop, QueueModeDJ:
		return true
	}
	return false
}

// RoomOptions is the durable configuration of a room, as persisted by the
// room configuration store and supplied on creation.
type RoomOptions struct {
	Name        string         `json:"name"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Visibility  Visibility     `json:"visibility,omitempty"`
	QueueMode   QueueMode      `json:"queueMode,omitempty"`
	IsTemporary bool           `json:"isTemporary,omitempty"`
	Owner       string         `json:"owner,omitempty"`
	Grants      map[string]int `json:"grants,omitempty"` // role name → permission mask
}

// Validate checks creation options for well-formedness.
func (o RoomOptions) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("room name is required")
	}
	if len(o.Name) > 32 {
		return fmt.Errorf("room name too long")
	}
	if o.Visibility != "" && !o.Visibility.Valid() {
		return fmt.Errorf("invalid visibility %q", o.Visibility)
	}
	if o.QueueMode != "" && !o.QueueMode.Valid() {
		return fmt.Errorf("invalid queue mode %q", o.QueueMode)
	}
	return nil
}

// RoomUser describes a connected client as broadcast in sync payloads.
type RoomUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	LoggedIn bool   `json:"isLoggedIn"`
	Role     string `json:"role"`
	Status   string `json:"status,omitempty"` // player status: buffering, ready, playing
}

// RoomSnapshot is the full serialization of room state stored durably under
// room:{name}. It is the authoritative copy when no process owns the room.
type RoomSnapshot struct {
	Name              string              `json:"name"`
	Title             string              `json:"title"`
	Description       string              `json:"description"`
	IsTemporary       bool                `json:"isTemporary"`
	Visibility        Visibility          `json:"visibility"`
	QueueMode         QueueMode           `json:"queueMode"`
	Queue             []Video             `json:"queue"`
	CurrentSource     *Video              `json:"currentSource"`
	IsPlaying         bool                `json:"isPlaying"`
	PlaybackPosition  float64             `json:"playbackPosition"`
	PlaybackStartTime time.Time           `json:"playbackStartTime"`
	Users             []RoomUser          `json:"users"`
	Votes             map[string][]string `json:"votes,omitempty"`     // video key → voter client ids
	Grants            map[string]int      `json:"grants,omitempty"`    // role name → permission mask
	UserRoles         map[string][]string `json:"userRoles,omitempty"` // role name → user ids
	Owner             string              `json:"owner,omitempty"`
	LoadEpoch         int32               `json:"loadEpoch"`
}

// SyncView renders the snapshot as a full field-overwrite sync payload, for
// seeding a subscriber's merged view before any delta arrives.
func (s *RoomSnapshot) SyncView() SyncMessage {
	msg := NewSyncMessage(s.Name)
	msg["title"] = s.Title
	msg["description"] = s.Description
	msg["visibility"] = s.Visibility
	msg["queueMode"] = s.QueueMode
	msg["isPlaying"] = s.IsPlaying
	msg["playbackPosition"] = s.PlaybackPosition
	msg["playbackStartTime"] = s.PlaybackStartTime
	msg["currentSource"] = s.CurrentSource
	msg["queue"] = append([]Video(nil), s.Queue...)
	msg["users"] = append([]RoomUser(nil), s.Users...)
	msg["grants"] = s.Grants

	voteCounts := make(map[string]int, len(s.Votes))
	for key, voters := range s.Votes {
		voteCounts[key] = len(voters)
	}
	msg["voteCounts"] = voteCounts
	return msg
}
