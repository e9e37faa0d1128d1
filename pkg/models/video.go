package models

// Video is a playable queue item resolved from a metadata provider.
type Video struct {
	Service     string `json:"service"`
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	Length      int    `json:"length,omitempty"` // seconds; 0 until resolved
	Mime        string `json:"mime,omitempty"`   // direct-file sources only
}

// Key returns the identity of a video for equality and dedup purposes.
// Two videos are the same queue item iff (service, id) match.
func (v Video) Key() string {
	return v.Service + ":" + v.ID
}

// SameVideo reports whether two videos share the same identity.
func (v Video) SameVideo(other Video) bool {
	return v.Service == other.Service && v.ID == other.ID
}
