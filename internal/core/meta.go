package core

import "maps"

// Meta is a JSON object attached to a client or a room.
type Meta map[string]any

// Clone returns a shallow copy that can be handed to hooks without exposing the stored map.
func (m Meta) Clone() Meta {
	if m == nil {
		return Meta{}
	}
	return maps.Clone(m)
}

// Merge copies every field of other into m.
func (m Meta) Merge(other Meta) {
	maps.Copy(m, other)
}
