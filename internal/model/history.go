package model

import "time"

// A HistoryEntry is the immutable audit record of one received write.
type HistoryEntry struct {
	Base `json:"-" msgpack:",inline" storm:"inline"`

	TenantID   string     `json:"-"               msgpack:"tenant_id"`
	Coordinate Coordinate `json:"coordinate"      msgpack:"coordinate"`
	Key        string     `json:"-"               msgpack:"key"         storm:"index"`
	Items      Items      `json:"items"           msgpack:"items"`
	Signs      []string   `json:"signs,omitempty" msgpack:"signs"`
	Actor      Actor      `json:"actor"           msgpack:"actor"`
	AppliedAt  time.Time  `json:"applied_at"      msgpack:"applied_at"`
	RecordedAt time.Time  `json:"recorded_at"     msgpack:"recorded_at"`
	// Stale is true when the write lost the last-writer-wins comparison.
	Stale bool `json:"stale" msgpack:"stale"`
}
