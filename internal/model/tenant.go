package model

import "time"

// A Tenant holds the running tally of a structure's snapshots.
// It is updated in the same transaction as every snapshot write.
type Tenant struct {
	Base `msgpack:",inline" storm:"inline"`

	TotalChests   int        `msgpack:"total_chests"`
	TotalItems    int        `msgpack:"total_items"`
	LastUpdatedAt *time.Time `msgpack:"last_updated_at"`
	// Revision is incremented on every change of the tally.
	Revision int64 `msgpack:"revision"`
}

// Summary returns the summary stats of the tenant.
func (t *Tenant) Summary() Summary {
	if t == nil {
		return Summary{}
	}
	s := Summary{
		TotalChests: t.TotalChests,
		TotalItems:  t.TotalItems,
		Revision:    t.Revision,
	}
	if t.LastUpdatedAt != nil {
		at := t.LastUpdatedAt.UTC()
		s.LastUpdatedAt = &at
	}
	return s
}
