package model

import "time"

// An IngestToken grants access to a tenant.
// Only the token digest is stored, it is used as ID.
type IngestToken struct {
	Base `msgpack:",inline" storm:"inline"`

	TenantID   string     `msgpack:"tenant_id"    storm:"index"`
	Label      string     `msgpack:"label"`
	Active     bool       `msgpack:"active"`
	LastUsedAt *time.Time `msgpack:"last_used_at"`
}
