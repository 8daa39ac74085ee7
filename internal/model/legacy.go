package model

import "time"

// A LegacyContainer is a record of the former container table.
// Its ID is the coordinate key.
type LegacyContainer struct {
	Base `msgpack:",inline" storm:"inline"`

	X                int       `msgpack:"x"`
	Y                int       `msgpack:"y"`
	Z                int       `msgpack:"z"`
	Items            Items     `msgpack:"items"`
	Signs            []string  `msgpack:"signs"`
	OpenedByUUID     string    `msgpack:"opened_by_uuid"`
	OpenedByUsername string    `msgpack:"opened_by_username"`
	LastSeenAt       time.Time `msgpack:"last_seen_at"`
}
