package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Addressable space of a container coordinate.
const (
	MaxHorizontal = 30_000_000
	MinY          = -2048
	MaxY          = 4096
)

type (
	// A Coordinate locates a container inside a tenant.
	// An empty World means the tenant's implicit world.
	Coordinate struct {
		World string `json:"world,omitempty" msgpack:"world"`
		X     int    `json:"x"               msgpack:"x"`
		Y     int    `json:"y"               msgpack:"y"`
		Z     int    `json:"z"               msgpack:"z"`
	}

	// An Item describes the stack held by one slot.
	Item struct {
		ID    string `json:"id"             msgpack:"id"`
		Count int    `json:"count"          msgpack:"count"`
		Name  string `json:"name,omitempty" msgpack:"name"`
	}

	// Items maps a slot index to its stack. Slots need not be contiguous.
	Items map[int]Item

	// An Actor is the identity that opened a container.
	Actor struct {
		ID   string `json:"id"   msgpack:"id"`
		Name string `json:"name" msgpack:"name"`
	}

	// A Snapshot is the current state of one container.
	Snapshot struct {
		Base `json:"-" msgpack:",inline" storm:"inline"`

		TenantID   string     `json:"-"              msgpack:"tenant_id"`
		Coordinate Coordinate `json:"coordinate"     msgpack:"coordinate"`
		Items      Items      `json:"items"          msgpack:"items"`
		ItemCount  int        `json:"item_count"     msgpack:"item_count"`
		Signs      []string   `json:"signs,omitempty" msgpack:"signs"`
		OpenedBy   Actor      `json:"opened_by"      msgpack:"opened_by"`
		LastSeenAt time.Time  `json:"last_seen_at"   msgpack:"last_seen_at"`
	}

	// A Summary aggregates the snapshots of a tenant.
	Summary struct {
		TotalChests   int        `json:"total_chests"`
		TotalItems    int        `json:"total_items"`
		LastUpdatedAt *time.Time `json:"last_updated_at"`
		// Revision orders the summaries of a tenant.
		Revision int64 `json:"-"`
	}
)

// ParseCoordinate parses the given path parameters.
func ParseCoordinate(world, x, y, z string) (Coordinate, error) {
	var err error
	c := Coordinate{World: world}

	if c.X, err = strconv.Atoi(x); err != nil {
		return c, errors.Wrap(err, "x")
	}
	if c.Y, err = strconv.Atoi(y); err != nil {
		return c, errors.Wrap(err, "y")
	}
	if c.Z, err = strconv.Atoi(z); err != nil {
		return c, errors.Wrap(err, "z")
	}
	return c, nil
}

// Key returns the storage key of the coordinate.
func (c Coordinate) Key() string {
	return fmt.Sprintf("%s|%d|%d|%d", c.World, c.X, c.Y, c.Z)
}

// String implements fmt.Stringer.
func (c Coordinate) String() string {
	if c.World == "" {
		return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z)
	}
	return fmt.Sprintf("%s(%d,%d,%d)", c.World, c.X, c.Y, c.Z)
}

// Validate checks the coordinate lies inside the addressable space.
func (c Coordinate) Validate() error {
	if strings.Contains(c.World, "|") {
		return errors.New("world must not contain '|'")
	}
	if c.X < -MaxHorizontal || c.X > MaxHorizontal {
		return errors.Errorf("x out of range: %d", c.X)
	}
	if c.Z < -MaxHorizontal || c.Z > MaxHorizontal {
		return errors.Errorf("z out of range: %d", c.Z)
	}
	if c.Y < MinY || c.Y > MaxY {
		return errors.Errorf("y out of range: %d", c.Y)
	}
	return nil
}

// Validate checks every slot and stack.
func (items Items) Validate() error {
	for slot, item := range items {
		if slot < 0 {
			return errors.Errorf("negative slot: %d", slot)
		}
		if item.ID == "" {
			return errors.Errorf("slot %d: missing item id", slot)
		}
		if item.Count < 0 {
			return errors.Errorf("slot %d: negative count: %d", slot, item.Count)
		}
	}
	return nil
}

// Count returns the sum of all stack counts.
func (items Items) Count() int {
	var n int
	for _, item := range items {
		n += item.Count
	}
	return n
}

// Clone returns a copy of items. A nil map becomes an empty one.
func (items Items) Clone() Items {
	c := make(Items, len(items))
	for slot, item := range items {
		c[slot] = item
	}
	return c
}
