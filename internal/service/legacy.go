package service

import (
	"context"

	"github.com/mdouchement/chestsync/internal/database"
	"github.com/mdouchement/chestsync/internal/model"
)

// A LegacyTable mirrors snapshots into the former container table,
// still read by older tooling.
type LegacyTable struct {
	db database.LegacyInteraction
}

// NewLegacyTable returns a new LegacyTable.
func NewLegacyTable(db database.LegacyInteraction) *LegacyTable {
	return &LegacyTable{db: db}
}

// WriteLegacy implements LegacyWriter.
func (l *LegacyTable) WriteLegacy(ctx context.Context, tenantID string, snapshot *model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return l.db.SaveLegacyContainer(tenantID, &model.LegacyContainer{
		Base:             model.Base{ID: snapshot.Coordinate.Key()},
		X:                snapshot.Coordinate.X,
		Y:                snapshot.Coordinate.Y,
		Z:                snapshot.Coordinate.Z,
		Items:            snapshot.Items.Clone(),
		Signs:            snapshot.Signs,
		OpenedByUUID:     snapshot.OpenedBy.ID,
		OpenedByUsername: snapshot.OpenedBy.Name,
		LastSeenAt:       snapshot.LastSeenAt,
	})
}
