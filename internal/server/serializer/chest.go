package serializer

import (
	"time"

	"github.com/mdouchement/chestsync/internal/model"
)

// Chest serializes the render of a snapshot.
func Chest(m *model.Snapshot) map[string]interface{} {
	items := m.Items
	if items == nil {
		items = model.Items{}
	}

	r := map[string]interface{}{
		"coordinate":   m.Coordinate,
		"items":        items,
		"item_count":   m.ItemCount,
		"opened_by":    m.OpenedBy,
		"last_seen_at": m.LastSeenAt.UTC(),
	}
	if len(m.Signs) > 0 {
		r["signs"] = m.Signs
	}
	return r
}

// Chests serializes the render of snapshots.
func Chests(m []*model.Snapshot) []map[string]interface{} {
	chests := make([]map[string]interface{}, len(m))
	for i, s := range m {
		chests[i] = Chest(s)
	}
	return chests
}

// Summary serializes the render of a summary.
func Summary(m model.Summary) map[string]interface{} {
	r := map[string]interface{}{
		"total_chests":    m.TotalChests,
		"total_items":     m.TotalItems,
		"last_updated_at": nil,
	}
	if m.LastUpdatedAt != nil {
		r["last_updated_at"] = m.LastUpdatedAt.UTC()
	}
	return r
}

// HistoryEntry serializes the render of an history entry.
func HistoryEntry(m *model.HistoryEntry) map[string]interface{} {
	items := m.Items
	if items == nil {
		items = model.Items{}
	}

	return map[string]interface{}{
		"uuid":        m.ID,
		"coordinate":  m.Coordinate,
		"items":       items,
		"item_count":  items.Count(),
		"actor":       m.Actor,
		"applied_at":  m.AppliedAt.UTC(),
		"recorded_at": m.RecordedAt.UTC(),
		"stale":       m.Stale,
	}
}

// History serializes the render of history entries.
func History(m []*model.HistoryEntry) []map[string]interface{} {
	entries := make([]map[string]interface{}, len(m))
	for i, e := range m {
		entries[i] = HistoryEntry(e)
	}
	return entries
}

// Token serializes the render of an ingest token.
func Token(m *model.IngestToken) map[string]interface{} {
	r := map[string]interface{}{
		"digest":       m.ID,
		"structure_id": m.TenantID,
		"label":        m.Label,
		"active":       m.Active,
		"last_used_at": nil,
	}
	if m.LastUsedAt != nil {
		r["last_used_at"] = m.LastUsedAt.UTC().Format(time.RFC3339)
	}
	return r
}
