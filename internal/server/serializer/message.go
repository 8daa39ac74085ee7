package serializer

import (
	"github.com/mdouchement/chestsync/internal/hub"
)

// Message serializes the render of a pushed message.
// Chests and summaries are rendered like their pull counterparts.
func Message(m hub.Message) interface{} {
	switch m := m.(type) {
	case *hub.FullState:
		return map[string]interface{}{
			"type":    m.Type,
			"chests":  Chests(m.Chests),
			"summary": Summary(m.Summary),
		}
	case *hub.ChestUpdate:
		return map[string]interface{}{
			"type":    m.Type,
			"chest":   Chest(m.Chest),
			"summary": Summary(m.Summary),
		}
	default:
		return m
	}
}
