package hub

import (
	"time"

	"github.com/mdouchement/chestsync/internal/model"
)

// Message types sent to subscribers.
const (
	TypeConnected   = "connected"
	TypeFullState   = "full_state"
	TypeChestUpdate = "chest_update"
	TypePing        = "ping"
)

type (
	// A Message is anything a subscriber can receive.
	Message interface {
		MessageType() string
	}

	// A FullState carries every snapshot of a tenant.
	FullState struct {
		Type    string            `json:"type"`
		Chests  []*model.Snapshot `json:"chests"`
		Summary model.Summary     `json:"summary"`
	}

	// A ChestUpdate carries one changed snapshot and the refreshed summary.
	ChestUpdate struct {
		Type    string          `json:"type"`
		Chest   *model.Snapshot `json:"chest"`
		Summary model.Summary   `json:"summary"`
	}

	// A Connected greets a new subscription.
	Connected struct {
		Type         string `json:"type"`
		ConnectionID string `json:"connection_id"`
		StructureID  string `json:"structure_id"`
	}

	// A Ping keeps idle connections alive.
	Ping struct {
		Type      string    `json:"type"`
		Timestamp time.Time `json:"timestamp"`
	}
)

// NewFullState returns a full_state message.
func NewFullState(chests []*model.Snapshot, summary model.Summary) *FullState {
	if chests == nil {
		chests = []*model.Snapshot{}
	}
	return &FullState{Type: TypeFullState, Chests: chests, Summary: summary}
}

// NewChestUpdate returns a chest_update message.
func NewChestUpdate(chest *model.Snapshot, summary model.Summary) *ChestUpdate {
	return &ChestUpdate{Type: TypeChestUpdate, Chest: chest, Summary: summary}
}

// NewConnected returns a connected message.
func NewConnected(connectionID, structureID string) *Connected {
	return &Connected{Type: TypeConnected, ConnectionID: connectionID, StructureID: structureID}
}

// NewPing returns a ping message.
func NewPing(t time.Time) *Ping {
	return &Ping{Type: TypePing, Timestamp: t.UTC()}
}

func (m *FullState) MessageType() string   { return m.Type }
func (m *ChestUpdate) MessageType() string { return m.Type }
func (m *Connected) MessageType() string   { return m.Type }
func (m *Ping) MessageType() string        { return m.Type }
