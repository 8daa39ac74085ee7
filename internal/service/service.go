package service

import (
	"context"
	"time"

	"github.com/mdouchement/chestsync/internal/cserror"
	"github.com/mdouchement/chestsync/internal/hub"
	"github.com/mdouchement/chestsync/internal/model"
)

// MaxBatchSize is the maximum number of events accepted in one batch.
const MaxBatchSize = 100

type (
	// An Event is a container observation sent by a client.
	Event struct {
		Actor      model.Actor       `json:"actor"`
		Coordinate *model.Coordinate `json:"coordinate"`
		// Items is required, an empty map means the container has been emptied.
		Items     model.Items `json:"items"`
		Signs     []string    `json:"signs,omitempty"`
		Timestamp time.Time   `json:"timestamp"`
	}

	// A Publisher fans chest updates out to the subscribers of a tenant.
	Publisher interface {
		Publish(tenantID string, u *hub.ChestUpdate) int
	}

	// A LegacyWriter mirrors applied snapshots into the legacy container table.
	LegacyWriter interface {
		WriteLegacy(ctx context.Context, tenantID string, snapshot *model.Snapshot) error
	}
)

// Validate checks the event can be applied.
func (e *Event) Validate() error {
	if e.Coordinate == nil {
		return cserror.Validation("Missing container coordinate.")
	}
	if err := e.Coordinate.Validate(); err != nil {
		return cserror.Validation("Invalid coordinate: " + err.Error() + ".")
	}
	if e.Items == nil {
		return cserror.Validation("Missing container items.")
	}
	if err := e.Items.Validate(); err != nil {
		return cserror.Validation("Invalid items: " + err.Error() + ".")
	}
	return nil
}

func validateTenant(tenantID string) error {
	if tenantID == "" {
		return cserror.Validation("Missing structure.")
	}
	return nil
}
