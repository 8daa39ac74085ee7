package database

import (
	"context"
	"time"

	"github.com/mdouchement/chestsync/internal/model"
)

type (
	// A Client can interacts with the database.
	Client interface {
		// Close the database.
		Close() error
		// IsNotFound returns true if err is a not found error.
		IsNotFound(err error) bool

		SnapshotInteraction
		HistoryInteraction
		TenantInteraction
		TokenInteraction
		LegacyInteraction
	}

	// A Mutation decides the next state of a snapshot inside the write transaction.
	// current is nil when the container is not known yet.
	// Returning nil keeps current untouched.
	Mutation func(current *model.Snapshot) (next *model.Snapshot)

	// An Upserted is the outcome of an upsert.
	Upserted struct {
		// Snapshot is the stored state after the transaction (nil if the container is unknown and the mutation was refused).
		Snapshot *model.Snapshot
		// Summary is computed within the same transaction.
		Summary model.Summary
		// Applied is true when the snapshot has been replaced.
		Applied bool
	}

	// A SnapshotInteraction defines all the methods used to interact with snapshot records.
	SnapshotInteraction interface {
		// UpsertSnapshot atomically appends the history entry and applies the mutation
		// to the snapshot stored under key. Writes on the same key are serialized.
		UpsertSnapshot(ctx context.Context, tenantID, key string, mutate Mutation, entry *model.HistoryEntry) (*Upserted, error)
		// FindSnapshot returns the snapshot for the given tenant and coordinate key.
		FindSnapshot(tenantID, key string) (*model.Snapshot, error)
		// FindSnapshots returns all the snapshots of the tenant and their summary, read from the same view.
		FindSnapshots(tenantID string) ([]*model.Snapshot, model.Summary, error)
		// FindRecentSnapshots returns the last seen snapshots of the tenant, most recent first.
		FindRecentSnapshots(tenantID string, limit int) ([]*model.Snapshot, error)
	}

	// A HistoryInteraction defines all the methods used to interact with history records.
	HistoryInteraction interface {
		// FindHistory returns the history of the given coordinate key, most recent first.
		// limit equals to 0 means all entries.
		FindHistory(tenantID, key string, limit int) ([]*model.HistoryEntry, error)
		// CountHistory returns the number of history entries of the tenant.
		CountHistory(tenantID string) (int, error)
		// DeleteHistoryBefore removes the tenant's entries recorded strictly before cutoff.
		DeleteHistoryBefore(tenantID string, cutoff time.Time) (int, error)
	}

	// A TenantInteraction defines all the methods used to interact with tenants.
	TenantInteraction interface {
		// FindTenant returns the tenant for the given id.
		FindTenant(id string) (*model.Tenant, error)
		// FindTenants returns all known tenants.
		FindTenants() ([]*model.Tenant, error)
		// Recount recomputes the tenant tally from its snapshots.
		Recount(tenantID string) (*model.Tenant, error)
		// DeleteTenant removes everything stored for the given tenant.
		DeleteTenant(tenantID string) error
	}

	// A TokenInteraction defines all the methods used to interact with ingest tokens.
	TokenInteraction interface {
		// SaveToken inserts or updates the given token.
		SaveToken(token *model.IngestToken) error
		// FindToken returns the token for the given digest.
		FindToken(digest string) (*model.IngestToken, error)
		// FindTokensByTenantID returns the tokens of the given tenant.
		FindTokensByTenantID(tenantID string) ([]*model.IngestToken, error)
	}

	// A LegacyInteraction defines all the methods used to interact with the legacy container table.
	LegacyInteraction interface {
		// SaveLegacyContainer merges the given container in the legacy table.
		// Nil items or signs keep the stored values.
		SaveLegacyContainer(tenantID string, container *model.LegacyContainer) error
		// FindLegacyContainers returns the legacy containers of the tenant.
		FindLegacyContainers(tenantID string) ([]*model.LegacyContainer, error)
	}
)
