package database

import (
	"bytes"
	"context"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/q"
	"github.com/gofrs/uuid"
	"github.com/mdouchement/chestsync/internal/model"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Buckets holding the per-tenant nodes.
const (
	TenantsBucket = "tenants"
	LegacyBucket  = "legacy"
)

const (
	// sweepBatch bounds the number of deletions per write transaction.
	sweepBatch = 1000

	// historyBucket is the storm bucket of model.HistoryEntry inside a tenant node.
	historyBucket = "HistoryEntry"
	indexPrefix   = "__storm_index_"

	// historyIDSkew bounds the gap between an entry's RecordedAt and the time encoded in its id.
	historyIDSkew = time.Second
)

type strm struct {
	db *storm.DB
}

func open(database string) (*storm.DB, error) {
	db, err := storm.Open(database, StormCodec, storm.BoltOptions(0600, &bolt.Options{Timeout: 5 * time.Second}))
	return db, errors.Wrap(err, "could not get database connection")
}

// StormInit initializes Storm database.
func StormInit(database string) error {
	db, err := open(database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Init(&model.Tenant{}); err != nil {
		return errors.Wrap(err, "could not init tenant index")
	}

	err = db.Init(&model.IngestToken{})
	return errors.Wrap(err, "could not init token index")
}

// StormReIndex reindex Storm database and recounts all tenant tallies.
func StormReIndex(database string) error {
	db, err := open(database)
	if err != nil {
		return err
	}
	c := &strm{db: db}
	defer c.Close()

	if err := db.ReIndex(&model.IngestToken{}); err != nil {
		return errors.Wrap(err, "could not ReIndex tokens")
	}

	tenants, err := c.FindTenants()
	if err != nil {
		return err
	}

	for _, tenant := range tenants {
		if err = c.reIndexHistory(tenant.ID); err != nil {
			return errors.Wrapf(err, "could not ReIndex history of %s", tenant.ID)
		}

		if _, err = c.Recount(tenant.ID); err != nil {
			return err
		}
	}
	return nil
}

// reIndexHistory drops the history indexes of the tenant and saves every entry again.
// Storm's own ReIndex fails with bucket not found on nested nodes.
func (c *strm) reIndexHistory(tenantID string) error {
	return c.db.Bolt.Update(func(tx *bolt.Tx) error {
		node := c.tenant(tenantID).WithTransaction(tx)

		bucket := node.GetBucket(tx, historyBucket)
		if bucket == nil {
			return nil
		}

		var indexes [][]byte
		cursor := bucket.Cursor()
		prefix := []byte(indexPrefix)
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			if v == nil {
				indexes = append(indexes, append([]byte(nil), k...))
			}
		}
		for _, name := range indexes {
			if err := bucket.DeleteBucket(name); err != nil && !isMissingBucket(err) {
				return errors.Wrapf(err, "could not drop index %s", name)
			}
		}

		entries := make([]*model.HistoryEntry, 0)
		err := node.All(&entries)
		if err != nil && !c.IsNotFound(err) {
			return errors.Wrap(err, "could not find history")
		}
		for _, entry := range entries {
			if err = node.Save(entry); err != nil {
				return errors.Wrap(err, "could not save history entry")
			}
		}
		return nil
	})
}

// StormOpen returns a new Storm database connection.
func StormOpen(database string) (Client, error) {
	db, err := open(database)
	if err != nil {
		return nil, err
	}

	return &strm{
		db: db,
	}, nil
}

// Close the database.
func (c *strm) Close() error {
	return c.db.Close()
}

// IsNotFound returns true if err is nil or a not found error.
func (c *strm) IsNotFound(err error) bool {
	return errors.Cause(err) == storm.ErrNotFound
}

func (c *strm) tenant(tenantID string) storm.Node {
	return c.db.From(TenantsBucket, tenantID)
}

///// Snapshots
////
//

// UpsertSnapshot atomically appends the history entry and applies the mutation
// to the snapshot stored under key.
//
// The whole read-compare-write runs inside a single bolt write transaction.
// Concurrent upserts are coalesced by bolt.Batch, which may call the closure
// more than once, so it only assigns its outcome on its last run.
func (c *strm) UpsertSnapshot(ctx context.Context, tenantID, key string, mutate Mutation, entry *model.HistoryEntry) (*Upserted, error) {
	var result *Upserted

	err := c.db.Bolt.Batch(func(tx *bolt.Tx) error {
		result = nil
		if err := ctx.Err(); err != nil {
			return err
		}

		root := c.db.WithTransaction(tx)
		node := c.tenant(tenantID).WithTransaction(tx)
		now := time.Now().UTC()

		var current *model.Snapshot
		var stored model.Snapshot
		err := node.One("ID", key, &stored)
		switch {
		case err == nil:
			current = &stored
		case err != storm.ErrNotFound:
			return errors.Wrap(err, "could not find snapshot")
		}

		var tenant model.Tenant
		err = root.One("ID", tenantID, &tenant)
		switch {
		case err == storm.ErrNotFound:
			tenant = model.Tenant{Base: model.Base{ID: tenantID}}
		case err != nil:
			return errors.Wrap(err, "could not find tenant")
		}

		next := mutate(current)

		id, err := uuid.NewV7()
		if err != nil {
			return errors.Wrap(err, "could not generate history id")
		}

		history := *entry
		history.ID = id.String()
		history.TenantID = tenantID
		history.Key = key
		history.RecordedAt = now
		history.Stale = next == nil
		model.Touch(&history, now)
		if err = node.Save(&history); err != nil {
			return errors.Wrap(err, "could not save history entry")
		}

		if next == nil {
			result = &Upserted{Snapshot: current, Summary: tenant.Summary()}
			return ctx.Err()
		}

		if current == nil {
			tenant.TotalChests++
		} else {
			tenant.TotalItems -= current.ItemCount
			next.CreatedAt = current.CreatedAt
		}
		tenant.TotalItems += next.ItemCount
		if tenant.LastUpdatedAt == nil || next.LastSeenAt.After(*tenant.LastUpdatedAt) {
			t := next.LastSeenAt
			tenant.LastUpdatedAt = &t
		}
		tenant.Revision++
		model.Touch(&tenant, now)

		next.ID = key
		next.TenantID = tenantID
		model.Touch(next, now)

		if err = node.Save(next); err != nil {
			return errors.Wrap(err, "could not save snapshot")
		}
		if err = root.Save(&tenant); err != nil {
			return errors.Wrap(err, "could not save tenant")
		}

		// Last chance to abort before commit.
		if err = ctx.Err(); err != nil {
			return err
		}

		result = &Upserted{Snapshot: next, Summary: tenant.Summary(), Applied: true}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not upsert snapshot")
	}

	return result, nil
}

// FindSnapshot returns the snapshot for the given tenant and coordinate key.
func (c *strm) FindSnapshot(tenantID, key string) (*model.Snapshot, error) {
	var snapshot model.Snapshot
	if err := c.tenant(tenantID).One("ID", key, &snapshot); err != nil {
		return nil, errors.Wrap(err, "could not find snapshot")
	}
	return &snapshot, nil
}

// FindSnapshots returns all the snapshots of the tenant and their summary, read from the same view.
func (c *strm) FindSnapshots(tenantID string) ([]*model.Snapshot, model.Summary, error) {
	snapshots := make([]*model.Snapshot, 0)
	var summary model.Summary

	err := c.db.Bolt.View(func(tx *bolt.Tx) error {
		err := c.tenant(tenantID).WithTransaction(tx).
			Select().
			OrderBy("LastSeenAt").
			Reverse().
			Find(&snapshots)
		if err != nil && !c.IsNotFound(err) {
			return errors.Wrap(err, "could not find snapshots")
		}

		var tenant model.Tenant
		err = c.db.WithTransaction(tx).One("ID", tenantID, &tenant)
		if err != nil && !c.IsNotFound(err) {
			return errors.Wrap(err, "could not find tenant")
		}
		summary = tenant.Summary()
		return nil
	})
	if err != nil {
		return nil, model.Summary{}, err
	}

	return snapshots, summary, nil
}

// FindRecentSnapshots returns the last seen snapshots of the tenant, most recent first.
func (c *strm) FindRecentSnapshots(tenantID string, limit int) ([]*model.Snapshot, error) {
	snapshots := make([]*model.Snapshot, 0)
	stmt := c.tenant(tenantID).Select().OrderBy("LastSeenAt").Reverse()
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	err := stmt.Find(&snapshots)
	if err != nil && !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find recent snapshots")
	}
	return snapshots, nil
}

///// History
////
//

// FindHistory returns the history of the given coordinate key, most recent first.
func (c *strm) FindHistory(tenantID, key string, limit int) ([]*model.HistoryEntry, error) {
	entries := make([]*model.HistoryEntry, 0)
	stmt := c.tenant(tenantID).Select(q.Eq("Key", key)).OrderBy("RecordedAt").Reverse()
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	err := stmt.Find(&entries)
	if err != nil && !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find history")
	}
	return entries, nil
}

// CountHistory returns the number of history entries of the tenant.
func (c *strm) CountHistory(tenantID string) (int, error) {
	n, err := c.tenant(tenantID).Count(&model.HistoryEntry{})
	if err != nil && !c.IsNotFound(err) {
		return 0, errors.Wrap(err, "could not count history")
	}
	return n, nil
}

// DeleteHistoryBefore removes the tenant's entries recorded strictly before cutoff.
// Entry ids are time-ordered so the scan stops at the first id generated well after cutoff.
// Deletions are split in small transactions so writers are never held for long.
func (c *strm) DeleteHistoryBefore(tenantID string, cutoff time.Time) (int, error) {
	var total int
	limit := cutoff.Add(historyIDSkew).UnixMilli()

	for {
		var n int
		err := c.db.Bolt.Update(func(tx *bolt.Tx) error {
			node := c.tenant(tenantID).WithTransaction(tx)

			bucket := node.GetBucket(tx, historyBucket)
			if bucket == nil {
				return nil
			}

			entries := make([]*model.HistoryEntry, 0)
			cursor := bucket.Cursor()
			for k, v := cursor.First(); k != nil && len(entries) < sweepBatch; k, v = cursor.Next() {
				if v == nil {
					continue
				}
				if ms, ok := historyIDTime(k); ok && ms >= limit {
					break
				}

				var entry model.HistoryEntry
				if err := node.Codec().Unmarshal(v, &entry); err != nil {
					return errors.Wrap(err, "could not decode history entry")
				}
				if entry.RecordedAt.Before(cutoff) {
					entries = append(entries, &entry)
				}
			}

			for _, entry := range entries {
				if err := node.DeleteStruct(entry); err != nil {
					return errors.Wrap(err, "could not delete history entry")
				}
			}
			n = len(entries)
			return nil
		})
		if err != nil {
			return total, err
		}

		total += n
		if n < sweepBatch {
			return total, nil
		}
	}
}

// historyIDTime returns the millisecond timestamp of a version 7 history id.
func historyIDTime(key []byte) (int64, bool) {
	id, err := uuid.FromString(string(key))
	if err != nil || id.Version() != uuid.V7 {
		return 0, false
	}

	var ms int64
	for _, b := range id[:6] {
		ms = ms<<8 | int64(b)
	}
	return ms, true
}

///// Tenants
////
//

// FindTenant returns the tenant for the given id.
func (c *strm) FindTenant(id string) (*model.Tenant, error) {
	var tenant model.Tenant
	if err := c.db.One("ID", id, &tenant); err != nil {
		return nil, errors.Wrap(err, "could not find tenant")
	}
	return &tenant, nil
}

// FindTenants returns all known tenants.
func (c *strm) FindTenants() ([]*model.Tenant, error) {
	tenants := make([]*model.Tenant, 0)
	err := c.db.All(&tenants)
	if err != nil && !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find tenants")
	}
	return tenants, nil
}

// Recount recomputes the tenant tally from its snapshots.
func (c *strm) Recount(tenantID string) (*model.Tenant, error) {
	var tenant model.Tenant

	err := c.db.Bolt.Update(func(tx *bolt.Tx) error {
		root := c.db.WithTransaction(tx)

		err := root.One("ID", tenantID, &tenant)
		switch {
		case err == storm.ErrNotFound:
			tenant = model.Tenant{Base: model.Base{ID: tenantID}}
		case err != nil:
			return errors.Wrap(err, "could not find tenant")
		}

		snapshots := make([]*model.Snapshot, 0)
		err = c.tenant(tenantID).WithTransaction(tx).All(&snapshots)
		if err != nil && !c.IsNotFound(err) {
			return errors.Wrap(err, "could not find snapshots")
		}

		tenant.TotalChests = len(snapshots)
		tenant.TotalItems = 0
		tenant.LastUpdatedAt = nil
		for _, snapshot := range snapshots {
			tenant.TotalItems += snapshot.ItemCount
			if tenant.LastUpdatedAt == nil || snapshot.LastSeenAt.After(*tenant.LastUpdatedAt) {
				t := snapshot.LastSeenAt
				tenant.LastUpdatedAt = &t
			}
		}
		tenant.Revision++
		model.Touch(&tenant, time.Now().UTC())

		return errors.Wrap(root.Save(&tenant), "could not save tenant")
	})
	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

// DeleteTenant removes everything stored for the given tenant.
func (c *strm) DeleteTenant(tenantID string) error {
	return c.db.Bolt.Update(func(tx *bolt.Tx) error {
		root := c.db.WithTransaction(tx)

		for _, bucket := range []string{TenantsBucket, LegacyBucket} {
			// Storm drops from the root when the parent bucket is missing.
			if tx.Bucket([]byte(bucket)) == nil {
				continue
			}

			err := c.db.From(bucket).WithTransaction(tx).Drop(tenantID)
			if err != nil && !isMissingBucket(err) {
				return errors.Wrapf(err, "could not drop %s bucket", bucket)
			}
		}

		err := root.Select(q.Eq("TenantID", tenantID)).Delete(&model.IngestToken{})
		if err != nil && !c.IsNotFound(err) {
			return errors.Wrap(err, "could not delete tokens")
		}

		err = root.DeleteStruct(&model.Tenant{Base: model.Base{ID: tenantID}})
		if err != nil && !c.IsNotFound(err) {
			return errors.Wrap(err, "could not delete tenant")
		}
		return nil
	})
}

func isMissingBucket(err error) bool {
	cause := errors.Cause(err)
	return cause == bolt.ErrBucketNotFound || cause == storm.ErrNotFound
}

///// Tokens
////
//

// SaveToken inserts or updates the given token.
func (c *strm) SaveToken(token *model.IngestToken) error {
	model.Touch(token, time.Now().UTC())
	return errors.Wrap(c.db.Save(token), "could not save token")
}

// FindToken returns the token for the given digest.
func (c *strm) FindToken(digest string) (*model.IngestToken, error) {
	var token model.IngestToken
	if err := c.db.One("ID", digest, &token); err != nil {
		return nil, errors.Wrap(err, "could not find token")
	}
	return &token, nil
}

// FindTokensByTenantID returns the tokens of the given tenant.
func (c *strm) FindTokensByTenantID(tenantID string) ([]*model.IngestToken, error) {
	tokens := make([]*model.IngestToken, 0)
	err := c.db.Find("TenantID", tenantID, &tokens)
	if err != nil && !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find tokens by tenant id")
	}
	return tokens, nil
}

///// Legacy
////
//

// SaveLegacyContainer merges the given container in the legacy table.
// A container older than the stored one is ignored.
func (c *strm) SaveLegacyContainer(tenantID string, container *model.LegacyContainer) error {
	return c.db.Bolt.Update(func(tx *bolt.Tx) error {
		node := c.db.From(LegacyBucket, tenantID).WithTransaction(tx)
		now := time.Now().UTC()

		var stored model.LegacyContainer
		err := node.One("ID", container.ID, &stored)
		switch {
		case err == nil:
			if stored.LastSeenAt.After(container.LastSeenAt) {
				return nil
			}
			if container.Items == nil {
				container.Items = stored.Items
			}
			if container.Signs == nil {
				container.Signs = stored.Signs
			}
			container.CreatedAt = stored.CreatedAt
		case err != storm.ErrNotFound:
			return errors.Wrap(err, "could not find legacy container")
		}

		model.Touch(container, now)
		return errors.Wrap(node.Save(container), "could not save legacy container")
	})
}

// FindLegacyContainers returns the legacy containers of the tenant.
func (c *strm) FindLegacyContainers(tenantID string) ([]*model.LegacyContainer, error) {
	containers := make([]*model.LegacyContainer, 0)
	err := c.db.From(LegacyBucket, tenantID).All(&containers)
	if err != nil && !c.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not find legacy containers")
	}
	return containers, nil
}
