package service

import (
	"github.com/mdouchement/chestsync/internal/cserror"
	"github.com/mdouchement/chestsync/internal/database"
	"github.com/mdouchement/chestsync/internal/model"
	"github.com/pkg/errors"
)

// Limits of the listing queries.
const (
	DefaultRecentLimit  = 50
	DefaultHistoryLimit = 100
	MaxLimit            = 1000
)

// A Query reads the stored state of the tenants.
type Query struct {
	db database.Client
}

// NewQuery returns a new Query.
func NewQuery(db database.Client) *Query {
	return &Query{db: db}
}

// Get returns the snapshot of the container at the given coordinate.
func (s *Query) Get(tenantID string, coordinate model.Coordinate) (*model.Snapshot, error) {
	if err := s.validate(tenantID, coordinate); err != nil {
		return nil, err
	}

	snapshot, err := s.db.FindSnapshot(tenantID, coordinate.Key())
	if err != nil {
		if s.db.IsNotFound(err) {
			return nil, cserror.NotFound("No chest at " + coordinate.String() + ".")
		}
		return nil, errors.Wrap(err, "could not get chest")
	}
	return snapshot, nil
}

// List returns all the snapshots of the tenant, most recently seen first,
// along with a summary consistent with them.
func (s *Query) List(tenantID string) ([]*model.Snapshot, model.Summary, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, model.Summary{}, err
	}

	snapshots, summary, err := s.db.FindSnapshots(tenantID)
	if err != nil {
		return nil, model.Summary{}, errors.Wrap(err, "could not list chests")
	}
	return snapshots, summary, nil
}

// Recent returns the limit most recently seen snapshots of the tenant.
// A zero limit means DefaultRecentLimit.
func (s *Query) Recent(tenantID string, limit int) ([]*model.Snapshot, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}

	limit, err := clamp(limit, DefaultRecentLimit)
	if err != nil {
		return nil, err
	}

	snapshots, err := s.db.FindRecentSnapshots(tenantID, limit)
	return snapshots, errors.Wrap(err, "could not list recent chests")
}

// History returns the audit trail of the container at the given coordinate, newest first.
// A zero limit means DefaultHistoryLimit.
func (s *Query) History(tenantID string, coordinate model.Coordinate, limit int) ([]*model.HistoryEntry, error) {
	if err := s.validate(tenantID, coordinate); err != nil {
		return nil, err
	}

	limit, err := clamp(limit, DefaultHistoryLimit)
	if err != nil {
		return nil, err
	}

	entries, err := s.db.FindHistory(tenantID, coordinate.Key(), limit)
	return entries, errors.Wrap(err, "could not list chest history")
}

func (s *Query) validate(tenantID string, coordinate model.Coordinate) error {
	if err := validateTenant(tenantID); err != nil {
		return err
	}
	if err := coordinate.Validate(); err != nil {
		return cserror.BadRequest("Invalid coordinate: " + err.Error() + ".")
	}
	return nil
}

func clamp(limit, fallback int) (int, error) {
	switch {
	case limit < 0:
		return 0, cserror.BadRequest("Limit must be positive.")
	case limit == 0:
		return fallback, nil
	case limit > MaxLimit:
		return MaxLimit, nil
	}
	return limit, nil
}
