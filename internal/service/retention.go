package service

import (
	"context"
	"time"

	"github.com/mdouchement/chestsync/internal/database"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Retention defaults.
const (
	DefaultHistoryTTL        = 30 * 24 * time.Hour
	DefaultRetentionInterval = time.Hour
)

// A Retention deletes the expired history entries.
// Snapshots are never touched.
type Retention struct {
	db       database.Client
	ttl      time.Duration
	interval time.Duration
}

// NewRetention returns a new Retention.
// Zero values fallback on DefaultHistoryTTL and DefaultRetentionInterval.
func NewRetention(db database.Client, ttl, interval time.Duration) *Retention {
	if ttl == 0 {
		ttl = DefaultHistoryTTL
	}
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}

	return &Retention{
		db:       db,
		ttl:      ttl,
		interval: interval,
	}
}

// Sweep deletes, across all tenants, the history entries recorded strictly before now - ttl.
// It returns the number of deleted entries.
func (s *Retention) Sweep(now time.Time, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, errors.Errorf("retention: invalid ttl %s", ttl)
	}

	tenants, err := s.db.FindTenants()
	if err != nil {
		return 0, errors.Wrap(err, "retention: could not list tenants")
	}

	var total int
	for _, tenant := range tenants {
		n, err := s.SweepTenant(tenant.ID, now, ttl)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// SweepTenant deletes the tenant's history entries recorded strictly before now - ttl.
func (s *Retention) SweepTenant(tenantID string, now time.Time, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, errors.Errorf("retention: invalid ttl %s", ttl)
	}

	cutoff := now.UTC().Add(-ttl)
	n, err := s.db.DeleteHistoryBefore(tenantID, cutoff)
	sweptTotal.Add(float64(n))
	if err != nil {
		return n, errors.Wrapf(err, "retention: could not sweep %s", tenantID)
	}

	if n > 0 {
		logrus.WithFields(logrus.Fields{
			"structure": tenantID,
			"cutoff":    cutoff.Format(time.RFC3339),
			"deleted":   n,
		}).Info("retention: history swept")
	}
	return n, nil
}

// Run sweeps at every interval until ctx is done.
// Failures are logged and retried at the next tick.
func (s *Retention) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"ttl":      s.ttl.String(),
		"interval": s.interval.String(),
	}).Info("retention: started")

	for {
		select {
		case <-ctx.Done():
			logrus.Info("retention: stopped")
			return
		case now := <-ticker.C:
			if _, err := s.Sweep(now, s.ttl); err != nil {
				sweepsTotal.WithLabelValues("error").Inc()
				logrus.WithError(err).Error("retention: sweep failed")
				continue
			}
			sweepsTotal.WithLabelValues("ok").Inc()
		}
	}
}

// TTL returns the configured history time-to-live.
func (s *Retention) TTL() time.Duration {
	return s.ttl
}
