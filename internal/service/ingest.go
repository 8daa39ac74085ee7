package service

import (
	"context"
	"time"

	"github.com/mdouchement/chestsync/internal/cserror"
	"github.com/mdouchement/chestsync/internal/database"
	"github.com/mdouchement/chestsync/internal/hub"
	"github.com/mdouchement/chestsync/internal/model"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type (
	// An Ingest applies container events to the snapshot store.
	Ingest struct {
		db        database.Client
		publisher Publisher
		legacy    LegacyWriter
		now       func() time.Time
	}

	// An ApplyResult is the outcome of an applied event.
	ApplyResult struct {
		// Snapshot is the state stored after the event.
		Snapshot *model.Snapshot `json:"chest"`
		// Summary is the tenant summary computed along with the write.
		Summary model.Summary `json:"summary"`
		// Applied is false when a newer state was already stored.
		Applied bool `json:"applied"`
	}

	// An Outcome is the result of one event of a batch.
	Outcome struct {
		Index  int          `json:"index"`
		Status string       `json:"status"`
		Result *ApplyResult `json:"-"`
		Err    error        `json:"-"`
		Error  string       `json:"error,omitempty"`
	}
)

// NewIngest returns a new Ingest.
// publisher and legacy are optional.
func NewIngest(db database.Client, publisher Publisher, legacy LegacyWriter) *Ingest {
	return &Ingest{
		db:        db,
		publisher: publisher,
		legacy:    legacy,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Apply validates the event then stores it with last-writer-wins semantics.
//
// The history entry is always appended. The snapshot is replaced only if the
// event is strictly newer than the stored state, in which case the update is
// broadcast to the tenant's subscribers once committed.
func (s *Ingest) Apply(ctx context.Context, tenantID string, e Event) (*ApplyResult, error) {
	if err := validateTenant(tenantID); err != nil {
		eventsTotal.WithLabelValues(OutcomeRejected).Inc()
		return nil, err
	}
	if err := e.Validate(); err != nil {
		eventsTotal.WithLabelValues(OutcomeRejected).Inc()
		return nil, err
	}

	ts := e.Timestamp.UTC()
	if e.Timestamp.IsZero() {
		ts = s.now()
	}

	coordinate := *e.Coordinate
	items := e.Items.Clone()
	entry := &model.HistoryEntry{
		Coordinate: coordinate,
		Items:      items,
		Signs:      e.Signs,
		Actor:      e.Actor,
		AppliedAt:  ts,
	}

	mutate := func(current *model.Snapshot) *model.Snapshot {
		if current != nil && !ts.After(current.LastSeenAt) {
			return nil
		}

		next := &model.Snapshot{
			Coordinate: coordinate,
			Items:      items.Clone(),
			ItemCount:  items.Count(),
			Signs:      e.Signs,
			OpenedBy:   e.Actor,
			LastSeenAt: ts,
		}
		if next.Signs == nil && current != nil {
			next.Signs = current.Signs
		}
		return next
	}

	timer := prometheus.NewTimer(applyDuration)
	upserted, err := s.db.UpsertSnapshot(ctx, tenantID, coordinate.Key(), mutate, entry)
	timer.ObserveDuration()
	if err != nil {
		eventsTotal.WithLabelValues(OutcomeFailed).Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		logrus.WithError(err).WithFields(logrus.Fields{
			"structure": tenantID,
			"chest":     coordinate.String(),
		}).Error("could not apply event")
		return nil, errors.Wrap(err, "could not apply event")
	}

	result := &ApplyResult{
		Snapshot: upserted.Snapshot,
		Summary:  upserted.Summary,
		Applied:  upserted.Applied,
	}

	log := logrus.WithFields(logrus.Fields{
		"structure": tenantID,
		"chest":     coordinate.String(),
		"actor":     e.Actor.Name,
		"items":     len(items),
	})

	if !result.Applied {
		eventsTotal.WithLabelValues(OutcomeStale).Inc()
		log.Debug("stale event recorded in history")
		return result, nil
	}
	eventsTotal.WithLabelValues(OutcomeApplied).Inc()
	log.Debug("event applied")

	if s.publisher != nil {
		s.publisher.Publish(tenantID, hub.NewChestUpdate(result.Snapshot, result.Summary))
	}

	if s.legacy != nil {
		if err = s.legacy.WriteLegacy(ctx, tenantID, result.Snapshot); err != nil {
			legacyFailuresTotal.Inc()
			log.WithError(err).Warn("could not write legacy container")
		}
	}

	return result, nil
}

// ApplyBatch applies the events in order, each one independently.
// errs may hold decoding errors aligned with events, such events are reported as rejected.
func (s *Ingest) ApplyBatch(ctx context.Context, tenantID string, events []Event, errs []error) ([]Outcome, error) {
	if len(events) > MaxBatchSize {
		return nil, cserror.Validation("Too many events in batch.")
	}

	outcomes := make([]Outcome, len(events))
	for i, e := range events {
		outcome := Outcome{Index: i}

		if i < len(errs) && errs[i] != nil {
			eventsTotal.WithLabelValues(OutcomeRejected).Inc()
			outcome.Err = errs[i]
		} else {
			outcome.Result, outcome.Err = s.Apply(ctx, tenantID, e)
		}

		switch {
		case outcome.Err != nil:
			if !cserror.IsValidation(outcome.Err) {
				// Storage failure, the remaining events are not applied.
				return outcomes[:i], outcome.Err
			}
			outcome.Status = OutcomeRejected
			outcome.Error = outcome.Err.Error()
		case outcome.Result.Applied:
			outcome.Status = OutcomeApplied
		default:
			outcome.Status = OutcomeStale
		}

		outcomes[i] = outcome
	}

	return outcomes, nil
}
