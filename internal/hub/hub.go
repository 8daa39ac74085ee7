// Package hub fans container updates out to the live subscribers of a tenant.
package hub

import (
	"context"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/mdouchement/chestsync/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the default outbound queue size of a subscriber.
const DefaultQueueSize = 64

// A StateLoader reads the consistent current state of a tenant.
type StateLoader interface {
	List(tenantID string) ([]*model.Snapshot, model.Summary, error)
}

// A Hub is the registry of live subscribers, indexed by tenant.
//
// Lock order is Hub.mu, then tenant.mu, then Subscriber.mu.
type Hub struct {
	loader    StateLoader
	queueSize int

	mu      sync.RWMutex
	tenants map[string]*tenant
}

type tenant struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	// summary is the most recent summary sent to the subscribers.
	summary *model.Summary
}

// New returns a new Hub.
func New(loader StateLoader, queueSize int) *Hub {
	if queueSize < 2 {
		queueSize = DefaultQueueSize
	}

	return &Hub{
		loader:    loader,
		queueSize: queueSize,
		tenants:   make(map[string]*tenant),
	}
}

// Subscribe registers a new subscriber for the tenant and enqueues the tenant's full state.
// Updates published while the full state is loading are delivered after it.
// A non-empty clientID replaces the previous subscriber of the same client in the tenant.
// The subscriber is unsubscribed when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, tenantID, clientID string) (*Subscriber, error) {
	if tenantID == "" {
		return nil, errors.New("hub: missing tenant")
	}

	sub := newSubscriber(uuid.Must(uuid.NewV4()).String(), tenantID, clientID, h.queueSize)

	h.mu.Lock()
	t, ok := h.tenants[tenantID]
	if !ok {
		t = &tenant{
			subscribers: make(map[string]*Subscriber),
		}
		h.tenants[tenantID] = t
	}
	t.mu.Lock()
	var replaced *Subscriber
	if clientID != "" {
		for _, s := range t.subscribers {
			if s.ClientID == clientID {
				replaced = s
				delete(t.subscribers, s.ID)
				subscribersGauge.Dec()
				break
			}
		}
	}
	t.subscribers[sub.ID] = sub
	subscribersGauge.Inc()
	t.mu.Unlock()
	h.mu.Unlock()

	if replaced != nil {
		replaced.close(ErrReplaced)
		evictedTotal.WithLabelValues("replaced").Inc()
		logrus.WithFields(logrus.Fields{
			"structure":  tenantID,
			"client":     clientID,
			"connection": replaced.ID,
		}).Info("hub: connection replaced")
	}

	chests, summary, err := h.loader.List(tenantID)
	if err != nil {
		h.Unsubscribe(sub)
		return nil, errors.Wrap(err, "hub: could not load full state")
	}
	state := NewFullState(chests, summary)

	t.mu.Lock()
	t.observe(summary)
	sub.prime(state)
	t.mu.Unlock()
	deliveredTotal.WithLabelValues(TypeFullState).Inc()

	go func() {
		select {
		case <-ctx.Done():
			h.Unsubscribe(sub)
		case <-sub.Done():
		}
	}()

	logrus.WithFields(logrus.Fields{
		"structure":  tenantID,
		"connection": sub.ID,
		"chests":     summary.TotalChests,
	}).Info("hub: subscribed")

	return sub, nil
}

// Unsubscribe removes the subscriber from all future fan-outs.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if t, ok := h.tenants[sub.TenantID]; ok {
		t.mu.Lock()
		if t.subscribers[sub.ID] == sub {
			delete(t.subscribers, sub.ID)
			subscribersGauge.Dec()
		}
		if len(t.subscribers) == 0 {
			delete(h.tenants, sub.TenantID)
		}
		t.mu.Unlock()
	}
	h.mu.Unlock()

	if sub.close(ErrUnsubscribed) {
		logrus.WithFields(logrus.Fields{
			"structure":  sub.TenantID,
			"connection": sub.ID,
		}).Info("hub: unsubscribed")
	}
}

// Publish fans the update out to every subscriber of the tenant and returns the number of
// subscribers that got it. It never blocks: a subscriber with a full queue is evicted.
// A subscriber does not get an update older than the state it already has for the same coordinate.
// An update carrying a summary older than one already sent is given the newest summary.
func (h *Hub) Publish(tenantID string, u *ChestUpdate) int {
	h.mu.RLock()
	t, ok := h.tenants[tenantID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	var sent int
	var evicted, reordered bool

	t.mu.Lock()
	if !t.observe(u.Summary) {
		u = NewChestUpdate(u.Chest, *t.summary)
	}

	for id, sub := range t.subscribers {
		switch sub.deliver(u) {
		case delivered:
			sent++
			continue
		case skipped:
			reordered = true
			continue
		}

		delete(t.subscribers, id)
		subscribersGauge.Dec()
		evicted = true
		evictedTotal.WithLabelValues("slow_consumer").Inc()
		logrus.WithFields(logrus.Fields{
			"structure":  tenantID,
			"connection": id,
		}).Warn("hub: subscriber evicted")
	}
	t.mu.Unlock()

	if reordered {
		reorderedTotal.Inc()
	}
	deliveredTotal.WithLabelValues(TypeChestUpdate).Add(float64(sent))
	if evicted {
		h.gc(tenantID)
	}

	logrus.WithFields(logrus.Fields{
		"structure": tenantID,
		"chest":     u.Chest.Coordinate.String(),
		"sent":      sent,
	}).Debug("hub: chest update broadcast")

	return sent
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var n int
	for _, t := range h.tenants {
		t.mu.Lock()
		n += len(t.subscribers)
		t.mu.Unlock()
	}
	return n
}

// TenantCount returns the number of live subscribers of the given tenant.
func (h *Hub) TenantCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	t, ok := h.tenants[tenantID]
	if !ok {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Close closes every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	tenants := h.tenants
	h.tenants = make(map[string]*tenant)
	h.mu.Unlock()

	for _, t := range tenants {
		t.mu.Lock()
		for id, sub := range t.subscribers {
			delete(t.subscribers, id)
			subscribersGauge.Dec()
			sub.close(ErrHubClosed)
		}
		t.mu.Unlock()
	}
}

// gc forgets the tenant when it has no subscriber left.
func (h *Hub) gc(tenantID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.tenants[tenantID]
	if !ok {
		return
	}

	t.mu.Lock()
	if len(t.subscribers) == 0 {
		delete(h.tenants, tenantID)
	}
	t.mu.Unlock()
}

// observe records the summary when it is not older than the last one sent.
// It reports whether the summary has been recorded.
func (t *tenant) observe(summary model.Summary) bool {
	if t.summary != nil && summary.Revision < t.summary.Revision {
		return false
	}
	t.summary = &summary
	return true
}
