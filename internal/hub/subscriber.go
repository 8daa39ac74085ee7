package hub

import (
	"sync"

	"github.com/pkg/errors"
)

// Reasons for a subscriber to be closed.
var (
	ErrUnsubscribed = errors.New("unsubscribed")
	ErrReplaced     = errors.New("replaced by a newer connection")
	ErrSlowConsumer = errors.New("outbound queue is full")
	ErrHubClosed    = errors.New("hub closed")
)

// A Subscriber is a live subscription of one connection to a tenant.
// The first message received is always a FullState.
type Subscriber struct {
	ID       string
	TenantID string
	ClientID string

	out  chan Message
	done chan struct{}

	mu      sync.Mutex
	primed  bool
	pending []*ChestUpdate
	// seen is the last seen timestamp sent per coordinate key.
	seen map[string]int64
	err  error
}

// Outcomes of a delivery.
type delivery int

const (
	delivered delivery = iota
	skipped
	dropped
)

func newSubscriber(id, tenantID, clientID string, size int) *Subscriber {
	return &Subscriber{
		ID:       id,
		TenantID: tenantID,
		ClientID: clientID,
		out:      make(chan Message, size),
		done:     make(chan struct{}),
	}
}

// Messages returns the outbound queue of the subscriber.
// It is never closed, use Done to know when to stop reading.
func (s *Subscriber) Messages() <-chan Message {
	return s.out
}

// Done is closed when the subscriber leaves the hub.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason why the subscriber has been closed, nil while it is alive.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// deliver enqueues the update without blocking.
// An update not newer than what the subscriber has for the coordinate is skipped.
// It returns dropped when the subscriber is or gets closed.
func (s *Subscriber) deliver(u *ChestUpdate) delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return dropped
	}

	if !s.primed {
		// The full state is being loaded, one slot is kept for it.
		if len(s.pending) >= cap(s.out)-1 {
			s.closeLocked(ErrSlowConsumer)
			return dropped
		}
		s.pending = append(s.pending, u)
		return delivered
	}

	key := u.Chest.Coordinate.Key()
	ts := u.Chest.LastSeenAt.UnixNano()
	if last, ok := s.seen[key]; ok && ts <= last {
		return skipped
	}

	select {
	case s.out <- u:
		s.seen[key] = ts
		return delivered
	default:
		s.closeLocked(ErrSlowConsumer)
		return dropped
	}
}

// prime sends the full state followed by the updates received while it was loading.
// Updates not newer than the full state for their coordinate are dropped.
func (s *Subscriber) prime(state *FullState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil || s.primed {
		return
	}

	s.seen = make(map[string]int64, len(state.Chests))
	for _, chest := range state.Chests {
		s.seen[chest.Coordinate.Key()] = chest.LastSeenAt.UnixNano()
	}

	s.out <- state // Nothing has been sent yet so there is room for it.
	for _, u := range s.pending {
		key := u.Chest.Coordinate.Key()
		ts := u.Chest.LastSeenAt.UnixNano()
		if last, ok := s.seen[key]; ok && ts <= last {
			continue
		}
		s.out <- u
		s.seen[key] = ts
	}
	s.pending = nil
	s.primed = true
}

func (s *Subscriber) close(reason error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked(reason)
}

func (s *Subscriber) closeLocked(reason error) bool {
	if s.err != nil {
		return false
	}
	s.err = reason
	s.pending = nil
	close(s.done)
	return true
}
