package service_test

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mdouchement/chestsync/internal/database"
	"github.com/mdouchement/chestsync/internal/hub"
	"github.com/mdouchement/chestsync/internal/model"
	"github.com/mdouchement/chestsync/internal/service"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type publisher struct {
	mu      sync.Mutex
	updates []*hub.ChestUpdate
}

func (p *publisher) Publish(tenantID string, u *hub.ChestUpdate) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.updates = append(p.updates, u)
	return 1
}

func (p *publisher) Updates() []*hub.ChestUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*hub.ChestUpdate(nil), p.updates...)
}

func setup(t *testing.T) (database.Client, func()) {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "chestsync.*.db")
	require.NoError(t, err)
	filename := tmpfile.Name()
	tmpfile.Close()

	require.NoError(t, database.StormInit(filename))
	db, err := database.StormOpen(filename)
	require.NoError(t, err)

	return db, func() {
		db.Close()
		os.RemoveAll(filename)
	}
}

func event(actor string, x int, at time.Time, items model.Items) service.Event {
	return service.Event{
		Actor:      model.Actor{ID: actor, Name: actor},
		Coordinate: &model.Coordinate{X: x, Y: 64, Z: 200},
		Items:      items,
		Timestamp:  at,
	}
}
