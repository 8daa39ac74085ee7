package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mdouchement/chestsync/internal/cserror"
	"github.com/mdouchement/chestsync/internal/hub"
	"github.com/mdouchement/chestsync/internal/model"
	"github.com/mdouchement/chestsync/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyIsIdempotent(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()

	p := &publisher{}
	ingest := service.NewIngest(db, p, nil)
	e := event("alice", 100, t0, model.Items{0: {ID: "minecraft:diamond", Count: 5}})

	first, err := ingest.Apply(context.Background(), "GPR", e)
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := ingest.Apply(context.Background(), "GPR", e)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, first.Snapshot.Items, second.Snapshot.Items)
	assert.Equal(t, first.Snapshot.ItemCount, second.Snapshot.ItemCount)
	assert.WithinDuration(t, first.Snapshot.LastSeenAt, second.Snapshot.LastSeenAt, 0)
	assert.Equal(t, first.Summary, second.Summary)

	assert.Len(t, p.Updates(), 1)

	n, err := db.CountHistory("GPR")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestApplyLastWriterWins(t *testing.T) {
	older := event("alice", 100, t0, model.Items{0: {ID: "minecraft:diamond", Count: 5}})
	newer := event("bob", 100, t0.Add(time.Second), model.Items{1: {ID: "minecraft:stone", Count: 3}})

	for name, events := range map[string][]service.Event{
		"in order":     {older, newer},
		"out of order": {newer, older},
	} {
		t.Run(name, func(t *testing.T) {
			db, cleanup := setup(t)
			defer cleanup()

			p := &publisher{}
			ingest := service.NewIngest(db, p, nil)

			for _, e := range events {
				_, err := ingest.Apply(context.Background(), "GPR", e)
				require.NoError(t, err)
			}

			snapshot, err := service.NewQuery(db).Get("GPR", *newer.Coordinate)
			require.NoError(t, err)
			assert.Equal(t, newer.Items, snapshot.Items)
			assert.Equal(t, 3, snapshot.ItemCount)
			assert.Equal(t, "bob", snapshot.OpenedBy.ID)
			assert.WithinDuration(t, newer.Timestamp, snapshot.LastSeenAt, 0)

			history, err := db.FindHistory("GPR", newer.Coordinate.Key(), 0)
			require.NoError(t, err)
			assert.Len(t, history, 2)

			var stale int
			for _, entry := range history {
				if entry.Stale {
					stale++
					assert.Equal(t, "alice", entry.Actor.ID)
				}
			}
			assert.Equal(t, len(events)-len(p.Updates()), stale)
		})
	}
}

func TestApplyGPRScenario(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()

	query := service.NewQuery(db)
	h := hub.New(query, hub.DefaultQueueSize)
	defer h.Close()
	ingest := service.NewIngest(db, h, nil)

	live, err := h.Subscribe(context.Background(), "GPR", "")
	require.NoError(t, err)
	m := <-live.Messages()
	require.Equal(t, hub.TypeFullState, m.MessageType())

	coordinate := &model.Coordinate{X: 100, Y: 64, Z: 200}
	_, err = ingest.Apply(context.Background(), "GPR", service.Event{
		Actor:      model.Actor{ID: "alice", Name: "alice"},
		Coordinate: coordinate,
		Items:      model.Items{0: {ID: "diamond", Count: 5}},
		Timestamp:  t0,
	})
	require.NoError(t, err)

	_, err = ingest.Apply(context.Background(), "GPR", service.Event{
		Actor:      model.Actor{ID: "bob", Name: "bob"},
		Coordinate: coordinate,
		Items:      model.Items{},
		Timestamp:  t0.Add(time.Second),
	})
	require.NoError(t, err)

	update := (<-live.Messages()).(*hub.ChestUpdate)
	assert.Equal(t, 5, update.Chest.ItemCount)
	assert.Equal(t, 5, update.Summary.TotalItems)
	update = (<-live.Messages()).(*hub.ChestUpdate)
	assert.Empty(t, update.Chest.Items)
	assert.Equal(t, 0, update.Summary.TotalItems)
	assert.Equal(t, 1, update.Summary.TotalChests)

	snapshot, err := query.Get("GPR", *coordinate)
	require.NoError(t, err)
	assert.Empty(t, snapshot.Items)
	assert.Equal(t, 0, snapshot.ItemCount)
	assert.Equal(t, "bob", snapshot.OpenedBy.ID)
	assert.WithinDuration(t, t0.Add(time.Second), snapshot.LastSeenAt, 0)

	history, err := query.History("GPR", *coordinate, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	late, err := h.Subscribe(context.Background(), "GPR", "")
	require.NoError(t, err)
	state := (<-late.Messages()).(*hub.FullState)
	require.Len(t, state.Chests, 1)
	assert.Empty(t, state.Chests[0].Items)
	assert.Equal(t, 1, state.Summary.TotalChests)
	assert.Equal(t, 0, state.Summary.TotalItems)
	assert.EqualValues(t, 2, state.Summary.Revision)
}

func TestApplySummaryMatchesRecount(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()

	ingest := service.NewIngest(db, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			e := event(fmt.Sprintf("player%d", i), i%7, t0.Add(time.Duration(i)*time.Second), model.Items{
				0: {ID: "minecraft:dirt", Count: i},
			})
			_, err := ingest.Apply(context.Background(), "GPR", e)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	_, summary, err := service.NewQuery(db).List("GPR")
	require.NoError(t, err)

	tenant, err := db.Recount("GPR")
	require.NoError(t, err)
	assert.Equal(t, 7, tenant.TotalChests)
	assert.Equal(t, tenant.TotalChests, summary.TotalChests)
	assert.Equal(t, tenant.TotalItems, summary.TotalItems)
	require.NotNil(t, summary.LastUpdatedAt)
	assert.WithinDuration(t, t0.Add(39*time.Second), *summary.LastUpdatedAt, 0)

	// Highest timestamp per coordinate wins whatever the arrival order.
	chests, _, err := service.NewQuery(db).List("GPR")
	require.NoError(t, err)
	for _, chest := range chests {
		i := int(chest.LastSeenAt.Sub(t0) / time.Second)
		assert.Equal(t, chest.Coordinate.X, i%7)
		assert.True(t, i+7 > 39, "chest %d is not the latest write", chest.Coordinate.X)
	}

	n, err := db.CountHistory("GPR")
	require.NoError(t, err)
	assert.Equal(t, 40, n)
}

func TestApplyTenantIsolation(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()

	ingest := service.NewIngest(db, nil, nil)
	query := service.NewQuery(db)

	_, err := ingest.Apply(context.Background(), "A", event("alice", 1, t0, model.Items{0: {ID: "minecraft:dirt", Count: 1}}))
	require.NoError(t, err)
	_, err = ingest.Apply(context.Background(), "B", event("bob", 1, t0, model.Items{0: {ID: "minecraft:stone", Count: 2}}))
	require.NoError(t, err)

	a, err := query.Get("A", model.Coordinate{X: 1, Y: 64, Z: 200})
	require.NoError(t, err)
	assert.Equal(t, "minecraft:dirt", a.Items[0].ID)

	chests, summary, err := query.List("B")
	require.NoError(t, err)
	assert.Len(t, chests, 1)
	assert.Equal(t, 2, summary.TotalItems)
}

func TestApplyValidation(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()

	p := &publisher{}
	ingest := service.NewIngest(db, p, nil)

	valid := event("alice", 1, t0, model.Items{})

	_, err := ingest.Apply(context.Background(), "", valid)
	assert.True(t, cserror.IsValidation(err))

	e := valid
	e.Coordinate = nil
	_, err = ingest.Apply(context.Background(), "GPR", e)
	assert.True(t, cserror.IsValidation(err))

	e = valid
	e.Coordinate = &model.Coordinate{X: model.MaxHorizontal + 1}
	_, err = ingest.Apply(context.Background(), "GPR", e)
	assert.True(t, cserror.IsValidation(err))

	e = valid
	e.Items = nil
	_, err = ingest.Apply(context.Background(), "GPR", e)
	assert.True(t, cserror.IsValidation(err))

	e = valid
	e.Items = model.Items{0: {ID: "minecraft:dirt", Count: -1}}
	_, err = ingest.Apply(context.Background(), "GPR", e)
	assert.True(t, cserror.IsValidation(err))

	tenants, err := db.FindTenants()
	require.NoError(t, err)
	assert.Empty(t, tenants)
	assert.Empty(t, p.Updates())
}

func TestApplyDefaultsTimestamp(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()

	before := time.Now()
	result, err := service.NewIngest(db, nil, nil).Apply(context.Background(), "GPR", event("alice", 1, time.Time{}, model.Items{}))
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.False(t, result.Snapshot.LastSeenAt.Before(before.Add(-time.Second)))
}

func TestApplyCancelledContext(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.NewIngest(db, nil, nil).Apply(ctx, "GPR", event("alice", 1, t0, model.Items{}))
	assert.ErrorIs(t, err, context.Canceled)

	n, err := db.CountHistory("GPR")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestApplyLegacyDualWrite(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()

	ingest := service.NewIngest(db, nil, service.NewLegacyTable(db))

	e := event("alice", 1, t0, model.Items{0: {ID: "minecraft:dirt", Count: 1}})
	e.Signs = []string{"Storage"}
	_, err := ingest.Apply(context.Background(), "GPR", e)
	require.NoError(t, err)

	e = event("bob", 1, t0.Add(time.Second), model.Items{})
	_, err = ingest.Apply(context.Background(), "GPR", e)
	require.NoError(t, err)

	containers, err := db.FindLegacyContainers("GPR")
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, "bob", containers[0].OpenedByUUID)
	assert.Empty(t, containers[0].Items)
	assert.Equal(t, []string{"Storage"}, containers[0].Signs)
}

func TestApplyBatch(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()

	ingest := service.NewIngest(db, nil, nil)
	events := []service.Event{
		event("alice", 1, t0.Add(time.Second), model.Items{}),
		event("alice", 1, t0, model.Items{}),
		{},
		event("alice", 2, t0, model.Items{}),
	}
	errs := []error{nil, nil, nil, cserror.Validation("Malformed event.")}

	outcomes, err := ingest.ApplyBatch(context.Background(), "GPR", events, errs)
	require.NoError(t, err)
	require.Len(t, outcomes, 4)
	assert.Equal(t, service.OutcomeApplied, outcomes[0].Status)
	assert.Equal(t, service.OutcomeStale, outcomes[1].Status)
	assert.Equal(t, service.OutcomeRejected, outcomes[2].Status)
	assert.Equal(t, "Missing container coordinate.", outcomes[2].Error)
	assert.Equal(t, service.OutcomeRejected, outcomes[3].Status)
	assert.Equal(t, 3, outcomes[3].Index)

	_, err = ingest.ApplyBatch(context.Background(), "GPR", make([]service.Event, service.MaxBatchSize+1), nil)
	assert.True(t, cserror.IsValidation(err))
}
