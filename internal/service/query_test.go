package service_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/mdouchement/chestsync/internal/cserror"
	"github.com/mdouchement/chestsync/internal/model"
	"github.com/mdouchement/chestsync/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()

	ingest := service.NewIngest(db, nil, nil)
	query := service.NewQuery(db)

	//
	// Empty tenant.
	//

	chests, summary, err := query.List("GPR")
	require.NoError(t, err)
	assert.Empty(t, chests)
	assert.Equal(t, model.Summary{}, summary)

	_, err = query.Get("GPR", model.Coordinate{X: 1, Y: 64, Z: 200})
	assert.True(t, cserror.IsNotFound(err))

	//
	// Populated tenant.
	//

	for i := 0; i < 5; i++ {
		_, err = ingest.Apply(context.Background(), "GPR", event("alice", i, t0.Add(time.Duration(i)*time.Minute), model.Items{
			0: {ID: "minecraft:dirt", Count: 2},
		}))
		require.NoError(t, err)
	}

	chests, summary, err = query.List("GPR")
	require.NoError(t, err)
	require.Len(t, chests, 5)
	assert.Equal(t, 4, chests[0].Coordinate.X)
	assert.Equal(t, 0, chests[4].Coordinate.X)
	assert.Equal(t, 5, summary.TotalChests)
	assert.Equal(t, 10, summary.TotalItems)

	recent, err := query.Recent("GPR", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 4, recent[0].Coordinate.X)
	assert.Equal(t, 3, recent[1].Coordinate.X)

	recent, err = query.Recent("GPR", 0)
	require.NoError(t, err)
	assert.Len(t, recent, 5)

	_, err = query.Recent("GPR", -1)
	assert.Equal(t, http.StatusBadRequest, cserror.StatusCode(err))

	snapshot, err := query.Get("GPR", model.Coordinate{X: 2, Y: 64, Z: 200})
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.ItemCount)

	_, err = query.Get("GPR", model.Coordinate{World: "nether", X: 2, Y: 64, Z: 200})
	assert.True(t, cserror.IsNotFound(err))

	_, err = query.Get("GPR", model.Coordinate{Y: model.MaxY + 1})
	assert.Equal(t, http.StatusBadRequest, cserror.StatusCode(err))

	_, _, err = query.List("")
	assert.True(t, cserror.IsValidation(err))
}

func TestQueryHistory(t *testing.T) {
	db, cleanup := setup(t)
	defer cleanup()

	ingest := service.NewIngest(db, nil, nil)
	query := service.NewQuery(db)

	for i := 0; i < 3; i++ {
		_, err := ingest.Apply(context.Background(), "GPR", event("alice", 1, t0.Add(time.Duration(i)*time.Second), model.Items{
			0: {ID: "minecraft:dirt", Count: i},
		}))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // Distinct recording times.
	}

	history, err := query.History("GPR", model.Coordinate{X: 1, Y: 64, Z: 200}, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 2, history[0].Items[0].Count)
	assert.Equal(t, 0, history[2].Items[0].Count)
	assert.Equal(t, "GPR", history[0].TenantID)

	history, err = query.History("GPR", model.Coordinate{X: 1, Y: 64, Z: 200}, 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	history, err = query.History("GPR", model.Coordinate{X: 9, Y: 64, Z: 200}, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}
