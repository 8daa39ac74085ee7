package service_test

import (
	"strings"
	"testing"
	"time"

	"github.com/mdouchement/chestsync/internal/cserror"
	"github.com/mdouchement/chestsync/internal/model"
	"github.com/mdouchement/chestsync/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	e, err := service.DecodeEvent([]byte(`{
		"actor": {"id": "alice-uuid", "name": "Alice"},
		"coordinate": {"world": "overworld", "x": 100, "y": 64, "z": 200},
		"items": {"0": {"id": "minecraft:diamond", "count": 5}, "12": {"id": "minecraft:stone", "count": 64, "name": "Rocks"}},
		"signs": ["Storage", "Ores"],
		"timestamp": "2024-05-01T12:00:00Z"
	}`))
	require.NoError(t, err)
	require.NoError(t, e.Validate())

	assert.Equal(t, model.Actor{ID: "alice-uuid", Name: "Alice"}, e.Actor)
	assert.Equal(t, &model.Coordinate{World: "overworld", X: 100, Y: 64, Z: 200}, e.Coordinate)
	assert.Equal(t, model.Items{
		0:  {ID: "minecraft:diamond", Count: 5},
		12: {ID: "minecraft:stone", Count: 64, Name: "Rocks"},
	}, e.Items)
	assert.Equal(t, []string{"Storage", "Ores"}, e.Signs)
	assert.WithinDuration(t, t0, e.Timestamp, 0)
}

func TestDecodeEventAliases(t *testing.T) {
	e, err := service.DecodeEvent([]byte(`{
		"UUID": "ABC-123",
		"Username": "Alice",
		"Container": {"Pos": [-5, 70, 12], "Items": [{"slot": 3, "id": "minecraft:dirt", "count": 2}, {"id": "minecraft:torch"}], "Signs": [{"line": 1}]},
		"ts": 1714564800000
	}`))
	require.NoError(t, err)
	require.NoError(t, e.Validate())

	assert.Equal(t, model.Actor{ID: "abc-123", Name: "Alice"}, e.Actor)
	assert.Equal(t, &model.Coordinate{X: -5, Y: 70, Z: 12}, e.Coordinate)
	assert.Equal(t, model.Items{
		3: {ID: "minecraft:dirt", Count: 2},
		1: {ID: "minecraft:torch", Count: 1},
	}, e.Items)
	assert.Equal(t, []string{`{"line":1}`}, e.Signs)
	assert.WithinDuration(t, t0, e.Timestamp, 0)

	e, err = service.DecodeEvent([]byte(`{"uuid":"x","container":{"position":[1,2,3],"items":{"slot_4":{"id":"minecraft:dirt","count":1}}},"ts":1714564800}`))
	require.NoError(t, err)
	assert.Equal(t, model.Items{4: {ID: "minecraft:dirt", Count: 1}}, e.Items)
	assert.WithinDuration(t, t0, e.Timestamp, 0)
}

func TestDecodeEventEmptiedAndMissingItems(t *testing.T) {
	e, err := service.DecodeEvent([]byte(`{"coordinate":{"x":1,"y":2,"z":3},"items":{}}`))
	require.NoError(t, err)
	assert.NoError(t, e.Validate())
	assert.NotNil(t, e.Items)
	assert.Empty(t, e.Items)
	assert.True(t, e.Timestamp.IsZero())

	e, err = service.DecodeEvent([]byte(`{"coordinate":{"x":1,"y":2,"z":3}}`))
	require.NoError(t, err)
	assert.True(t, cserror.IsValidation(e.Validate()))
}

func TestDecodeEventErrors(t *testing.T) {
	for name, payload := range map[string]string{
		"malformed":      `{"coordinate":`,
		"not an object":  `[1,2]`,
		"fractional":     `{"coordinate":{"x":1.5,"y":2,"z":3},"items":{}}`,
		"missing y":      `{"coordinate":{"x":1,"z":3},"items":{}}`,
		"string x":       `{"coordinate":{"x":"1","y":2,"z":3},"items":{}}`,
		"short position": `{"container":{"pos":[1,2]},"items":{}}`,
		"bad slot":       `{"coordinate":{"x":1,"y":2,"z":3},"items":{"first":{"id":"a","count":1}}}`,
		"duplicate slot": `{"coordinate":{"x":1,"y":2,"z":3},"items":[{"slot":1,"id":"a"},{"slot":1,"id":"b"}]}`,
		"bad items":      `{"coordinate":{"x":1,"y":2,"z":3},"items":"nope"}`,
		"bad count":      `{"coordinate":{"x":1,"y":2,"z":3},"items":{"0":{"id":"a","count":0.5}}}`,
		"bad timestamp":  `{"coordinate":{"x":1,"y":2,"z":3},"items":{},"timestamp":"yesterday-ish"}`,
	} {
		_, err := service.DecodeEvent([]byte(payload))
		assert.True(t, cserror.IsValidation(err), "%s: %v", name, err)
	}
}

func TestDecodeBatch(t *testing.T) {
	events, errs, err := service.DecodeBatch([]byte(`{"events":[
		{"coordinate":{"x":1,"y":2,"z":3},"items":{}},
		{"coordinate":{"x":1.2,"y":2,"z":3},"items":{}}
	]}`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.NoError(t, errs[0])
	assert.True(t, cserror.IsValidation(errs[1]))

	events, _, err = service.DecodeBatch([]byte(`[{"coordinate":{"x":1,"y":2,"z":3},"items":{}}]`))
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, _, err = service.DecodeBatch([]byte(`{"event":[]}`))
	assert.True(t, cserror.IsValidation(err))

	many := "[" + strings.TrimSuffix(strings.Repeat(`{},`, service.MaxBatchSize+1), ",") + "]"
	_, _, err = service.DecodeBatch([]byte(many))
	assert.True(t, cserror.IsValidation(err))
}

func TestDecodeTimestampFormats(t *testing.T) {
	for _, ts := range []string{`"2024-05-01T12:00:00Z"`, `"2024-05-01 12:00:00"`, `1714564800`, `1714564800000`} {
		e, err := service.DecodeEvent([]byte(`{"coordinate":{"x":1,"y":2,"z":3},"items":{},"ts":` + ts + `}`))
		require.NoError(t, err, ts)
		assert.WithinDuration(t, t0, e.Timestamp, 0, ts)
	}

	e, err := service.DecodeEvent([]byte(`{"coordinate":{"x":1,"y":2,"z":3},"items":{},"timestamp":null}`))
	require.NoError(t, err)
	assert.Equal(t, time.Time{}, e.Timestamp)
}
