package server_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/appleboy/gofight/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
)

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func receive(t *testing.T, conn *websocket.Conn) *fastjson.Value {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	v, err := fastjson.ParseBytes(data)
	require.NoError(t, err)
	return v
}

func TestSubscribe(t *testing.T) {
	engine, ctrl, r, cleanup := setup()
	defer cleanup()

	ts := httptest.NewServer(engine)
	defer ts.Close()

	raw := createToken(ctrl, "GPR")
	header := gofight.H{"X-Ingest-Token": raw}

	r.POST("/events").SetHeader(header).SetBody(eventA).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusOK, r.Code, r.Body.String())
	})

	conn := dial(t, ts, "token="+raw)
	defer conn.Close()

	connected := receive(t, conn)
	assert.Equal(t, "connected", string(connected.GetStringBytes("type")))
	assert.Equal(t, "GPR", string(connected.GetStringBytes("structure_id")))
	assert.NotEmpty(t, string(connected.GetStringBytes("connection_id")))

	state := receive(t, conn)
	assert.Equal(t, "full_state", string(state.GetStringBytes("type")))
	require.Len(t, state.GetArray("chests"), 1)
	assert.Equal(t, "2024-05-01T12:00:00Z", string(state.GetStringBytes("chests", "0", "last_seen_at")))
	assert.Equal(t, 5, state.GetInt("summary", "total_items"))
	assert.Equal(t, "2024-05-01T12:00:00Z", string(state.GetStringBytes("summary", "last_updated_at")))

	r.GET("/subscribers").SetHeader(header).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusOK, r.Code)
		assert.JSONEq(t, `{"structure_id":"GPR","subscribers":1}`, r.Body.String())
	})

	r.POST("/events").SetHeader(header).SetBody(eventB).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusOK, r.Code, r.Body.String())
	})

	update := receive(t, conn)
	assert.Equal(t, "chest_update", string(update.GetStringBytes("type")))
	assert.Equal(t, "bob", string(update.GetStringBytes("chest", "opened_by", "id")))
	assert.Equal(t, "2024-05-01T12:00:01Z", string(update.GetStringBytes("chest", "last_seen_at")))
	assert.Equal(t, 0, update.GetInt("summary", "total_items"))
	assert.Equal(t, "2024-05-01T12:00:01Z", string(update.GetStringBytes("summary", "last_updated_at")))

	// Application level keepalive.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, "pong", string(receive(t, conn).GetStringBytes("type")))
}

func TestSubscribeEmptyStructure(t *testing.T) {
	engine, ctrl, _, cleanup := setup()
	defer cleanup()

	ts := httptest.NewServer(engine)
	defer ts.Close()

	conn := dial(t, ts, "token="+createToken(ctrl, "GPR"))
	defer conn.Close()
	receive(t, conn) // connected

	state := receive(t, conn)
	assert.Equal(t, "full_state", string(state.GetStringBytes("type")))
	assert.Len(t, state.GetArray("chests"), 0)
	assert.Equal(t, 0, state.GetInt("summary", "total_chests"))
	assert.Equal(t, 0, state.GetInt("summary", "total_items"))

	lastUpdatedAt := state.Get("summary", "last_updated_at")
	require.NotNil(t, lastUpdatedAt, "last_updated_at must be present")
	assert.Equal(t, fastjson.TypeNull, lastUpdatedAt.Type())
}

func TestSubscribeTenantIsolation(t *testing.T) {
	engine, ctrl, r, cleanup := setup()
	defer cleanup()

	ts := httptest.NewServer(engine)
	defer ts.Close()

	other := dial(t, ts, "token="+createToken(ctrl, "other"))
	defer other.Close()
	receive(t, other) // connected
	receive(t, other) // full_state

	header := gofight.H{"X-Ingest-Token": createToken(ctrl, "GPR")}
	r.POST("/events").SetHeader(header).SetBody(eventA).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusOK, r.Code, r.Body.String())
	})

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "no update expected from another structure")
}

func TestSubscribeReplacesSameClient(t *testing.T) {
	engine, ctrl, _, cleanup := setup()
	defer cleanup()

	ts := httptest.NewServer(engine)
	defer ts.Close()

	raw := createToken(ctrl, "GPR")

	first := dial(t, ts, "client_id=alice&token="+raw)
	defer first.Close()
	receive(t, first)
	receive(t, first)

	second := dial(t, ts, "client_id=alice&token="+raw)
	defer second.Close()
	receive(t, second)
	receive(t, second)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
	assert.Equal(t, 1, ctrl.Hub.TenantCount("GPR"))
}

func TestSubscribeUnauthorized(t *testing.T) {
	engine, _, _, cleanup := setup()
	defer cleanup()

	ts := httptest.NewServer(engine)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=unknown"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
