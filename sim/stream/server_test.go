package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/popsim/popsim/sim"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestWSHandler_StreamsInTickOrderThenDone(t *testing.T) {
	// GIVEN a series with one committed snapshot and an observer
	series := sim.NewSeries()
	series.Append(sim.Snapshot{Tick: 1, Population: 10})
	srv := httptest.NewServer(NewServer("run-1", series).Handler())
	defer srv.Close()
	conn := dial(t, srv, "")

	// WHEN more ticks commit and the run ends
	first := readMessage(t, conn)
	series.Append(sim.Snapshot{Tick: 2, Population: 11})
	series.Append(sim.Snapshot{Tick: 3, Population: 12})
	series.Close()

	// THEN the observer sees every tick in order, then DONE
	assert.Equal(t, TypeSnapshot, first.Type)
	assert.Equal(t, "run-1", first.Run)
	assert.Equal(t, 1, first.Snapshot.Tick)
	assert.Equal(t, 2, readMessage(t, conn).Snapshot.Tick)
	assert.Equal(t, 12, readMessage(t, conn).Snapshot.Population)
	done := readMessage(t, conn)
	assert.Equal(t, TypeDone, done.Type)
	assert.Equal(t, 3, done.Ticks)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWSHandler_FromIndex(t *testing.T) {
	series := sim.NewSeries()
	for tick := 1; tick <= 4; tick++ {
		series.Append(sim.Snapshot{Tick: tick})
	}
	series.Close()
	srv := httptest.NewServer(NewServer("r", series).Handler())
	defer srv.Close()

	conn := dial(t, srv, "?from=2")

	assert.Equal(t, 3, readMessage(t, conn).Snapshot.Tick)
	assert.Equal(t, 4, readMessage(t, conn).Snapshot.Tick)
	assert.Equal(t, TypeDone, readMessage(t, conn).Type)
}

func TestWSHandler_RejectsBadFrom(t *testing.T) {
	srv := httptest.NewServer(NewServer("r", sim.NewSeries()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws?from=-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSnapshotsHandler(t *testing.T) {
	series := sim.NewSeries()
	srv := httptest.NewServer(NewServer("r", series).Handler())
	defer srv.Close()

	get := func() []sim.Snapshot {
		resp, err := http.Get(srv.URL + "/snapshots")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var snaps []sim.Snapshot
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&snaps))
		return snaps
	}

	assert.Empty(t, get())
	series.Append(sim.Snapshot{Tick: 1, Population: 3})
	snaps := get()
	require.Len(t, snaps, 1)
	assert.Equal(t, 3, snaps[0].Population)
}
