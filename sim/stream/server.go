// Package stream publishes a run's snapshot series to WebSocket observers.
// Each observer receives every committed snapshot in tick order, starting
// from a tick of its choosing, followed by a DONE message once the run ends.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/popsim/popsim/sim"
)

// Message types sent to observers.
const (
	TypeSnapshot = "SNAPSHOT"
	TypeDone     = "DONE"
)

// Message is one frame on the observer socket.
type Message struct {
	Type     string        `json:"type"`
	Run      string        `json:"run,omitempty"`
	Snapshot *sim.Snapshot `json:"snapshot,omitempty"`
	Ticks    int           `json:"ticks,omitempty"`
}

const writeTimeout = 5 * time.Second

// Server serves one series over HTTP and WebSocket.
type Server struct {
	run    string
	series *sim.Series

	upgrader  websocket.Upgrader
	observers atomic.Int64
}

// NewServer returns a server for the series of run.
func NewServer(run string, series *sim.Series) *Server {
	return &Server{
		run:    run,
		series: series,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Observers returns the number of connected observers.
func (s *Server) Observers() int { return int(s.observers.Load()) }

// Handler routes /snapshots (JSON array of committed snapshots) and /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/snapshots", s.SnapshotsHandler())
	mux.HandleFunc("/ws", s.WSHandler())
	return mux
}

// SnapshotsHandler returns every snapshot committed so far.
func (s *Server) SnapshotsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snaps := s.series.Snapshots()
		if snaps == nil {
			snaps = []sim.Snapshot{}
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(snaps)
	}
}

// WSHandler streams snapshots from the index given by the "from" query
// parameter (default 0).
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		from := 0
		if v := r.URL.Query().Get("from"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(rw, "from must be a non-negative integer", http.StatusBadRequest)
				return
			}
			from = n
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s.observers.Add(1)
		defer s.observers.Add(-1)
		logrus.Debugf("observer %s connected from index %d", r.RemoteAddr, from)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Reader goroutine: only detects the client going away.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		sent, err := s.pump(ctx, conn, from)
		if err != nil {
			logrus.Debugf("observer %s dropped after %d snapshots: %v", r.RemoteAddr, sent, err)
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run complete"),
			time.Now().Add(time.Second))
	}
}

func (s *Server) pump(ctx context.Context, conn *websocket.Conn, from int) (int, error) {
	sent := 0
	for i := from; ; i++ {
		snap, ok, err := s.series.Next(ctx, i)
		if err != nil {
			return sent, err
		}
		if !ok {
			return sent, s.write(conn, Message{Type: TypeDone, Run: s.run, Ticks: s.series.Len()})
		}
		if err := s.write(conn, Message{Type: TypeSnapshot, Run: s.run, Snapshot: &snap}); err != nil {
			return sent, err
		}
		sent++
	}
}

func (s *Server) write(conn *websocket.Conn, m Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(m)
}
