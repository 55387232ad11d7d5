// Package server exposes the progress of a cryptcore job over HTTP.
//
// It serves read-only JSON views of a StatusSource and a websocket stream
// that pushes snapshots until the job finishes. It never starts or changes a
// job.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/opd-ai/cryptcore/engine"
	"github.com/sirupsen/logrus"
)

// DefaultStreamInterval is how often the stream endpoint pushes a snapshot.
const DefaultStreamInterval = 250 * time.Millisecond

// StatusSource is the read-only view of a job the server publishes.
// *engine.TaskManager implements it.
type StatusSource interface {
	Snapshot() engine.Snapshot
	GetAllProgress() []float64
	ListActiveWorkers() []engine.WorkerRecord
	ActiveProcessIDs() []int
	ProcessHierarchy() []int
	ProcessInfo(pid int) string
	SyncStats() []engine.WorkerSyncStats
	SyncTotals() engine.WorkerSyncStats
}

// APIResponse wraps error replies.
type APIResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// WorkerView is the reply of the single-worker endpoint.
type WorkerView struct {
	Index    int                  `json:"index"`
	Progress float64              `json:"progress"`
	Worker   *engine.WorkerRecord `json:"worker,omitempty"`
}

// StatsView is the reply of the stats endpoint.
type StatsView struct {
	Workers []engine.WorkerSyncStats `json:"workers"`
	Totals  engine.WorkerSyncStats   `json:"totals"`
}

// ProcessView is the reply of the processes endpoint.
type ProcessView struct {
	Active    []int    `json:"active"`
	Hierarchy []int    `json:"hierarchy"`
	Info      []string `json:"info"`
}

// Option configures a Server.
type Option func(*Server)

// WithStreamInterval sets the push interval of the stream endpoint.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// Server is the HTTP status endpoint.
type Server struct {
	source   StatusSource
	addr     string
	interval time.Duration
	router   *mux.Router
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New creates a server for source that will listen on addr.
func New(source StatusSource, addr string, opts ...Option) *Server {
	s := &Server{
		source:   source,
		addr:     addr,
		interval: DefaultStreamInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = mux.NewRouter()
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/workers/{index}", s.handleWorker).Methods("GET")
	api.HandleFunc("/processes", s.handleProcesses).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/stream", s.handleStream)

	return s
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background. It
// returns the bound address, which differs from the configured one when the
// port was 0.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("status server listen on %s: %w", s.addr, err)
	}
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "Server.Start",
				"addr":     ln.Addr().String(),
				"error":    err.Error(),
			}).Error("Status server stopped")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "Server.Start",
		"addr":     ln.Addr().String(),
	}).Info("Status server listening")
	return ln.Addr().String(), nil
}

// Shutdown stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, s.source.Snapshot())
}

func (s *Server) handleWorker(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		sendError(w, fmt.Errorf("invalid worker index %q", mux.Vars(r)["index"]), http.StatusBadRequest)
		return
	}

	progress := s.source.GetAllProgress()
	if index < 0 || index >= len(progress) {
		sendError(w, fmt.Errorf("worker %d not found", index), http.StatusNotFound)
		return
	}

	view := WorkerView{Index: index, Progress: progress[index]}
	for _, rec := range s.source.ListActiveWorkers() {
		if rec.Index == index {
			rec := rec
			view.Worker = &rec
			break
		}
	}
	sendJSON(w, view)
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	view := ProcessView{
		Active:    nonNil(s.source.ActiveProcessIDs()),
		Hierarchy: nonNil(s.source.ProcessHierarchy()),
		Info:      []string{},
	}
	for _, pid := range view.Hierarchy {
		view.Info = append(view.Info, s.source.ProcessInfo(pid))
	}
	sendJSON(w, view)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	view := StatsView{Workers: s.source.SyncStats(), Totals: s.source.SyncTotals()}
	if view.Workers == nil {
		view.Workers = []engine.WorkerSyncStats{}
	}
	sendJSON(w, view)
}

// handleStream pushes a snapshot every interval until the job finishes or
// the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleStream",
			"remote":   r.RemoteAddr,
			"error":    err.Error(),
		}).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Drain client frames so close and ping control messages are handled.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		snap := s.source.Snapshot()
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
		if finished(snap) {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}

		select {
		case <-gone:
			return
		case <-ticker.C:
		}
	}
}

// finished reports whether snap belongs to a job that has ended.
func finished(snap engine.Snapshot) bool {
	if snap.Complete {
		return true
	}
	return snap.JobID != "" && !snap.Running && !snap.FinishedAt.IsZero()
}

func nonNil(ids []int) []int {
	if ids == nil {
		return []int{}
	}
	return ids
}

func sendJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendJSON",
			"error":    err.Error(),
		}).Warn("Failed to encode response")
	}
}

func sendError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}
