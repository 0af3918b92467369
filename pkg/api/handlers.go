package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ssargent/vitalgap/pkg/archive"
	"github.com/ssargent/vitalgap/pkg/match"
	"github.com/ssargent/vitalgap/pkg/report"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// Server holds the status server state
type Server struct {
	store   RunStore
	config  ServerConfig
	metrics *Metrics
	logger  *zap.Logger
}

// NewServer creates a status server over store. A nil logger discards logs
// and nil metrics get a private registry.
func NewServer(store RunStore, config ServerConfig, metrics *Metrics, logger *zap.Logger) *Server {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:   store,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

// query times one archive lookup and records it.
func (s *Server) query(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.RecordArchiveQuery(name, err == nil || errors.Is(err, archive.ErrNotFound), time.Since(start))
	return err
}

// sendStoreError maps archive errors onto HTTP statuses.
func (s *Server) sendStoreError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, archive.ErrNotFound):
		sendError(w, what+" not found", http.StatusNotFound)
		return
	case errors.Is(err, archive.ErrInvalidRunID):
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Error("archive query failed", zap.String("what", what), zap.Error(err))
	sendError(w, "Failed to read "+what, http.StatusInternalServerError)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, err := s.store.Runs()
	s.metrics.RecordHealthCheck(err == nil)
	if err != nil {
		sendError(w, "archive unavailable", http.StatusServiceUnavailable)
		return
	}
	sendSuccess(w, map[string]string{"status": "healthy"})
}

// handleSummary serves the latest run, or ?run=<id>.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("run")

	var run archive.Run
	err := s.query("summary", func() (err error) {
		if id == "" {
			run, err = s.store.LatestRun()
		} else {
			run, err = s.store.Run(id)
		}
		return err
	})
	if err != nil {
		s.sendStoreError(w, "run", err)
		return
	}

	if id == "" {
		sum := run.Report.Summary
		s.metrics.SetMatchedRatio(sum.Total-sum.Methods[match.MethodUnmatched].Count, sum.Total)
	}
	sendSuccess(w, run)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	var ids []string
	err := s.query("runs", func() (err error) {
		ids, err = s.store.Runs()
		return err
	})
	if err != nil {
		s.sendStoreError(w, "runs", err)
		return
	}
	sendSuccess(w, RunsResponse{Runs: ids})
}

// handleResults pages through a run's result lines:
// ?run=<id>&offset=<n>&limit=<n>. run defaults to the latest.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		sendError(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}
	limit, err := intParam(q.Get("limit"), defaultPageLimit)
	if err != nil || limit <= 0 {
		sendError(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}
	limit = min(limit, maxPageLimit)

	id := q.Get("run")
	if id == "" {
		var run archive.Run
		err := s.query("summary", func() (err error) {
			run, err = s.store.LatestRun()
			return err
		})
		if err != nil {
			s.sendStoreError(w, "run", err)
			return
		}
		id = run.ID
	}

	var lines []report.Line
	err = s.query("results", func() (err error) {
		lines, err = s.store.Results(id, offset, limit)
		return err
	})
	if err != nil {
		s.sendStoreError(w, "results", err)
		return
	}
	sendSuccess(w, ResultsPage{RunID: id, Offset: offset, Limit: limit, Results: lines})
}

func (s *Server) handleTruth(w http.ResponseWriter, r *http.Request) {
	packetID, err := strconv.ParseInt(chi.URLParam(r, "packetID"), 10, 64)
	if err != nil {
		sendError(w, "packet id must be an integer", http.StatusBadRequest)
		return
	}

	var resp TruthResponse
	resp.PacketID = packetID
	err = s.query("truth", func() (err error) {
		resp.Records, err = s.store.Truth(packetID)
		return err
	})
	if err != nil {
		s.sendStoreError(w, "packet", err)
		return
	}
	sendSuccess(w, resp)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
