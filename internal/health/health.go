package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stefmmm/Predeactor-Cogs/internal/modules/counter"
	"github.com/stefmmm/Predeactor-Cogs/internal/utils"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Stats struct {
	Uptime   string          `json:"uptime"`
	Started  time.Time       `json:"started"`
	Commands []counter.Usage `json:"commands"`
}

type Server struct {
	srv     *http.Server
	db      Pinger
	counter *counter.Counter
	logger  *zap.Logger
	clock   utils.Clock
	started time.Time
}

func New(addr string, db Pinger, commands *counter.Counter, logger *zap.Logger) *Server {
	s := &Server{db: db, counter: commands, logger: logger, clock: utils.RealClock{}}
	s.started = s.clock.Now()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.StrictSlash(true)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := Stats{
		Started:  s.started.UTC(),
		Uptime:   utils.HumanizeDuration(s.clock.Now().Sub(s.started)),
		Commands: []counter.Usage{},
	}
	if s.counter != nil {
		stats.Commands = s.counter.Snapshot()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.logger.Warn("stats encode failed", zap.Error(err))
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info("health endpoint enabled", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health server error", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
