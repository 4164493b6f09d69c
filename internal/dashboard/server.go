// Package dashboard serves stored backtest runs over a read-only JSON API.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/models"
	"github.com/eddiefleurent/scranton_backtester/internal/report"
	"github.com/eddiefleurent/scranton_backtester/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	logger    *logrus.Logger
	listen    string
	authToken string
}

type Config struct {
	Listen    string
	AuthToken string
}

// RunView is a stored run with its headline numbers.
type RunView struct {
	storage.Run
	TotalPnL float64 `json:"total_pnl"`
	WinRate  float64 `json:"win_rate"`
}

func NewServer(cfg Config, storage storage.Interface, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		storage:   storage,
		logger:    logger,
		listen:    cfg.Listen,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	s.server = &http.Server{
		Addr:              s.listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Get("/{id}/trades", s.handleGetTrades)
		r.Get("/{id}/summary", s.handleGetSummary)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.logger.Infof("Starting dashboard server on %s", s.listen)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}
	s.writeJSON(w, health)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.storage.ListRuns()
	if err != nil {
		s.fail(w, err, "Failed to list runs")
		return
	}
	s.writeJSON(w, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, trades, ok := s.loadRun(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	summary := report.Summarize(report.Signed(trades, run.Mode == "buy"), run.Mode)
	s.writeJSON(w, RunView{Run: *run, TotalPnL: summary.TotalPnL, WinRate: summary.WinRate})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	run, trades, ok := s.loadRun(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	trades = report.Signed(trades, run.Mode == "buy")

	if ticker := r.URL.Query().Get("ticker"); ticker != "" {
		filtered := make([]models.TradeRecord, 0, len(trades))
		for _, t := range trades {
			if t.Ticker == ticker {
				filtered = append(filtered, t)
			}
		}
		trades = filtered
	}
	s.writeJSON(w, trades)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	run, trades, ok := s.loadRun(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	s.writeJSON(w, report.Summarize(report.Signed(trades, run.Mode == "buy"), run.Mode))
}

// loadRun fetches a run and its trades, writing the error response itself
// when either lookup fails.
func (s *Server) loadRun(w http.ResponseWriter, id string) (*storage.Run, []models.TradeRecord, bool) {
	run, err := s.storage.GetRun(id)
	if err != nil {
		s.fail(w, err, "Failed to get run")
		return nil, nil, false
	}
	trades, err := s.storage.GetTrades(id)
	if err != nil {
		s.fail(w, err, "Failed to get trades")
		return nil, nil, false
	}
	return run, trades, true
}

func (s *Server) fail(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, storage.ErrRunNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.logger.WithError(err).Error(msg)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
