// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chain-ledger/internal/filters"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/models"
	"github.com/chain-ledger/internal/service"
	"github.com/chain-ledger/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// Store interfaces for dependency injection and testing

// EventStore defines the history event operations the API needs.
type EventStore interface {
	AddEvent(ctx context.Context, event *models.HistoryEvent, mappings map[string]string) (int64, error)
	EditEvent(ctx context.Context, event *models.HistoryEvent) error
	DeleteEventsByIdentifier(ctx context.Context, identifiers []int64) error
	DeleteEventsByTxHash(ctx context.Context, txHashes []common.Hash) error
	GetEventsAndLimitInfo(ctx context.Context, q *filters.HistoryEventQuery, privileged bool, entriesLimit int) ([]*models.HistoryEvent, int, int64, int64, error)
	GetValueStats(ctx context.Context, q *filters.HistoryEventQuery) (*models.ValueStats, error)
	GetEventAssets(ctx context.Context, q *filters.HistoryEventQuery) ([]string, error)
	RowsMissingPrices(ctx context.Context, q *filters.HistoryEventQuery) ([]models.MissingPriceRow, error)
}

// ValidatorStore defines the validator operations the API needs.
type ValidatorStore interface {
	AddValidators(ctx context.Context, validators []*models.Validator) error
	EditValidator(ctx context.Context, index uint64, ownershipProportion decimal.Decimal) error
	DeleteValidators(ctx context.Context, indices []uint64) error
	GetValidators(ctx context.Context) ([]*models.Validator, error)
	GetDailyStats(ctx context.Context, q *filters.DailyStatsQuery) ([]*models.ValidatorDailyStats, int64, decimal.Decimal, error)
	GetExitedValidatorIndices(ctx context.Context) ([]uint64, error)
	GetValidatorsProfit(ctx context.Context, indices []uint64, fromTs, toTs types.Timestamp) (models.ValidatorsProfit, error)
}

// BalanceRunner triggers a historical balance processing run.
type BalanceRunner interface {
	Run(ctx context.Context, fromTs *types.TimestampMS) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	events     EventStore
	validators ValidatorStore
	processor  BalanceRunner
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	FreeEventsLimit int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, events EventStore, validators ValidatorStore, processor BalanceRunner) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		events:     events,
		validators: validators,
		processor:  processor,
		config:     config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// History event endpoints
	api.HandleFunc("/events", s.handleQueryEvents).Methods("POST")
	api.HandleFunc("/events/add", s.handleAddEvent).Methods("POST")
	api.HandleFunc("/events/{id:[0-9]+}", s.handleEditEvent).Methods("PUT")
	api.HandleFunc("/events", s.handleDeleteEvents).Methods("DELETE")
	api.HandleFunc("/events/by-tx-hash", s.handleDeleteEventsByTxHash).Methods("DELETE")
	api.HandleFunc("/events/stats", s.handleValueStats).Methods("POST")
	api.HandleFunc("/events/assets", s.handleEventAssets).Methods("POST")
	api.HandleFunc("/events/missing-prices", s.handleMissingPrices).Methods("POST")

	// Validator endpoints
	api.HandleFunc("/validators", s.handleGetValidators).Methods("GET")
	api.HandleFunc("/validators", s.handleAddValidators).Methods("POST")
	api.HandleFunc("/validators/{index:[0-9]+}", s.handleEditValidator).Methods("PATCH")
	api.HandleFunc("/validators", s.handleDeleteValidators).Methods("DELETE")
	api.HandleFunc("/validators/daily-stats", s.handleDailyStats).Methods("POST")
	api.HandleFunc("/validators/exited", s.handleExitedValidators).Methods("GET")
	api.HandleFunc("/validators/profit", s.handleValidatorsProfit).Methods("POST")

	// Processing endpoints
	api.HandleFunc("/processing/balances", s.handleProcessBalances).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "chain-ledger",
	})
}

// handleProcessBalances triggers a balance processing run in the
// background. An optional from_ts resumes from that checkpoint.
func (s *Server) handleProcessBalances(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromTs *int64 `json:"from_ts"`
	}
	if r.ContentLength > 0 {
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
			return
		}
	}

	var fromTs *types.TimestampMS
	if req.FromTs != nil {
		ts := types.TimestampMS(*req.FromTs)
		fromTs = &ts
	}

	go func() {
		if err := s.processor.Run(context.Background(), fromTs); err != nil {
			logging.WithError(err).Error("Balance processing run failed")
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// isPrivileged reports whether the request may see the full event history
// rather than the free recent-events window.
func isPrivileged(r *http.Request) bool {
	return r.Header.Get("X-Premium") == "true"
}

var _ BalanceRunner = (*service.BalanceProcessor)(nil)
