package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kjannette/trahn-sim/internal/bot"
	"github.com/kjannette/trahn-sim/internal/ledger"
	"github.com/kjannette/trahn-sim/internal/models"
	"github.com/kjannette/trahn-sim/internal/strategy"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const maxQueryLimit = 1000

var (
	dateRegexp   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	userIDRegexp = regexp.MustCompile(`^[A-Za-z0-9_.:@-]{1,64}$`)
)

// Simulator is the service the API exposes.
type Simulator interface {
	Dashboard(userID string) *models.Dashboard
	Positions(userID string) []models.Position
	History(userID string, limit int) []models.Trade
	Engage(userID string) error
	Disengage(userID string) error
	Reset(userID string) *models.UserStats
	Sell(userID, asset string, percentage float64) (*models.Trade, error)
	MarketStatus() models.MarketStatus
	Listen(userID string, fn func(bot.Update)) func()
}

// TradeLog is the persisted trade audit log. It is optional.
type TradeLog interface {
	ByDay(ctx context.Context, userID, tradingDay string) ([]models.Trade, error)
	Stats(ctx context.Context, userID string) (*models.TradeStats, error)
}

// Pinger reports database reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Port       int
	APIKey     string
	CORSOrigin string
	DB         Pinger
	TradeLog   TradeLog
}

type Server struct {
	sim        Simulator
	trades     TradeLog
	db         Pinger
	httpServer *http.Server
	apiKey     string
	corsOrigin string
	log        *logrus.Logger
	streams    atomic.Int64
}

func NewServer(sim Simulator, opts Options, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	s := &Server{
		sim:        sim,
		trades:     opts.TradeLog,
		db:         opts.DB,
		apiKey:     opts.APIKey,
		corsOrigin: opts.CORSOrigin,
		log:        log,
	}

	mux := http.NewServeMux()

	// Market routes
	mux.HandleFunc("GET /v1/market/status", s.handleMarketStatus)

	// User routes
	mux.HandleFunc("GET /v1/users/{id}/stats", s.withUser(s.handleStats))
	mux.HandleFunc("GET /v1/users/{id}/positions", s.withUser(s.handlePositions))
	mux.HandleFunc("GET /v1/users/{id}/trades", s.withUser(s.handleHistory))
	mux.HandleFunc("POST /v1/users/{id}/engage", s.withUser(s.handleEngage))
	mux.HandleFunc("POST /v1/users/{id}/disengage", s.withUser(s.handleDisengage))
	mux.HandleFunc("POST /v1/users/{id}/reset", s.withUser(s.handleReset))
	mux.HandleFunc("POST /v1/users/{id}/positions/{asset}/sell", s.withUser(s.handleSell))
	mux.HandleFunc("GET /v1/users/{id}/stream", s.withUser(s.handleStream))

	// Trade log routes
	mux.HandleFunc("GET /v1/users/{id}/trades/day/{date}", s.withUser(s.handleTradesByDay))
	mux.HandleFunc("GET /v1/users/{id}/trades/stats", s.withUser(s.handleTradeStats))

	// Health and metrics (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := s.authMiddleware(corsMiddleware(mux, opts.CORSOrigin))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	s.log.WithFields(logrus.Fields{
		"addr": s.httpServer.Addr,
		"auth": s.apiKey != "",
	}).Info("REST API server started")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || r.URL.Path == "/metrics" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		// Browsers cannot set headers on a websocket handshake.
		if strings.HasSuffix(r.URL.Path, "/stream") && r.URL.Query().Get("token") != "" {
			if r.URL.Query().Get("token") != s.apiKey {
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withUser rejects malformed user ids before the handler runs.
func (s *Server) withUser(h func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !userIDRegexp.MatchString(id) {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		h(w, r, id)
	}
}

// --- validation helpers ---

func validateDate(date string) bool {
	if !dateRegexp.MatchString(date) {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, strategy.ErrPositionNotFound), errors.Is(err, ledger.ErrNoPosition):
		return http.StatusNotFound
	case errors.Is(err, strategy.ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, strategy.ErrInvalidPercentage), errors.Is(err, ledger.ErrInvalidTrade):
		return http.StatusBadRequest
	case errors.Is(err, strategy.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("Request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
