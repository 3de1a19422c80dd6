package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"utrader/src/model"
	"utrader/src/repository"
	"utrader/src/scanner"
)

// ScannerControl is the slice of the scanner registry the HTTP surface uses.
type ScannerControl interface {
	Statuses() []scanner.Status
	Logs(symbol, timeframe string) ([]scanner.LogEntry, error)
	Start(ctx context.Context, symbol, timeframe string) error
	Stop(symbol, timeframe string)
	UpdateConfig(ctx context.Context, config *model.SymbolConfig) error
}

type alertReader interface {
	FindRecent(ctx context.Context, cryptoTag string, limit int) ([]model.Alert, error)
}

type positionReader interface {
	FindAllOpenPositions(ctx context.Context) ([]model.Order, error)
}

type orderSearcher interface {
	Search(ctx context.Context, options repository.OrderSearchOptions) ([]model.Order, error)
}

type eventReader interface {
	FindRecent(ctx context.Context, status string, limit int) ([]model.TradingEvent, error)
}

type tokenIssuer interface {
	IssueToken(ctx context.Context, userID uint, cryptoTag string) (string, error)
}

// Deps bundles the read surface's collaborators.
type Deps struct {
	Scanners ScannerControl
	Alerts   alertReader
	Orders   interface {
		positionReader
		orderSearcher
	}
	Events   eventReader
	Telegram tokenIssuer
}

// Server is the admin/read HTTP surface the dashboard consumes.
type Server struct {
	deps Deps
	cfg  *Config
}

func New(deps Deps) *Server {
	return &Server{deps: deps, cfg: GetConfig()}
}

// Router assembles all routes. Mutating endpoints sit behind the admin
// token; everything else is read-only.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("\"/healthcheck\" error")
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/scanners", s.listScanners)
		r.Get("/scanners/{symbol}/{timeframe}/log", s.scannerLog)
		r.Get("/alerts", s.listAlerts)
		r.Get("/positions", s.listPositions)
		r.Get("/events", s.listEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/scanners/{symbol}/{timeframe}/start", s.startScanner)
			r.Post("/scanners/{symbol}/{timeframe}/stop", s.stopScanner)
			r.Put("/scanners/{symbol}/{timeframe}/config", s.updateScannerConfig)
			r.Get("/orders", s.searchOrders)
			r.Post("/telegram/token", s.issueTelegramToken)
		})
	})

	return r
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			http.Error(w, "admin endpoints disabled", http.StatusServiceUnavailable)
			return
		}
		token := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves until the context is cancelled, then shuts down gracefully.
func Start(ctx context.Context, deps Deps) error {
	s := New(deps)
	srv := &http.Server{
		Addr:    ":" + s.cfg.Port,
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Shutdown error")
		}
	}()

	logger.Infof("Listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
