package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"utrader/src/model"
	"utrader/src/repository"
	"utrader/src/scanner"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) listScanners(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scanners.Statuses())
}

func (s *Server) scannerLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Scanners.Logs(chi.URLParam(r, "symbol"), chi.URLParam(r, "timeframe"))
	if errors.Is(err, scanner.ErrUnknownWorker) {
		http.Error(w, "scanner not running", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) startScanner(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	timeframe := chi.URLParam(r, "timeframe")

	err := s.deps.Scanners.Start(r.Context(), symbol, timeframe)
	if errors.Is(err, scanner.ErrUnknownWorker) {
		http.Error(w, "no configuration for this pair", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.WithError(err).Error("failed to start scanner")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) stopScanner(w http.ResponseWriter, r *http.Request) {
	s.deps.Scanners.Stop(chi.URLParam(r, "symbol"), chi.URLParam(r, "timeframe"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) updateScannerConfig(w http.ResponseWriter, r *http.Request) {
	var config model.SymbolConfig
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&config); err != nil {
		logger.WithError(err).Warn("invalid scanner config payload")
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	// The pair comes from the URL, not the body.
	config.Symbol = chi.URLParam(r, "symbol")
	config.Timeframe = chi.URLParam(r, "timeframe")

	if config.ScanIntervalSec <= 0 || config.CooldownSec < 0 {
		http.Error(w, "scan_interval_sec must be positive", http.StatusBadRequest)
		return
	}

	if err := s.deps.Scanners.UpdateConfig(r.Context(), &config); err != nil {
		logger.WithError(err).Error("failed to update scanner config")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, config)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveInt(r.URL.Query().Get("limit"), 50)
	alerts, err := s.deps.Alerts.FindRecent(r.Context(), r.URL.Query().Get("tag"), limit)
	if err != nil {
		logger.WithError(err).Error("failed to list alerts")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.deps.Orders.FindAllOpenPositions(r.Context())
	if err != nil {
		logger.WithError(err).Error("failed to list open positions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveInt(r.URL.Query().Get("limit"), 50)
	events, err := s.deps.Events.FindRecent(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		logger.WithError(err).Error("failed to list events")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// searchOrders lists order history with filters and pagination.
func (s *Server) searchOrders(w http.ResponseWriter, r *http.Request) {
	var userID uint
	if userParam := r.URL.Query().Get("userId"); userParam != "" {
		id, err := strconv.ParseUint(userParam, 10, 64)
		if err != nil {
			http.Error(w, "invalid userId", http.StatusBadRequest)
			return
		}
		userID = uint(id)
	}

	var symbol *string
	if symbolParam := r.URL.Query().Get("symbol"); symbolParam != "" {
		symbol = &symbolParam
	}

	var status *string
	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		status = &statusParam
	}

	page := parsePositiveInt(r.URL.Query().Get("page"), 1)
	pageSize := parsePositiveInt(r.URL.Query().Get("pageSize"), 20)
	offset := (page - 1) * pageSize

	orders, err := s.deps.Orders.Search(r.Context(), repository.OrderSearchOptions{
		UserID: userID,
		Symbol: symbol,
		Status: status,
		Limit:  pageSize,
		Offset: offset,
	})
	if err != nil {
		logger.WithError(err).Error("failed to search orders")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

type issueTokenPayload struct {
	UserID    uint   `json:"user_id"`
	CryptoTag string `json:"crypto_tag"`
}

// issueTelegramToken mints a one-shot deep-link token the dashboard embeds
// in the bot's /start link.
func (s *Server) issueTelegramToken(w http.ResponseWriter, r *http.Request) {
	var payload issueTokenPayload
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	if payload.UserID == 0 || payload.CryptoTag == "" {
		http.Error(w, "user_id and crypto_tag are required", http.StatusBadRequest)
		return
	}

	token, err := s.deps.Telegram.IssueToken(r.Context(), payload.UserID, payload.CryptoTag)
	if err != nil {
		logger.WithError(err).Error("failed to issue telegram token")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_in": int(repository.TokenTTL.Seconds()),
	})
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
