package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"papertrade/internal/broker"
	"papertrade/internal/domain"
)

// CreateAccountRequest is the body of POST /api/v1/accounts.
type CreateAccountRequest struct {
	UserID   string `json:"user_id"`
	Instance string `json:"instance"`
}

// SubmitOrderRequest is the body of POST /api/v1/orders. Quote is optional;
// without it the server's quote source is asked.
type SubmitOrderRequest struct {
	domain.OrderRequest
	Quote *domain.Quote `json:"quote,omitempty"`
}

// MarkRequest is the body of POST /api/v1/accounts/{id}/mark.
type MarkRequest struct {
	Quotes []domain.Quote `json:"quotes"`
}

// EstimateResponse is returned by GET /api/v1/slippage/estimate.
type EstimateResponse struct {
	Symbol string `json:"symbol,omitempty"`
	broker.Estimate
}

// RegisterRoutes registers all REST routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/v1/accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /api/v1/accounts/{id}", s.handleAccountSummary)
	mux.HandleFunc("GET /api/v1/accounts/{id}/positions", s.handlePositions)
	mux.HandleFunc("GET /api/v1/accounts/{id}/pdt", s.handlePDT)
	mux.HandleFunc("POST /api/v1/accounts/{id}/mark", s.handleMark)
	mux.HandleFunc("POST /api/v1/orders", s.handleSubmitOrder)
	mux.HandleFunc("GET /api/v1/slippage/estimate", s.handleEstimate)
	mux.HandleFunc("GET /api/v1/stream", s.hub.ServeWS)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidQuote):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decoding body: %w", domain.ErrInvalidOrder, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	acct, err := s.engine.EnsureAccount(r.Context(), req.UserID, req.Instance)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleAccountSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.engine.AccountSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sum.Positions == nil {
		sum.Positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.engine.Positions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handlePDT(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.PDTStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if st.TradesInWindow == nil {
		st.TradesInWindow = []domain.DayTrade{}
	}
	writeJSON(w, http.StatusOK, st)
}

// handleMark marks positions to market. With an empty body the quote source
// is asked for every open symbol.
func (s *Server) handleMark(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req MarkRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, r, err)
		return
	}

	quotes := make(map[string]domain.Quote, len(req.Quotes))
	for _, q := range req.Quotes {
		quotes[strings.ToUpper(q.Symbol)] = q
	}
	if len(quotes) == 0 {
		positions, err := s.engine.Positions(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		for _, p := range positions {
			q, err := s.resolveQuote(r.Context(), p.Symbol, nil)
			if err != nil {
				s.log.Warn("mark: no quote", "account", id, "symbol", p.Symbol, "error", err)
				continue
			}
			quotes[p.Symbol] = q
		}
	}

	positions, err := s.engine.MarkToMarket(r.Context(), id, quotes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.submit(r.Context(), &req.OrderRequest, req.Quote)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Filled() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	qty, err := strconv.ParseInt(q.Get("quantity"), 10, 64)
	if err != nil || qty <= 0 {
		writeError(w, http.StatusBadRequest, "quantity must be a positive integer")
		return
	}

	var adv float64
	if v := q.Get("adv"); v != "" {
		adv, err = strconv.ParseFloat(v, 64)
		if err != nil || adv < 0 {
			writeError(w, http.StatusBadRequest, "adv must be a non-negative number")
			return
		}
	}
	symbol := strings.ToUpper(q.Get("symbol"))
	if adv == 0 && symbol != "" && s.volume != nil {
		adv, err = s.volume.AverageDailyVolume(r.Context(), symbol, 20)
		if err != nil {
			s.log.Warn("estimate: adv unavailable", "symbol", symbol, "error", err)
			adv = 0
		}
	}

	writeJSON(w, http.StatusOK, EstimateResponse{
		Symbol:   symbol,
		Estimate: s.model.Estimate(qty, adv),
	})
}
