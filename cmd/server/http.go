package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"caravel/internal/realtime"
	"caravel/internal/saga"
)

type apiServer struct {
	service  *saga.Service
	hub      *realtime.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func newAPIServer(service *saga.Service, hub *realtime.Hub, logger *slog.Logger) *apiServer {
	return &apiServer{
		service:  service,
		hub:      hub,
		logger:   logger,
		upgrader: websocket.Upgrader{},
	}
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", s.handleCreateOrder)
	mux.HandleFunc("GET /orders/{id}", s.handleGetOrder)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

type createOrderRequest struct {
	CustomerID string `json:"customerId"`
	Amount     string `json:"amount"`
}

type orderResponse struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId"`
	Amount     string    `json:"amount"`
	Status     string    `json:"status"`
	SagaID     string    `json:"sagaId"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toOrderResponse(o saga.Order) orderResponse {
	return orderResponse{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		Amount:     o.Amount.String(),
		Status:     string(o.Status),
		SagaID:     o.SagaID,
		CreatedAt:  o.CreatedAt,
	}
}

func (s *apiServer) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customerId is required")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string")
		return
	}

	o, err := s.service.CreateOrder(r.Context(), req.CustomerID, amount)
	if err != nil {
		if errors.Is(err, saga.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("create order", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, toOrderResponse(o))
}

func (s *apiServer) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.service.Order(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, saga.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		s.logger.Error("get order", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *apiServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.Register <- conn
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
