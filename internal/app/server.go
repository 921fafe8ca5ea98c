package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/obachibuike2003/my-p2p-dashboard/internal/bot"
	"github.com/obachibuike2003/my-p2p-dashboard/internal/config"
	"github.com/obachibuike2003/my-p2p-dashboard/internal/ledger"
)

// server 暴露面板所需的只读视图与启停控制。
type server struct {
	cfg     *config.Config
	runner  *bot.Runner
	books   *ledger.Ledger
	baseCtx context.Context
	logger  *zap.Logger
}

func newServer(cfg *config.Config, runner *bot.Runner, books *ledger.Ledger, baseCtx context.Context, logger *zap.Logger) *server {
	return &server{
		cfg:     cfg,
		runner:  runner,
		books:   books,
		baseCtx: baseCtx,
		logger:  logger,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/bot/start", s.handleStart)
	mux.HandleFunc("POST /api/bot/stop", s.handleStop)
	mux.HandleFunc("GET /api/orders", s.handleOrders)
	mux.HandleFunc("GET /api/payments", s.handlePayments)
	mux.HandleFunc("GET /api/clients", s.handleListClients)
	mux.HandleFunc("POST /api/clients", s.handleAddClient)
	mux.HandleFunc("DELETE /api/clients/{id}", s.handleRemoveClient)
	mux.HandleFunc("GET /api/config", s.handleConfig)
	return mux
}

func (s *server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("写入响应失败", zap.Error(err))
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, lastRun := s.runner.Status()

	orders, err := s.books.ListOrders(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payments, err := s.books.ListPayments(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var lastRunText string
	if !lastRun.IsZero() {
		lastRunText = lastRun.Format(time.RFC3339)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      status.String(),
		"lastRunTime": lastRunText,
		"numOrders":   len(orders),
		"numPayments": len(payments),
		"running":     s.runner.Running(),
	})
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	// 主循环的生命周期挂在进程根 ctx 上，不能随请求结束而取消
	if err := s.runner.Start(s.baseCtx); err != nil {
		if errors.Is(err, bot.ErrAlreadyRunning) {
			s.writeError(w, http.StatusConflict, "调度器已在运行")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "starting"})
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.runner.Stop()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *server) handleOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.books.ListOrders(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if orders == nil {
		orders = []ledger.OrderRecord{}
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *server) handlePayments(w http.ResponseWriter, r *http.Request) {
	payments, err := s.books.ListPayments(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if payments == nil {
		payments = []ledger.PaymentRecord{}
	}
	s.writeJSON(w, http.StatusOK, payments)
}

func (s *server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.books.ListClients(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if clients == nil {
		clients = []ledger.Client{}
	}
	s.writeJSON(w, http.StatusOK, clients)
}

func (s *server) handleAddClient(w http.ResponseWriter, r *http.Request) {
	var client ledger.Client
	if err := json.NewDecoder(r.Body).Decode(&client); err != nil {
		s.writeError(w, http.StatusBadRequest, "请求体不是合法的 JSON")
		return
	}

	created, err := s.books.AddClient(r.Context(), client)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *server) handleRemoveClient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.books.RemoveClient(r.Context(), id); err != nil {
		if errors.Is(err, ledger.ErrClientNotFound) {
			s.writeError(w, http.StatusNotFound, "客户不存在")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConfig 返回脱敏后的配置视图，密钥一律只透出是否已配置。
func (s *server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"environment":     s.cfg.App.Environment,
		"crypto":          s.cfg.Marketplace.Crypto,
		"fiat":            s.cfg.Marketplace.Fiat,
		"side":            s.cfg.Marketplace.Side,
		"paymentMethod":   s.cfg.Marketplace.PaymentMethod,
		"fiatAmount":      s.cfg.Trade.FiatAmount,
		"runInterval":     s.cfg.Scheduler.RunInterval.String(),
		"marketplaceKeys": s.cfg.Marketplace.APIKey != "" && s.cfg.Marketplace.APISecret != "",
		"gatewayKey":      s.cfg.Gateway.SecretKey != "",
		"alertEnabled":    s.cfg.Alert.Enabled,
	})
}
