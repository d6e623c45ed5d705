// Package admin exposes the operator HTTP API behind basic auth:
// runtime stats, pricing settings, user balance corrections, payment
// request resolution and broadcast messages.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/digkill/TGArtBot/internal/kie"
	"github.com/digkill/TGArtBot/internal/repository"
	"github.com/digkill/TGArtBot/internal/service"
)

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	users    *service.UserService
	ledger   *service.LedgerService
	payments *service.PaymentService
	stats    *service.StatsService
	settings *repository.SettingsRepository
	provider *kie.Client
	bot      *tgbotapi.BotAPI
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, users *service.UserService, ledger *service.LedgerService, payments *service.PaymentService, stats *service.StatsService, settings *repository.SettingsRepository, provider *kie.Client, bot *tgbotapi.BotAPI) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		users:    users,
		ledger:   ledger,
		payments: payments,
		stats:    stats,
		settings: settings,
		provider: provider,
		bot:      bot,
		router:   r,
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Get("/stats", s.handleStats)
		protected.Get("/settings", s.handleGetSettings)
		protected.Put("/settings", s.handleUpdateSettings)
		protected.Get("/provider/credits", s.handleProviderCredits)
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Route("/users/{id}", func(r chi.Router) {
			r.Post("/credit", s.handleCreditUser)
			r.Post("/debit", s.handleDebitUser)
			r.Post("/ban", s.handleSetBanned(true))
			r.Post("/unban", s.handleSetBanned(false))
			r.Post("/privilege", s.handleSetPrivileged)
		})
		protected.Route("/payment-requests", func(r chi.Router) {
			r.Get("/", s.handleListPaymentRequests)
			r.Post("/{id}/approve", s.handleResolvePayment(true))
			r.Post("/{id}/reject", s.handleResolvePayment(false))
		})
	})
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Collect(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Get(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"credit_usd":    settings.CreditUSD,
		"exchange_rate": settings.ExchangeRate,
		"markup":        settings.Markup,
		"updated_at":    settings.UpdatedAt,
	})
}

type settingsRequest struct {
	CreditUSD    *decimal.Decimal `json:"credit_usd"`
	ExchangeRate *decimal.Decimal `json:"exchange_rate"`
	Markup       *decimal.Decimal `json:"markup"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.CreditUSD == nil && req.ExchangeRate == nil && req.Markup == nil {
		http.Error(w, "nothing to update", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if req.CreditUSD != nil {
		if req.CreditUSD.LessThanOrEqual(decimal.Zero) {
			http.Error(w, "credit_usd must be positive", http.StatusBadRequest)
			return
		}
		if err := s.settings.SetCreditUSD(ctx, *req.CreditUSD); err != nil {
			s.internalError(w, err)
			return
		}
	}
	if req.ExchangeRate != nil {
		if req.ExchangeRate.LessThanOrEqual(decimal.Zero) {
			http.Error(w, "exchange_rate must be positive", http.StatusBadRequest)
			return
		}
		if err := s.settings.SetExchangeRate(ctx, *req.ExchangeRate); err != nil {
			s.internalError(w, err)
			return
		}
	}
	if req.Markup != nil {
		if req.Markup.LessThanOrEqual(decimal.Zero) {
			http.Error(w, "markup must be positive", http.StatusBadRequest)
			return
		}
		if err := s.settings.SetMarkup(ctx, *req.Markup); err != nil {
			s.internalError(w, err)
			return
		}
	}
	s.handleGetSettings(w, r)
}

func (s *Server) handleProviderCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := s.provider.Credits(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"credits": credits})
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handleCreditUser(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	user, err := s.users.FindByID(r.Context(), userID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if user == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	balance, err := s.ledger.Credit(r.Context(), userID, req.Amount)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (s *Server) handleDebitUser(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	user, err := s.users.FindByID(r.Context(), userID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if user == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	if err := s.users.Debit(r.Context(), userID, req.Amount); err != nil {
		s.internalError(w, err)
		return
	}
	user, err = s.users.FindByID(r.Context(), userID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if user == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"balance": user.Balance})
}

func (s *Server) handleSetBanned(banned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseID(chi.URLParam(r, "id"))
		if err != nil {
			s.badRequest(w, err)
			return
		}
		if err := s.users.SetBanned(r.Context(), userID, banned); err != nil {
			s.internalError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"banned": banned})
	}
}

type privilegeRequest struct {
	Privileged bool `json:"privileged"`
}

func (s *Server) handleSetPrivileged(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req privilegeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.users.SetPrivileged(r.Context(), userID, req.Privileged); err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"privileged": req.Privileged})
}

func (s *Server) handleListPaymentRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := s.payments.ListPending(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(requests))
	for _, req := range requests {
		out = append(out, map[string]any{
			"id":           req.ID,
			"user_id":      req.UserID,
			"amount":       req.Amount,
			"evidence_ref": req.EvidenceRef,
			"created_at":   req.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type resolveRequest struct {
	OperatorID int64 `json:"operator_id"`
}

func (s *Server) handleResolvePayment(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, err := parseID(chi.URLParam(r, "id"))
		if err != nil {
			s.badRequest(w, err)
			return
		}
		var req resolveRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
		}

		if approve {
			err = s.payments.Approve(r.Context(), requestID, req.OperatorID)
		} else {
			err = s.payments.Reject(r.Context(), requestID, req.OperatorID)
		}
		switch {
		case err == nil:
			s.writeJSON(w, http.StatusOK, map[string]any{"resolved": true, "approved": approve})
		case errors.Is(err, service.ErrRequestNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, service.ErrAlreadyResolved):
			http.Error(w, "already resolved", http.StatusConflict)
		default:
			s.internalError(w, err)
		}
	}
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	ids, err := s.users.ListTelegramIDs(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}

	count := 0
	for _, id := range ids {
		msg := tgbotapi.NewMessage(id, req.Message)
		if _, err := s.bot.Send(msg); err != nil {
			s.log.Error("send broadcast", "user", id, "err", err)
			continue
		}
		count++
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sent":  count,
		"total": len(ids),
	})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="artbot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
