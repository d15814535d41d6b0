// Package handler содержит HTTP-обработчики API сервиса treeledger.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/treeledger/internal/events"
	"github.com/mmeshcher/treeledger/internal/metrics"
	"github.com/mmeshcher/treeledger/internal/middleware"
	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/mmeshcher/treeledger/internal/repository"
	"github.com/mmeshcher/treeledger/internal/service"
	"github.com/mmeshcher/treeledger/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)

	ClaimFreeTree(ctx context.Context, userID int64) (*model.Account, error)
	Water(ctx context.Context, userID int64) (*model.WaterResult, error)
	PreviewWater(ctx context.Context, userID int64) (*model.WaterPreview, error)
	RedeemPointsForTree(ctx context.Context, userID, n int64) (*model.Account, error)
	ForestSummary(ctx context.Context, userID int64) (*model.ForestSummary, error)
	PlantState(ctx context.Context, userID int64) (*model.PlantState, error)

	PurchasePremium(ctx context.Context, userID, quantity, paid int64) (*model.PremiumReceipt, error)
	PremiumStats(ctx context.Context) (*model.PremiumStats, error)

	PurchaseRealAsset(ctx context.Context, userID, speciesID, projectID, quantity, paid int64) ([]model.Purchase, error)
	GetPurchase(ctx context.Context, id int64) (*model.Purchase, error)
	GetPurchasesByUser(ctx context.Context, userID int64) ([]model.Purchase, error)
	GetCertificate(ctx context.Context, id int64) (*model.Certificate, error)
	GetCertificatesByOwner(ctx context.Context, ownerID int64) ([]model.Certificate, error)

	PendingPurchases(ctx context.Context, actor string, afterID int64, limit int) ([]model.Purchase, error)
	MarkProcessed(ctx context.Context, actor string, purchaseID int64) (*model.Purchase, error)
	IssueCertificate(ctx context.Context, actor string, purchaseID int64, metadataRef, externalRef string) (*model.Certificate, error)
	UpdateParam(ctx context.Context, actor string, param model.Param, value int64) (*service.ConfigChange, error)
	SetBeneficiary(ctx context.Context, actor, beneficiary string) error
	SetPaused(ctx context.Context, actor string, paused bool) error
	Sweep(ctx context.Context, actor string) (int64, error)
	Config(ctx context.Context) (*model.ProtocolState, error)
}

// Journal отдаёт сохранённые события реестра.
type Journal interface {
	Since(after uint64, limit int) ([]events.Event, error)
}

// Handler реализует HTTP-обработчики API сервиса treeledger.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware

	operatorAuth *middleware.OperatorAuth
	journal      Journal
	metrics      *metrics.Metrics
	limiter      *middleware.RateLimiter
}

// Option настраивает Handler.
type Option func(*Handler)

// WithOperatorAuth включает операторские маршруты.
func WithOperatorAuth(o *middleware.OperatorAuth) Option {
	return func(h *Handler) { h.operatorAuth = o }
}

// WithJournal включает выдачу журнала событий операторам.
func WithJournal(j Journal) Option {
	return func(h *Handler) { h.journal = j }
}

// WithMetrics включает сбор метрик запросов и маршрут /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithRateLimiter ограничивает частоту запросов к API.
func WithRateLimiter(l *middleware.RateLimiter) Option {
	return func(h *Handler) { h.limiter = l }
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts ...Option) *Handler {
	h := &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// statusFor сопоставляет ошибку сервиса с HTTP-статусом.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, repository.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, service.ErrPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrPaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(status), status)
		return
	}
	h.logger.Debug(op+" rejected", append(fields, zap.Error(err))...)
	http.Error(w, err.Error(), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response error", zap.Error(err))
	}
}

func decodeJSON(r *http.Request, v any) bool {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v) == nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidLogin(req.Login) || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, "register user", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, "login user", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// currentUser извлекает пользователя из контекста; при отсутствии отвечает 401.
func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return userID, ok
}
