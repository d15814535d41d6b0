package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/treeledger/internal/middleware"
	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/mmeshcher/treeledger/internal/validation"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// currentOperator извлекает субъект оператора из контекста; при отсутствии отвечает 401.
func currentOperator(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor, ok := middleware.GetOperatorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return actor, ok
}

// pageParams разбирает параметры after и limit строки запроса.
func pageParams(r *http.Request) (after int64, limit int, ok bool) {
	q := r.URL.Query()
	limit = defaultPageSize

	if s := q.Get("after"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			return 0, 0, false
		}
		after = v
	}
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return 0, 0, false
		}
		limit = min(v, maxPageSize)
	}
	return after, limit, true
}

// PendingPurchases возвращает необработанные покупки для оператора.
func (h *Handler) PendingPurchases(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentOperator(w, r)
	if !ok {
		return
	}
	after, limit, ok := pageParams(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	purchases, err := h.service.PendingPurchases(r.Context(), actor, after, limit)
	if err != nil {
		h.writeError(w, "pending purchases", err, zap.String("operator", actor))
		return
	}
	h.writeJSON(w, http.StatusOK, newPurchaseList(purchases))
}

// ProcessPurchase отмечает покупку обработанной.
func (h *Handler) ProcessPurchase(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentOperator(w, r)
	if !ok {
		return
	}
	id, ok := validation.ParseID(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.MarkProcessed(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, "mark processed", err, zap.String("operator", actor), zap.Int64("purchaseID", id))
		return
	}
	h.writeJSON(w, http.StatusOK, newPurchaseResponse(p))
}

type certificateRequest struct {
	MetadataRef string `json:"metadata_ref"`
	ExternalRef string `json:"external_ref"`
}

// IssueCertificate выпускает сертификат на обработанную покупку.
func (h *Handler) IssueCertificate(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentOperator(w, r)
	if !ok {
		return
	}
	id, ok := validation.ParseID(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req certificateRequest
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if !validation.IsValidReference(req.MetadataRef) || !validation.IsValidReference(req.ExternalRef) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.IssueCertificate(r.Context(), actor, id, req.MetadataRef, req.ExternalRef)
	if err != nil {
		h.writeError(w, "issue certificate", err, zap.String("operator", actor), zap.Int64("purchaseID", id))
		return
	}
	h.writeJSON(w, http.StatusCreated, newCertificateResponse(c))
}

type paramRequest struct {
	Value int64 `json:"value"`
}

// UpdateParam изменяет числовой параметр протокола.
func (h *Handler) UpdateParam(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentOperator(w, r)
	if !ok {
		return
	}

	var req paramRequest
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	param := model.Param(chi.URLParam(r, "param"))
	change, err := h.service.UpdateParam(r.Context(), actor, param, req.Value)
	if err != nil {
		h.writeError(w, "update param", err, zap.String("operator", actor), zap.String("param", string(param)))
		return
	}
	h.writeJSON(w, http.StatusOK, change)
}

type beneficiaryRequest struct {
	Beneficiary string `json:"beneficiary"`
}

// SetBeneficiary меняет получателя выручки.
func (h *Handler) SetBeneficiary(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentOperator(w, r)
	if !ok {
		return
	}

	var req beneficiaryRequest
	if !decodeJSON(r, &req) || !validation.IsValidAccount(req.Beneficiary) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetBeneficiary(r.Context(), actor, req.Beneficiary); err != nil {
		h.writeError(w, "set beneficiary", err, zap.String("operator", actor))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Pause приостанавливает пользовательские операции.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// Unpause возобновляет пользовательские операции.
func (h *Handler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *Handler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	actor, ok := currentOperator(w, r)
	if !ok {
		return
	}

	if err := h.service.SetPaused(r.Context(), actor, paused); err != nil {
		h.writeError(w, "set paused", err, zap.String("operator", actor), zap.Bool("paused", paused))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

type sweepResponse struct {
	Amount int64 `json:"amount"`
}

// Sweep выводит остаток казначейского счёта оператору.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentOperator(w, r)
	if !ok {
		return
	}

	amount, err := h.service.Sweep(r.Context(), actor)
	if err != nil {
		h.writeError(w, "sweep", err, zap.String("operator", actor))
		return
	}
	h.writeJSON(w, http.StatusOK, sweepResponse{Amount: amount})
}

// Events отдаёт журнал событий реестра, начиная после номера after.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentOperator(w, r); !ok {
		return
	}
	if h.journal == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	after, limit, ok := pageParams(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	evs, err := h.journal.Since(uint64(after), limit)
	if err != nil {
		h.logger.Error("read journal error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, evs)
}
