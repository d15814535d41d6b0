package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/treeledger/internal/model"
)

type accountResponse struct {
	VirtualTrees int64 `json:"virtual_trees"`
	PremiumTrees int64 `json:"premium_trees"`
	Points       int64 `json:"points"`
	HasFreeClaim bool  `json:"has_free_claim"`
}

func newAccountResponse(a *model.Account) accountResponse {
	return accountResponse{
		VirtualTrees: a.VirtualTrees,
		PremiumTrees: a.PremiumTrees,
		Points:       a.Points,
		HasFreeClaim: a.HasFreeClaim,
	}
}

// GetForest возвращает сводку по лесу текущего пользователя.
func (h *Handler) GetForest(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	summary, err := h.service.ForestSummary(r.Context(), userID)
	if err != nil {
		h.writeError(w, "forest summary", err, zap.Int64("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// GetPlant возвращает состояние серии поливов текущего пользователя.
func (h *Handler) GetPlant(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	state, err := h.service.PlantState(r.Context(), userID)
	if err != nil {
		h.writeError(w, "plant state", err, zap.Int64("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

// ClaimTree выдаёт текущему пользователю бесплатное дерево.
func (h *Handler) ClaimTree(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	acct, err := h.service.ClaimFreeTree(r.Context(), userID)
	if err != nil {
		h.writeError(w, "claim tree", err, zap.Int64("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusOK, newAccountResponse(acct))
}

type waterPreviewResponse struct {
	Eligible             bool  `json:"eligible"`
	TimeRemainingSeconds int64 `json:"time_remaining_seconds"`
	Streak               int64 `json:"streak"`
	BasePoints           int64 `json:"base_points"`
	StreakBonus          int64 `json:"streak_bonus"`
	Earned               int64 `json:"earned"`
}

// PreviewWater рассчитывает результат полива без изменения состояния.
func (h *Handler) PreviewWater(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	p, err := h.service.PreviewWater(r.Context(), userID)
	if err != nil {
		h.writeError(w, "preview water", err, zap.Int64("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusOK, waterPreviewResponse{
		Eligible:             p.Eligible,
		TimeRemainingSeconds: int64(p.TimeRemaining.Seconds()),
		Streak:               p.Streak,
		BasePoints:           p.BasePoints,
		StreakBonus:          p.StreakBonus,
		Earned:               p.Earned,
	})
}

type waterResponse struct {
	Streak          int64  `json:"streak"`
	Earned          int64  `json:"earned"`
	Points          int64  `json:"points"`
	TotalWaterCount int64  `json:"total_water_count"`
	WateredAt       string `json:"watered_at"`
}

// Water поливает растение текущего пользователя.
func (h *Handler) Water(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	res, err := h.service.Water(r.Context(), userID)
	if err != nil {
		h.writeError(w, "water", err, zap.Int64("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusOK, waterResponse{
		Streak:          res.Streak,
		Earned:          res.Earned,
		Points:          res.Points,
		TotalWaterCount: res.TotalWaterCount,
		WateredAt:       formatTime(res.WateredAt),
	})
}

type quantityRequest struct {
	Quantity int64 `json:"quantity"`
}

// Redeem обменивает очки текущего пользователя на деревья.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req quantityRequest
	if !decodeJSON(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	acct, err := h.service.RedeemPointsForTree(r.Context(), userID, req.Quantity)
	if err != nil {
		h.writeError(w, "redeem points", err, zap.Int64("userID", userID))
		return
	}
	h.writeJSON(w, http.StatusOK, newAccountResponse(acct))
}

type premiumRequest struct {
	Quantity int64 `json:"quantity"`
	Paid     int64 `json:"paid"`
}

type premiumResponse struct {
	Quantity     int64 `json:"quantity"`
	Price        int64 `json:"price"`
	Refund       int64 `json:"refund"`
	VirtualTrees int64 `json:"virtual_trees"`
	PremiumTrees int64 `json:"premium_trees"`
}

// BuyPremium продаёт текущему пользователю премиум-деревья.
// Сумма paid списывается с платёжного счёта пользователя.
func (h *Handler) BuyPremium(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req premiumRequest
	if !decodeJSON(r, &req) || req.Paid < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	receipt, err := h.service.PurchasePremium(r.Context(), userID, req.Quantity, req.Paid)
	if err != nil {
		h.writeError(w, "purchase premium", err, zap.Int64("userID", userID), zap.Int64("quantity", req.Quantity))
		return
	}
	h.writeJSON(w, http.StatusOK, premiumResponse{
		Quantity:     receipt.Quantity,
		Price:        receipt.Price,
		Refund:       receipt.Refund,
		VirtualTrees: receipt.VirtualTrees,
		PremiumTrees: receipt.PremiumTrees,
	})
}

// GetPremiumStats возвращает статистику продаж премиум-деревьев.
func (h *Handler) GetPremiumStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.PremiumStats(r.Context())
	if err != nil {
		h.writeError(w, "premium stats", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

type configResponse struct {
	CooldownSeconds       int64  `json:"cooldown_seconds"`
	MinPurchaseUnitPrice  int64  `json:"min_purchase_unit_price"`
	PremiumTreePrice      int64  `json:"premium_tree_price"`
	PointsPerWater        int64  `json:"points_per_water"`
	StreakBonusPerDay     int64  `json:"streak_bonus_per_day"`
	MaxStreakBonusDays    int64  `json:"max_streak_bonus_days"`
	PointsPerRedeemedTree int64  `json:"points_per_redeemed_tree"`
	Beneficiary           string `json:"beneficiary"`
	Paused                bool   `json:"paused"`
}

// GetConfig возвращает текущие параметры протокола.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Config(r.Context())
	if err != nil {
		h.writeError(w, "get config", err)
		return
	}
	c := state.Config
	h.writeJSON(w, http.StatusOK, configResponse{
		CooldownSeconds:       int64(c.Cooldown.Seconds()),
		MinPurchaseUnitPrice:  c.MinPurchaseUnitPrice,
		PremiumTreePrice:      c.PremiumTreePrice,
		PointsPerWater:        c.PointsPerWater,
		StreakBonusPerDay:     c.StreakBonusPerDay,
		MaxStreakBonusDays:    c.MaxStreakBonusDays,
		PointsPerRedeemedTree: c.PointsPerRedeemedTree,
		Beneficiary:           c.Beneficiary,
		Paused:                state.Paused,
	})
}
