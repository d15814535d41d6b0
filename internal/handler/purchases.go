package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/mmeshcher/treeledger/internal/validation"
)

type purchaseResponse struct {
	ID            int64  `json:"id"`
	BuyerID       int64  `json:"buyer_id"`
	SpeciesID     int64  `json:"species_id"`
	ProjectID     int64  `json:"project_id"`
	AmountPaid    int64  `json:"amount_paid"`
	Status        string `json:"status"`
	CertificateID int64  `json:"certificate_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func newPurchaseResponse(p *model.Purchase) purchaseResponse {
	return purchaseResponse{
		ID:            p.ID,
		BuyerID:       p.BuyerID,
		SpeciesID:     p.SpeciesID,
		ProjectID:     p.ProjectID,
		AmountPaid:    p.AmountPaid,
		Status:        string(p.Status()),
		CertificateID: p.CertificateID,
		CreatedAt:     formatTime(p.CreatedAt),
	}
}

func newPurchaseList(purchases []model.Purchase) []purchaseResponse {
	resp := make([]purchaseResponse, 0, len(purchases))
	for i := range purchases {
		resp = append(resp, newPurchaseResponse(&purchases[i]))
	}
	return resp
}

type certificateResponse struct {
	ID          int64  `json:"id"`
	OwnerID     int64  `json:"owner_id"`
	PurchaseID  int64  `json:"purchase_id"`
	MetadataRef string `json:"metadata_ref"`
	ExternalRef string `json:"external_ref"`
	IssuedAt    string `json:"issued_at"`
}

func newCertificateResponse(c *model.Certificate) certificateResponse {
	return certificateResponse{
		ID:          c.ID,
		OwnerID:     c.OwnerID,
		PurchaseID:  c.PurchaseID,
		MetadataRef: c.MetadataRef,
		ExternalRef: c.ExternalRef,
		IssuedAt:    formatTime(c.IssuedAt),
	}
}

type realAssetRequest struct {
	SpeciesID int64 `json:"species_id"`
	ProjectID int64 `json:"project_id"`
	Quantity  int64 `json:"quantity"`
	Paid      int64 `json:"paid"`
}

// BuyRealAsset оформляет покупку реальных деревьев текущим пользователем.
// Сумма paid списывается с платёжного счёта пользователя.
func (h *Handler) BuyRealAsset(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req realAssetRequest
	if !decodeJSON(r, &req) || req.Paid < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	created, err := h.service.PurchaseRealAsset(r.Context(), userID, req.SpeciesID, req.ProjectID, req.Quantity, req.Paid)
	if err != nil {
		h.writeError(w, "purchase real asset", err, zap.Int64("userID", userID), zap.Int64("quantity", req.Quantity))
		return
	}
	h.writeJSON(w, http.StatusCreated, newPurchaseList(created))
}

// GetMyPurchases возвращает покупки текущего пользователя.
func (h *Handler) GetMyPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	purchases, err := h.service.GetPurchasesByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get purchases", err, zap.Int64("userID", userID))
		return
	}

	if len(purchases) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, newPurchaseList(purchases))
}

// GetMyCertificates возвращает сертификаты текущего пользователя.
func (h *Handler) GetMyCertificates(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	certs, err := h.service.GetCertificatesByOwner(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get certificates", err, zap.Int64("userID", userID))
		return
	}

	if len(certs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	resp := make([]certificateResponse, 0, len(certs))
	for i := range certs {
		resp = append(resp, newCertificateResponse(&certs[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetPurchase возвращает покупку по идентификатору.
func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := validation.ParseID(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.GetPurchase(r.Context(), id)
	if err != nil {
		h.writeError(w, "get purchase", err, zap.Int64("purchaseID", id))
		return
	}
	h.writeJSON(w, http.StatusOK, newPurchaseResponse(p))
}

// GetCertificate возвращает сертификат по идентификатору.
func (h *Handler) GetCertificate(w http.ResponseWriter, r *http.Request) {
	id, ok := validation.ParseID(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.GetCertificate(r.Context(), id)
	if err != nil {
		h.writeError(w, "get certificate", err, zap.Int64("certificateID", id))
		return
	}
	h.writeJSON(w, http.StatusOK, newCertificateResponse(c))
}
