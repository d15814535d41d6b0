package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/treeledger/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса treeledger.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			h.limit(r)

			r.Post("/user/register", h.Register)
			r.Post("/user/login", h.Login)

			r.Get("/purchases/{id}", h.GetPurchase)
			r.Get("/certificates/{id}", h.GetCertificate)
			r.Get("/stats/premium", h.GetPremiumStats)
			r.Get("/config", h.GetConfig)
		})

		r.Route("/forest", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			h.limit(r)

			r.Get("/", h.GetForest)
			r.Get("/plant", h.GetPlant)
			r.Get("/water", h.PreviewWater)
			r.Post("/water", h.Water)
			r.Post("/claim", h.ClaimTree)
			r.Post("/redeem", h.Redeem)
			r.Post("/premium", h.BuyPremium)

			r.Post("/purchases", h.BuyRealAsset)
			r.Get("/purchases", h.GetMyPurchases)
			r.Get("/certificates", h.GetMyCertificates)
		})

		if h.operatorAuth != nil {
			r.Route("/operator", func(r chi.Router) {
				r.Use(h.operatorAuth.Middleware)

				r.Get("/purchases/pending", h.PendingPurchases)
				r.Post("/purchases/{id}/process", h.ProcessPurchase)
				r.Post("/purchases/{id}/certificate", h.IssueCertificate)

				r.Put("/config/{param}", h.UpdateParam)
				r.Put("/beneficiary", h.SetBeneficiary)
				r.Post("/pause", h.Pause)
				r.Post("/unpause", h.Unpause)
				r.Post("/sweep", h.Sweep)

				r.Get("/events", h.Events)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

// limit подключает ограничитель частоты запросов, если он задан.
func (h *Handler) limit(r chi.Router) {
	if h.limiter != nil {
		r.Use(h.limiter.Middleware)
	}
}
