package handlers

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/lppm-portal/kkn-api/internal/auth"
	"github.com/lppm-portal/kkn-api/internal/config"
	"github.com/lppm-portal/kkn-api/internal/metrics"
)

type Handlers struct {
	Auth         *auth.AuthHandler
	Review       *ReviewHandler
	Registration *RegistrationHandler
	APIKeys      *APIKeyHandler
}

func RegisterRoutes(r *chi.Mux, cfg *config.Config, logger *slog.Logger, h Handlers) huma.API {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if cfg.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{cfg.FrontendURL},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-KEY"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Initialize Huma API
	humaConfig := huma.DefaultConfig("LPPM KKN Registration API", "1.0.0")
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"cookieAuth": {
			Type: "apiKey",
			In:   "cookie",
			Name: auth.CookieName,
		},
		"bearerAuth": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
		"apiKeyAuth": {
			Type: "apiKey",
			In:   "header",
			Name: "X-API-KEY",
		},
	}
	api := humachi.New(r, humaConfig)

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	// Auth routes
	r.Get("/auth/sso/login", h.Auth.HandleLogin)
	r.Get("/auth/sso/callback", h.Auth.HandleCallback)
	r.Post("/auth/logout", h.Auth.HandleLogout)

	security := []map[string][]string{{"cookieAuth": {}}, {"bearerAuth": {}}, {"apiKeyAuth": {}}}
	protected := func(status int, caps ...auth.Capability) func(o *huma.Operation) {
		return func(o *huma.Operation) {
			o.Security = security
			o.DefaultStatus = status
			o.Middlewares = append(o.Middlewares, h.Auth.Middleware(api, caps...))
		}
	}
	// Four document files plus form overhead.
	uploadLimit := func(o *huma.Operation) {
		o.MaxBodyBytes = 4*cfg.MaxUploadSize + 1<<20
	}

	huma.Get(api, "/me", h.Auth.HandleMe, protected(http.StatusOK))

	huma.Post(api, "/api-keys", h.APIKeys.HandleCreate, protected(http.StatusCreated))
	huma.Get(api, "/api-keys", h.APIKeys.HandleList, protected(http.StatusOK))
	huma.Delete(api, "/api-keys/{id}", h.APIKeys.HandleDelete, protected(http.StatusNoContent))

	review := auth.CapReviewRegistrations
	huma.Get(api, "/admin/kkn/registrations", h.Review.HandleList, protected(http.StatusOK, review))
	huma.Get(api, "/admin/kkn/registrations/stats", h.Review.HandleStats, protected(http.StatusOK, review))
	huma.Get(api, "/admin/kkn/registrations/{id}", h.Review.HandleGet, protected(http.StatusOK, review))
	huma.Post(api, "/admin/kkn/registrations/{id}/approve", h.Review.HandleApprove, protected(http.StatusOK, review))
	huma.Post(api, "/admin/kkn/registrations/{id}/reject", h.Review.HandleReject, protected(http.StatusOK, review))
	huma.Post(api, "/admin/kkn/registrations/{id}/request-revision", h.Review.HandleRequestRevision, protected(http.StatusOK, review))
	huma.Post(api, "/admin/kkn/registrations/{id}/notes", h.Review.HandleAddNote, protected(http.StatusCreated, review))
	huma.Get(api, "/admin/kkn/registrations/{id}/documents/{kind}", h.Registration.HandleReviewDocument, protected(http.StatusOK, review))

	huma.Get(api, "/kkn/locations", h.Registration.HandleLocations, protected(http.StatusOK))

	submit := auth.CapSubmitRegistration
	huma.Post(api, "/kkn/registrations", h.Registration.HandleSubmit, protected(http.StatusCreated, submit), uploadLimit)
	huma.Get(api, "/kkn/registrations/mine", h.Registration.HandleMine, protected(http.StatusOK, submit))
	huma.Post(api, "/kkn/registrations/{id}/documents", h.Registration.HandleReupload, protected(http.StatusOK, submit), uploadLimit)
	huma.Get(api, "/kkn/registrations/{id}/documents/{kind}", h.Registration.HandleDocument, protected(http.StatusOK, submit))

	return api
}
