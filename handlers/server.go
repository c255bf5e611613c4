package handlers

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"storelens.app/cloud/internal/config"
	"storelens.app/cloud/internal/ratelimit"
	"storelens.app/cloud/license"
)

type Server struct {
	Router  chi.Router
	Manager *license.Manager
	Limiter ratelimit.RateLimit
	Config  *config.Config
}

func NewServer(mgr *license.Manager, limiter ratelimit.RateLimit, cfg *config.Config) *Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s := &Server{
		Router:  r,
		Manager: mgr,
		Limiter: limiter,
		Config:  cfg,
	}

	r.Get("/health", s.Health)
	r.Route("/license", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Post("/validate", s.ValidateLicense)
		r.Get("/info", s.LicenseInfo)
		r.Post("/activate", s.ActivateLicense)
		r.Post("/resend", s.ResendLicense)
	})
	r.Post("/webhooks/stripe", s.StripeWebhook)

	return s
}

// rateLimitMiddleware rejects excess requests before any handler logic runs.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter != nil && !s.Limiter.Allow(clientAddr(r)) {
			writeErrorResponse(w, http.StatusTooManyRequests, "Too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
