package handlers

import (
	"net/http"
	"time"
)

var Version = "dev"

type HealthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	RateLimit RateLimitStats `json:"rateLimit"`
}

type RateLimitStats struct {
	Allowed  int64 `json:"allowed"`
	Rejected int64 `json:"rejected"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	var stats RateLimitStats
	if s.Limiter != nil {
		stats.Allowed, stats.Rejected = s.Limiter.Stats()
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().UTC(),
		RateLimit: stats,
	})
}
