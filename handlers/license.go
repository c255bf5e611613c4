package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"storelens.app/cloud/internal/logger"
	"storelens.app/cloud/license"
	"storelens.app/cloud/models"
)

type ValidateRequest struct {
	LicenseKey string `json:"licenseKey"`
	DeviceID   string `json:"deviceId"`
}

type ValidateResponse struct {
	Valid     bool       `json:"valid"`
	Plan      string     `json:"plan,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Message   string     `json:"message"`
}

type ActivateRequest struct {
	LicenseKey string `json:"licenseKey"`
	DeviceID   string `json:"deviceId"`
}

type ActivateResponse struct {
	Success bool         `json:"success"`
	License *LicenseJSON `json:"license,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type ResendRequest struct {
	Email string `json:"email"`
}

type ResendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type LicenseJSON struct {
	Key         string     `json:"licenseKey"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	IsActive    bool       `json:"isActive"`
	DeviceID    string     `json:"deviceId,omitempty"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
}

type LicenseInfoJSON struct {
	Key         string     `json:"licenseKey"`
	Plan        string     `json:"plan"`
	Status      string     `json:"status"`
	CustomerID  string     `json:"customerId"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	IsActive    bool       `json:"isActive"`
	DeviceID    string     `json:"deviceId,omitempty"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func (s *Server) ValidateLicense(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.LicenseKey == "" {
		writeErrorResponse(w, http.StatusBadRequest, "licenseKey is required")
		return
	}

	result := s.Manager.Validate(r.Context(), req.LicenseKey, req.DeviceID)
	if !result.Valid {
		writeJSON(w, http.StatusUnauthorized, ValidateResponse{
			Valid:   false,
			Message: result.Message,
		})
		return
	}

	expires := result.ExpiresAt
	writeJSON(w, http.StatusOK, ValidateResponse{
		Valid:     true,
		Plan:      result.Plan,
		ExpiresAt: &expires,
		Message:   result.Message,
	})
}

func (s *Server) LicenseInfo(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("licenseKey")
	if key == "" {
		writeErrorResponse(w, http.StatusBadRequest, "licenseKey query parameter is required")
		return
	}

	info, err := s.Manager.Info(r.Context(), key)
	if err != nil {
		logger.Error("License info lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to look up license")
		return
	}
	if info == nil {
		writeErrorResponse(w, http.StatusNotFound, "License not found")
		return
	}

	writeJSON(w, http.StatusOK, LicenseInfoJSON{
		Key:         info.Key,
		Plan:        info.Plan,
		Status:      info.Status,
		CustomerID:  info.StripeCustomerID,
		ExpiresAt:   info.ExpiresAt,
		IsActive:    info.IsActive,
		DeviceID:    info.DeviceID,
		ActivatedAt: info.ActivatedAt,
		CreatedAt:   info.CreatedAt,
	})
}

func (s *Server) ActivateLicense(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ActivateResponse{Success: false, Error: "Invalid request body"})
		return
	}
	if req.LicenseKey == "" || req.DeviceID == "" {
		writeJSON(w, http.StatusBadRequest, ActivateResponse{Success: false, Error: "licenseKey and deviceId are required"})
		return
	}

	lic, err := s.Manager.ForceRebind(r.Context(), req.LicenseKey, req.DeviceID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ActivateResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ActivateResponse{
		Success: true,
		License: licenseJSON(lic),
	})
}

func (s *Server) ResendLicense(w http.ResponseWriter, r *http.Request) {
	var req ResendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ResendResponse{Success: false, Error: "Invalid request body"})
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, ResendResponse{Success: false, Error: "email is required"})
		return
	}

	err := s.Manager.Resend(r.Context(), req.Email)
	if errors.Is(err, license.ErrNoLicense) {
		writeJSON(w, http.StatusNotFound, ResendResponse{Success: false, Error: "No license found for this email"})
		return
	}
	if err != nil {
		logger.Error("License resend failed", map[string]interface{}{
			"error": err.Error(),
			"email": req.Email,
		})
		writeJSON(w, http.StatusInternalServerError, ResendResponse{Success: false, Error: "Failed to send license email"})
		return
	}

	writeJSON(w, http.StatusOK, ResendResponse{Success: true, Message: "License key sent to your email"})
}

func licenseJSON(lic *models.License) *LicenseJSON {
	return &LicenseJSON{
		Key:         lic.Key,
		ExpiresAt:   lic.ExpiresAt,
		IsActive:    lic.IsActive,
		DeviceID:    lic.DeviceID,
		ActivatedAt: lic.ActivatedAt,
	}
}
