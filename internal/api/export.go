package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/nerrad567/cync-bridge/internal/exporter"
)

// handleExportStatus serves GET /api/export/status.
func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	status := s.exporter.Status()
	writeJSON(w, http.StatusOK, map[string]bool{
		"otp_required":   status.OTPRequired,
		"config_present": status.ConfigPresent,
	})
}

type otpRequest struct {
	Email string `json:"email"`
}

// handleExportOTP serves POST /api/export/otp.
func (s *Server) handleExportOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeBadRequest(w, "email is required")
		return
	}
	if err := s.exporter.RequestOTP(r.Context(), req.Email); err != nil {
		if errors.Is(err, exporter.ErrCloudClientUnconfigured) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeConflict, err.Error())
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "otp_requested"})
}

type verifyRequest struct {
	Code string `json:"code"`
}

// handleExportVerify serves POST /api/export/verify.
func (s *Server) handleExportVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeBadRequest(w, "code is required")
		return
	}
	topo, err := s.exporter.Verify(r.Context(), req.Code)
	if err != nil {
		switch {
		case errors.Is(err, exporter.ErrOTPNotRequested):
			writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		case errors.Is(err, exporter.ErrCloudClientUnconfigured):
			writeError(w, http.StatusServiceUnavailable, ErrCodeConflict, err.Error())
		default:
			writeInternalError(w, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":   topo.AccountID,
		"device_count": len(topo.Devices),
		"group_count":  len(topo.Groups),
	})
}

// handleExportDownload serves GET /api/export/download.
func (s *Server) handleExportDownload(w http.ResponseWriter, r *http.Request) {
	data, err := s.exporter.Download()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeNotFound(w, "no exported configuration yet")
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // best-effort write; client may disconnect mid-download
	w.Write(data)
}
