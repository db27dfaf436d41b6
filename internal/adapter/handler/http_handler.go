package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/core/service"
)

const (
	actorHeader  = "X-Actor-ID"
	defaultActor = "system"
	maxBodyBytes = 1 << 20
)

type HTTPHandler struct {
	lifecycle     *service.LifecycleService
	notifications *service.NotificationService
	logger        *zap.Logger
}

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type AssignAssetRequest struct {
	AssetID        string                `json:"asset_id,omitempty"`
	UserID         string                `json:"user_id"`
	AssignmentType domain.AssignmentType `json:"assignment_type"`
	IsPrimary      bool                  `json:"is_primary"`
}

type ReturnAssetRequest struct {
	AssetID string `json:"asset_id"`
}

type ChangeStatusRequest struct {
	AssetID string             `json:"asset_id,omitempty"`
	Status  domain.AssetStatus `json:"status"`
	Reason  string             `json:"reason"`
}

type AssignLicenseRequest struct {
	LicenseID string `json:"license_id,omitempty"`
	UserID    string `json:"user_id"`
	AssetID   string `json:"asset_id"`
}

type RevokeLicenseRequest struct {
	AssignmentID string `json:"assignment_id"`
}

type BulkReturnRequest struct {
	UserID string `json:"user_id"`
}

type MarkAllReadRequest struct {
	UserID string `json:"user_id"`
}

func NewHTTPHandler(lifecycle *service.LifecycleService, notifications *service.NotificationService, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{lifecycle: lifecycle, notifications: notifications, logger: logger}
}

// Routes returns the API mux wrapped in request logging.
func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)

	mux.HandleFunc("POST /api/assets", h.CreateAsset)
	mux.HandleFunc("DELETE /api/assets/{id}", h.DeleteAsset)
	mux.HandleFunc("POST /api/assets/{id}/assign", h.AssignAsset)
	mux.HandleFunc("POST /api/assets/{id}/return", h.ReturnAsset)
	mux.HandleFunc("POST /api/assets/{id}/change-status", h.ChangeAssetStatus)
	mux.HandleFunc("GET /api/assets/{id}/history", h.history(domain.ReferenceAsset))

	mux.HandleFunc("POST /api/licenses", h.CreateLicense)
	mux.HandleFunc("DELETE /api/licenses/{id}", h.DeleteLicense)
	mux.HandleFunc("POST /api/licenses/{id}/assign", h.AssignLicense)
	mux.HandleFunc("GET /api/licenses/{id}/history", h.history(domain.ReferenceLicense))
	mux.HandleFunc("POST /api/license-assignments/{id}/revoke", h.RevokeLicense)

	mux.HandleFunc("POST /api/users/{id}/bulk-return", h.BulkReturn)
	mux.HandleFunc("GET /api/users/{id}/history", h.history(domain.ReferenceUser))

	mux.HandleFunc("POST /api/notifications/generate", h.GenerateNotifications)
	mux.HandleFunc("GET /api/notifications", h.ListNotifications)
	mux.HandleFunc("PUT /api/notifications/{id}/read", h.MarkRead)
	mux.HandleFunc("POST /api/notifications/read-all", h.MarkAllRead)

	return h.logRequests(mux)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req service.NewAsset
	if !h.decode(w, r, &req) {
		return
	}
	asset, err := h.lifecycle.CreateAsset(r.Context(), actor(r), req)
	h.respond(w, r, http.StatusCreated, asset, "asset created", err)
}

func (h *HTTPHandler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	err := h.lifecycle.DeleteAsset(r.Context(), actor(r), r.PathValue("id"))
	h.respond(w, r, http.StatusOK, nil, "asset deleted", err)
}

func (h *HTTPHandler) AssignAsset(w http.ResponseWriter, r *http.Request) {
	var req AssignAssetRequest
	if !h.decode(w, r, &req) {
		return
	}
	assignment, err := h.lifecycle.AssignAsset(r.Context(), actor(r), r.PathValue("id"), req.UserID, req.AssignmentType, req.IsPrimary)
	h.respond(w, r, http.StatusOK, assignment, "asset assigned", err)
}

func (h *HTTPHandler) ReturnAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.lifecycle.ReturnAsset(r.Context(), actor(r), r.PathValue("id"))
	h.respond(w, r, http.StatusOK, asset, "asset returned", err)
}

func (h *HTTPHandler) ChangeAssetStatus(w http.ResponseWriter, r *http.Request) {
	var req ChangeStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	asset, err := h.lifecycle.ChangeAssetStatus(r.Context(), actor(r), r.PathValue("id"), req.Status, req.Reason)
	h.respond(w, r, http.StatusOK, asset, "status changed", err)
}

func (h *HTTPHandler) CreateLicense(w http.ResponseWriter, r *http.Request) {
	var req service.NewLicense
	if !h.decode(w, r, &req) {
		return
	}
	license, err := h.lifecycle.CreateLicense(r.Context(), actor(r), req)
	h.respond(w, r, http.StatusCreated, license, "license created", err)
}

func (h *HTTPHandler) DeleteLicense(w http.ResponseWriter, r *http.Request) {
	err := h.lifecycle.DeleteLicense(r.Context(), actor(r), r.PathValue("id"))
	h.respond(w, r, http.StatusOK, nil, "license deleted", err)
}

func (h *HTTPHandler) AssignLicense(w http.ResponseWriter, r *http.Request) {
	var req AssignLicenseRequest
	if !h.decode(w, r, &req) {
		return
	}
	change, err := h.lifecycle.AssignLicense(r.Context(), actor(r), r.PathValue("id"), req.UserID, req.AssetID)
	message := "license assigned"
	if err == nil && change.License.Exceeded() {
		message = "license assigned; license is over its purchased seats"
	}
	h.respond(w, r, http.StatusOK, change, message, err)
}

func (h *HTTPHandler) RevokeLicense(w http.ResponseWriter, r *http.Request) {
	change, err := h.lifecycle.RevokeLicense(r.Context(), actor(r), r.PathValue("id"))
	h.respond(w, r, http.StatusOK, change, "license revoked", err)
}

func (h *HTTPHandler) BulkReturn(w http.ResponseWriter, r *http.Request) {
	result, err := h.lifecycle.BulkReturn(r.Context(), actor(r), r.PathValue("id"))
	h.respond(w, r, http.StatusOK, result, "user offboarded", err)
}

func (h *HTTPHandler) history(refType domain.ReferenceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := h.lifecycle.History(r.Context(), refType, r.PathValue("id"))
		h.respond(w, r, http.StatusOK, records, "", err)
	}
}

func (h *HTTPHandler) GenerateNotifications(w http.ResponseWriter, r *http.Request) {
	counts, err := h.notifications.RunAllChecks(r.Context())
	switch {
	case errors.Is(err, service.ErrCheckInProgress):
		writeJSON(w, http.StatusConflict, Response{Message: err.Error()})
	case err != nil && counts != nil:
		// Some rules failed; the others still report what they created.
		h.logger.Error("notification rules failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Data: counts, Message: "some notification rules failed"})
	default:
		h.respond(w, r, http.StatusOK, counts, "notification checks finished", err)
	}
}

func (h *HTTPHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Message: "limit must be a number"})
			return
		}
		limit = n
	}
	list, err := h.notifications.List(r.Context(), r.URL.Query().Get("user_id"), limit)
	h.respond(w, r, http.StatusOK, list, "", err)
}

func (h *HTTPHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	err := h.notifications.MarkRead(r.Context(), r.PathValue("id"))
	h.respond(w, r, http.StatusOK, nil, "notification marked read", err)
}

func (h *HTTPHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	var req MarkAllReadRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = r.URL.Query().Get("user_id")
	}
	n, err := h.notifications.MarkAllRead(r.Context(), req.UserID)
	h.respond(w, r, http.StatusOK, map[string]int64{"updated": n}, "notifications marked read", err)
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (h *HTTPHandler) respond(w http.ResponseWriter, r *http.Request, status int, data any, message string, err error) {
	if err != nil {
		code, msg := errorStatus(err)
		if code == http.StatusInternalServerError {
			h.logger.Error("request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Error(err))
		}
		writeJSON(w, code, Response{Message: msg})
		return
	}
	writeJSON(w, status, Response{Success: true, Data: data, Message: message})
}

// errorStatus maps an error to its HTTP status and the message shown to the
// caller. Infrastructure failures are not described to the caller.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrCapacity):
		return http.StatusUnprocessableEntity, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func actor(r *http.Request) string {
	if id := r.Header.Get(actorHeader); id != "" {
		return id
	}
	return defaultActor
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *HTTPHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
