/**
 * @description
 * This file contains the HTTP handlers for the donation-service's API endpoints.
 * Handlers parse incoming requests, call the orchestrator and translate its
 * error taxonomy into status codes. Raw gateway replies never reach the caller.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/saniah/donation-service/internal/app"
	"github.com/saniah/donation-service/internal/domain"
)

// retryAfterGatewaySeconds is advertised when the gateway could not be reached.
const retryAfterGatewaySeconds = 30

// DonationHandlers holds the application service that handlers will use.
type DonationHandlers struct {
	service *app.Service
}

type initiateResponse struct {
	SessionID string `json:"session_id"`
	Phone     string `json:"phone"`
	Amount    string `json:"amount"`
}

type confirmResponse struct {
	SessionID string                   `json:"session_id"`
	Status    domain.TransactionStatus `json:"status"`
	Message   string                   `json:"message"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Rule      string `json:"rule,omitempty"`
	Retriable bool   `json:"retriable,omitempty"`
}

// NewDonationHandlers creates a new DonationHandlers.
func NewDonationHandlers(service *app.Service) *DonationHandlers {
	return &DonationHandlers{service: service}
}

// InitiateDonationHandler opens a payment session for a donation.
func (h *DonationHandlers) InitiateDonationHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.InitiateDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=initiate outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.Initiate(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "initiate", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, initiateResponse{
		SessionID: result.SessionID,
		Phone:     result.Phone,
		Amount:    result.Amount.StringFixed(2),
	})
}

// ConfirmDonationHandler submits the one-time code for the session in the path.
func (h *DonationHandlers) ConfirmDonationHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ConfirmDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=confirm outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.SessionID = chi.URLParam(r, "sessionID")
	h.confirm(w, r, req)
}

// LegacyConfirmHandler accepts {session_id, otp} in the body for older clients.
func (h *DonationHandlers) LegacyConfirmHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ConfirmDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=confirm_legacy outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.confirm(w, r, req)
}

func (h *DonationHandlers) confirm(w http.ResponseWriter, r *http.Request, req domain.ConfirmDonationRequest) {
	outcome, err := h.service.Confirm(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "confirm", err)
		return
	}
	h.writeJSON(w, http.StatusOK, confirmResponse{
		SessionID: outcome.SessionID,
		Status:    outcome.Status,
		Message:   outcome.Message,
	})
}

// GetDonationHandler returns the stored transaction for a session.
func (h *DonationHandlers) GetDonationHandler(w http.ResponseWriter, r *http.Request) {
	tx, err := h.service.GetStatus(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeServiceError(w, "get_donation", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// ListAdminNotificationsHandler lists the newest admin alerts.
func (h *DonationHandlers) ListAdminNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	items, err := h.service.ListAdminNotifications(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, "admin_notifications", err)
		return
	}
	if items == nil {
		items = []domain.AdminNotification{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": items})
}

// ListDeliveryRequestsHandler lists the newest courier requests.
func (h *DonationHandlers) ListDeliveryRequestsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	items, err := h.service.ListDeliveryRequests(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, "admin_deliveries", err)
		return
	}
	if items == nil {
		items = []domain.DeliveryRequest{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"deliveries": items})
}

// writeServiceError maps orchestrator errors onto HTTP responses.
func (h *DonationHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var validationErr *app.ValidationError
	var limitErr *app.AttemptLimitError

	switch {
	case errors.As(err, &validationErr):
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=validation field=%s rule=%s", endpoint, validationErr.Field, validationErr.Rule)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationErr.Error(), Field: validationErr.Field, Rule: validationErr.Rule})
	case errors.As(err, &limitErr):
		w.Header().Set("Retry-After", strconv.Itoa(limitErr.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, "too_many_attempts")
	case errors.Is(err, app.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, "insufficient_funds")
	case errors.Is(err, app.ErrAccountNotEligible):
		h.writeError(w, http.StatusForbidden, "account_ineligible")
	case errors.Is(err, app.ErrUnknownSession):
		h.writeError(w, http.StatusNotFound, "unknown_session")
	case errors.Is(err, app.ErrAlreadyFinalized):
		h.writeError(w, http.StatusConflict, "already_finalized")
	case errors.Is(err, app.ErrGatewayUnavailable):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterGatewaySeconds))
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "gateway_unavailable", Retriable: true})
	case errors.Is(err, app.ErrGatewayProtocol):
		h.writeError(w, http.StatusBadGateway, "gateway_error")
	default:
		log.Printf("level=error component=api endpoint=%s outcome=failed err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func parseOptionalPositiveInt(raw string, defaultValue int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, errors.New("must be >= 0")
	}
	return value, nil
}

// writeJSON is a helper for writing JSON responses.
func (h *DonationHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *DonationHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}
