package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/auth"
	"github.com/marketcore/gatekeeper/internal/db/models"
	"github.com/marketcore/gatekeeper/internal/middleware"
	"github.com/marketcore/gatekeeper/internal/services/identity"
)

const (
	defaultReconcileLimit = 100
	maxRequestBody        = 1 << 20
)

type userResponse struct {
	ID         string      `json:"id"`
	Email      string      `json:"email"`
	Name       string      `json:"name"`
	Role       models.Role `json:"role"`
	KeycloakID string      `json:"keycloakId,omitempty"`
}

func newUserResponse(u *models.User) userResponse {
	resp := userResponse{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
	if u.Subject != nil {
		resp.KeycloakID = *u.Subject
	}
	return resp
}

type registrationResponse struct {
	Message         string                  `json:"message"`
	User            userResponse            `json:"user"`
	MerchantProfile *models.MerchantProfile `json:"merchantProfile,omitempty"`
	// ProviderSync is "pending" when the account exists but its group
	// assignment is queued for reconciliation.
	ProviderSync string `json:"providerSync,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	return true
}

// HandleRegisterClient handles POST /auth/register/client
func HandleRegisterClient(svc identity.Service, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req identity.RegisterRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		user, err := svc.RegisterClient(r.Context(), req)
		resp, ok := registered(w, r, log, err, user != nil)
		if !ok {
			return
		}
		resp.Message = "Client registered successfully"
		resp.User = newUserResponse(user)
		middleware.WriteJSON(w, http.StatusCreated, resp)
	}
}

// HandleRegisterMerchant handles POST /auth/register/merchant
func HandleRegisterMerchant(svc identity.Service, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req identity.RegisterMerchantRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		user, profile, err := svc.RegisterMerchant(r.Context(), req)
		resp, ok := registered(w, r, log, err, user != nil)
		if !ok {
			return
		}
		resp.Message = "Merchant registered successfully"
		resp.User = newUserResponse(user)
		resp.MerchantProfile = profile
		middleware.WriteJSON(w, http.StatusCreated, resp)
	}
}

// registered writes the error response for a failed registration. A partial
// sync with a created account still counts as created.
func registered(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error, created bool) (registrationResponse, bool) {
	var resp registrationResponse
	switch {
	case err == nil:
		return resp, true
	case created && apperr.IsKind(err, apperr.KindPartialSync):
		log.WithError(err).Warn("registration completed with pending provider sync")
		resp.ProviderSync = "pending"
		return resp, true
	default:
		writeServiceError(w, r, log, err)
		return resp, false
	}
}

type upgradeBody struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	models.ShopInfo
}

// HandleUpgradeToMerchant handles POST /merchants
//
// Callers submit for themselves. Members of the privileged group may name
// another user through userId or email.
func HandleUpgradeToMerchant(svc identity.Service, privilegedGroup string, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			middleware.WriteError(w, http.StatusUnauthorized, middleware.MsgAuthenticationRequired)
			return
		}

		var body upgradeBody
		if !decodeJSON(w, r, &body) {
			return
		}

		req := identity.UpgradeRequest{
			Subject:  claims.Subject,
			Email:    claims.Email,
			Name:     claims.Name,
			ShopInfo: body.ShopInfo,
		}
		onBehalf := body.UserID != "" || (body.Email != "" && !strings.EqualFold(body.Email, claims.Email))
		if onBehalf && claims.HasGroup(privilegedGroup) {
			req = identity.UpgradeRequest{
				UserID:   body.UserID,
				Email:    body.Email,
				Name:     body.Name,
				ShopInfo: body.ShopInfo,
			}
		}

		profile, err := svc.UpgradeToMerchant(r.Context(), req)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, profile)
	}
}

// HandleGetMerchant handles GET /merchants/{userID}
func HandleGetMerchant(svc identity.Service, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, err := svc.GetMerchant(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, profile)
	}
}

// HandleListPending handles GET /merchants/admin/pending
func HandleListPending(svc identity.Service, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles, err := svc.ListPending(r.Context())
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, profiles)
	}
}

type statusBody struct {
	Status models.MerchantStatus `json:"status"`
}

// HandleUpdateMerchantStatus handles PUT /merchants/{userID}/status
func HandleUpdateMerchantStatus(svc identity.Service, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body statusBody
		if !decodeJSON(w, r, &body) {
			return
		}

		actor := ""
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
			actor = claims.Subject
		}
		userID := chi.URLParam(r, "userID")

		switch models.MerchantStatus(strings.ToUpper(string(body.Status))) {
		case models.MerchantApproved:
			result, err := svc.Approve(r.Context(), userID, actor)
			if err != nil {
				writeServiceError(w, r, log, err)
				return
			}
			middleware.WriteJSON(w, http.StatusOK, result)
		case models.MerchantRejected:
			profile, err := svc.Reject(r.Context(), userID, actor)
			if err != nil {
				writeServiceError(w, r, log, err)
				return
			}
			middleware.WriteJSON(w, http.StatusOK, map[string]any{"profile": profile})
		default:
			middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorBody{
				Error:   msgInvalidRequest,
				Message: "status must be APPROVED or REJECTED",
			})
		}
	}
}

// HandleReconcile handles POST /admin/sync/reconcile?limit=N
func HandleReconcile(svc identity.Service, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultReconcileLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorBody{
					Error:   msgInvalidRequest,
					Message: "limit must be a positive integer",
				})
				return
			}
			limit = n
		}

		report, err := svc.ReconcilePending(r.Context(), limit)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, report)
	}
}
