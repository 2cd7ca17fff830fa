package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/marketcore/gatekeeper/internal/authz"
)

// Externally visible error messages. Denials never say which check failed.
const (
	MsgAuthenticationRequired = "Authentication required"
	MsgForbidden              = "Forbidden"
	MsgNotFound               = "Not found"
	MsgInternal               = "Internal server error"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error      string   `json:"error"`
	Message    string   `json:"message,omitempty"`
	UserGroups []string `json:"userGroups,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {error: message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: message})
}

// WriteDeny renders a capability denial. The 403 body echoes only the
// caller's own groups.
func WriteDeny(w http.ResponseWriter, deny *authz.Deny) {
	if deny == nil {
		WriteError(w, http.StatusForbidden, MsgForbidden)
		return
	}

	switch deny.Kind {
	case authz.DenyAuthenticationRequired:
		WriteError(w, http.StatusUnauthorized, MsgAuthenticationRequired)
	case authz.DenyNotFound:
		WriteError(w, http.StatusNotFound, MsgNotFound)
	case authz.DenyResolverError:
		WriteError(w, http.StatusInternalServerError, MsgInternal)
	default:
		groups := deny.Groups
		if groups == nil {
			groups = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		// userGroups is always present on 403, even when empty
		_ = json.NewEncoder(w).Encode(struct {
			Error      string   `json:"error"`
			Message    string   `json:"message"`
			UserGroups []string `json:"userGroups"`
		}{MsgForbidden, deny.Message, groups})
	}
}
