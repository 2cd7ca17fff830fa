package server

import (
	"net/http"
	"strings"

	"github.com/marketcore/gatekeeper/internal/auth"
	"github.com/marketcore/gatekeeper/internal/config"
	"github.com/marketcore/gatekeeper/internal/middleware"
)

// WhoamiResponse describes the caller as seen through its token.
type WhoamiResponse struct {
	Authenticated bool     `json:"authenticated"`
	Subject       string   `json:"subject,omitempty"`
	Email         string   `json:"email,omitempty"`
	Name          string   `json:"name,omitempty"`
	Username      string   `json:"username,omitempty"`
	Groups        []string `json:"groups,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

// HandleWhoAmI returns the caller's claims, or authenticated=false for
// anonymous callers. Mounted behind the optional authentication middleware.
func HandleWhoAmI() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			middleware.WriteJSON(w, http.StatusOK, WhoamiResponse{})
			return
		}

		middleware.WriteJSON(w, http.StatusOK, WhoamiResponse{
			Authenticated: true,
			Subject:       claims.Subject,
			Email:         claims.Email,
			Name:          claims.Name,
			Username:      claims.PreferredUsername,
			Groups:        auth.NormalizeGroups(claims.Groups),
			Roles:         claims.Roles,
		})
	}
}

// AuthConfigResponse lets clients discover where to obtain tokens
type AuthConfigResponse struct {
	Realm   string   `json:"realm"`
	Issuer  string   `json:"issuer"`
	Issuers []string `json:"issuers"`
	JWKSURL string   `json:"jwksUrl"`
}

// HandleAuthConfig handles GET /auth/config
// The advertised issuer is the external one when configured, since that is
// the hostname browsers log in through.
func HandleAuthConfig(cfg config.KeycloakConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issuers := cfg.Issuers()
		if len(issuers) == 0 {
			middleware.WriteError(w, http.StatusServiceUnavailable, "Authentication not configured")
			return
		}

		issuer := issuers[0]
		if external := strings.TrimRight(strings.TrimSpace(cfg.ExternalURL), "/"); external != "" {
			for _, iss := range issuers {
				if strings.HasPrefix(iss, external+"/") {
					issuer = iss
					break
				}
			}
		}
		middleware.WriteJSON(w, http.StatusOK, AuthConfigResponse{
			Realm:   cfg.Realm,
			Issuer:  issuer,
			Issuers: issuers,
			JWKSURL: cfg.JWKSURL(),
		})
	}
}
