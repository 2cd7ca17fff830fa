// Package keycloaktest runs an in-process stand-in for a Keycloak server:
// a realm key set, RS256 token minting and the subset of the admin REST API
// used by the identity lifecycle manager, with fault injection.
package keycloaktest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	jose "github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

const (
	AdminUsername = "admin"
	AdminPassword = "admin"
	AdminRealm    = "master"
)

// User is a provider-side account held by the fake realm
type User struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	FirstName     string   `json:"firstName"`
	LastName      string   `json:"lastName"`
	Enabled       bool     `json:"enabled"`
	EmailVerified bool     `json:"emailVerified"`
	Password      string   `json:"-"`
	Groups        []string `json:"-"`
}

// Group is a realm group
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Fault makes matching admin requests fail. Count <= 0 means every match.
type Fault struct {
	Method string
	// PathContains is matched against the request path
	PathContains string
	Status       int
	// Delay is applied before responding, to simulate upstream timeouts
	Delay time.Duration
	Count int
}

// Server is a fake Keycloak. All methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	Realm string

	mu          sync.Mutex
	key         *rsa.PrivateKey
	kid         string
	users       map[string]*User
	groups      map[string]*Group
	adminTokens map[string]struct{}
	adminTTL    time.Duration
	faults      []*Fault
	logins      int
	certsHits   int
	requests    []string
}

// NewServer starts a fake Keycloak hosting realm plus the master realm, and
// closes it when the test ends.
func NewServer(t testing.TB, realm string) *Server {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate realm key: %v", err)
	}

	s := &Server{
		Realm:       realm,
		key:         key,
		kid:         "kid-" + uuid.NewString()[:8],
		users:       map[string]*User{},
		groups:      map[string]*Group{},
		adminTokens: map[string]struct{}{},
		adminTTL:    time.Minute,
	}
	for _, name := range []string{"client", "merchant", "owner"} {
		s.addGroupLocked(name)
	}

	r := chi.NewRouter()
	r.Use(s.recordAndInject)
	r.Get("/realms/{realm}/protocol/openid-connect/certs", s.handleCerts)
	r.Post("/realms/{realm}/protocol/openid-connect/token", s.handleToken)
	r.Route("/admin/realms/{realm}", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/users", s.handleListUsers)
		r.Post("/users", s.handleCreateUser)
		r.Delete("/users/{id}", s.handleDeleteUser)
		r.Put("/users/{id}/groups/{groupID}", s.handleAddToGroup)
		r.Get("/groups", s.handleListGroups)
		r.Post("/groups", s.handleCreateGroup)
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Issuer returns the realm issuer as reached through this server's URL
func (s *Server) Issuer() string {
	return s.URL + "/realms/" + s.Realm
}

// JWKSURL returns the realm key-set endpoint
func (s *Server) JWKSURL() string {
	return s.Issuer() + "/protocol/openid-connect/certs"
}

// TokenOptions customise a minted token
type TokenOptions struct {
	Subject   string
	Email     string
	Name      string
	Groups    []string
	Roles     []string
	Issuer    string
	ExpiresIn time.Duration
	KeyID     string
	Key       *rsa.PrivateKey
	Extra     map[string]any
}

// Token mints an RS256 access token signed with the realm key. Zero options
// produce a token that the realm's verifier accepts.
func (s *Server) Token(t testing.TB, opts TokenOptions) string {
	t.Helper()

	s.mu.Lock()
	key, kid := s.key, s.kid
	s.mu.Unlock()

	if opts.Key != nil {
		key = opts.Key
	}
	if opts.KeyID != "" {
		kid = opts.KeyID
	}
	if opts.Issuer == "" {
		opts.Issuer = s.Issuer()
	}
	if opts.Subject == "" {
		opts.Subject = uuid.NewString()
	}
	if opts.ExpiresIn == 0 {
		opts.ExpiresIn = 5 * time.Minute
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: key, KeyID: kid}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		t.Fatalf("create signer: %v", err)
	}

	now := time.Now()
	claims := map[string]any{
		"sub":                opts.Subject,
		"iss":                opts.Issuer,
		"iat":                now.Unix(),
		"exp":                now.Add(opts.ExpiresIn).Unix(),
		"email":              opts.Email,
		"name":               opts.Name,
		"preferred_username": opts.Email,
		"typ":                "Bearer",
	}
	if opts.Groups != nil {
		claims["groups"] = opts.Groups
	}
	if opts.Roles != nil {
		claims["realm_access"] = map[string]any{"roles": opts.Roles}
	}
	for k, v := range opts.Extra {
		claims[k] = v
	}

	raw, err := josejwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

// TokenFor mints a token reflecting the user's current provider state, the
// way a fresh login would.
func (s *Server) TokenFor(t testing.TB, email string) string {
	t.Helper()
	u, ok := s.UserByEmail(email)
	if !ok {
		t.Fatalf("no provider user %s", email)
	}
	groups := make([]string, 0, len(u.Groups))
	for _, g := range u.Groups {
		groups = append(groups, "/"+g)
	}
	return s.Token(t, TokenOptions{Subject: u.ID, Email: u.Email, Name: strings.TrimSpace(u.FirstName + " " + u.LastName), Groups: groups})
}

// RotateKey replaces the realm signing key; previously minted tokens stop
// verifying once the verifier refreshes.
func (s *Server) RotateKey(t testing.TB) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate realm key: %v", err)
	}
	s.mu.Lock()
	s.key = key
	s.kid = "kid-" + uuid.NewString()[:8]
	s.mu.Unlock()
}

// AddFault registers a fault for subsequent admin requests
func (s *Server) AddFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fc := f
	s.faults = append(s.faults, &fc)
}

// ClearFaults removes all registered faults
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// ExpireAdminSessions invalidates every issued admin token, as a provider
// restart or session timeout would.
func (s *Server) ExpireAdminSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminTokens = map[string]struct{}{}
}

// SetAdminTokenTTL sets expires_in for subsequently issued admin tokens
func (s *Server) SetAdminTokenTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminTTL = d
}

// AdminLogins returns how many admin logins succeeded
func (s *Server) AdminLogins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// CertsHits returns how many times the key set was fetched
func (s *Server) CertsHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.certsHits
}

// Requests returns "METHOD path" for every request received
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// UserByEmail returns a copy of the provider user with email
func (s *Server) UserByEmail(email string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			cp.Groups = append([]string(nil), u.Groups...)
			return cp, true
		}
	}
	return User{}, false
}

// UserCount returns the number of provider users
func (s *Server) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// SeedUser creates a provider user directly, bypassing the admin API
func (s *Server) SeedUser(email string, groups ...string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &User{ID: uuid.NewString(), Username: email, Email: email, Enabled: true, EmailVerified: true}
	for _, g := range groups {
		u.Groups = append(u.Groups, g)
	}
	s.users[u.ID] = u
	return *u
}

func (s *Server) addGroupLocked(name string) *Group {
	g := &Group{ID: uuid.NewString(), Name: name, Path: "/" + name}
	s.groups[g.ID] = g
	return g
}

func (s *Server) recordAndInject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		var hit *Fault
		for _, f := range s.faults {
			if f.Method != "" && f.Method != r.Method {
				continue
			}
			if f.PathContains != "" && !strings.Contains(r.URL.Path, f.PathContains) {
				continue
			}
			hit = f
			if f.Count > 0 {
				f.Count--
				if f.Count == 0 {
					s.removeFaultLocked(f)
				}
			}
			break
		}
		s.mu.Unlock()

		if hit != nil {
			if hit.Delay > 0 {
				select {
				case <-time.After(hit.Delay):
				case <-r.Context().Done():
					return
				}
			}
			if hit.Status != 0 {
				writeJSON(w, hit.Status, map[string]string{"error": http.StatusText(hit.Status)})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) removeFaultLocked(target *Fault) {
	out := s.faults[:0]
	for _, f := range s.faults {
		if f != target {
			out = append(out, f)
		}
	}
	s.faults = out
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		_, ok := s.adminTokens[token]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "HTTP 401 Unauthorized"})
			return
		}
		if chi.URLParam(r, "realm") != s.Realm {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Realm not found."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCerts(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "realm") != s.Realm {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Realm does not exist"})
		return
	}
	s.mu.Lock()
	s.certsHits++
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &s.key.PublicKey,
		KeyID:     s.kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if chi.URLParam(r, "realm") != AdminRealm ||
		r.PostForm.Get("grant_type") != "password" ||
		r.PostForm.Get("client_id") != "admin-cli" ||
		r.PostForm.Get("username") != AdminUsername ||
		r.PostForm.Get("password") != AdminPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant", "error_description": "Invalid user credentials"})
		return
	}

	token := "admin-" + uuid.NewString()
	s.mu.Lock()
	s.adminTokens[token] = struct{}{}
	s.logins++
	ttl := s.adminTTL
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"expires_in":   int(ttl.Seconds()),
		"token_type":   "Bearer",
	})
}

type credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

type userRepresentation struct {
	Username      string       `json:"username"`
	Email         string       `json:"email"`
	FirstName     string       `json:"firstName"`
	LastName      string       `json:"lastName"`
	Enabled       bool         `json:"enabled"`
	EmailVerified bool         `json:"emailVerified"`
	Credentials   []credential `json:"credentials"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in userRepresentation
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "invalid body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, in.Email) || strings.EqualFold(u.Username, in.Username) {
			writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "User exists with same username"})
			return
		}
	}

	u := &User{
		ID:            uuid.NewString(),
		Username:      in.Username,
		Email:         in.Email,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Enabled:       in.Enabled,
		EmailVerified: in.EmailVerified,
	}
	for _, c := range in.Credentials {
		if c.Type == "password" && !c.Temporary {
			u.Password = c.Value
		}
	}
	s.users[u.ID] = u

	w.Header().Set("Location", fmt.Sprintf("%s/admin/realms/%s/users/%s", s.URL, s.Realm, u.ID))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	exact := r.URL.Query().Get("exact") == "true"

	s.mu.Lock()
	out := []User{}
	for _, u := range s.users {
		match := email == "" ||
			(exact && strings.EqualFold(u.Email, email)) ||
			(!exact && strings.Contains(strings.ToLower(u.Email), strings.ToLower(email)))
		if match {
			out = append(out, *u)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	delete(s.users, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddToGroup(w http.ResponseWriter, r *http.Request) {
	id, groupID := chi.URLParam(r, "id"), chi.URLParam(r, "groupID")
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	g, ok := s.groups[groupID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Could not find group by id"})
		return
	}
	for _, existing := range u.Groups {
		if existing == g.Name {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	u.Groups = append(u.Groups, g.Name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	search := strings.ToLower(r.URL.Query().Get("search"))
	s.mu.Lock()
	out := []Group{}
	for _, g := range s.groups {
		if search == "" || strings.Contains(strings.ToLower(g.Name), search) {
			out = append(out, *g)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var in Group
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "invalid body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.Name == in.Name {
			writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "Top level group named '" + in.Name + "' already exists."})
			return
		}
	}
	g := s.addGroupLocked(in.Name)
	w.Header().Set("Location", fmt.Sprintf("%s/admin/realms/%s/groups/%s", s.URL, s.Realm, g.ID))
	w.WriteHeader(http.StatusCreated)
}

// DeleteGroup removes a realm group directly, for tests of missing groups
func (s *Server) DeleteGroup(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, g := range s.groups {
		if g.Name == name {
			delete(s.groups, id)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
