package api

import (
	"errors"
	"net/http"
	"strings"

	"wmsdispatch/internal/auth"
)

const (
	defaultTenant = "t_demo"
	defaultRole   = auth.RoleAdmin
)

var errUnauthenticated = errors.New("bearer token required")

// getPrincipal extracts tenant and role from a bearer token or, in dev mode,
// from the X-Tenant-Id and X-Role headers.
// Browsers cannot set headers on websocket upgrades, so the token may also
// arrive as the access_token query parameter.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, error) {
	tok := ""
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		tok = strings.TrimSpace(authz[len("Bearer "):])
	} else if q := r.URL.Query().Get("access_token"); q != "" {
		tok = q
	}
	if tok != "" {
		return s.Auth.Verify(tok)
	}
	if s.Auth.Mode != auth.ModeDev {
		return auth.Principal{}, errUnauthenticated
	}
	tenant := r.Header.Get("X-Tenant-Id")
	role := strings.ToLower(r.Header.Get("X-Role"))
	if tenant == "" {
		tenant = defaultTenant
	}
	if role == "" {
		role = defaultRole
	}
	return auth.Principal{Tenant: tenant, Role: role}, nil
}

// principal resolves the caller or writes a 401 and returns false.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := s.getPrincipal(r)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return auth.Principal{}, false
	}
	return p, true
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := s.principal(w, r)
	if !ok {
		return p, false
	}
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return p, false
	}
	return p, true
}

func (s *Server) requirePlanner(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := s.principal(w, r)
	if !ok {
		return p, false
	}
	if !p.CanPlan() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return p, false
	}
	return p, true
}
