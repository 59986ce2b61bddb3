package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTokenService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Mode: ModeToken,
		Principals: []Principal{
			{Name: "bot", Token: "trade-token", Permissions: []string{PermissionTrade}},
			{Name: "dashboard", Token: "read-token", Permissions: []string{PermissionRead}},
			{Name: "retired", Token: "old-token", Permissions: []string{PermissionTrade}, Disabled: true},
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestNewServiceValidation(t *testing.T) {
	if svc, err := NewService(Config{}); err != nil || svc.Mode() != ModeDisabled {
		t.Fatalf("empty config should disable auth, got mode=%v err=%v", svc.Mode(), err)
	}
	cases := map[string]Config{
		"unknown mode":  {Mode: "oauth"},
		"no principals": {Mode: ModeToken},
		"empty token":   {Mode: ModeToken, Principals: []Principal{{Name: "a"}}},
		"duplicate": {Mode: ModeToken, Principals: []Principal{
			{Name: "a", Token: "x"},
			{Name: "a", Token: "y"},
		}},
	}
	for name, cfg := range cases {
		if _, err := NewService(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestAuthenticateRequest(t *testing.T) {
	svc := newTokenService(t)
	ctx := context.Background()

	subject, err := svc.AuthenticateRequest(ctx, "Bearer trade-token")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.Username != "bot" {
		t.Fatalf("unexpected subject %q", subject.Username)
	}
	if !subject.HasPermission(PermissionRead) {
		t.Fatal("trade permission should imply read")
	}

	cases := map[string]error{
		"":                 ErrMissingToken,
		"Bearer ":          ErrMissingToken,
		"Basic abc":        ErrInvalidToken,
		"Bearer wrong":     ErrInvalidToken,
		"Bearer old-token": ErrSubjectRevoked,
	}
	for header, want := range cases {
		if _, err := svc.AuthenticateRequest(ctx, header); !errors.Is(err, want) {
			t.Fatalf("header %q: expected %v, got %v", header, want, err)
		}
	}
}

func TestRequireMiddleware(t *testing.T) {
	svc := newTokenService(t)
	var seen string
	handler := svc.Require(PermissionTrade)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context()).Username
		w.WriteHeader(http.StatusAccepted)
	}))

	cases := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"Bearer read-token", http.StatusForbidden},
		{"Bearer trade-token", http.StatusAccepted},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/trades/buy", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("header %q: expected %d, got %d", tc.header, tc.status, rec.Code)
		}
	}
	if seen != "bot" {
		t.Fatalf("expected subject in context, got %q", seen)
	}
}

func TestRequireDisabledPassesThrough(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeDisabled})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	called := false
	handler := svc.Require(PermissionTrade)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("disabled auth should pass requests through")
	}

	var nilSvc *Service
	called = false
	nilSvc.Require(PermissionRead)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("nil service should pass requests through")
	}
}
