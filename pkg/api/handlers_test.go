package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/campushq/permit/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore(nil, nil)
	return NewServer(s, nil, nil), s
}

func seedRole(t *testing.T, s store.Store, name string, permissions []string) {
	t.Helper()
	err := s.CreateRole(context.Background(), &store.Role{Name: name, Permissions: permissions})
	if err != nil {
		t.Fatalf("failed to seed role %s: %v", name, err)
	}
}

func TestGetRolePermissions(t *testing.T) {
	srv, s := newTestServer(t)
	seedRole(t, s, "instructor", []string{"Course.Read", "Course.Update"})

	req := httptest.NewRequest("GET", "/api/v1/authz/roles/instructor/permissions", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp rolePermissionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Permissions) != 2 {
		t.Errorf("expected 2 permissions, got %v", resp.Permissions)
	}
}

func TestGetRolePermissionsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/authz/roles/ghost/permissions", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestCreateRoleValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"name":"grader","permissions":["Course.Obliterate"]}`)
	req := httptest.NewRequest("POST", "/api/v1/authz/roles", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown permission, got %d", rec.Code)
	}
}

func TestCreateRoleConflict(t *testing.T) {
	srv, s := newTestServer(t)
	seedRole(t, s, "grader", nil)

	body := bytes.NewBufferString(`{"name":"grader"}`)
	req := httptest.NewRequest("POST", "/api/v1/authz/roles", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestAssignAndRevokePermission(t *testing.T) {
	srv, s := newTestServer(t)
	seedRole(t, s, "instructor", []string{"Course.Read"})

	req := httptest.NewRequest("PUT", "/api/v1/authz/roles/instructor/permissions/Course.Update", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("assign: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	perms, err := s.GetRolePermissions(context.Background(), "instructor")
	if err != nil {
		t.Fatal(err)
	}
	if len(perms) != 2 {
		t.Errorf("expected 2 permissions after assign, got %v", perms)
	}

	req = httptest.NewRequest("DELETE", "/api/v1/authz/roles/instructor/permissions/Course.Read", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("revoke: expected 204, got %d", rec.Code)
	}

	perms, err = s.GetRolePermissions(context.Background(), "instructor")
	if err != nil {
		t.Fatal(err)
	}
	if len(perms) != 1 || perms[0] != "Course.Update" {
		t.Errorf("expected only Course.Update after revoke, got %v", perms)
	}
}

func TestUserAuthDataRoundTrip(t *testing.T) {
	srv, s := newTestServer(t)
	seedRole(t, s, "student", []string{"Course.Read", "Lesson.Read"})

	req := httptest.NewRequest("PUT", "/api/v1/authz/users/u-42/roles/student", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("assign role: expected 204, got %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/authz/users/u-42", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var data store.UserAuthData
	if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Roles) != 1 || data.Roles[0] != "student" {
		t.Errorf("expected role student, got %v", data.Roles)
	}
	if len(data.Permissions) != 2 {
		t.Errorf("expected 2 permissions, got %v", data.Permissions)
	}
}

func TestGetUnknownUserNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/authz/users/nobody", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", rec.Code)
	}
}

func TestProtectorWrapsMutations(t *testing.T) {
	s := store.NewMemoryStore(nil, nil)
	blocked := 0
	srv := NewServer(s, protectorFunc(func(operation string, next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			blocked++
			w.WriteHeader(http.StatusForbidden)
		})
	}), nil)

	req := httptest.NewRequest("POST", "/api/v1/authz/roles", bytes.NewBufferString(`{"name":"x"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected protector to block, got %d", rec.Code)
	}

	// Read routes stay open for the cache fetch path
	req = httptest.NewRequest("GET", "/api/v1/authz/users/nobody", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected read route to bypass protector, got %d", rec.Code)
	}
	if blocked != 1 {
		t.Errorf("expected exactly one blocked call, got %d", blocked)
	}
}

type protectorFunc func(operation string, next http.Handler) http.Handler

func (f protectorFunc) Protect(operation string, next http.Handler) http.Handler {
	return f(operation, next)
}

func TestClientFetchesThroughServer(t *testing.T) {
	srv, s := newTestServer(t)
	seedRole(t, s, "support", []string{"User.Read", "Enrollment.Read"})
	if err := s.AssignRoleToUser(context.Background(), "u-7", "support"); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := NewClient(ts.URL, nil)

	perms, err := client.FetchRolePermissions(context.Background(), "support")
	if err != nil {
		t.Fatalf("FetchRolePermissions failed: %v", err)
	}
	if len(perms) != 2 {
		t.Errorf("expected 2 permissions, got %v", perms)
	}

	data, err := client.FetchUserAuthData(context.Background(), "u-7")
	if err != nil {
		t.Fatalf("FetchUserAuthData failed: %v", err)
	}
	if !data.HasRole("support") {
		t.Errorf("expected user to hold support role, got %v", data.Roles)
	}
}

func TestClientMapsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := NewClient(ts.URL, nil)

	if _, err := client.FetchRolePermissions(context.Background(), "ghost"); !errors.Is(err, store.ErrRoleNotFound) {
		t.Errorf("expected ErrRoleNotFound, got %v", err)
	}
	if _, err := client.FetchUserAuthData(context.Background(), "nobody"); !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestClientReportsServerErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, nil)
	if _, err := client.FetchUserAuthData(context.Background(), "u-1"); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
