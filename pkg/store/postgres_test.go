package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/campushq/permit/pkg/catalog"
	"github.com/campushq/permit/pkg/events"
)

func setupSQLStore(t *testing.T, notifier events.Notifier) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	return NewSQLStore(db, notifier, nil)
}

func TestSQLStoreMigrateIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	for i := 0; i < 2; i++ {
		if err := Migrate(context.Background(), db); err != nil {
			t.Fatalf("migration run %d failed: %v", i+1, err)
		}
	}
}

func TestSQLStoreRoleLifecycle(t *testing.T) {
	bus := events.NewBus(nil)
	captured := collectEvents(t, bus)
	s := setupSQLStore(t, bus)
	ctx := context.Background()

	role := &Role{Name: "instructor", Description: "teaches courses", Permissions: []string{"Course.Read", "Course.Update"}}
	if err := s.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	if role.Version != 1 {
		t.Errorf("expected version 1, got %d", role.Version)
	}

	got, err := s.GetRole(ctx, "instructor")
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "teaches courses" || len(got.Permissions) != 2 {
		t.Errorf("unexpected role record: %+v", got)
	}

	if err := s.AssignPermission(ctx, "instructor", catalog.MustParse("Course.Grade")); err != nil {
		t.Fatalf("AssignPermission failed: %v", err)
	}
	if err := s.RevokePermission(ctx, "instructor", catalog.MustParse("Course.Update")); err != nil {
		t.Fatalf("RevokePermission failed: %v", err)
	}

	perms, err := s.GetRolePermissions(ctx, "instructor")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Course.Grade", "Course.Read"}
	if len(perms) != 2 || perms[0] != want[0] || perms[1] != want[1] {
		t.Errorf("expected %v, got %v", want, perms)
	}

	if len(*captured) != 2 {
		t.Fatalf("expected 2 events, got %d", len(*captured))
	}
	if (*captured)[0].Sequence != 2 || (*captured)[1].Sequence != 3 {
		t.Errorf("expected sequences 2 and 3, got %d and %d", (*captured)[0].Sequence, (*captured)[1].Sequence)
	}
	if len((*captured)[1].Permissions) != 2 {
		t.Errorf("events must carry the full resulting set, got %v", (*captured)[1].Permissions)
	}
}

func TestSQLStoreAssignIsIdempotent(t *testing.T) {
	s := setupSQLStore(t, nil)
	ctx := context.Background()

	if err := s.CreateRole(ctx, &Role{Name: "support", Permissions: []string{"User.Read"}}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := s.AssignPermission(ctx, "support", catalog.MustParse("User.Read")); err != nil {
			t.Fatalf("assign %d failed: %v", i+1, err)
		}
	}

	perms, err := s.GetRolePermissions(ctx, "support")
	if err != nil {
		t.Fatal(err)
	}
	if len(perms) != 1 {
		t.Errorf("repeated assigns must not duplicate, got %v", perms)
	}
	// Version still advances per committed mutation
	role, err := s.GetRole(ctx, "support")
	if err != nil {
		t.Fatal(err)
	}
	if role.Version != 4 {
		t.Errorf("expected version 4 after 3 assigns, got %d", role.Version)
	}
}

func TestSQLStoreUnknownRole(t *testing.T) {
	s := setupSQLStore(t, nil)
	ctx := context.Background()

	if _, err := s.GetRolePermissions(ctx, "ghost"); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("expected ErrRoleNotFound, got %v", err)
	}
	if err := s.AssignPermission(ctx, "ghost", catalog.MustParse("Course.Read")); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("expected ErrRoleNotFound, got %v", err)
	}
	if err := s.DeleteRole(ctx, "ghost"); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("expected ErrRoleNotFound, got %v", err)
	}
}

func TestSQLStoreUserAuthData(t *testing.T) {
	s := setupSQLStore(t, nil)
	ctx := context.Background()

	if _, err := s.GetUserAuthData(ctx, "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user must be ErrUserNotFound, got %v", err)
	}

	if err := s.CreateRole(ctx, &Role{Name: "student", Permissions: []string{"Course.Read", "Lesson.Read"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.AssignRoleToUser(ctx, "u-1", "student"); err != nil {
		t.Fatal(err)
	}
	if err := s.GrantUserPermission(ctx, "u-1", catalog.MustParse("Enrollment.Read")); err != nil {
		t.Fatal(err)
	}

	data, err := s.GetUserAuthData(ctx, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if !data.HasRole("student") {
		t.Errorf("expected student role, got %v", data.Roles)
	}
	want := []string{"Course.Read", "Enrollment.Read", "Lesson.Read"}
	if len(data.Permissions) != len(want) {
		t.Fatalf("expected %v, got %v", want, data.Permissions)
	}

	// Revoking the role keeps the subject known with only direct grants
	if err := s.RevokeRoleFromUser(ctx, "u-1", "student"); err != nil {
		t.Fatal(err)
	}
	data, err = s.GetUserAuthData(ctx, "u-1")
	if err != nil {
		t.Fatalf("known user must survive role revocation: %v", err)
	}
	if len(data.Roles) != 0 || len(data.Permissions) != 1 {
		t.Errorf("expected only the direct grant, got %+v", data)
	}
}

func TestSQLStoreDeleteRoleCascades(t *testing.T) {
	bus := events.NewBus(nil)
	captured := collectEvents(t, bus)
	s := setupSQLStore(t, bus)
	ctx := context.Background()

	if err := s.CreateRole(ctx, &Role{Name: "grader", Permissions: []string{"Course.Grade"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.AssignRoleToUser(ctx, "u-5", "grader"); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteRole(ctx, "grader"); err != nil {
		t.Fatalf("DeleteRole failed: %v", err)
	}

	data, err := s.GetUserAuthData(ctx, "u-5")
	if err != nil {
		t.Fatal(err)
	}
	if len(data.Roles) != 0 {
		t.Errorf("expected assignment removed with the role, got %v", data.Roles)
	}

	last := (*captured)[len(*captured)-1]
	if last.RoleName != "grader" || len(last.Permissions) != 0 {
		t.Errorf("delete must publish an empty set, got %+v", last)
	}
}

func TestSeedBuiltInRoles(t *testing.T) {
	s := setupSQLStore(t, nil)
	ctx := context.Background()

	if err := SeedBuiltInRoles(ctx, s); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	// Second run must tolerate the existing roles
	if err := SeedBuiltInRoles(ctx, s); err != nil {
		t.Fatalf("second seed failed: %v", err)
	}

	for _, def := range catalog.BuiltInRoles() {
		perms, err := s.GetRolePermissions(ctx, def.Name)
		if err != nil {
			t.Errorf("built-in role %s missing: %v", def.Name, err)
			continue
		}
		if len(perms) != len(def.Permissions) {
			t.Errorf("role %s: expected %d permissions, got %d", def.Name, len(def.Permissions), len(perms))
		}
	}
}
