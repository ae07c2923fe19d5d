//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestTestDB_IdentityBootstrap(t *testing.T) {
	testDB := GetTestDB(t)
	ctx := context.Background()

	var exists bool
	err := testDB.DB.QueryRow(ctx, "SELECT to_regclass('auth.users') IS NOT NULL").Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check identity table: %v", err)
	}
	if !exists {
		t.Error("expected auth.users to exist after bootstrap")
	}

	var roleExists bool
	err = testDB.DB.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'authenticated')").Scan(&roleExists)
	if err != nil {
		t.Fatalf("failed to check app role: %v", err)
	}
	if !roleExists {
		t.Error("expected role authenticated to exist after bootstrap")
	}
}

func TestTestDB_UIDReadsSessionSetting(t *testing.T) {
	testDB := GetTestDB(t)
	testDB.Reset(t)
	ctx := context.Background()

	id := testDB.CreateIdentity(t, "uid@example.com")

	conn, err := testDB.DB.Acquire(ctx)
	if err != nil {
		t.Fatalf("failed to acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT set_config('app.current_user_id', $1, false)", id); err != nil {
		t.Fatalf("failed to set identity: %v", err)
	}
	defer func() { _, _ = conn.Exec(ctx, "RESET app.current_user_id") }()

	var uid string
	if err := conn.QueryRow(ctx, "SELECT auth.uid()::text").Scan(&uid); err != nil {
		t.Fatalf("failed to read auth.uid(): %v", err)
	}
	if uid != id {
		t.Errorf("expected auth.uid() = %s, got %s", id, uid)
	}
}
