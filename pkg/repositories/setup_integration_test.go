//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/config"
	"github.com/ekaya-inc/crm-reconciler/pkg/database"
	"github.com/ekaya-inc/crm-reconciler/pkg/reconcile"
	"github.com/ekaya-inc/crm-reconciler/pkg/testhelpers"
)

const testAdminEmail = "admin@example.com"

// setupStores resets the test database and reconciles both stores.
func setupStores(t *testing.T) *testhelpers.TestDB {
	return setupStoresAfter(t, nil)
}

// setupStoresAfter resets the test database, runs seed against it and then
// reconciles both stores over whatever seed left behind.
func setupStoresAfter(t *testing.T, seed func(testDB *testhelpers.TestDB)) *testhelpers.TestDB {
	t.Helper()

	testDB := testhelpers.GetTestDB(t)
	testDB.Reset(t)
	if seed != nil {
		seed(testDB)
	}

	cfg := &config.Config{
		Identity: testhelpers.DefaultIdentityConfig(),
		Roles:    config.RolesConfig{AdminEmails: []string{testAdminEmail}},
	}
	runner := reconcile.NewRunner(testDB.DB, reconcile.Stores(cfg), reconcile.NewNotifier(nil, zap.NewNop()), zap.NewNop())
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("failed to reconcile stores: %v", err)
	}
	return testDB
}

// asIdentity returns a context carrying an identity-scoped connection.
func asIdentity(t *testing.T, testDB *testhelpers.TestDB, id uuid.UUID) context.Context {
	t.Helper()

	scope, err := testDB.DB.WithIdentity(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to create identity scope: %v", err)
	}
	t.Cleanup(scope.Close)
	return database.SetIdentityScope(context.Background(), scope)
}
