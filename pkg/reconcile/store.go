package reconcile

import (
	"context"

	"github.com/ekaya-inc/crm-reconciler/pkg/database"
	"github.com/ekaya-inc/crm-reconciler/pkg/schema"
)

// SyncFunc computes data steps for a table after its schema has been observed.
// Steps are merged into the table's plan and ordered by phase.
type SyncFunc func(ctx context.Context, q database.Querier, t *schema.Table, observed *schema.Observed) ([]schema.Step, error)

// Store is a unit of reconciliation: its tables are reconciled in order inside one transaction.
type Store struct {
	Name   string
	Tables []*schema.Table

	// Sync is keyed by table name.
	Sync map[string]SyncFunc
}

// Table returns the store's table by name.
func (s *Store) Table(name string) *schema.Table {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}
