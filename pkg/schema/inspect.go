package schema

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/crm-reconciler/pkg/database"
)

// Observed is the catalog state of one table.
type Observed struct {
	Exists      bool
	RLSEnabled  bool
	Columns     map[string]bool
	// Nullable and Defaulted describe the live column definitions.
	Nullable    map[string]bool
	Defaulted   map[string]bool
	Constraints map[string]bool
	Indexes     map[string]bool
	// Policies are sorted by name.
	Policies []string
	// Violations counts rows per domain column that are null or out of domain.
	Violations map[string]int64
}

// HasColumn reports whether the live table has the column.
func (o *Observed) HasColumn(name string) bool { return o.Columns[name] }

// HasConstraint reports whether the live table has a constraint with this name.
func (o *Observed) HasConstraint(name string) bool { return o.Constraints[name] }

// HasIndex reports whether the live table has an index with this name.
func (o *Observed) HasIndex(name string) bool { return o.Indexes[name] }

// HasPolicy reports whether the live table has a policy with this name.
func (o *Observed) HasPolicy(name string) bool {
	i := sort.SearchStrings(o.Policies, name)
	return i < len(o.Policies) && o.Policies[i] == name
}

// Inspect reads the observed state of t and counts domain violations.
func Inspect(ctx context.Context, q database.Querier, t *Table) (*Observed, error) {
	obs := &Observed{
		Columns:     map[string]bool{},
		Nullable:    map[string]bool{},
		Defaulted:   map[string]bool{},
		Constraints: map[string]bool{},
		Indexes:     map[string]bool{},
		Violations:  map[string]int64{},
	}
	qn := t.QualifiedName()

	if err := q.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, qn).Scan(&obs.Exists); err != nil {
		return nil, fmt.Errorf("failed to check table %s: %w", t, err)
	}
	if !obs.Exists {
		return obs, nil
	}

	if err := q.QueryRow(ctx,
		`SELECT relrowsecurity FROM pg_class WHERE oid = to_regclass($1)`, qn,
	).Scan(&obs.RLSEnabled); err != nil {
		return nil, fmt.Errorf("failed to read row security flag for %s: %w", t, err)
	}

	if err := inspectColumns(ctx, q, t, obs); err != nil {
		return nil, err
	}

	constraints, err := queryNames(ctx, q,
		`SELECT conname FROM pg_constraint WHERE conrelid = to_regclass($1)`, qn)
	if err != nil {
		return nil, fmt.Errorf("failed to list constraints of %s: %w", t, err)
	}
	for _, c := range constraints {
		obs.Constraints[c] = true
	}

	indexes, err := queryNames(ctx, q,
		`SELECT indexname FROM pg_indexes WHERE schemaname = $1 AND tablename = $2`, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes of %s: %w", t, err)
	}
	for _, i := range indexes {
		obs.Indexes[i] = true
	}

	obs.Policies, err = queryNames(ctx, q, `
		SELECT policyname FROM pg_policies
		WHERE schemaname = $1 AND tablename = $2
		ORDER BY policyname`, t.Schema, t.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies of %s: %w", t, err)
	}
	sort.Strings(obs.Policies)

	for _, d := range t.Domains {
		if !obs.Columns[d.Column] {
			continue
		}
		count, err := CountViolations(ctx, q, t, d)
		if err != nil {
			return nil, err
		}
		obs.Violations[d.Column] = count
	}

	return obs, nil
}

func inspectColumns(ctx context.Context, q database.Querier, t *Table, obs *Observed) error {
	rows, err := q.Query(ctx, `
		SELECT column_name, is_nullable = 'YES', column_default IS NOT NULL
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2`, t.Schema, t.Name)
	if err != nil {
		return fmt.Errorf("failed to list columns of %s: %w", t, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var nullable, defaulted bool
		if err := rows.Scan(&name, &nullable, &defaulted); err != nil {
			return fmt.Errorf("failed to scan column of %s: %w", t, err)
		}
		obs.Columns[name] = true
		obs.Nullable[name] = nullable
		obs.Defaulted[name] = defaulted
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list columns of %s: %w", t, err)
	}
	return nil
}

// CountViolations counts rows whose domain column is null or outside the domain.
func CountViolations(ctx context.Context, q database.Querier, t *Table, d Domain) (int64, error) {
	col := ident(d.Column)
	sql := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s IS NULL OR NOT (%s = ANY($1))`, t.QualifiedName(), col, col)

	var count int64
	if err := q.QueryRow(ctx, sql, d.Values).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s violations in %s: %w", d.Column, t, err)
	}
	return count, nil
}

// Lock takes a SHARE ROW EXCLUSIVE lock on t when it exists, blocking concurrent
// writers (readers proceed) until the surrounding transaction ends. Counting and
// repair then see every row that constraint installation will validate.
func Lock(ctx context.Context, q database.Querier, t *Table) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, t.QualifiedName()).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check table %s: %w", t, err)
	}
	if !exists {
		return nil
	}
	if _, err := q.Exec(ctx, fmt.Sprintf("LOCK TABLE %s IN SHARE ROW EXCLUSIVE MODE", t.QualifiedName())); err != nil {
		return fmt.Errorf("failed to lock %s: %w", t, err)
	}
	return nil
}

func queryNames(ctx context.Context, q database.Querier, sql string, args ...any) ([]string, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
