package schema

import (
	"fmt"
	"strings"
)

// Diff computes the plan that moves observed to t. It is pure: the same inputs always
// produce the same plan.
func Diff(t *Table, observed *Observed) *Plan {
	if observed == nil {
		observed = &Observed{}
	}
	plan := &Plan{Table: t.String()}
	qn := t.QualifiedName()

	// A table created here has no rows; every domain, key and column is
	// then handled by the later phases exactly as for an existing table.
	if !observed.Exists {
		plan.Add(Step{
			Phase:       PhaseSchema,
			Description: fmt.Sprintf("create table %s", t),
			SQL:         createTableSQL(t),
		})
	}

	for _, d := range t.Domains {
		if !observed.Exists || !observed.HasColumn(d.Column) {
			continue
		}
		count := observed.Violations[d.Column]
		plan.Violations = append(plan.Violations, Violation{
			Table:   t.String(),
			Column:  d.Column,
			Count:   count,
			Default: d.Default,
		})
		if count == 0 {
			continue
		}
		plan.Add(Step{
			Phase:       PhaseSanitize,
			Description: fmt.Sprintf("rewrite %s values outside domain to %q", d.Column, d.Default),
			SQL: fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s IS NULL OR NOT (%s = ANY($2))",
				qn, ident(d.Column), ident(d.Column), ident(d.Column)),
			Args:   []any{d.Default, append([]string(nil), d.Values...)},
			Column: d.Column,
		})
	}

	for _, c := range backfilled(t, observed) {
		if !observed.Nullable[c.Name] {
			continue
		}
		plan.Add(Step{
			Phase:       PhaseSanitize,
			Description: fmt.Sprintf("fill null %s with %s", c.Name, c.Default),
			SQL:         fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", qn, ident(c.Name), c.Default, ident(c.Name)),
			Column:      c.Name,
		})
	}

	if observed.Exists {
		for _, c := range t.Columns {
			if observed.HasColumn(c.Name) {
				continue
			}
			plan.Add(Step{
				Phase:       PhaseEvolve,
				Description: fmt.Sprintf("add column %s", c.Name),
				SQL:         fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s", qn, columnDef(c)),
			})
		}
	}

	for _, u := range t.Uniques {
		if observed.HasConstraint(u.Name) {
			continue
		}
		plan.Add(Step{
			Phase:       PhaseConstrain,
			Description: fmt.Sprintf("add unique key %s", u.Name),
			SQL:         fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)", qn, ident(u.Name), identList(u.Columns)),
		})
	}

	for _, d := range t.Domains {
		name := t.DomainConstraintName(d.Column)
		col := ident(d.Column)
		plan.Add(
			Step{
				Phase:       PhaseConstrain,
				Description: fmt.Sprintf("drop domain constraint %s", name),
				SQL:         fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", qn, ident(name)),
			},
			Step{
				Phase:       PhaseConstrain,
				Description: fmt.Sprintf("add domain constraint %s", name),
				SQL: fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s IN (%s))",
					qn, ident(name), col, literalList(d.Values)),
			},
			Step{
				Phase:       PhaseConstrain,
				Description: fmt.Sprintf("set %s default %q and not null", d.Column, d.Default),
				SQL: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s, ALTER COLUMN %s SET NOT NULL",
					qn, col, QuoteLiteral(d.Default), col),
			},
		)
	}

	for _, c := range backfilled(t, observed) {
		col := ident(c.Name)
		plan.Add(Step{
			Phase:       PhaseConstrain,
			Description: fmt.Sprintf("set %s default %s and not null", c.Name, c.Default),
			SQL: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s, ALTER COLUMN %s SET NOT NULL",
				qn, col, c.Default, col),
		})
	}

	for _, f := range t.Functions {
		plan.Add(Step{
			Phase:       PhaseFunctions,
			Description: fmt.Sprintf("replace function %s", f.Name),
			SQL:         f.Definition,
		})
	}

	if t.RLS && !observed.RLSEnabled {
		plan.Add(Step{
			Phase:       PhaseAccess,
			Description: fmt.Sprintf("enable row level security on %s", t),
			SQL:         fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", qn),
		})
	}

	desired := make(map[string]bool, len(t.Policies))
	for _, p := range t.Policies {
		desired[p.Name] = true
	}
	for _, name := range observed.Policies {
		if desired[name] {
			continue
		}
		plan.Add(Step{
			Phase:       PhaseAccess,
			Description: fmt.Sprintf("drop unmanaged policy %q", name),
			SQL:         fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", ident(name), qn),
		})
	}
	for _, p := range t.Policies {
		plan.Add(
			Step{
				Phase:       PhaseAccess,
				Description: fmt.Sprintf("drop policy %q", p.Name),
				SQL:         fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", ident(p.Name), qn),
			},
			Step{
				Phase:       PhaseAccess,
				Description: fmt.Sprintf("create policy %q", p.Name),
				SQL:         createPolicySQL(t, p),
			},
		)
	}

	if t.AppRole != "" && len(t.Grants) > 0 {
		plan.Add(Step{
			Phase:       PhaseAccess,
			Description: fmt.Sprintf("grant %s on %s to %s", strings.Join(t.Grants, ", "), t, t.AppRole),
			SQL:         fmt.Sprintf("GRANT %s ON %s TO %s", strings.Join(t.Grants, ", "), qn, ident(t.AppRole)),
		})
	}

	for _, idx := range t.Indexes {
		if observed.HasIndex(idx.Name) {
			continue
		}
		plan.Add(Step{
			Phase:       PhaseIndexes,
			Description: fmt.Sprintf("create index %s", idx.Name),
			SQL: fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				ident(idx.Name), qn, identList(idx.Columns)),
		})
	}

	for _, tr := range t.Triggers {
		plan.Add(
			Step{
				Phase:       PhaseHooks,
				Description: fmt.Sprintf("drop trigger %s", tr.Name),
				SQL:         fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", ident(tr.Name), tr.On),
			},
			Step{
				Phase:       PhaseHooks,
				Description: fmt.Sprintf("create trigger %s", tr.Name),
				SQL: fmt.Sprintf("CREATE TRIGGER %s %s ON %s FOR EACH ROW EXECUTE FUNCTION %s()",
					ident(tr.Name), tr.Timing, tr.On, tr.Function),
			},
		)
	}

	plan.Sort()
	return plan
}

// backfilled returns the existing non-domain columns declared NOT NULL with a
// default whose live definition is nullable or lacks a default. Key and
// reference columns are excluded: their defaults depend on the caller.
func backfilled(t *Table, observed *Observed) []Column {
	if !observed.Exists {
		return nil
	}
	var out []Column
	for _, c := range t.Columns {
		if !c.NotNull || c.Default == "" || c.PrimaryKey || c.References != "" || t.IsDomainColumn(c.Name) {
			continue
		}
		if !observed.HasColumn(c.Name) {
			continue
		}
		if observed.Nullable[c.Name] || (observed.Defaulted != nil && !observed.Defaulted[c.Name]) {
			out = append(out, c)
		}
	}
	return out
}

// createTableSQL renders CREATE TABLE with every declared column. Domain
// constraints and unique keys are left to PhaseConstrain.
func createTableSQL(t *Table) string {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		defs = append(defs, "    "+columnDef(c))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", t.QualifiedName(), strings.Join(defs, ",\n"))
}

// columnDef renders a column definition usable in CREATE TABLE and ADD COLUMN.
func columnDef(c Column) string {
	var b strings.Builder
	b.WriteString(ident(c.Name))
	b.WriteString(" ")
	b.WriteString(c.Type)
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	if c.NotNull && !c.PrimaryKey {
		b.WriteString(" NOT NULL")
	}
	if c.References != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(c.References)
	}
	return b.String()
}

// createPolicySQL renders CREATE POLICY for p on t.
func createPolicySQL(t *Table, p Policy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE POLICY %s ON %s FOR %s", ident(p.Name), t.QualifiedName(), p.Command)
	if t.AppRole != "" {
		fmt.Fprintf(&b, " TO %s", ident(t.AppRole))
	}
	if p.Using != "" {
		fmt.Fprintf(&b, " USING (%s)", p.Using)
	}
	if p.Check != "" {
		fmt.Fprintf(&b, " WITH CHECK (%s)", p.Check)
	}
	return b.String()
}
