package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable() *Table {
	return &Table{
		Schema: "public",
		Name:   "leads",
		Columns: []Column{
			{Name: "id", Type: "uuid", Default: "gen_random_uuid()", PrimaryKey: true},
			{Name: "status", Type: "text", Default: "'prospect'"},
			{Name: "call_status", Type: "text", Default: "'not_called'", NotNull: true},
		},
		Domains: []Domain{
			{Column: "status", Values: []string{"prospect", "qualified"}, Default: "prospect"},
			{Column: "call_status", Values: []string{"not_called", "answered"}, Default: "not_called"},
		},
		Uniques:  []Unique{{Name: "leads_email_key", Columns: []string{"status"}}},
		RLS:      true,
		Policies: []Policy{{Name: "Users can view own leads", Command: CommandSelect, Using: "owner_id = auth.uid()"}},
		AppRole:  "authenticated",
		Grants:   []string{"SELECT"},
		Indexes:  []Index{{Name: "idx_leads_status", Columns: []string{"status"}}},
	}
}

func observedFor(t *Table) *Observed {
	obs := &Observed{
		Exists:      true,
		RLSEnabled:  true,
		Columns:     map[string]bool{},
		Constraints: map[string]bool{},
		Indexes:     map[string]bool{},
		Violations:  map[string]int64{},
	}
	for _, c := range t.Columns {
		obs.Columns[c.Name] = true
	}
	for _, u := range t.Uniques {
		obs.Constraints[u.Name] = true
	}
	for _, i := range t.Indexes {
		obs.Indexes[i.Name] = true
	}
	obs.Policies = t.PolicyNames()
	return obs
}

func assertPhaseOrder(t *testing.T, plan *Plan) {
	t.Helper()
	for i := 1; i < len(plan.Steps); i++ {
		assert.LessOrEqual(t, plan.Steps[i-1].Phase, plan.Steps[i].Phase,
			"step %d (%s) runs before step %d (%s)", i-1, plan.Steps[i-1].Phase, i, plan.Steps[i].Phase)
	}
}

func TestDiff_AbsentTableIsCreatedWithEveryColumn(t *testing.T) {
	table := testTable()
	plan := Diff(table, &Observed{})

	schemaSteps := plan.StepsIn(PhaseSchema)
	require.Len(t, schemaSteps, 1)
	assert.Contains(t, schemaSteps[0].SQL, `CREATE TABLE IF NOT EXISTS "public"."leads"`)
	assert.Contains(t, schemaSteps[0].SQL, `"call_status" text DEFAULT 'not_called' NOT NULL`)
	assert.Contains(t, schemaSteps[0].SQL, `"id" uuid PRIMARY KEY DEFAULT gen_random_uuid()`)

	assert.Empty(t, plan.StepsIn(PhaseSanitize), "a new table has nothing to repair")
	assert.Empty(t, plan.StepsIn(PhaseEvolve), "a new table already has every column")
	assert.Empty(t, plan.Violations)
	assert.NotEmpty(t, plan.StepsIn(PhaseConstrain))
	assertPhaseOrder(t, plan)
}

func TestDiff_ViolationsAreReportedAndRepairedBeforeConstraints(t *testing.T) {
	table := testTable()
	obs := observedFor(table)
	obs.Violations["status"] = 3

	plan := Diff(table, obs)

	require.Len(t, plan.Violations, 2)
	assert.Equal(t, int64(3), plan.Violations[0].Count)
	assert.Equal(t, int64(0), plan.Violations[1].Count)
	assert.Equal(t, int64(3), plan.TotalViolations())

	sanitize := plan.StepsIn(PhaseSanitize)
	require.Len(t, sanitize, 1, "only domains with violations are rewritten")
	assert.Equal(t, "status", sanitize[0].Column)
	assert.Equal(t, `UPDATE "public"."leads" SET "status" = $1 WHERE "status" IS NULL OR NOT ("status" = ANY($2))`, sanitize[0].SQL)
	assert.Equal(t, []any{"prospect", []string{"prospect", "qualified"}}, sanitize[0].Args)

	firstConstrain := -1
	lastSanitize := -1
	for i, s := range plan.Steps {
		if s.Phase == PhaseSanitize {
			lastSanitize = i
		}
		if s.Phase == PhaseConstrain && firstConstrain < 0 {
			firstConstrain = i
		}
	}
	assert.Less(t, lastSanitize, firstConstrain)
	assertPhaseOrder(t, plan)
}

func TestDiff_MissingColumnsAreAdded(t *testing.T) {
	table := testTable()
	obs := observedFor(table)
	delete(obs.Columns, "call_status")

	plan := Diff(table, obs)

	evolve := plan.StepsIn(PhaseEvolve)
	require.Len(t, evolve, 1)
	assert.Equal(t, `ALTER TABLE "public"."leads" ADD COLUMN IF NOT EXISTS "call_status" text DEFAULT 'not_called' NOT NULL`, evolve[0].SQL)

	// The absent column has no rows to count.
	require.Len(t, plan.Violations, 1)
	assert.Equal(t, "status", plan.Violations[0].Column)
}

func TestDiff_NullableTextColumnsAreFilledAndConstrained(t *testing.T) {
	table := testTable()
	table.Columns = append(table.Columns,
		Column{Name: "industry", Type: "text", Default: "''", NotNull: true},
		Column{Name: "created_at", Type: "timestamptz", Default: "now()", NotNull: true},
		Column{Name: "owner_id", Type: "uuid", Default: "auth.uid()", NotNull: true, References: `"auth"."users" (id)`},
	)
	obs := observedFor(table)
	obs.Nullable = map[string]bool{"industry": true, "call_status": true, "owner_id": true}
	obs.Defaulted = map[string]bool{"id": true, "status": true, "call_status": true, "industry": true, "owner_id": true}

	plan := Diff(table, obs)

	var fills []Step
	for _, s := range plan.StepsIn(PhaseSanitize) {
		if s.Column == "industry" {
			fills = append(fills, s)
		}
	}
	require.Len(t, fills, 1)
	assert.Equal(t, `UPDATE "public"."leads" SET "industry" = '' WHERE "industry" IS NULL`, fills[0].SQL)

	var constrained []string
	for _, s := range plan.StepsIn(PhaseConstrain) {
		constrained = append(constrained, s.SQL)
	}
	assert.Contains(t, constrained, `ALTER TABLE "public"."leads" ALTER COLUMN "industry" SET DEFAULT '', ALTER COLUMN "industry" SET NOT NULL`)
	assert.Contains(t, constrained, `ALTER TABLE "public"."leads" ALTER COLUMN "created_at" SET DEFAULT now(), ALTER COLUMN "created_at" SET NOT NULL`,
		"a missing default is restored even when the column is already NOT NULL")
	for _, sql := range constrained {
		assert.NotContains(t, sql, `ALTER COLUMN "owner_id"`, "reference columns keep their caller-dependent default")
	}
	assertPhaseOrder(t, plan)
}

func TestDiff_ConformingColumnsNeedNoBackfill(t *testing.T) {
	table := testTable()
	table.Columns = append(table.Columns, Column{Name: "industry", Type: "text", Default: "''", NotNull: true})
	obs := observedFor(table)
	obs.Nullable = map[string]bool{}
	obs.Defaulted = map[string]bool{"industry": true}

	plan := Diff(table, obs)

	for _, s := range plan.Steps {
		assert.NotContains(t, s.SQL, `"industry"`)
	}
}

func TestDiff_DomainConstraintsAreDroppedThenAdded(t *testing.T) {
	table := testTable()
	plan := Diff(table, observedFor(table))

	constrain := plan.StepsIn(PhaseConstrain)
	require.Len(t, constrain, 6)
	assert.Equal(t, `ALTER TABLE "public"."leads" DROP CONSTRAINT IF EXISTS "leads_status_check"`, constrain[0].SQL)
	assert.Equal(t, `ALTER TABLE "public"."leads" ADD CONSTRAINT "leads_status_check" CHECK ("status" IN ('prospect', 'qualified'))`, constrain[1].SQL)
	assert.Equal(t, `ALTER TABLE "public"."leads" ALTER COLUMN "status" SET DEFAULT 'prospect', ALTER COLUMN "status" SET NOT NULL`, constrain[2].SQL)
	assert.Contains(t, constrain[4].SQL, `"leads_call_status_check"`)
}

func TestDiff_MissingUniqueKeyIsAdded(t *testing.T) {
	table := testTable()
	obs := observedFor(table)
	delete(obs.Constraints, "leads_email_key")

	plan := Diff(table, obs)

	constrain := plan.StepsIn(PhaseConstrain)
	require.NotEmpty(t, constrain)
	assert.Equal(t, `ALTER TABLE "public"."leads" ADD CONSTRAINT "leads_email_key" UNIQUE ("status")`, constrain[0].SQL)
}

func TestDiff_PoliciesConvergeToDesiredSet(t *testing.T) {
	table := testTable()
	obs := observedFor(table)
	obs.Policies = []string{"Legacy open access", "Users can view own leads"}

	plan := Diff(table, obs)

	access := plan.StepsIn(PhaseAccess)
	require.Len(t, access, 4)
	assert.Equal(t, `DROP POLICY IF EXISTS "Legacy open access" ON "public"."leads"`, access[0].SQL)
	assert.Equal(t, `DROP POLICY IF EXISTS "Users can view own leads" ON "public"."leads"`, access[1].SQL)
	assert.Equal(t, `CREATE POLICY "Users can view own leads" ON "public"."leads" FOR SELECT TO "authenticated" USING (owner_id = auth.uid())`, access[2].SQL)
	assert.Equal(t, `GRANT SELECT ON "public"."leads" TO "authenticated"`, access[3].SQL)
}

func TestDiff_EnablesRowLevelSecurity(t *testing.T) {
	table := testTable()
	obs := observedFor(table)
	obs.RLSEnabled = false

	plan := Diff(table, obs)

	access := plan.StepsIn(PhaseAccess)
	require.NotEmpty(t, access)
	assert.Equal(t, `ALTER TABLE "public"."leads" ENABLE ROW LEVEL SECURITY`, access[0].SQL)
}

func TestDiff_OnlyMissingIndexesAreCreated(t *testing.T) {
	table := testTable()
	table.Indexes = append(table.Indexes, Index{Name: "idx_leads_call_status", Columns: []string{"call_status"}})

	plan := Diff(table, observedFor(table))
	assert.Empty(t, plan.StepsIn(PhaseIndexes))

	obs := observedFor(table)
	delete(obs.Indexes, "idx_leads_call_status")
	plan = Diff(table, obs)

	indexes := plan.StepsIn(PhaseIndexes)
	require.Len(t, indexes, 1)
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "idx_leads_call_status" ON "public"."leads" ("call_status")`, indexes[0].SQL)
}

func TestDiff_FunctionsAndTriggersAreReplaced(t *testing.T) {
	table := testTable()
	table.Functions = []Function{{Name: "public.crm_noop", Definition: "CREATE OR REPLACE FUNCTION public.crm_noop() RETURNS void LANGUAGE sql AS $$ SELECT $$"}}
	table.Triggers = []Trigger{{Name: "on_identity_created", On: `"auth"."users"`, Timing: "AFTER INSERT", Function: `"public"."crm_noop"`}}

	plan := Diff(table, observedFor(table))

	functions := plan.StepsIn(PhaseFunctions)
	require.Len(t, functions, 1)
	assert.Equal(t, table.Functions[0].Definition, functions[0].SQL)

	hooks := plan.StepsIn(PhaseHooks)
	require.Len(t, hooks, 2)
	assert.Equal(t, `DROP TRIGGER IF EXISTS "on_identity_created" ON "auth"."users"`, hooks[0].SQL)
	assert.Equal(t, `CREATE TRIGGER "on_identity_created" AFTER INSERT ON "auth"."users" FOR EACH ROW EXECUTE FUNCTION "public"."crm_noop"()`, hooks[1].SQL)
	assertPhaseOrder(t, plan)
}

func TestDiff_IsDeterministic(t *testing.T) {
	table := testTable()
	obs := observedFor(table)
	obs.Violations["status"] = 1
	obs.Policies = []string{"a", "b", "Users can view own leads"}

	assert.Equal(t, Diff(table, obs), Diff(table, obs))
}

func TestDiff_NilObservedMeansAbsent(t *testing.T) {
	plan := Diff(testTable(), nil)
	assert.Len(t, plan.StepsIn(PhaseSchema), 1)
}
