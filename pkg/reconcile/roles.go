package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/crm-reconciler/pkg/config"
	"github.com/ekaya-inc/crm-reconciler/pkg/database"
	"github.com/ekaya-inc/crm-reconciler/pkg/models"
	"github.com/ekaya-inc/crm-reconciler/pkg/schema"
)

// Role store object names. Policy names are matched by re-application and must not change.
const (
	RolesTable     = "user_roles"
	AllowListTable = "role_admin_emails"

	PolicyViewOwnRole   = "Users can view own role"
	PolicyInsertOwnRole = "Users can insert own role"
	PolicyAdminsViewAll = "Admins can view all roles"
	PolicyAdminsInsert  = "Admins can insert roles"
	PolicyAdminsUpdate  = "Admins can update roles"
	PolicyAdminsDelete  = "Admins can delete roles"

	IdentityCreatedTrigger = "on_identity_created"

	isAdminFunc           = "crm_is_admin"
	isPrivilegedEmailFunc = "crm_is_privileged_email"
	handleNewIdentityFunc = "crm_handle_new_identity"
)

// RoleStore returns the desired state of the role store: the admin allow-list
// and the role table with its policies and identity-creation hook.
func RoleStore(identity config.IdentityConfig, adminEmails []string) *Store {
	allowList := allowListTable()
	roles := rolesTable(identity)

	return &Store{
		Name:   "role",
		Tables: []*schema.Table{allowList, roles},
		Sync: map[string]SyncFunc{
			AllowListTable: AllowListSync(config.NormalizeEmails(adminEmails)),
		},
	}
}

// allowListTable holds the e-mail addresses that receive the admin role on creation.
// Row security is enabled without policies so only definer functions can read it.
func allowListTable() *schema.Table {
	qn := pgx.Identifier{"public", AllowListTable}.Sanitize()
	return &schema.Table{
		Schema: "public",
		Name:   AllowListTable,
		Columns: []schema.Column{
			{Name: "email", Type: "text", PrimaryKey: true},
		},
		RLS: true,
		Functions: []schema.Function{{
			Name: "public." + isPrivilegedEmailFunc,
			Definition: fmt.Sprintf(`CREATE OR REPLACE FUNCTION public.%s(candidate text)
RETURNS boolean
LANGUAGE sql
STABLE
SECURITY DEFINER
SET search_path = public
AS $$
    SELECT EXISTS (SELECT 1 FROM %s WHERE email = lower(trim(candidate)))
$$`, isPrivilegedEmailFunc, qn),
		}},
	}
}

func rolesTable(identity config.IdentityConfig) *schema.Table {
	qn := pgx.Identifier{"public", RolesTable}.Sanitize()
	identityTable := pgx.Identifier{identity.Schema, identity.Table}.Sanitize()
	uid := identity.UIDFunction
	isAdmin := fmt.Sprintf("public.%s(%s)", isAdminFunc, uid)

	t := &schema.Table{
		Schema: "public",
		Name:   RolesTable,
		Columns: []schema.Column{
			{Name: "id", Type: "uuid", Default: "gen_random_uuid()", PrimaryKey: true},
			{Name: "user_id", Type: "uuid", NotNull: true, References: identityTable + " (id) ON DELETE CASCADE"},
			{Name: "email", Type: "text"},
			{Name: "role", Type: "text", Default: schema.QuoteLiteral(models.DefaultRole), NotNull: true},
			{Name: "created_at", Type: "timestamptz", Default: "now()", NotNull: true},
		},
		Domains: []schema.Domain{
			{Column: "role", Values: models.ValidRoles, Default: models.DefaultRole},
		},
		Uniques: []schema.Unique{
			{Name: "user_roles_user_id_key", Columns: []string{"user_id"}},
			{Name: "user_roles_email_key", Columns: []string{"email"}},
		},
		RLS: true,
		Policies: []schema.Policy{
			{Name: PolicyViewOwnRole, Command: schema.CommandSelect, Using: fmt.Sprintf("user_id = (%s)", uid)},
			{
				Name:    PolicyInsertOwnRole,
				Command: schema.CommandInsert,
				Check: fmt.Sprintf("user_id = (%s) AND (role = %s OR public.%s(email))",
					uid, schema.QuoteLiteral(models.RoleStandard), isPrivilegedEmailFunc),
			},
			{Name: PolicyAdminsViewAll, Command: schema.CommandSelect, Using: isAdmin},
			{Name: PolicyAdminsInsert, Command: schema.CommandInsert, Check: isAdmin},
			{Name: PolicyAdminsUpdate, Command: schema.CommandUpdate, Using: isAdmin, Check: isAdmin},
			{Name: PolicyAdminsDelete, Command: schema.CommandDelete, Using: isAdmin},
		},
		AppRole: identity.AppRole,
		Grants:  []string{"SELECT", "INSERT", "UPDATE", "DELETE"},
		Indexes: []schema.Index{
			{Name: "idx_user_roles_role", Columns: []string{"role"}},
		},
		Functions: []schema.Function{
			{
				// Definer rights bypass row security, so the admin policies can
				// consult this table without re-entering themselves.
				Name: "public." + isAdminFunc,
				Definition: fmt.Sprintf(`CREATE OR REPLACE FUNCTION public.%s(candidate uuid)
RETURNS boolean
LANGUAGE sql
STABLE
SECURITY DEFINER
SET search_path = public
AS $$
    SELECT EXISTS (SELECT 1 FROM %s WHERE user_id = candidate AND role = %s)
$$`, isAdminFunc, qn, schema.QuoteLiteral(models.RoleAdmin)),
			},
			{
				Name: "public." + handleNewIdentityFunc,
				Definition: fmt.Sprintf(`CREATE OR REPLACE FUNCTION public.%s()
RETURNS trigger
LANGUAGE plpgsql
SECURITY DEFINER
SET search_path = public
AS $$
BEGIN
    INSERT INTO %s (user_id, email, role)
    VALUES (
        NEW.id,
        NEW.email,
        CASE WHEN public.%s(NEW.email) THEN %s ELSE %s END
    )
    ON CONFLICT (user_id) DO NOTHING;
    RETURN NEW;
END;
$$`, handleNewIdentityFunc, qn, isPrivilegedEmailFunc,
					schema.QuoteLiteral(models.RoleAdmin), schema.QuoteLiteral(models.RoleStandard)),
			},
		},
	}

	if identity.InstallTrigger {
		t.Triggers = []schema.Trigger{{
			Name:     IdentityCreatedTrigger,
			On:       identityTable,
			Timing:   "AFTER INSERT",
			Function: pgx.Identifier{"public", handleNewIdentityFunc}.Sanitize(),
		}}
	}
	return t
}

// AllowListSync converges the allow-list table to desired: extra addresses are
// deleted and missing ones inserted.
func AllowListSync(desired []string) SyncFunc {
	return func(ctx context.Context, q database.Querier, t *schema.Table, observed *schema.Observed) ([]schema.Step, error) {
		var current []string
		if observed.Exists {
			rows, err := q.Query(ctx, fmt.Sprintf("SELECT email FROM %s ORDER BY email", t.QualifiedName()))
			if err != nil {
				return nil, fmt.Errorf("failed to read admin allow-list: %w", err)
			}
			current, err = pgx.CollectRows(rows, pgx.RowTo[string])
			if err != nil {
				return nil, fmt.Errorf("failed to read admin allow-list: %w", err)
			}
		}
		return allowListSteps(t, current, desired), nil
	}
}

// allowListSteps diffs the stored addresses against the desired ones.
func allowListSteps(t *schema.Table, current, desired []string) []schema.Step {
	have := make(map[string]bool, len(current))
	for _, e := range current {
		have[e] = true
	}
	want := make(map[string]bool, len(desired))
	for _, e := range desired {
		want[e] = true
	}

	var extra, missing []string
	for _, e := range current {
		if !want[e] {
			extra = append(extra, e)
		}
	}
	for _, e := range desired {
		if !have[e] {
			missing = append(missing, e)
		}
	}
	sort.Strings(extra)
	sort.Strings(missing)

	var steps []schema.Step
	if len(extra) > 0 {
		steps = append(steps, schema.Step{
			Phase:       schema.PhaseHooks,
			Description: fmt.Sprintf("remove %d addresses from the admin allow-list", len(extra)),
			SQL:         fmt.Sprintf("DELETE FROM %s WHERE email = ANY($1)", t.QualifiedName()),
			Args:        []any{extra},
		})
	}
	if len(missing) > 0 {
		steps = append(steps, schema.Step{
			Phase:       schema.PhaseHooks,
			Description: fmt.Sprintf("add %d addresses to the admin allow-list", len(missing)),
			SQL:         fmt.Sprintf("INSERT INTO %s (email) SELECT unnest($1::text[]) ON CONFLICT DO NOTHING", t.QualifiedName()),
			Args:        []any{missing},
		})
	}
	return steps
}
