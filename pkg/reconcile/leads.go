package reconcile

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/crm-reconciler/pkg/config"
	"github.com/ekaya-inc/crm-reconciler/pkg/models"
	"github.com/ekaya-inc/crm-reconciler/pkg/schema"
)

// Lead store object names.
const (
	LeadsTable = "leads"

	PolicyViewOwnLeads   = "Users can view own leads"
	PolicyInsertOwnLeads = "Users can insert own leads"
	PolicyUpdateOwnLeads = "Users can update own leads"
	PolicyDeleteOwnLeads = "Users can delete own leads"
)

// LeadStore returns the desired state of the lead store.
// Every policy is scoped to the owner; holding the admin role grants nothing here.
func LeadStore(identity config.IdentityConfig) *Store {
	return &Store{
		Name:   "lead",
		Tables: []*schema.Table{leadsTable(identity)},
	}
}

func leadsTable(identity config.IdentityConfig) *schema.Table {
	identityTable := pgx.Identifier{identity.Schema, identity.Table}.Sanitize()
	// The operator expression is parenthesized so its own operators cannot rebind the comparison.
	owned := fmt.Sprintf("owner_id = (%s)", identity.UIDFunction)

	return &schema.Table{
		Schema: "public",
		Name:   LeadsTable,
		Columns: []schema.Column{
			{Name: "id", Type: "uuid", Default: "gen_random_uuid()", PrimaryKey: true},
			{Name: "owner_id", Type: "uuid", Default: "(" + identity.UIDFunction + ")", NotNull: true,
				References: identityTable + " (id) ON DELETE CASCADE"},
			textColumn("name"),
			textColumn("company"),
			textColumn("email"),
			textColumn("phone"),
			textColumn("notes"),
			{Name: "status", Type: "text", Default: schema.QuoteLiteral(models.LeadStatusProspect), NotNull: true},
			{Name: "created_at", Type: "timestamptz", Default: "now()", NotNull: true},
			{Name: "updated_at", Type: "timestamptz", Default: "now()", NotNull: true},

			// Added after the first release.
			{Name: "call_status", Type: "text", Default: schema.QuoteLiteral(models.CallStatusNotCalled), NotNull: true},
			textColumn("industry"),
			textColumn("website"),
			textColumn("revenue"),
			textColumn("decision_maker"),
			textColumn("phone_owner"),
			textColumn("disposition"),
			{Name: "scheduled_call_at", Type: "timestamptz"},
		},
		Domains: []schema.Domain{
			{Column: "status", Values: models.LeadStatuses, Default: models.LeadStatusProspect},
			{Column: "call_status", Values: models.CallStatuses, Default: models.CallStatusNotCalled},
		},
		RLS: true,
		Policies: []schema.Policy{
			{Name: PolicyViewOwnLeads, Command: schema.CommandSelect, Using: owned},
			{Name: PolicyInsertOwnLeads, Command: schema.CommandInsert, Check: owned},
			{Name: PolicyUpdateOwnLeads, Command: schema.CommandUpdate, Using: owned, Check: owned},
			{Name: PolicyDeleteOwnLeads, Command: schema.CommandDelete, Using: owned},
		},
		AppRole: identity.AppRole,
		Grants:  []string{"SELECT", "INSERT", "UPDATE", "DELETE"},
		Indexes: []schema.Index{
			{Name: "idx_leads_owner_id", Columns: []string{"owner_id"}},
			{Name: "idx_leads_status", Columns: []string{"status"}},
			{Name: "idx_leads_call_status", Columns: []string{"call_status"}},
			{Name: "idx_leads_industry", Columns: []string{"industry"}},
			{Name: "idx_leads_created_at", Columns: []string{"created_at"}},
		},
	}
}

// textColumn is a free-text attribute that is never null.
func textColumn(name string) schema.Column {
	return schema.Column{Name: name, Type: "text", Default: "''", NotNull: true}
}
