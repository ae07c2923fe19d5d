package schema

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// Column is a declared column. Default is a SQL expression ("" for none).
type Column struct {
	Name       string
	Type       string
	Default    string
	NotNull    bool
	PrimaryKey bool
	// References is the FK target clause, e.g. `"auth"."users" (id) ON DELETE CASCADE`.
	References string
}

// Domain restricts a text column to an enumerated set. Values[0] need not be the default.
type Domain struct {
	Column  string
	Values  []string
	Default string
}

// Contains reports whether v is in the domain.
func (d Domain) Contains(v string) bool {
	for _, s := range d.Values {
		if s == v {
			return true
		}
	}
	return false
}

// Unique is a named unique key.
type Unique struct {
	Name    string
	Columns []string
}

// Policy commands.
const (
	CommandSelect = "SELECT"
	CommandInsert = "INSERT"
	CommandUpdate = "UPDATE"
	CommandDelete = "DELETE"
	CommandAll    = "ALL"
)

// Policy is a named row-level security policy. Using and Check are SQL predicates.
type Policy struct {
	Name    string
	Command string
	Using   string
	Check   string
}

// Index is a named b-tree index.
type Index struct {
	Name    string
	Columns []string
}

// Function is a helper routine replaced with CREATE OR REPLACE on every run.
// Definition is the full CREATE OR REPLACE FUNCTION statement.
type Function struct {
	Name       string
	Definition string
}

// Trigger is a row trigger replaced by drop-then-create on every run.
// On is the already-quoted target table, Function the already-quoted routine name.
type Trigger struct {
	Name     string
	On       string
	Timing   string // e.g. "AFTER INSERT"
	Function string
}

// Table is the desired state of one managed table.
type Table struct {
	Schema string
	Name   string

	Columns []Column
	Domains []Domain
	Uniques []Unique

	RLS      bool
	Policies []Policy
	// AppRole receives Grants on the table and is the policy target role ("" = PUBLIC).
	AppRole string
	Grants  []string

	Indexes   []Index
	Functions []Function
	Triggers  []Trigger
}

// QualifiedName returns the quoted schema-qualified table name.
func (t *Table) QualifiedName() string {
	return pgx.Identifier{t.Schema, t.Name}.Sanitize()
}

// String returns the unquoted schema-qualified name for notices.
func (t *Table) String() string {
	return t.Schema + "." + t.Name
}

// Column returns the declared column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// IsDomainColumn reports whether column carries a domain.
func (t *Table) IsDomainColumn(column string) bool {
	for _, d := range t.Domains {
		if d.Column == column {
			return true
		}
	}
	return false
}

// DomainConstraintName returns the CHECK constraint name for a domain column.
// It matches PostgreSQL's generated name for an inline column CHECK, so legacy
// constraints created inline are replaced instead of duplicated.
func (t *Table) DomainConstraintName(column string) string {
	return t.Name + "_" + column + "_check"
}

// PolicyNames returns the desired policy names.
func (t *Table) PolicyNames() []string {
	names := make([]string, 0, len(t.Policies))
	for _, p := range t.Policies {
		names = append(names, p.Name)
	}
	return names
}

// ident quotes a single identifier.
func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// identList quotes and joins identifiers.
func identList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = ident(n)
	}
	return strings.Join(quoted, ", ")
}

// QuoteLiteral renders s as a SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// literalList renders values as a comma-separated list of string literals.
func literalList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = QuoteLiteral(v)
	}
	return strings.Join(quoted, ", ")
}
