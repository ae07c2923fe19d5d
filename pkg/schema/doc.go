// Package schema models the desired end state of a managed table as named
// sets (columns, domain constraints, unique keys, policies, indexes, helper
// functions, triggers), reads the observed state from the PostgreSQL catalog,
// and diffs the two into an ordered Plan.
//
// Plans are phase ordered. Data repair (PhaseSanitize) always precedes
// constraint installation (PhaseConstrain); installing a CHECK constraint
// against violating rows fails the whole transaction, so that ordering is
// what makes re-running against legacy data safe.
//
// Re-application converges: missing columns, keys and indexes are added,
// domain constraints, policies and triggers are dropped by name and recreated,
// and observed policies outside the desired set are dropped.
package schema
