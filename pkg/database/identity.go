package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdentityGUC is the session setting the identity uid function reads.
const IdentityGUC = "app.current_user_id"

// IdentityScope wraps a connection acting on behalf of one identity.
// The connection has app.current_user_id set (and the app role assumed) so
// row-level security policies evaluate against that identity.
type IdentityScope struct {
	Conn       *pgxpool.Conn
	IdentityID uuid.UUID

	switchedRole bool
}

// Close resets identity context and releases connection to pool.
// This MUST be called to prevent identity context from leaking to the next request.
func (s *IdentityScope) Close() {
	if s.Conn == nil {
		return
	}
	ctx := context.Background()
	if s.switchedRole {
		_, _ = s.Conn.Exec(ctx, "RESET ROLE")
	}
	_, _ = s.Conn.Exec(ctx, "RESET "+IdentityGUC)
	s.Conn.Release()
}

// WithIdentity acquires a connection, sets the caller identity for RLS and assumes the app role.
// The returned IdentityScope MUST be closed with defer scope.Close().
func (db *DB) WithIdentity(ctx context.Context, identityID uuid.UUID) (*IdentityScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('"+IdentityGUC+"', $1, false)", identityID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	scope := &IdentityScope{Conn: conn, IdentityID: identityID}
	if db.appRole != "" {
		if _, err := conn.Exec(ctx, "SET ROLE "+pgx.Identifier{db.appRole}.Sanitize()); err != nil {
			_, _ = conn.Exec(ctx, "RESET "+IdentityGUC)
			conn.Release()
			return nil, err
		}
		scope.switchedRole = true
	}

	return scope, nil
}
