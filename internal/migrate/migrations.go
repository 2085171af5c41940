package migrate

// Migration is one versioned schema change. Up and Down are plain SQL
// scripts; Down is stored and checksummed for the audit trail but never
// executed (see Migrator.Rollback). Scripts may hold multiple statements
// and must not contain BEGIN/COMMIT; the engine wraps each migration in
// its own transaction.
type Migration struct {
	ID   string
	Name string
	Up   string
	Down string
}

// All returns the known migrations in declaration order. Order is the
// application order; never reorder or edit an entry that has shipped,
// append a new one instead (editing trips the checksum drift check).
func All() []Migration {
	return []Migration{
		{
			ID:   "001_initial_schema",
			Name: "create users, sessions and audit_logs tables",
			Up: `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    name TEXT NOT NULL,
    picture TEXT,
    verified_email BOOLEAN NOT NULL DEFAULT FALSE,
    last_login_at TIMESTAMPTZ,
    status TEXT NOT NULL DEFAULT 'active',
    role TEXT NOT NULL DEFAULT 'USER',
    provider TEXT NOT NULL DEFAULT 'email',
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (email);
CREATE INDEX IF NOT EXISTS users_status_idx ON users (status);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users (id),
    token_hash TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    ip_address TEXT,
    user_agent TEXT,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS sessions_token_hash_key ON sessions (token_hash);
CREATE INDEX IF NOT EXISTS sessions_user_id_idx ON sessions (user_id);
CREATE INDEX IF NOT EXISTS sessions_expires_at_idx ON sessions (expires_at);

CREATE TABLE IF NOT EXISTS audit_logs (
    id TEXT PRIMARY KEY,
    user_id TEXT REFERENCES users (id),
    action TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    resource_id TEXT,
    old_values JSONB,
    new_values JSONB,
    ip_address TEXT,
    user_agent TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_logs_user_id_idx ON audit_logs (user_id);
CREATE INDEX IF NOT EXISTS audit_logs_action_idx ON audit_logs (action);
`,
			Down: `
DROP TABLE IF EXISTS audit_logs;
DROP TABLE IF EXISTS sessions;
DROP TABLE IF EXISTS users;
`,
		},
		{
			ID:   "002_user_soft_delete",
			Name: "add deleted_at to users",
			Up: `
ALTER TABLE users ADD COLUMN IF NOT EXISTS deleted_at TIMESTAMPTZ;
`,
			Down: `
ALTER TABLE users DROP COLUMN IF EXISTS deleted_at;
`,
		},
		{
			ID:   "003_audit_retention_indexes",
			Name: "index audit_logs for retention sweeps and analytics",
			Up: `
CREATE INDEX IF NOT EXISTS audit_logs_created_at_idx ON audit_logs (created_at);
CREATE INDEX IF NOT EXISTS audit_logs_ip_address_idx ON audit_logs (ip_address);
`,
			Down: `
DROP INDEX IF EXISTS audit_logs_ip_address_idx;
DROP INDEX IF EXISTS audit_logs_created_at_idx;
`,
		},
	}
}
