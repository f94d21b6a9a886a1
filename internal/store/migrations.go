package store

// migration is a single schema migration step.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations are applied in order. Never modify an applied migration;
// append a new one instead.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create_sessions",
		SQL: `
			CREATE TABLE sessions (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'initializing',
				phone_number TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at TEXT NOT NULL DEFAULT (datetime('now')),
				last_active_at TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX idx_sessions_status ON sessions(status);
			CREATE INDEX idx_sessions_owner ON sessions(owner_id);
		`,
	},
	{
		Version: 2,
		Name:    "create_session_settings",
		SQL: `
			CREATE TABLE session_settings (
				session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
				always_online INTEGER NOT NULL DEFAULT 0,
				auto_read_messages INTEGER NOT NULL DEFAULT 0,
				reject_calls INTEGER NOT NULL DEFAULT 0,
				typing_indicator INTEGER NOT NULL DEFAULT 1,
				link_preview INTEGER NOT NULL DEFAULT 1,
				rate_limit_per_minute INTEGER NOT NULL DEFAULT 60,
				updated_at TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
	{
		Version: 3,
		Name:    "create_messages",
		SQL: `
			CREATE TABLE messages (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				provider_message_id TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT '',
				sent_at TEXT NOT NULL DEFAULT '',
				delivered_at TEXT NOT NULL DEFAULT '',
				read_at TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX idx_messages_session ON messages(session_id);
			CREATE INDEX idx_messages_status ON messages(status);
		`,
	},
}
