package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
// Timestamps are stored as Unix nanoseconds so they sort numerically.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and turns",
		SQL: `
			CREATE TABLE sessions (
				id              TEXT PRIMARY KEY,
				created_at      INTEGER NOT NULL,
				last_access     INTEGER NOT NULL,
				last_candidates TEXT,
				last_filter     TEXT
			);

			CREATE INDEX idx_sessions_last_access ON sessions (last_access);

			CREATE TABLE turns (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id  TEXT NOT NULL,
				role        TEXT NOT NULL,
				content     TEXT NOT NULL,
				timestamp   INTEGER NOT NULL,
				FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_turns_session ON turns (session_id, id);
		`,
	},
	{
		Version: 2,
		Name:    "create products",
		SQL: `
			CREATE TABLE products (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				name        TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				price       REAL NOT NULL CHECK (price >= 0),
				rating      REAL NOT NULL DEFAULT 0 CHECK (rating >= 0 AND rating <= 5),
				category    TEXT NOT NULL DEFAULT '',
				image_path  TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_products_category ON products (category);
			CREATE INDEX idx_products_price ON products (price);
		`,
	},
}
