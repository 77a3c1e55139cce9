package storage

import "time"

// Migration represents a database migration
type Migration struct {
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create relays table",
			SQL: `
				CREATE TABLE IF NOT EXISTS relays (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					owner_pubkey TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_relays_owner ON relays(owner_pubkey);
				CREATE INDEX IF NOT EXISTS idx_relays_status ON relays(status);
			`,
		},
		{
			Version:     "002",
			Description: "Create orders table",
			SQL: `
				CREATE TABLE IF NOT EXISTS orders (
					id TEXT PRIMARY KEY,
					relay_id TEXT NOT NULL,
					payment_reference TEXT NOT NULL,
					invoice TEXT NOT NULL DEFAULT '',
					amount_sats INTEGER NOT NULL DEFAULT 0,
					paid BOOLEAN NOT NULL DEFAULT FALSE,
					status TEXT NOT NULL DEFAULT 'pending',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					paid_at DATETIME,
					FOREIGN KEY (relay_id) REFERENCES relays(id)
				);

				CREATE INDEX IF NOT EXISTS idx_orders_relay ON orders(relay_id);
				CREATE INDEX IF NOT EXISTS idx_orders_pending ON orders(paid, status);
				CREATE INDEX IF NOT EXISTS idx_orders_payment_ref ON orders(payment_reference);
			`,
		},
		{
			Version:     "003",
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					pubkey TEXT PRIMARY KEY,
					name TEXT NOT NULL DEFAULT '',
					admin BOOLEAN NOT NULL DEFAULT FALSE,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}
}

// GetPostgreSQLMigrations returns PostgreSQL migration scripts
func GetPostgreSQLMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create relays table",
			SQL: `
				CREATE TABLE IF NOT EXISTS relays (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					owner_pubkey TEXT NOT NULL,
					created_at TIMESTAMPTZ DEFAULT NOW(),
					updated_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_relays_owner ON relays(owner_pubkey);
				CREATE INDEX IF NOT EXISTS idx_relays_status ON relays(status);
			`,
		},
		{
			Version:     "002",
			Description: "Create orders table",
			SQL: `
				CREATE TABLE IF NOT EXISTS orders (
					id TEXT PRIMARY KEY,
					relay_id TEXT NOT NULL REFERENCES relays(id),
					payment_reference TEXT NOT NULL,
					invoice TEXT NOT NULL DEFAULT '',
					amount_sats BIGINT NOT NULL DEFAULT 0,
					paid BOOLEAN NOT NULL DEFAULT FALSE,
					status TEXT NOT NULL DEFAULT 'pending',
					created_at TIMESTAMPTZ DEFAULT NOW(),
					paid_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_orders_relay ON orders(relay_id);
				CREATE INDEX IF NOT EXISTS idx_orders_pending ON orders(paid, status);
				CREATE INDEX IF NOT EXISTS idx_orders_payment_ref ON orders(payment_reference);
			`,
		},
		{
			Version:     "003",
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					pubkey TEXT PRIMARY KEY,
					name TEXT NOT NULL DEFAULT '',
					admin BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ DEFAULT NOW()
				);
			`,
		},
	}
}
