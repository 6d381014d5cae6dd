// store/schema.go
package store

const Schema = `
CREATE TABLE IF NOT EXISTS lockouts (
	account_id TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	reason TEXT NOT NULL,
	set_at DATETIME NOT NULL,
	expires_at DATETIME,
	PRIMARY KEY (account_id, scope)
);

CREATE TABLE IF NOT EXISTS pnl_days (
	account_id TEXT PRIMARY KEY,
	day TEXT NOT NULL,
	realized_pnl REAL NOT NULL,
	trade_count INTEGER NOT NULL,
	peak_equity REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS enforcements (
	id TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	account_id TEXT NOT NULL,
	rule TEXT NOT NULL,
	action TEXT NOT NULL,
	target TEXT NOT NULL,
	status TEXT NOT NULL,
	detail TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_enforcements_time ON enforcements(time);
`
