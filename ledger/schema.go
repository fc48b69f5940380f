package ledger

// Schema is applied on every open; all statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	broker TEXT NOT NULL,
	strategy TEXT NOT NULL,
	symbol TEXT NOT NULL,
	quantity REAL NOT NULL,
	latest_price REAL NOT NULL DEFAULT 0,
	cost_basis REAL NOT NULL DEFAULT 0,
	underlying_latest_price REAL,
	underlying_volatility REAL,
	last_updated TIMESTAMP NOT NULL,
	UNIQUE (broker, symbol, strategy)
);

CREATE TABLE IF NOT EXISTS balances (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	broker TEXT NOT NULL,
	strategy TEXT NOT NULL,
	type TEXT NOT NULL,
	balance REAL NOT NULL DEFAULT 0,
	timestamp TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_balances_broker_strategy_timestamp
	ON balances (broker, strategy, timestamp);
CREATE INDEX IF NOT EXISTS ix_balances_type_timestamp
	ON balances (type, timestamp);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	broker TEXT NOT NULL,
	strategy TEXT,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	price REAL NOT NULL DEFAULT 0,
	executed_price REAL,
	order_type TEXT NOT NULL DEFAULT 'market',
	status TEXT NOT NULL DEFAULT 'open',
	profit_loss REAL,
	timestamp TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS account_info (
	broker TEXT PRIMARY KEY,
	value REAL NOT NULL DEFAULT 0
);
`
