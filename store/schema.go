package store

// Schema creates every table the SQLite store needs. Money columns are TEXT
// so decimals round-trip exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	broker_id TEXT NOT NULL,
	status TEXT NOT NULL,
	balance TEXT NOT NULL,
	yd_balance TEXT NOT NULL,
	margin TEXT NOT NULL,
	commission TEXT NOT NULL,
	opening_margin TEXT NOT NULL,
	opening_commission TEXT NOT NULL,
	closing_commission TEXT NOT NULL,
	position_profit TEXT NOT NULL,
	close_profit TEXT NOT NULL,
	frozen_margin TEXT NOT NULL,
	frozen_commission TEXT NOT NULL,
	available TEXT NOT NULL,
	trading_day TEXT NOT NULL,
	settle_time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS account_snapshots (
	id TEXT NOT NULL,
	settled_day TEXT NOT NULL,
	user_id TEXT NOT NULL,
	broker_id TEXT NOT NULL,
	status TEXT NOT NULL,
	balance TEXT NOT NULL,
	yd_balance TEXT NOT NULL,
	margin TEXT NOT NULL,
	commission TEXT NOT NULL,
	opening_margin TEXT NOT NULL,
	opening_commission TEXT NOT NULL,
	closing_commission TEXT NOT NULL,
	position_profit TEXT NOT NULL,
	close_profit TEXT NOT NULL,
	frozen_margin TEXT NOT NULL,
	frozen_commission TEXT NOT NULL,
	available TEXT NOT NULL,
	trading_day TEXT NOT NULL,
	settle_time DATETIME NOT NULL,
	PRIMARY KEY (id, settled_day)
);

CREATE TABLE IF NOT EXISTS contracts (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	instrument_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	open_price TEXT NOT NULL,
	close_price TEXT,
	state TEXT NOT NULL,
	open_trading_day TEXT NOT NULL,
	open_time DATETIME NOT NULL,
	settlement_trading_day TEXT NOT NULL,
	open_order_id TEXT NOT NULL,
	close_order_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contracts_account ON contracts(account_id);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	instrument_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	offset_flag TEXT NOT NULL,
	price TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	traded INTEGER NOT NULL,
	trading_day TEXT NOT NULL,
	state TEXT NOT NULL,
	contract_ids TEXT NOT NULL,
	reject_code INTEGER NOT NULL,
	reject_reason TEXT NOT NULL,
	insert_time DATETIME NOT NULL,
	update_time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	instrument_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	offset_flag TEXT NOT NULL,
	price TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	trading_day TEXT NOT NULL,
	time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_order ON trades(order_id);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	instrument_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	offset_flag TEXT NOT NULL,
	price TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	traded INTEGER NOT NULL,
	state TEXT NOT NULL,
	order_ids TEXT NOT NULL,
	code INTEGER NOT NULL,
	reason TEXT NOT NULL,
	trading_day TEXT NOT NULL,
	create_time DATETIME NOT NULL,
	update_time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS instruments (
	id TEXT PRIMARY KEY,
	exchange_id TEXT NOT NULL,
	product_id TEXT NOT NULL,
	multiple TEXT NOT NULL,
	price_tick TEXT NOT NULL,
	amount_margin TEXT NOT NULL,
	volume_margin TEXT NOT NULL,
	open_amount_commission TEXT NOT NULL,
	open_volume_commission TEXT NOT NULL,
	close_amount_commission TEXT NOT NULL,
	close_volume_commission TEXT NOT NULL,
	close_today_amount_commission TEXT NOT NULL,
	close_today_volume_commission TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ticks (
	instrument_id TEXT NOT NULL,
	trading_day TEXT NOT NULL,
	last_price TEXT NOT NULL,
	bid_price TEXT NOT NULL,
	ask_price TEXT NOT NULL,
	settlement_price TEXT NOT NULL,
	pre_settlement_price TEXT NOT NULL,
	volume INTEGER NOT NULL,
	update_time DATETIME NOT NULL,
	PRIMARY KEY (instrument_id, trading_day)
);

CREATE TABLE IF NOT EXISTS trading_days (
	day TEXT PRIMARY KEY,
	update_time DATETIME NOT NULL
);
`
