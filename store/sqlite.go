package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/tradecore/model"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path. ":memory:"
// gives a private in-memory database.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases coherent and serialises
	// writers the way SQLite wants anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func insertSQL(table string, cols []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), marks)
}

// updateSQL keys the update on the first column.
func updateSQL(table string, cols []string) string {
	set := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		set = append(set, c+" = ?")
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", table, strings.Join(set, ", "), cols[0])
}

func selectSQL(table string, cols []string) string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table)
}

// keyLast moves the key argument behind the SET arguments.
func keyLast(args []any) []any {
	return append(args[1:len(args):len(args)], args[0])
}

func (s *SQLiteStore) insert(ctx context.Context, table, key, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	if isConstraint(err) {
		err = fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return queryErr("insert", table, key, err)
}

func (s *SQLiteStore) update(ctx context.Context, table, key, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return queryErr("update", table, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return queryErr("update", table, key, err)
	}
	if n == 0 {
		return queryErr("update", table, key, ErrNotFound)
	}
	return nil
}

func selectErr(table, key string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	return queryErr("select", table, key, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func encodeIDs(ids []string) (string, error) {
	b, err := json.Marshal(ids)
	return string(b), err
}

func decodeIDs(s string) ([]string, error) {
	var ids []string
	if s == "" {
		return nil, nil
	}
	err := json.Unmarshal([]byte(s), &ids)
	return ids, err
}

// accounts

var accountCols = []string{
	"id", "user_id", "broker_id", "status",
	"balance", "yd_balance", "margin", "commission",
	"opening_margin", "opening_commission", "closing_commission",
	"position_profit", "close_profit", "frozen_margin", "frozen_commission",
	"available", "trading_day", "settle_time",
}

var snapshotCols = append([]string{"id", "settled_day"}, accountCols[1:]...)

func accountArgs(a model.Account) []any {
	return []any{
		a.ID, a.UserID, a.BrokerID, string(a.Status),
		a.Balance, a.YdBalance, a.Margin, a.Commission,
		a.OpeningMargin, a.OpeningCommission, a.ClosingCommission,
		a.PositionProfit, a.CloseProfit, a.FrozenMargin, a.FrozenCommission,
		a.Available, a.TradingDay, a.SettleTime,
	}
}

func accountDest(a *model.Account) []any {
	return []any{
		&a.ID, &a.UserID, &a.BrokerID, &a.Status,
		&a.Balance, &a.YdBalance, &a.Margin, &a.Commission,
		&a.OpeningMargin, &a.OpeningCommission, &a.ClosingCommission,
		&a.PositionProfit, &a.CloseProfit, &a.FrozenMargin, &a.FrozenCommission,
		&a.Available, &a.TradingDay, &a.SettleTime,
	}
}

func (s *SQLiteStore) InsertAccount(ctx context.Context, a model.Account) error {
	return s.insert(ctx, "accounts", a.ID, insertSQL("accounts", accountCols), accountArgs(a)...)
}

func (s *SQLiteStore) UpdateAccount(ctx context.Context, a model.Account) error {
	return s.update(ctx, "accounts", a.ID, updateSQL("accounts", accountCols), keyLast(accountArgs(a))...)
}

func (s *SQLiteStore) SelectAccount(ctx context.Context, id string) (model.Account, error) {
	var a model.Account
	row := s.db.QueryRowContext(ctx, selectSQL("accounts", accountCols)+" WHERE id = ?", id)
	if err := row.Scan(accountDest(&a)...); err != nil {
		return model.Account{}, selectErr("accounts", id, err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, selectSQL("accounts", accountCols)+" ORDER BY id")
	if err != nil {
		return nil, queryErr("select", "accounts", "*", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(accountDest(&a)...); err != nil {
			return nil, queryErr("select", "accounts", "*", err)
		}
		out = append(out, a)
	}
	return out, queryErr("select", "accounts", "*", rows.Err())
}

func (s *SQLiteStore) InsertAccountSnapshot(ctx context.Context, snap model.AccountSnapshot) error {
	args := accountArgs(snap.Account)
	args = append([]any{snap.ID, snap.SettledDay}, args[1:]...)
	return s.insert(ctx, "account_snapshots", snap.ID+"/"+snap.SettledDay,
		insertSQL("account_snapshots", snapshotCols), args...)
}

func (s *SQLiteStore) ListAccountSnapshots(ctx context.Context, accountID string) ([]model.AccountSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		selectSQL("account_snapshots", snapshotCols)+" WHERE id = ? ORDER BY settled_day", accountID)
	if err != nil {
		return nil, queryErr("select", "account_snapshots", accountID, err)
	}
	defer rows.Close()

	var out []model.AccountSnapshot
	for rows.Next() {
		var snap model.AccountSnapshot
		dest := accountDest(&snap.Account)
		dest = append([]any{&snap.ID, &snap.SettledDay}, dest[1:]...)
		if err := rows.Scan(dest...); err != nil {
			return nil, queryErr("select", "account_snapshots", accountID, err)
		}
		out = append(out, snap)
	}
	return out, queryErr("select", "account_snapshots", accountID, rows.Err())
}

// contracts

var contractCols = []string{
	"id", "account_id", "instrument_id", "direction",
	"open_price", "close_price", "state",
	"open_trading_day", "open_time", "settlement_trading_day",
	"open_order_id", "close_order_id",
}

func contractArgs(c model.Contract) []any {
	return []any{
		c.ID, c.AccountID, c.InstrumentID, string(c.Direction),
		c.OpenPrice, c.ClosePrice, string(c.State),
		c.OpenTradingDay, c.OpenTime, c.SettlementTradingDay,
		c.OpenOrderID, c.CloseOrderID,
	}
}

func scanContract(sc scanner) (model.Contract, error) {
	var c model.Contract
	err := sc.Scan(
		&c.ID, &c.AccountID, &c.InstrumentID, &c.Direction,
		&c.OpenPrice, &c.ClosePrice, &c.State,
		&c.OpenTradingDay, &c.OpenTime, &c.SettlementTradingDay,
		&c.OpenOrderID, &c.CloseOrderID,
	)
	return c, err
}

func (s *SQLiteStore) InsertContract(ctx context.Context, c model.Contract) error {
	return s.insert(ctx, "contracts", c.ID, insertSQL("contracts", contractCols), contractArgs(c)...)
}

func (s *SQLiteStore) UpdateContract(ctx context.Context, c model.Contract) error {
	return s.update(ctx, "contracts", c.ID, updateSQL("contracts", contractCols), keyLast(contractArgs(c))...)
}

func (s *SQLiteStore) SelectContract(ctx context.Context, id string) (model.Contract, error) {
	row := s.db.QueryRowContext(ctx, selectSQL("contracts", contractCols)+" WHERE id = ?", id)
	c, err := scanContract(row)
	if err != nil {
		return model.Contract{}, selectErr("contracts", id, err)
	}
	return c, nil
}

func (s *SQLiteStore) ListContracts(ctx context.Context, accountID string) ([]model.Contract, error) {
	rows, err := s.db.QueryContext(ctx,
		selectSQL("contracts", contractCols)+" WHERE account_id = ? ORDER BY id", accountID)
	if err != nil {
		return nil, queryErr("select", "contracts", accountID, err)
	}
	defer rows.Close()

	var out []model.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, queryErr("select", "contracts", accountID, err)
		}
		out = append(out, c)
	}
	return out, queryErr("select", "contracts", accountID, rows.Err())
}

// orders, trades and transactions

var orderCols = []string{
	"id", "transaction_id", "account_id", "instrument_id",
	"direction", "offset_flag", "price", "quantity", "traded",
	"trading_day", "state", "contract_ids",
	"reject_code", "reject_reason", "insert_time", "update_time",
}

func orderArgs(o model.Order) ([]any, error) {
	ids, err := encodeIDs(o.ContractIDs)
	if err != nil {
		return nil, err
	}
	return []any{
		o.ID, o.TransactionID, o.AccountID, o.InstrumentID,
		string(o.Direction), string(o.Offset), o.Price, o.Quantity, o.Traded,
		o.TradingDay, string(o.State), ids,
		o.RejectCode, o.RejectReason, o.InsertTime, o.UpdateTime,
	}, nil
}

func (s *SQLiteStore) InsertOrder(ctx context.Context, o model.Order) error {
	args, err := orderArgs(o)
	if err != nil {
		return queryErr("insert", "orders", o.ID, err)
	}
	return s.insert(ctx, "orders", o.ID, insertSQL("orders", orderCols), args...)
}

func (s *SQLiteStore) UpdateOrder(ctx context.Context, o model.Order) error {
	args, err := orderArgs(o)
	if err != nil {
		return queryErr("update", "orders", o.ID, err)
	}
	return s.update(ctx, "orders", o.ID, updateSQL("orders", orderCols), keyLast(args)...)
}

func (s *SQLiteStore) SelectOrder(ctx context.Context, id string) (model.Order, error) {
	var (
		o   model.Order
		ids string
	)
	row := s.db.QueryRowContext(ctx, selectSQL("orders", orderCols)+" WHERE id = ?", id)
	err := row.Scan(
		&o.ID, &o.TransactionID, &o.AccountID, &o.InstrumentID,
		&o.Direction, &o.Offset, &o.Price, &o.Quantity, &o.Traded,
		&o.TradingDay, &o.State, &ids,
		&o.RejectCode, &o.RejectReason, &o.InsertTime, &o.UpdateTime,
	)
	if err != nil {
		return model.Order{}, selectErr("orders", id, err)
	}
	if o.ContractIDs, err = decodeIDs(ids); err != nil {
		return model.Order{}, queryErr("select", "orders", id, err)
	}
	return o, nil
}

var tradeCols = []string{
	"id", "order_id", "account_id", "instrument_id",
	"direction", "offset_flag", "price", "quantity", "trading_day", "time",
}

func (s *SQLiteStore) InsertTrade(ctx context.Context, t model.Trade) error {
	return s.insert(ctx, "trades", t.ID, insertSQL("trades", tradeCols),
		t.ID, t.OrderID, t.AccountID, t.InstrumentID,
		string(t.Direction), string(t.Offset), t.Price, t.Quantity, t.TradingDay, t.Time)
}

func (s *SQLiteStore) ListTrades(ctx context.Context, orderID string) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		selectSQL("trades", tradeCols)+" WHERE order_id = ? ORDER BY id", orderID)
	if err != nil {
		return nil, queryErr("select", "trades", orderID, err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(
			&t.ID, &t.OrderID, &t.AccountID, &t.InstrumentID,
			&t.Direction, &t.Offset, &t.Price, &t.Quantity, &t.TradingDay, &t.Time,
		); err != nil {
			return nil, queryErr("select", "trades", orderID, err)
		}
		out = append(out, t)
	}
	return out, queryErr("select", "trades", orderID, rows.Err())
}

var transactionCols = []string{
	"id", "account_id", "instrument_id", "direction", "offset_flag",
	"price", "quantity", "traded", "state", "order_ids",
	"code", "reason", "trading_day", "create_time", "update_time",
}

func transactionArgs(t model.Transaction) ([]any, error) {
	ids, err := encodeIDs(t.OrderIDs)
	if err != nil {
		return nil, err
	}
	return []any{
		t.ID, t.AccountID, t.InstrumentID, string(t.Direction), string(t.Offset),
		t.Price, t.Quantity, t.Traded, string(t.State), ids,
		t.Code, t.Reason, t.TradingDay, t.CreateTime, t.UpdateTime,
	}, nil
}

func (s *SQLiteStore) InsertTransaction(ctx context.Context, t model.Transaction) error {
	args, err := transactionArgs(t)
	if err != nil {
		return queryErr("insert", "transactions", t.ID, err)
	}
	return s.insert(ctx, "transactions", t.ID, insertSQL("transactions", transactionCols), args...)
}

func (s *SQLiteStore) UpdateTransaction(ctx context.Context, t model.Transaction) error {
	args, err := transactionArgs(t)
	if err != nil {
		return queryErr("update", "transactions", t.ID, err)
	}
	return s.update(ctx, "transactions", t.ID, updateSQL("transactions", transactionCols), keyLast(args)...)
}

func (s *SQLiteStore) SelectTransaction(ctx context.Context, id string) (model.Transaction, error) {
	var (
		t   model.Transaction
		ids string
	)
	row := s.db.QueryRowContext(ctx, selectSQL("transactions", transactionCols)+" WHERE id = ?", id)
	err := row.Scan(
		&t.ID, &t.AccountID, &t.InstrumentID, &t.Direction, &t.Offset,
		&t.Price, &t.Quantity, &t.Traded, &t.State, &ids,
		&t.Code, &t.Reason, &t.TradingDay, &t.CreateTime, &t.UpdateTime,
	)
	if err != nil {
		return model.Transaction{}, selectErr("transactions", id, err)
	}
	if t.OrderIDs, err = decodeIDs(ids); err != nil {
		return model.Transaction{}, queryErr("select", "transactions", id, err)
	}
	return t, nil
}

// market data

var instrumentCols = []string{
	"id", "exchange_id", "product_id", "multiple", "price_tick",
	"amount_margin", "volume_margin",
	"open_amount_commission", "open_volume_commission",
	"close_amount_commission", "close_volume_commission",
	"close_today_amount_commission", "close_today_volume_commission",
}

func instrumentArgs(i model.Instrument) []any {
	return []any{
		i.ID, i.ExchangeID, i.ProductID, i.Multiple, i.PriceTick,
		i.AmountMargin, i.VolumeMargin,
		i.OpenAmountCommission, i.OpenVolumeCommission,
		i.CloseAmountCommission, i.CloseVolumeCommission,
		i.CloseTodayAmountCommission, i.CloseTodayVolumeCommission,
	}
}

func scanInstrument(sc scanner) (model.Instrument, error) {
	var i model.Instrument
	err := sc.Scan(
		&i.ID, &i.ExchangeID, &i.ProductID, &i.Multiple, &i.PriceTick,
		&i.AmountMargin, &i.VolumeMargin,
		&i.OpenAmountCommission, &i.OpenVolumeCommission,
		&i.CloseAmountCommission, &i.CloseVolumeCommission,
		&i.CloseTodayAmountCommission, &i.CloseTodayVolumeCommission,
	)
	return i, err
}

func (s *SQLiteStore) InsertInstrument(ctx context.Context, i model.Instrument) error {
	return s.insert(ctx, "instruments", i.ID, insertSQL("instruments", instrumentCols), instrumentArgs(i)...)
}

func (s *SQLiteStore) UpdateInstrument(ctx context.Context, i model.Instrument) error {
	return s.update(ctx, "instruments", i.ID, updateSQL("instruments", instrumentCols), keyLast(instrumentArgs(i))...)
}

func (s *SQLiteStore) SelectInstrument(ctx context.Context, id string) (model.Instrument, error) {
	row := s.db.QueryRowContext(ctx, selectSQL("instruments", instrumentCols)+" WHERE id = ?", id)
	i, err := scanInstrument(row)
	if err != nil {
		return model.Instrument{}, selectErr("instruments", id, err)
	}
	return i, nil
}

func (s *SQLiteStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, selectSQL("instruments", instrumentCols)+" ORDER BY id")
	if err != nil {
		return nil, queryErr("select", "instruments", "*", err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		i, err := scanInstrument(rows)
		if err != nil {
			return nil, queryErr("select", "instruments", "*", err)
		}
		out = append(out, i)
	}
	return out, queryErr("select", "instruments", "*", rows.Err())
}

var tickCols = []string{
	"instrument_id", "trading_day", "last_price", "bid_price", "ask_price",
	"settlement_price", "pre_settlement_price", "volume", "update_time",
}

func (s *SQLiteStore) InsertTick(ctx context.Context, t model.Tick) error {
	_, err := s.db.ExecContext(ctx,
		strings.Replace(insertSQL("ticks", tickCols), "INSERT", "INSERT OR REPLACE", 1),
		t.InstrumentID, t.TradingDay, t.LastPrice, t.BidPrice, t.AskPrice,
		t.SettlementPrice, t.PreSettlementPrice, t.Volume, t.UpdateTime)
	return queryErr("insert", "ticks", tickKey(t.InstrumentID, t.TradingDay), err)
}

func (s *SQLiteStore) SelectTick(ctx context.Context, instrumentID, tradingDay string) (model.Tick, error) {
	var t model.Tick
	row := s.db.QueryRowContext(ctx,
		selectSQL("ticks", tickCols)+" WHERE instrument_id = ? AND trading_day = ?",
		instrumentID, tradingDay)
	err := row.Scan(
		&t.InstrumentID, &t.TradingDay, &t.LastPrice, &t.BidPrice, &t.AskPrice,
		&t.SettlementPrice, &t.PreSettlementPrice, &t.Volume, &t.UpdateTime,
	)
	if err != nil {
		return model.Tick{}, selectErr("ticks", tickKey(instrumentID, tradingDay), err)
	}
	return t, nil
}

func (s *SQLiteStore) InsertTradingDay(ctx context.Context, d model.TradingDay) error {
	return s.insert(ctx, "trading_days", d.Day,
		"INSERT INTO trading_days (day, update_time) VALUES (?, ?)", d.Day, d.UpdateTime)
}

func (s *SQLiteStore) SelectTradingDay(ctx context.Context) (model.TradingDay, error) {
	var d model.TradingDay
	row := s.db.QueryRowContext(ctx,
		"SELECT day, update_time FROM trading_days ORDER BY day DESC LIMIT 1")
	if err := row.Scan(&d.Day, &d.UpdateTime); err != nil {
		return model.TradingDay{}, selectErr("trading_days", "latest", err)
	}
	return d, nil
}

var _ Store = (*SQLiteStore)(nil)
