// Package store persists the entity records behind a CRUD-style query
// interface. Inserts never overwrite an existing key and updates always
// target an existing one.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/tradecore/model"
)

var (
	ErrDuplicateKey = errors.New("duplicate key")
	ErrNotFound     = errors.New("not found")
)

// QueryError wraps every failure returned by a Store.
type QueryError struct {
	Op    string
	Table string
	Key   string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s %s %q: %v", e.Op, e.Table, e.Key, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func queryErr(op, table, key string, err error) error {
	if err == nil {
		return nil
	}
	return &QueryError{Op: op, Table: table, Key: key, Err: err}
}

type Accounts interface {
	InsertAccount(ctx context.Context, a model.Account) error
	UpdateAccount(ctx context.Context, a model.Account) error
	SelectAccount(ctx context.Context, id string) (model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	InsertAccountSnapshot(ctx context.Context, s model.AccountSnapshot) error
	ListAccountSnapshots(ctx context.Context, accountID string) ([]model.AccountSnapshot, error)
}

type Contracts interface {
	InsertContract(ctx context.Context, c model.Contract) error
	UpdateContract(ctx context.Context, c model.Contract) error
	SelectContract(ctx context.Context, id string) (model.Contract, error)
	// ListContracts returns every contract of the account in any state,
	// ordered by ID.
	ListContracts(ctx context.Context, accountID string) ([]model.Contract, error)
}

type Orders interface {
	InsertOrder(ctx context.Context, o model.Order) error
	UpdateOrder(ctx context.Context, o model.Order) error
	SelectOrder(ctx context.Context, id string) (model.Order, error)
	InsertTrade(ctx context.Context, t model.Trade) error
	ListTrades(ctx context.Context, orderID string) ([]model.Trade, error)
	InsertTransaction(ctx context.Context, t model.Transaction) error
	UpdateTransaction(ctx context.Context, t model.Transaction) error
	SelectTransaction(ctx context.Context, id string) (model.Transaction, error)
}

type Market interface {
	InsertInstrument(ctx context.Context, i model.Instrument) error
	UpdateInstrument(ctx context.Context, i model.Instrument) error
	SelectInstrument(ctx context.Context, id string) (model.Instrument, error)
	ListInstruments(ctx context.Context) ([]model.Instrument, error)
	// InsertTick stores the day's snapshot for an instrument, replacing an
	// earlier one for the same instrument and trading day.
	InsertTick(ctx context.Context, t model.Tick) error
	SelectTick(ctx context.Context, instrumentID, tradingDay string) (model.Tick, error)
	InsertTradingDay(ctx context.Context, d model.TradingDay) error
	// SelectTradingDay returns the latest recorded trading day.
	SelectTradingDay(ctx context.Context) (model.TradingDay, error)
}

type Store interface {
	Accounts
	Contracts
	Orders
	Market
	Close() error
}

// Open returns the store named by kind ("json" or "sqlite") at path.
func Open(kind, path string) (Store, error) {
	switch kind {
	case "json":
		return NewJSON(path)
	case "sqlite":
		return NewSQLite(path)
	}
	return nil, fmt.Errorf("unknown store type %q", kind)
}
