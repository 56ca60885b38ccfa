package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rustyeddy/tradecore/model"
)

// JSONStore keeps every table in memory and rewrites one JSON document on
// each change. An empty path keeps the store purely in memory.
type JSONStore struct {
	mu   sync.RWMutex
	path string
	db   jsonDB
}

type jsonDB struct {
	Accounts     map[string]model.Account     `json:"accounts"`
	Snapshots    []model.AccountSnapshot      `json:"account_snapshots"`
	Contracts    map[string]model.Contract    `json:"contracts"`
	Orders       map[string]model.Order       `json:"orders"`
	Trades       map[string]model.Trade       `json:"trades"`
	Transactions map[string]model.Transaction `json:"transactions"`
	Instruments  map[string]model.Instrument  `json:"instruments"`
	Ticks        map[string]model.Tick        `json:"ticks"`
	TradingDays  []model.TradingDay           `json:"trading_days"`
}

func NewJSON(path string) (*JSONStore, error) {
	s := &JSONStore{path: path}
	s.db.init()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, s.flush()
	case err != nil:
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.db); err != nil {
			return nil, fmt.Errorf("parse store %s: %w", path, err)
		}
	}
	s.db.init()
	return s, nil
}

func (db *jsonDB) init() {
	if db.Accounts == nil {
		db.Accounts = map[string]model.Account{}
	}
	if db.Contracts == nil {
		db.Contracts = map[string]model.Contract{}
	}
	if db.Orders == nil {
		db.Orders = map[string]model.Order{}
	}
	if db.Trades == nil {
		db.Trades = map[string]model.Trade{}
	}
	if db.Transactions == nil {
		db.Transactions = map[string]model.Transaction{}
	}
	if db.Instruments == nil {
		db.Instruments = map[string]model.Instrument{}
	}
	if db.Ticks == nil {
		db.Ticks = map[string]model.Tick{}
	}
}

// flush must be called with mu held.
func (s *JSONStore) flush() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(&s.db, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

// insert and update are shared by every keyed table.
func insert[T any](s *JSONStore, table string, m map[string]T, key string, v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := m[key]; ok {
		return queryErr("insert", table, key, ErrDuplicateKey)
	}
	m[key] = v
	return queryErr("insert", table, key, s.flush())
}

func update[T any](s *JSONStore, table string, m map[string]T, key string, v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := m[key]; !ok {
		return queryErr("update", table, key, ErrNotFound)
	}
	m[key] = v
	return queryErr("update", table, key, s.flush())
}

func get[T any](s *JSONStore, table string, m map[string]T, key string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := m[key]
	if !ok {
		var zero T
		return zero, queryErr("select", table, key, ErrNotFound)
	}
	return v, nil
}

func (s *JSONStore) InsertAccount(_ context.Context, a model.Account) error {
	return insert(s, "accounts", s.db.Accounts, a.ID, a)
}

func (s *JSONStore) UpdateAccount(_ context.Context, a model.Account) error {
	return update(s, "accounts", s.db.Accounts, a.ID, a)
}

func (s *JSONStore) SelectAccount(_ context.Context, id string) (model.Account, error) {
	return get(s, "accounts", s.db.Accounts, id)
}

func (s *JSONStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Account, 0, len(s.db.Accounts))
	for _, a := range s.db.Accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *JSONStore) InsertAccountSnapshot(_ context.Context, snap model.AccountSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := snap.ID + "/" + snap.SettledDay
	for _, have := range s.db.Snapshots {
		if have.ID == snap.ID && have.SettledDay == snap.SettledDay {
			return queryErr("insert", "account_snapshots", key, ErrDuplicateKey)
		}
	}
	s.db.Snapshots = append(s.db.Snapshots, snap)
	return queryErr("insert", "account_snapshots", key, s.flush())
}

func (s *JSONStore) ListAccountSnapshots(_ context.Context, accountID string) ([]model.AccountSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AccountSnapshot
	for _, snap := range s.db.Snapshots {
		if snap.ID == accountID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettledDay < out[j].SettledDay })
	return out, nil
}

func (s *JSONStore) InsertContract(_ context.Context, c model.Contract) error {
	return insert(s, "contracts", s.db.Contracts, c.ID, c)
}

func (s *JSONStore) UpdateContract(_ context.Context, c model.Contract) error {
	return update(s, "contracts", s.db.Contracts, c.ID, c)
}

func (s *JSONStore) SelectContract(_ context.Context, id string) (model.Contract, error) {
	return get(s, "contracts", s.db.Contracts, id)
}

func (s *JSONStore) ListContracts(_ context.Context, accountID string) ([]model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Contract
	for _, c := range s.db.Contracts {
		if c.AccountID == accountID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *JSONStore) InsertOrder(_ context.Context, o model.Order) error {
	return insert(s, "orders", s.db.Orders, o.ID, o.Clone())
}

func (s *JSONStore) UpdateOrder(_ context.Context, o model.Order) error {
	return update(s, "orders", s.db.Orders, o.ID, o.Clone())
}

func (s *JSONStore) SelectOrder(_ context.Context, id string) (model.Order, error) {
	o, err := get(s, "orders", s.db.Orders, id)
	return o.Clone(), err
}

func (s *JSONStore) InsertTrade(_ context.Context, t model.Trade) error {
	return insert(s, "trades", s.db.Trades, t.ID, t)
}

func (s *JSONStore) ListTrades(_ context.Context, orderID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Trade
	for _, t := range s.db.Trades {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *JSONStore) InsertTransaction(_ context.Context, t model.Transaction) error {
	return insert(s, "transactions", s.db.Transactions, t.ID, t.Clone())
}

func (s *JSONStore) UpdateTransaction(_ context.Context, t model.Transaction) error {
	return update(s, "transactions", s.db.Transactions, t.ID, t.Clone())
}

func (s *JSONStore) SelectTransaction(_ context.Context, id string) (model.Transaction, error) {
	t, err := get(s, "transactions", s.db.Transactions, id)
	return t.Clone(), err
}

func (s *JSONStore) InsertInstrument(_ context.Context, i model.Instrument) error {
	return insert(s, "instruments", s.db.Instruments, i.ID, i)
}

func (s *JSONStore) UpdateInstrument(_ context.Context, i model.Instrument) error {
	return update(s, "instruments", s.db.Instruments, i.ID, i)
}

func (s *JSONStore) SelectInstrument(_ context.Context, id string) (model.Instrument, error) {
	return get(s, "instruments", s.db.Instruments, id)
}

func (s *JSONStore) ListInstruments(_ context.Context) ([]model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Instrument, 0, len(s.db.Instruments))
	for _, i := range s.db.Instruments {
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func tickKey(instrumentID, tradingDay string) string { return instrumentID + "/" + tradingDay }

func (s *JSONStore) InsertTick(_ context.Context, t model.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tickKey(t.InstrumentID, t.TradingDay)
	s.db.Ticks[key] = t
	return queryErr("insert", "ticks", key, s.flush())
}

func (s *JSONStore) SelectTick(_ context.Context, instrumentID, tradingDay string) (model.Tick, error) {
	return get(s, "ticks", s.db.Ticks, tickKey(instrumentID, tradingDay))
}

func (s *JSONStore) InsertTradingDay(_ context.Context, d model.TradingDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.db.TradingDays {
		if have.Day == d.Day {
			return queryErr("insert", "trading_days", d.Day, ErrDuplicateKey)
		}
	}
	s.db.TradingDays = append(s.db.TradingDays, d)
	return queryErr("insert", "trading_days", d.Day, s.flush())
}

func (s *JSONStore) SelectTradingDay(_ context.Context) (model.TradingDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest model.TradingDay
	for _, d := range s.db.TradingDays {
		if d.Day > latest.Day {
			latest = d
		}
	}
	if latest.Day == "" {
		return latest, queryErr("select", "trading_days", "latest", ErrNotFound)
	}
	return latest, nil
}

var _ Store = (*JSONStore)(nil)
