package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rustyeddy/tradecore/logger"
	"github.com/rustyeddy/tradecore/market"
	"github.com/rustyeddy/tradecore/model"
	"github.com/rustyeddy/tradecore/risk"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the complete process configuration.
type Config struct {
	Core        CoreConfig         `json:"core" yaml:"core"`
	Accounts    []AccountConfig    `json:"accounts" yaml:"accounts"`
	Instruments []InstrumentConfig `json:"instruments" yaml:"instruments"`
	Risk        risk.Policy        `json:"risk" yaml:"risk"`
	Store       StoreConfig        `json:"store" yaml:"store"`
	Log         logger.Config      `json:"log" yaml:"log"`
	Sim         SimConfig          `json:"sim" yaml:"sim"`
}

type CoreConfig struct {
	// TradingDay seeds the trading day when the store has none recorded;
	// empty derives it from the clock.
	TradingDay string   `json:"trading_day,omitempty" yaml:"trading_day,omitempty"`
	Holidays   []string `json:"holidays,omitempty" yaml:"holidays,omitempty"`
	// SettleParallel bounds concurrent account settlement; 0 = unlimited.
	SettleParallel int `json:"settle_parallel,omitempty" yaml:"settle_parallel,omitempty"`
}

type AccountConfig struct {
	ID      string  `json:"id" yaml:"id"`
	Balance float64 `json:"balance" yaml:"balance"`
}

// Account returns a fresh active account opening on day.
func (a AccountConfig) Account(day string) model.Account {
	bal := decimal.NewFromFloat(a.Balance)
	acct := model.Account{
		ID:         a.ID,
		Status:     model.AccountActive,
		Balance:    bal,
		YdBalance:  bal,
		TradingDay: day,
	}
	acct.Recompute()
	return acct
}

// InstrumentConfig is the rate schedule of one instrument; see
// model.Instrument for how the amount and volume rates combine.
type InstrumentConfig struct {
	ID         string  `json:"id" yaml:"id"`
	ExchangeID string  `json:"exchange_id,omitempty" yaml:"exchange_id,omitempty"`
	Multiple   float64 `json:"multiple" yaml:"multiple"`
	PriceTick  float64 `json:"price_tick,omitempty" yaml:"price_tick,omitempty"`

	AmountMargin float64 `json:"amount_margin,omitempty" yaml:"amount_margin,omitempty"`
	VolumeMargin float64 `json:"volume_margin,omitempty" yaml:"volume_margin,omitempty"`

	OpenAmountCommission       float64 `json:"open_amount_commission,omitempty" yaml:"open_amount_commission,omitempty"`
	OpenVolumeCommission       float64 `json:"open_volume_commission,omitempty" yaml:"open_volume_commission,omitempty"`
	CloseAmountCommission      float64 `json:"close_amount_commission,omitempty" yaml:"close_amount_commission,omitempty"`
	CloseVolumeCommission      float64 `json:"close_volume_commission,omitempty" yaml:"close_volume_commission,omitempty"`
	CloseTodayAmountCommission float64 `json:"close_today_amount_commission,omitempty" yaml:"close_today_amount_commission,omitempty"`
	CloseTodayVolumeCommission float64 `json:"close_today_volume_commission,omitempty" yaml:"close_today_volume_commission,omitempty"`
}

func (ic InstrumentConfig) Instrument() model.Instrument {
	f := decimal.NewFromFloat
	return model.Instrument{
		ID:                         ic.ID,
		ExchangeID:                 ic.ExchangeID,
		Multiple:                   f(ic.Multiple),
		PriceTick:                  f(ic.PriceTick),
		AmountMargin:               f(ic.AmountMargin),
		VolumeMargin:               f(ic.VolumeMargin),
		OpenAmountCommission:       f(ic.OpenAmountCommission),
		OpenVolumeCommission:       f(ic.OpenVolumeCommission),
		CloseAmountCommission:      f(ic.CloseAmountCommission),
		CloseVolumeCommission:      f(ic.CloseVolumeCommission),
		CloseTodayAmountCommission: f(ic.CloseTodayAmountCommission),
		CloseTodayVolumeCommission: f(ic.CloseTodayVolumeCommission),
	}
}

type StoreConfig struct {
	Type string `json:"type" yaml:"type"` // "json" or "sqlite"
	// Path of the store file; a json store with no path stays in memory.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// SimConfig drives the simulated adapter used by the demo command.
type SimConfig struct {
	MaxLotsPerFill int         `json:"max_lots_per_fill,omitempty" yaml:"max_lots_per_fill,omitempty"`
	Strategy       string      `json:"strategy" yaml:"strategy"`
	Instrument     string      `json:"instrument" yaml:"instrument"`
	Direction      string      `json:"direction,omitempty" yaml:"direction,omitempty"`
	Quantity       int         `json:"quantity" yaml:"quantity"`
	CloseAfter     int         `json:"close_after,omitempty" yaml:"close_after,omitempty"`
	FastPeriod     int         `json:"fast_period,omitempty" yaml:"fast_period,omitempty"`
	SlowPeriod     int         `json:"slow_period,omitempty" yaml:"slow_period,omitempty"`
	Settlement     float64     `json:"settlement_price,omitempty" yaml:"settlement_price,omitempty"`
	Steps          []PriceStep `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// PriceStep is one quote fed to the simulator.
type PriceStep struct {
	Bid   float64 `json:"bid" yaml:"bid"`
	Ask   float64 `json:"ask" yaml:"ask"`
	Delay string  `json:"delay" yaml:"delay"` // e.g., "1m", "30s"
}

// ParseDuration converts the delay string to time.Duration
func (ps PriceStep) ParseDuration() (time.Duration, error) {
	if ps.Delay == "" {
		return 0, nil
	}
	return time.ParseDuration(ps.Delay)
}

// LoadFromFile loads configuration from a file (YAML or JSON)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = &Config{}
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", jerr)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (YAML or JSON based on extension)
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Core.TradingDay != "" && !market.ValidDay(c.Core.TradingDay) {
		return fmt.Errorf("core.trading_day %q is not YYYYMMDD", c.Core.TradingDay)
	}
	for _, h := range c.Core.Holidays {
		if !market.ValidDay(h) {
			return fmt.Errorf("core.holidays: %q is not YYYYMMDD", h)
		}
	}
	if c.Core.SettleParallel < 0 {
		return fmt.Errorf("core.settle_parallel must not be negative")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	seen := map[string]bool{}
	for i, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("accounts[%d].id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate account %s", a.ID)
		}
		seen[a.ID] = true
		if a.Balance < 0 {
			return fmt.Errorf("account %s: balance must not be negative", a.ID)
		}
	}

	known := map[string]bool{}
	for i, in := range c.Instruments {
		if in.ID == "" {
			return fmt.Errorf("instruments[%d].id is required", i)
		}
		if known[in.ID] {
			return fmt.Errorf("duplicate instrument %s", in.ID)
		}
		known[in.ID] = true
		if in.Multiple <= 0 {
			return fmt.Errorf("instrument %s: multiple must be positive", in.ID)
		}
		if in.AmountMargin < 0 || in.VolumeMargin < 0 {
			return fmt.Errorf("instrument %s: margin rates must not be negative", in.ID)
		}
	}

	if c.Risk.MaxOrderLots < 0 || c.Risk.MaxPositionLots < 0 {
		return fmt.Errorf("risk limits must not be negative")
	}
	if c.Risk.MaxPriceDeviation < 0 || c.Risk.MaxSlippage < 0 {
		return fmt.Errorf("risk ratios must not be negative")
	}

	switch c.Store.Type {
	case "json":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path required for sqlite store")
		}
	default:
		return fmt.Errorf("store.type must be 'json' or 'sqlite'")
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if c.Sim.Instrument != "" && !known[c.Sim.Instrument] {
		return fmt.Errorf("sim.instrument: unknown instrument %s", c.Sim.Instrument)
	}
	if c.Sim.Direction != "" && !model.Direction(strings.ToUpper(c.Sim.Direction)).Valid() {
		return fmt.Errorf("sim.direction must be 'buy' or 'sell'")
	}
	if c.Sim.Quantity < 0 || c.Sim.MaxLotsPerFill < 0 || c.Sim.CloseAfter < 0 ||
		c.Sim.FastPeriod < 0 || c.Sim.SlowPeriod < 0 {
		return fmt.Errorf("sim quantities must not be negative")
	}
	for i, s := range c.Sim.Steps {
		if s.Bid <= 0 || s.Ask <= 0 {
			return fmt.Errorf("sim.steps[%d]: prices must be positive", i)
		}
		if s.Ask < s.Bid {
			return fmt.Errorf("sim.steps[%d]: ask must not be below bid", i)
		}
		if _, err := s.ParseDuration(); err != nil {
			return fmt.Errorf("sim.steps[%d].delay: %w", i, err)
		}
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Accounts: []AccountConfig{
			{ID: "SIM-001", Balance: 20000},
		},
		Instruments: []InstrumentConfig{{
			ID:                         "rb2405",
			ExchangeID:                 "SHFE",
			Multiple:                   10,
			PriceTick:                  1,
			VolumeMargin:               0.1,
			OpenVolumeCommission:       1.2,
			CloseVolumeCommission:      1.2,
			CloseTodayVolumeCommission: 1.2,
		}},
		Risk: risk.DefaultPolicy(),
		Store: StoreConfig{
			Type: "json",
			Path: "./tradecore.json",
		},
		Log: logger.Config{
			Level:  "info",
			Format: "console",
		},
		Sim: SimConfig{
			Strategy:   "open-once",
			Instrument: "rb2405",
			Direction:  "buy",
			Quantity:   2,
			CloseAfter: 2,
			Settlement: 3612,
			Steps: []PriceStep{
				{Bid: 3600, Ask: 3601, Delay: "0s"},
				{Bid: 3602, Ask: 3603, Delay: "30s"},
				{Bid: 3605, Ask: 3606, Delay: "1m"},
				{Bid: 3609, Ask: 3610, Delay: "90s"},
				{Bid: 3611, Ask: 3612, Delay: "2m"},
				{Bid: 3614, Ask: 3615, Delay: "3m"},
			},
		},
	}
}

// Instrument returns the configured instrument with the given id.
func (c *Config) Instrument(id string) (model.Instrument, bool) {
	for _, in := range c.Instruments {
		if in.ID == id {
			return in.Instrument(), true
		}
	}
	return model.Instrument{}, false
}
