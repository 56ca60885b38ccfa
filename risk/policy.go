package risk

type Policy struct {
	// Order limits
	MaxOrderLots int `json:"max_order_lots" yaml:"max_order_lots"` // 0 = unlimited

	// Exposure limits: lots held plus lots being opened, per account+instrument.
	MaxPositionLots int `json:"max_position_lots" yaml:"max_position_lots"` // 0 = unlimited

	// Price sanity: |order - last| / last must stay under this ratio.
	MaxPriceDeviation float64 `json:"max_price_deviation" yaml:"max_price_deviation"` // 0.05

	// Post-trade: |fill - order| / order above this ratio is flagged.
	MaxSlippage float64 `json:"max_slippage" yaml:"max_slippage"` // 0.01

	// RequireTick rejects transactions when no market snapshot is known.
	RequireTick bool `json:"require_tick" yaml:"require_tick"`
}

// DefaultPolicy is permissive on size and strict on obviously bad prices.
func DefaultPolicy() Policy {
	return Policy{
		MaxOrderLots:      100,
		MaxPositionLots:   500,
		MaxPriceDeviation: 0.1,
		MaxSlippage:       0.02,
	}
}
