package risk

import (
	"fmt"

	"github.com/rustyeddy/tradecore/model"
	"github.com/shopspring/decimal"
)

type Violation struct {
	Code int
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(code int, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Notice collapses the decision into the first violation.
func (d Decision) Notice() Notice {
	if d.Allowed || len(d.Violations) == 0 {
		return OK()
	}
	v := d.Violations[0]
	return Notice{Code: v.Code, Message: v.Msg}
}

// Evaluate runs the pre-trade checks of p against a transaction.
func Evaluate(p Policy, tick model.Tick, tx TxContext) Decision {
	d := Decision{Allowed: true}
	t := tx.Transaction

	if p.MaxOrderLots > 0 && t.Quantity > p.MaxOrderLots {
		d.add(CodeOrderTooLarge,
			fmt.Sprintf("order of %d lots exceeds max %d", t.Quantity, p.MaxOrderLots))
	}

	if t.Offset.IsOpen() && p.MaxPositionLots > 0 && tx.HeldLots+t.Quantity > p.MaxPositionLots {
		d.add(CodePositionLimit,
			fmt.Sprintf("position would reach %d lots, max %d", tx.HeldLots+t.Quantity, p.MaxPositionLots))
	}

	if !tick.LastPrice.IsPositive() {
		if p.RequireTick {
			d.add(CodeNoMarket, fmt.Sprintf("no market data for %s", t.InstrumentID))
		}
		return d
	}

	if p.MaxPriceDeviation > 0 {
		dev := t.Price.Sub(tick.LastPrice).Abs().Div(tick.LastPrice)
		if dev.GreaterThan(decimal.NewFromFloat(p.MaxPriceDeviation)) {
			d.add(CodePriceDeviation,
				fmt.Sprintf("price %s deviates %s%% from last %s",
					t.Price, dev.Mul(decimal.NewFromInt(100)).StringFixed(2), tick.LastPrice))
		}
	}
	return d
}

// EvaluateFill runs the post-trade checks of p.
func EvaluateFill(p Policy, trade model.Trade, tx TxContext) Decision {
	d := Decision{Allowed: true}
	ref := tx.Transaction.Price
	if p.MaxSlippage <= 0 || !ref.IsPositive() {
		return d
	}
	slip := trade.Price.Sub(ref).Abs().Div(ref)
	if slip.GreaterThan(decimal.NewFromFloat(p.MaxSlippage)) {
		d.add(CodeSlippage,
			fmt.Sprintf("fill %s slipped %s%% from order %s",
				trade.Price, slip.Mul(decimal.NewFromInt(100)).StringFixed(2), ref))
	}
	return d
}

// PolicyAssessor is an Assessor driven by a Policy.
type PolicyAssessor struct {
	Policy Policy
}

func NewPolicyAssessor(p Policy) *PolicyAssessor {
	return &PolicyAssessor{Policy: p}
}

func (a *PolicyAssessor) Before(tick model.Tick, tx TxContext) Notice {
	return Evaluate(a.Policy, tick, tx).Notice()
}

func (a *PolicyAssessor) After(trade model.Trade, tx TxContext) Notice {
	return EvaluateFill(a.Policy, trade, tx).Notice()
}
