package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestInstrumentMarginBasis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		inst  Instrument
		price string
		want  string
	}{
		{"volume based", Instrument{Multiple: d("10"), VolumeMargin: d("0.1")}, "2565", "2565"},
		{"amount wins when set", Instrument{Multiple: d("10"), AmountMargin: d("3000"), VolumeMargin: d("0.1")}, "2565", "3000"},
		{"zero rates", Instrument{Multiple: d("10")}, "2565", "0"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.inst.Margin(d(tt.price))
			assert.True(t, d(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestInstrumentCommissionBasis(t *testing.T) {
	t.Parallel()

	perLot := Instrument{Multiple: d("10"), OpenVolumeCommission: d("1.2"), CloseVolumeCommission: d("1.2")}
	assert.True(t, d("1.2").Equal(perLot.OpenCommission(d("2565"))))
	assert.True(t, d("1.2").Equal(perLot.CloseCommission(d("2580"), true)))

	ratio := Instrument{Multiple: d("10"), OpenAmountCommission: d("0.0001"), OpenVolumeCommission: d("5")}
	assert.True(t, d("2.565").Equal(ratio.OpenCommission(d("2565"))))

	today := Instrument{
		Multiple:                   d("10"),
		CloseVolumeCommission:      d("1.2"),
		CloseTodayVolumeCommission: d("3.6"),
	}
	assert.True(t, d("3.6").Equal(today.CloseCommission(d("2580"), true)))
	assert.True(t, d("1.2").Equal(today.CloseCommission(d("2580"), false)))
}

func TestInstrumentProfit(t *testing.T) {
	t.Parallel()

	inst := Instrument{Multiple: d("10")}
	assert.True(t, d("150").Equal(inst.Profit(Buy, d("2565"), d("2580"))))
	assert.True(t, d("-250").Equal(inst.Profit(Sell, d("2560"), d("2585"))))
}

func TestTickSettlePrice(t *testing.T) {
	t.Parallel()

	p, ok := Tick{SettlementPrice: d("2576.25"), LastPrice: d("2570")}.SettlePrice()
	assert.True(t, ok)
	assert.True(t, d("2576.25").Equal(p))

	p, ok = Tick{LastPrice: d("2570")}.SettlePrice()
	assert.True(t, ok)
	assert.True(t, d("2570").Equal(p))

	_, ok = Tick{}.SettlePrice()
	assert.False(t, ok)
}

func TestAccountRecompute(t *testing.T) {
	t.Parallel()

	a := Account{
		Balance:          d("19891.6"),
		Margin:           d("10305"),
		FrozenMargin:     d("100"),
		FrozenCommission: d("1.2"),
	}
	a.Recompute()
	assert.True(t, d("9485.4").Equal(a.Available), a.Available.String())
}

func TestDirectionAndOffset(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
	assert.True(t, Sell.Sign().IsNegative())
	assert.True(t, OffsetOpen.IsOpen())
	assert.False(t, OffsetOpen.IsClose())
	assert.True(t, OffsetCloseToday.IsClose())
	assert.True(t, ContractAbandoned.Terminal())
	assert.False(t, ContractClosing.Terminal())
}
