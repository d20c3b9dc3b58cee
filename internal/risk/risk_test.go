package risk

import (
	"errors"
	"math"
	"testing"

	"Backtest/internal/domain/models"
)

func settings() models.PortfolioSettings {
	return models.PortfolioSettings{
		InitialCapital:        100000,
		MaxLongPositions:      5,
		PositionSize:          0.2,
		AdjustPositionDown:    true,
		CommissionPct:         0.0008,
		MaxSlippage:           0.0005,
		RoundLotSize:          10,
		RoundDecimals:         2,
		RoundDecimalsBelowOne: 3,
	}
}

func TestAdjustForSlippage(t *testing.T) {
	e := New(settings())
	cases := []struct {
		dir  models.Direction
		in   float64
		want float64
	}{
		{models.Buy, 100, 100.05},
		{models.Cover, 100, 100.05},
		{models.Sell, 100, 99.95},
		{models.Short, 100, 99.95},
		{models.Buy, 0.5, 0.5},
	}
	for _, c := range cases {
		if got := e.AdjustForSlippage(c.dir, c.in); got != c.want {
			t.Errorf("%s %v: got %v want %v", c.dir, c.in, got, c.want)
		}
	}
}

func TestCommission(t *testing.T) {
	s := settings()
	s.CommissionFixed = 1
	s.CommissionPct = 0.001
	s.CommissionMin = 5
	e := New(s)
	if got := e.Commission(10, 100); got != 5 {
		t.Errorf("minimum not applied: %v", got)
	}
	if got := e.Commission(-100, 100); got != 11 {
		t.Errorf("commission = %v, want 11", got)
	}
}

func TestSizeOrderLotProperty(t *testing.T) {
	for _, lot := range []float64{1, 10, 100} {
		for _, pct := range []float64{0, 0.0008, 0.01} {
			for _, fixed := range []float64{0, 4.95} {
				for _, price := range []float64{3.17, 19.99, 101.5, 999} {
					s := settings()
					s.RoundLotSize = lot
					s.CommissionPct = pct
					s.CommissionFixed = fixed
					e := New(s)
					acct := Account{Cash: 100000, NetLiquidation: 100000}
					n := e.PositionCash(acct)

					sz, err := e.SizeOrder(models.Buy, price, 0, acct)
					if err != nil {
						t.Fatalf("size: %v", err)
					}
					if sz.Quantity < 0 {
						t.Fatalf("negative buy quantity %v", sz.Quantity)
					}
					if math.Mod(sz.Quantity, lot) != 0 {
						t.Errorf("lot %v price %v: quantity %v not a multiple", lot, price, sz.Quantity)
					}
					if sz.Quantity*price+sz.Commission > n+1e-9 {
						t.Errorf("lot %v price %v: %v*%v + %v exceeds %v", lot, price, sz.Quantity, price, sz.Commission, n)
					}
				}
			}
		}
	}
}

func TestSizeOrderShortIsNegative(t *testing.T) {
	s := settings()
	s.MaxShortPositions = 1
	e := New(s)
	sz, err := e.SizeOrder(models.Short, 50, 0, Account{Cash: 0, NetLiquidation: 100000})
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if sz.Quantity >= 0 || math.Mod(-sz.Quantity, 10) != 0 {
		t.Fatalf("short quantity = %v", sz.Quantity)
	}
	if -sz.Quantity*50+sz.Commission > 20000 {
		t.Fatalf("short exceeds position cash: %+v", sz)
	}
}

func TestSizeOrderClampsToCash(t *testing.T) {
	e := New(settings())
	acct := Account{Cash: 5000, NetLiquidation: 100000}
	sz, err := e.SizeOrder(models.Buy, 100, 0, acct)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if sz.Quantity*100+sz.Commission > acct.Cash {
		t.Fatalf("sized past available cash: %+v", sz)
	}
	if sz.Quantity != 40 {
		t.Fatalf("quantity = %v, want 40", sz.Quantity)
	}
}

func TestSizeOrderWithoutAdjustDown(t *testing.T) {
	s := settings()
	s.AdjustPositionDown = false
	e := New(s)
	_, err := e.SizeOrder(models.Buy, 100, 0, Account{Cash: 5000, NetLiquidation: 100000})
	if !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}
}

func TestSizeOrderCapitalCap(t *testing.T) {
	s := settings()
	s.CapitalTradableCap = 10000
	s.CommissionPct = 0
	e := New(s)
	sz, _ := e.SizeOrder(models.Buy, 10, 0, Account{Cash: 100000, NetLiquidation: 100000})
	if sz.Quantity != 200 {
		t.Fatalf("quantity = %v, want 200", sz.Quantity)
	}
}

func TestSizeOrderTooExpensive(t *testing.T) {
	e := New(settings())
	sz, err := e.SizeOrder(models.Buy, 5000, 0, Account{Cash: 100000, NetLiquidation: 100000})
	if err != nil || sz.Quantity != 0 || sz.Commission != 0 {
		t.Fatalf("expected zero sizing, got %+v %v", sz, err)
	}
}

func TestSizeOrderClosingIsFullClose(t *testing.T) {
	e := New(settings())
	sz, _ := e.SizeOrder(models.Sell, 100, 130, Account{})
	if sz.Quantity != -130 {
		t.Fatalf("sell quantity = %v", sz.Quantity)
	}
	sz, _ = e.SizeOrder(models.Cover, 100, -70, Account{})
	if sz.Quantity != 70 {
		t.Fatalf("cover quantity = %v", sz.Quantity)
	}
	sz, _ = e.SizeOrder(models.Sell, 100, 0, Account{})
	if sz.Quantity != 0 {
		t.Fatalf("flat sell quantity = %v", sz.Quantity)
	}
}

func TestTradeProfitability(t *testing.T) {
	s := settings()
	s.CommissionPct = 0
	e := New(s)
	got := e.TradeProfitability(models.Buy, 10, 11, Account{Cash: 100000, NetLiquidation: 100000})
	if got != 2000 {
		t.Fatalf("profitability = %v, want 2000", got)
	}
}
