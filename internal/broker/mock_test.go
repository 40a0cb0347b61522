package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-gate/internal/config"
	"trade-gate/internal/order"
)

func newAuthedMock(t *testing.T, cfg config.MockBrokerConfig) *MockBroker {
	t.Helper()
	m := NewMockBroker(cfg, nil)
	if err := m.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	return m
}

func TestMockBroker_RequiresAuthentication(t *testing.T) {
	m := NewMockBroker(config.MockBrokerConfig{}, nil)
	ctx := context.Background()

	if _, err := m.GetCashBalance(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("GetCashBalance error = %v", err)
	}
	if _, err := m.GetPositions(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("GetPositions error = %v", err)
	}
	if _, err := m.PlaceOrder(ctx, Ticket{Symbol: "AAPL", Quantity: 1, Side: order.SideBuy}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("PlaceOrder error = %v", err)
	}
}

func TestMockBroker_FillsAndUpdatesCash(t *testing.T) {
	m := newAuthedMock(t, config.MockBrokerConfig{
		SeedCash: 10_000,
		Prices:   map[string]float64{"aapl": 20},
	})
	ctx := context.Background()

	res, err := m.PlaceOrder(ctx, Ticket{Symbol: "AAPL", Quantity: 100, Side: order.SideLong, Type: order.OrderTypeMarket, BatchIndex: 2})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.Status != order.BrokerFilled || res.FilledQuantity != 100 || res.BatchIndex != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.FillPrice.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("fill price = %s, want 20", res.FillPrice)
	}
	if res.BrokerOrderID == "" {
		t.Fatalf("broker order id must be set")
	}

	cash, _ := m.GetCashBalance(ctx)
	if !cash.Equal(decimal.NewFromInt(8_000)) {
		t.Fatalf("cash = %s, want 8000", cash)
	}

	if _, err := m.PlaceOrder(ctx, Ticket{Symbol: "aapl", Quantity: 40, Side: order.SideSell}); err != nil {
		t.Fatalf("sell: %v", err)
	}
	cash, _ = m.GetCashBalance(ctx)
	if !cash.Equal(decimal.NewFromInt(8_800)) {
		t.Fatalf("cash after sell = %s, want 8800", cash)
	}

	positions, _ := m.GetPositions(ctx)
	if len(positions) != 1 || !positions[0].Quantity.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("unexpected positions %+v", positions)
	}
	if m.PlaceOrderCalls() != 2 {
		t.Fatalf("PlaceOrderCalls = %d, want 2", m.PlaceOrderCalls())
	}
}

func TestMockBroker_WeightedAverageCost(t *testing.T) {
	m := newAuthedMock(t, config.MockBrokerConfig{Prices: map[string]float64{"MSFT": 10}})
	ctx := context.Background()

	if _, err := m.PlaceOrder(ctx, Ticket{Symbol: "MSFT", Quantity: 10, Side: order.SideBuy}); err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	m.prices["MSFT"] = decimal.NewFromInt(40)
	m.mu.Unlock()
	if _, err := m.PlaceOrder(ctx, Ticket{Symbol: "MSFT", Quantity: 10, Side: order.SideBuy}); err != nil {
		t.Fatal(err)
	}

	positions, _ := m.GetPositions(ctx)
	if !positions[0].AverageCost.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("average cost = %s, want 25", positions[0].AverageCost)
	}
}

func TestMockBroker_DeterministicPrice(t *testing.T) {
	a := NewMockBroker(config.MockBrokerConfig{}, nil)
	b := NewMockBroker(config.MockBrokerConfig{}, nil)
	pa, pb := a.MockPrice("NVDA"), b.MockPrice("nvda ")
	if !pa.Equal(pb) {
		t.Fatalf("prices differ: %s vs %s", pa, pb)
	}
	if pa.LessThan(decimal.NewFromInt(10)) || !pa.LessThan(decimal.NewFromInt(500)) {
		t.Fatalf("price %s out of range", pa)
	}
}

func TestMockBroker_InjectedFailure(t *testing.T) {
	m := newAuthedMock(t, config.MockBrokerConfig{})
	boom := errors.New("venue unavailable")
	m.SetFailure(func(ticket Ticket) error {
		if ticket.BatchIndex == 1 {
			return boom
		}
		return nil
	})

	ctx := context.Background()
	if _, err := m.PlaceOrder(ctx, Ticket{Symbol: "AAPL", Quantity: 1, Side: order.SideBuy, BatchIndex: 0}); err != nil {
		t.Fatalf("batch 0: %v", err)
	}
	_, err := m.PlaceOrder(ctx, Ticket{Symbol: "AAPL", Quantity: 1, Side: order.SideBuy, BatchIndex: 1})
	var brokerErr *Error
	if !errors.As(err, &brokerErr) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
	if brokerErr.Op != "place_order" {
		t.Fatalf("op = %s", brokerErr.Op)
	}
}

func TestMockBroker_LatencyHonorsContext(t *testing.T) {
	m := newAuthedMock(t, config.MockBrokerConfig{})
	m.SetLatency(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.PlaceOrder(ctx, Ticket{Symbol: "AAPL", Quantity: 1, Side: order.SideBuy})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNew_SelectsImplementation(t *testing.T) {
	adapter, err := New(config.BrokerConfig{Kind: "mock"}, nil)
	if err != nil {
		t.Fatalf("New mock: %v", err)
	}
	if adapter.Name() != "mock" {
		t.Fatalf("name = %s", adapter.Name())
	}
	if _, err := New(config.BrokerConfig{Kind: "fix"}, nil); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := New(config.BrokerConfig{Kind: "ccxt", Name: "nope"}, nil); err == nil {
		t.Fatalf("expected error for unknown venue")
	}
}

func TestThrottle_WaitHonorsContext(t *testing.T) {
	m := newAuthedMock(t, config.MockBrokerConfig{})
	limiter := NewLimiter(0.001, 1)
	adapter := Throttle(m, limiter)

	if _, err := adapter.PlaceOrder(context.Background(), Ticket{Symbol: "AAPL", Quantity: 1, Side: order.SideBuy}); err != nil {
		t.Fatalf("first call should use the burst token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := adapter.PlaceOrder(ctx, Ticket{Symbol: "AAPL", Quantity: 1, Side: order.SideBuy}); err == nil {
		t.Fatalf("expected limiter wait to fail")
	}
	if m.PlaceOrderCalls() != 1 {
		t.Fatalf("throttled call must not reach the broker, calls=%d", m.PlaceOrderCalls())
	}
	if Throttle(m, nil) != Adapter(m) {
		t.Fatalf("nil limiter should return adapter unchanged")
	}
}
