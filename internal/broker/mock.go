package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-gate/internal/config"
	"trade-gate/internal/order"
)

const (
	mockBrokerName      = "mock"
	defaultMockSeedCash = 1_000_000
)

// MockBroker 为内存中的测试替身：总是全部成交，不模拟撮合。
type MockBroker struct {
	logger *zap.Logger

	mu            sync.Mutex
	authenticated bool
	cash          decimal.Decimal
	positions     map[string]*Position
	prices        map[string]decimal.Decimal
	latency       time.Duration
	failure       func(Ticket) error
	placeCalls    int
	tickets       []Ticket
}

// NewMockBroker 创建模拟券商。
func NewMockBroker(cfg config.MockBrokerConfig, logger *zap.Logger) *MockBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := cfg.SeedCash
	if seed <= 0 {
		seed = defaultMockSeedCash
	}
	prices := make(map[string]decimal.Decimal, len(cfg.Prices))
	for symbol, price := range cfg.Prices {
		prices[normalizeSymbol(symbol)] = decimal.NewFromFloat(price)
	}
	return &MockBroker{
		logger:    logger.With(zap.String("broker", mockBrokerName)),
		cash:      decimal.NewFromFloat(seed),
		positions: make(map[string]*Position),
		prices:    prices,
	}
}

// Name 实现 Adapter。
func (m *MockBroker) Name() string {
	return mockBrokerName
}

// Authenticate 总是成功。
func (m *MockBroker) Authenticate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &Error{Broker: mockBrokerName, Op: "authenticate", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated = true
	return nil
}

// GetCashBalance 返回当前现金。
func (m *MockBroker) GetCashBalance(ctx context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authenticated {
		return decimal.Zero, ErrNotAuthenticated
	}
	return m.cash, nil
}

// GetPositions 按标的排序返回非零持仓。
func (m *MockBroker) GetPositions(ctx context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authenticated {
		return nil, ErrNotAuthenticated
	}
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		if p.Quantity.IsZero() {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// PlaceOrder 以确定性的模拟价格全部成交。买入扣减现金，卖出增加现金。
func (m *MockBroker) PlaceOrder(ctx context.Context, ticket Ticket) (order.BrokerOrderResult, error) {
	m.mu.Lock()
	m.placeCalls++
	m.tickets = append(m.tickets, ticket)
	authenticated := m.authenticated
	latency := m.latency
	failure := m.failure
	m.mu.Unlock()

	if !authenticated {
		return order.BrokerOrderResult{}, ErrNotAuthenticated
	}
	if ticket.Quantity <= 0 {
		return order.BrokerOrderResult{}, &Error{Broker: mockBrokerName, Op: "place_order", Symbol: ticket.Symbol, Err: fmt.Errorf("数量非法 %d", ticket.Quantity)}
	}

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return order.BrokerOrderResult{}, &Error{Broker: mockBrokerName, Op: "place_order", Symbol: ticket.Symbol, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	if failure != nil {
		if err := failure(ticket); err != nil {
			return order.BrokerOrderResult{}, &Error{Broker: mockBrokerName, Op: "place_order", Symbol: ticket.Symbol, Err: err}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	symbol := normalizeSymbol(ticket.Symbol)
	price := m.priceLocked(symbol)
	qty := decimal.NewFromInt(ticket.Quantity)
	notional := qty.Mul(price)

	delta := qty
	if ticket.Side.ConsumesCapital() {
		m.cash = m.cash.Sub(notional)
	} else {
		m.cash = m.cash.Add(notional)
		delta = qty.Neg()
	}
	m.applyFillLocked(symbol, delta, price)

	result := order.BrokerOrderResult{
		BrokerOrderID:  "mock-" + uuid.NewString(),
		Status:         order.BrokerFilled,
		FilledQuantity: ticket.Quantity,
		FillPrice:      price,
		Symbol:         ticket.Symbol,
		Side:           ticket.Side,
		BatchIndex:     ticket.BatchIndex,
	}

	m.logger.Debug("模拟成交",
		zap.String("symbol", symbol),
		zap.String("side", string(ticket.Side)),
		zap.Int64("quantity", ticket.Quantity),
		zap.String("price", price.String()),
		zap.String("cash", m.cash.String()),
	)

	return result, nil
}

// applyFillLocked 更新持仓与加权平均成本；方向翻转时以成交价重置成本。
func (m *MockBroker) applyFillLocked(symbol string, delta, price decimal.Decimal) {
	pos, ok := m.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		m.positions[symbol] = pos
	}

	current := pos.Quantity
	next := current.Add(delta)

	switch {
	case next.IsZero():
		pos.AverageCost = decimal.Zero
	case current.IsZero() || current.Sign() != next.Sign():
		pos.AverageCost = price
	case current.Sign() == delta.Sign():
		// 同向加仓：加权平均。
		pos.AverageCost = current.Abs().Mul(pos.AverageCost).Add(delta.Abs().Mul(price)).Div(next.Abs())
	}
	pos.Quantity = next
}

// MockPrice 返回标的的模拟成交价。
func (m *MockBroker) MockPrice(symbol string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.priceLocked(normalizeSymbol(symbol))
}

// priceLocked 未配置价格时由标的名哈希得到 [10, 500) 区间内的稳定价格。
func (m *MockBroker) priceLocked(symbol string) decimal.Decimal {
	if p, ok := m.prices[symbol]; ok {
		return p
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	cents := int64(h.Sum32()%49_000) + 1_000
	p := decimal.New(cents, -2)
	m.prices[symbol] = p
	return p
}

// SetFailure 注入下单失败逻辑，返回非 nil 错误即视为该切片失败。
func (m *MockBroker) SetFailure(fn func(Ticket) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = fn
}

// SetLatency 模拟网络延迟，期间响应 ctx 取消与超时。
func (m *MockBroker) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// PlaceOrderCalls 返回 PlaceOrder 被调用的次数。
func (m *MockBroker) PlaceOrderCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeCalls
}

// Tickets 返回收到的全部切片副本。
func (m *MockBroker) Tickets() []Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Ticket(nil), m.tickets...)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
