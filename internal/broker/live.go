package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"sync/atomic"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-gate/internal/config"
	"trade-gate/internal/order"
)

var cashCodes = []string{"USDC", "USD", "USDT"}

type venueClient interface {
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error)
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
}

// LiveBroker 通过 ccxt 对接真实交易所，瞬时错误按退避重试。
type LiveBroker struct {
	name        string
	cfg         config.BrokerConfig
	client      venueClient
	loadMarkets func() error
	logger      *zap.Logger

	authenticated atomic.Bool
}

// NewLiveBroker 按 broker.name 构造 ccxt 客户端。
func NewLiveBroker(cfg config.BrokerConfig, logger *zap.Logger) (*LiveBroker, error) {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}
	if cfg.Wallet != "" {
		userConfig["walletAddress"] = cfg.Wallet
	}
	if cfg.PrivateKey != "" {
		userConfig["privateKey"] = cfg.PrivateKey
	}

	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	switch name {
	case "binanceusdm":
		userConfig["options"] = map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		}
		ex := ccxt.NewBinanceusdm(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		return newLiveBroker(name, cfg, ex, func() error {
			_, err := ex.LoadMarkets()
			return err
		}, logger), nil
	case "hyperliquid":
		ex := ccxt.NewHyperliquid(userConfig)
		if cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		return newLiveBroker(name, cfg, ex, func() error {
			_, err := ex.LoadMarkets()
			return err
		}, logger), nil
	default:
		return nil, fmt.Errorf("broker: 不支持的交易所 %q", cfg.Name)
	}
}

func newLiveBroker(name string, cfg config.BrokerConfig, client venueClient, loadMarkets func() error, logger *zap.Logger) *LiveBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveBroker{
		name:        "ccxt:" + name,
		cfg:         cfg,
		client:      client,
		loadMarkets: loadMarkets,
		logger:      logger.With(zap.String("broker", name)),
	}
}

// Name 实现 Adapter。
func (b *LiveBroker) Name() string {
	return b.name
}

// Authenticate 加载市场元数据并拉取一次余额以验证凭证。
func (b *LiveBroker) Authenticate(ctx context.Context) error {
	err := b.callWithRetry(ctx, "authenticate", func() error {
		if err := b.loadMarkets(); err != nil {
			return err
		}
		_, err := b.client.FetchBalance()
		return err
	})
	if err != nil {
		return &Error{Broker: b.name, Op: "authenticate", Err: err}
	}
	b.authenticated.Store(true)
	b.logger.Info("券商认证成功")
	return nil
}

// GetCashBalance 返回稳定币/美元总额。
func (b *LiveBroker) GetCashBalance(ctx context.Context) (decimal.Decimal, error) {
	if !b.authenticated.Load() {
		return decimal.Zero, ErrNotAuthenticated
	}

	var balances ccxt.Balances
	err := b.callWithRetry(ctx, "fetch_balance", func() error {
		res, err := b.client.FetchBalance()
		if err != nil {
			return err
		}
		balances = res
		return nil
	})
	if err != nil {
		return decimal.Zero, &Error{Broker: b.name, Op: "fetch_balance", Err: err}
	}

	if balances.Total != nil {
		for _, code := range cashCodes {
			if total, ok := balances.Total[code]; ok && total != nil {
				return decimal.NewFromFloat(*total), nil
			}
		}
	}
	return decimal.Zero, nil
}

// GetPositions 返回非零持仓，空头数量为负。
func (b *LiveBroker) GetPositions(ctx context.Context) ([]Position, error) {
	if !b.authenticated.Load() {
		return nil, ErrNotAuthenticated
	}

	var raw []ccxt.Position
	err := b.callWithRetry(ctx, "fetch_positions", func() error {
		res, err := b.client.FetchPositions()
		if err != nil {
			return err
		}
		raw = res
		return nil
	})
	if err != nil {
		return nil, &Error{Broker: b.name, Op: "fetch_positions", Err: err}
	}

	out := make([]Position, 0, len(raw))
	for _, p := range raw {
		size := derefFloat(p.Contracts)
		if size == 0 {
			continue
		}
		if strings.EqualFold(derefString(p.Side), "short") {
			size = -math.Abs(size)
		}
		out = append(out, Position{
			Symbol:      derefString(p.Symbol),
			Quantity:    decimal.NewFromFloat(size),
			AverageCost: decimal.NewFromFloat(derefFloat(p.EntryPrice)),
		})
	}
	return out, nil
}

// PlaceOrder 按计划的委托类型下单，重试时复用同一 clientOrderId。
func (b *LiveBroker) PlaceOrder(ctx context.Context, ticket Ticket) (order.BrokerOrderResult, error) {
	if !b.authenticated.Load() {
		return order.BrokerOrderResult{}, ErrNotAuthenticated
	}

	clientID := ticket.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	params := map[string]interface{}{
		"clientOrderId": clientID,
	}
	amount := float64(ticket.Quantity)
	side := ticket.Side.BrokerSide()

	var placed ccxt.Order
	err := b.callWithRetry(ctx, "place_order", func() error {
		var err error
		switch ticket.Type {
		case order.OrderTypeLimit:
			price, _ := ticket.LimitPrice.Float64()
			if price <= 0 {
				return fmt.Errorf("限价单价格无效 %s", ticket.LimitPrice)
			}
			placed, err = b.client.CreateLimitOrder(ticket.Symbol, side, amount, price, ccxt.WithCreateLimitOrderParams(params))
		default:
			placed, err = b.client.CreateMarketOrder(ticket.Symbol, side, amount, ccxt.WithCreateMarketOrderParams(params))
		}
		return err
	})
	if err != nil {
		return order.BrokerOrderResult{}, &Error{Broker: b.name, Op: "place_order", Symbol: ticket.Symbol, Err: err}
	}

	return convertOrder(placed, ticket), nil
}

func convertOrder(o ccxt.Order, ticket Ticket) order.BrokerOrderResult {
	status := mapStatus(derefString(o.Status))
	filled := int64(math.Floor(derefFloat(o.Filled)))
	if o.Filled == nil && status == order.BrokerFilled {
		filled = ticket.Quantity
	}
	price := derefFloat(o.Average)
	if price == 0 {
		price = derefFloat(o.Price)
	}
	id := derefString(o.Id)
	if id == "" {
		id = ticket.ClientOrderID
	}
	return order.BrokerOrderResult{
		BrokerOrderID:  id,
		Status:         status,
		FilledQuantity: filled,
		FillPrice:      decimal.NewFromFloat(price),
		Symbol:         ticket.Symbol,
		Side:           ticket.Side,
		BatchIndex:     ticket.BatchIndex,
	}
}

func mapStatus(status string) order.BrokerOrderStatus {
	switch strings.ToLower(status) {
	case "closed", "filled":
		return order.BrokerFilled
	case "canceled", "cancelled", "rejected", "expired":
		return order.BrokerRejected
	default:
		return order.BrokerPending
	}
}

func (b *LiveBroker) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	maxAttempts := b.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := b.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := b.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	attempt := 0
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		latency := time.Since(start)
		if err == nil {
			if attempt > 1 {
				b.logger.Info("券商调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", latency),
				)
			}
			return nil
		}

		normalized, retry := classifyError(err)
		if errors.Is(normalized, ErrMaintenance) {
			b.logger.Warn("交易所维护中", zap.String("operation", operation), zap.Error(normalized))
			return normalized
		}
		if !retry || attempt >= maxAttempts {
			b.logger.Error("券商调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", latency),
				zap.Error(normalized),
			)
			return normalized
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}
		b.logger.Warn("券商调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalized),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// classifyError 归一化错误并判断是否可重试。
func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}
	return err, false
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
