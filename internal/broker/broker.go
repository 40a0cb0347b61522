package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-gate/internal/config"
	"trade-gate/internal/order"
)

var (
	// ErrNotAuthenticated 表示在 Authenticate 成功前调用了其它方法。
	ErrNotAuthenticated = errors.New("broker: NotAuthenticatedError")
	// ErrMaintenance 表示交易所处于维护状态。
	ErrMaintenance = errors.New("broker: exchange on maintenance")
)

// Error 对应 BrokerError：认证失败或单笔提交失败。
type Error struct {
	Broker string
	Op     string
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("broker: %s %s %s 失败: %v", e.Broker, e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("broker: %s %s 失败: %v", e.Broker, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Position 为单个标的的持仓，Quantity 为负表示空头。
type Position struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
}

// Ticket 为提交给券商的一个切片。
type Ticket struct {
	Symbol        string
	Quantity      int64
	Side          order.Side
	Type          order.OrderType
	LimitPrice    decimal.Decimal
	ClientOrderID string
	BatchIndex    int
}

// Adapter 为券商能力接口。除 Authenticate 外，未认证时均返回 ErrNotAuthenticated。
type Adapter interface {
	// Name 标识券商连接，同时作为熔断器的键。
	Name() string
	Authenticate(ctx context.Context) error
	GetCashBalance(ctx context.Context) (decimal.Decimal, error)
	GetPositions(ctx context.Context) ([]Position, error)
	PlaceOrder(ctx context.Context, ticket Ticket) (order.BrokerOrderResult, error)
}

// New 根据配置在构造期选择券商实现。
func New(cfg config.BrokerConfig, logger *zap.Logger) (Adapter, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "mock":
		return NewMockBroker(cfg.Mock, logger), nil
	case "ccxt":
		live, err := NewLiveBroker(cfg, logger)
		if err != nil {
			return nil, err
		}
		return live, nil
	default:
		return nil, fmt.Errorf("broker: 不支持的券商类型 %q", cfg.Kind)
	}
}
