package broker

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"trade-gate/internal/order"
)

// throttled 在每次券商调用前等待令牌。
type throttled struct {
	Adapter
	limiter *rate.Limiter
}

// Throttle 为 Adapter 加上客户端限速，limiter 为 nil 时原样返回。
func Throttle(adapter Adapter, limiter *rate.Limiter) Adapter {
	if limiter == nil {
		return adapter
	}
	return &throttled{Adapter: adapter, limiter: limiter}
}

// NewLimiter 按每秒请求数与突发量构造限速器，rps<=0 表示不限速。
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (t *throttled) wait(ctx context.Context, op string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return &Error{Broker: t.Name(), Op: op, Err: err}
	}
	return nil
}

func (t *throttled) Authenticate(ctx context.Context) error {
	if err := t.wait(ctx, "authenticate"); err != nil {
		return err
	}
	return t.Adapter.Authenticate(ctx)
}

func (t *throttled) GetCashBalance(ctx context.Context) (decimal.Decimal, error) {
	if err := t.wait(ctx, "fetch_balance"); err != nil {
		return decimal.Zero, err
	}
	return t.Adapter.GetCashBalance(ctx)
}

func (t *throttled) GetPositions(ctx context.Context) ([]Position, error) {
	if err := t.wait(ctx, "fetch_positions"); err != nil {
		return nil, err
	}
	return t.Adapter.GetPositions(ctx)
}

func (t *throttled) PlaceOrder(ctx context.Context, ticket Ticket) (order.BrokerOrderResult, error) {
	if err := t.wait(ctx, "place_order"); err != nil {
		return order.BrokerOrderResult{}, err
	}
	return t.Adapter.PlaceOrder(ctx, ticket)
}
