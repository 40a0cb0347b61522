package execution

import (
	"trade-gate/internal/order"
)

// Option 调整单次执行的参数。
type Option func(*executeOptions)

type executeOptions struct {
	profile []float64
}

// WithProfile 为冰山单指定 VWAP 时间权重曲线，覆盖默认配置。
func WithProfile(profile []float64) Option {
	return func(o *executeOptions) {
		o.profile = append([]float64(nil), profile...)
	}
}

func collectOptions(opts []Option) executeOptions {
	var o executeOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Job 为 Dispatcher 的一笔独立订单。
type Job struct {
	Request   order.OrderRequest
	RiskState order.AccountRiskState
	Options   []Option
}

// Outcome 为 Dispatcher 中单笔订单的结果。
type Outcome struct {
	Result order.ExecutionResult
	Err    error
}
