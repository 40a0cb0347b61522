package execution

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trade-gate/internal/broker"
	"trade-gate/internal/order"
)

const defaultMaxInFlight = 4

// Dispatcher 并发执行相互独立的订单，在途订单数受 maxInFlight 限制。
type Dispatcher struct {
	coordinator *Coordinator
	adapter     broker.Adapter
	maxInFlight int
	logger      *zap.Logger
}

// NewDispatcher 创建调度器。adapter 通常已由 broker.Throttle 包装限速。
func NewDispatcher(coordinator *Coordinator, adapter broker.Adapter, maxInFlight int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &Dispatcher{
		coordinator: coordinator,
		adapter:     adapter,
		maxInFlight: maxInFlight,
		logger:      logger.Named("dispatcher"),
	}
}

// Execute 执行单笔订单。执行中的 panic 转为 Outcome.Err，不会终止进程。
func (d *Dispatcher) Execute(ctx context.Context, job Job) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("订单执行 panic",
				zap.String("symbol", job.Request.Symbol),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			out = Outcome{
				Result: order.ExecutionResult{Request: job.Request},
				Err:    fmt.Errorf("execution: 订单执行 panic: %v", r),
			}
		}
	}()

	res, err := d.coordinator.Execute(ctx, job.Request, job.RiskState, d.adapter, job.Options...)
	return Outcome{Result: res, Err: err}
}

// ExecuteAll 并发执行全部订单，结果顺序与 jobs 一致。单笔失败不会取消其它订单。
func (d *Dispatcher) ExecuteAll(ctx context.Context, jobs []Job) []Outcome {
	outcomes := make([]Outcome, len(jobs))

	var g errgroup.Group
	g.SetLimit(d.maxInFlight)
	for i := range jobs {
		g.Go(func() error {
			outcomes[i] = d.Execute(ctx, jobs[i])
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Debug("批量执行完成", zap.Int("jobs", len(jobs)), zap.Int("max_in_flight", d.maxInFlight))
	return outcomes
}

// MaxInFlight 返回并发上限。
func (d *Dispatcher) MaxInFlight() int {
	return d.maxInFlight
}
