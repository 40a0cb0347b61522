package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trade-gate/internal/audit"
	"trade-gate/internal/breaker"
	"trade-gate/internal/broker"
	"trade-gate/internal/config"
	"trade-gate/internal/order"
	"trade-gate/internal/risk"
	"trade-gate/internal/routing"
	"trade-gate/internal/schedule"
)

const defaultPlaceOrderTimeout = 10 * time.Second

// Coordinator 串联风控、路由、切片与熔断保护下的券商提交。
type Coordinator struct {
	gate     *risk.Gate
	params   routing.Params
	breakers *breaker.Registry
	sink     audit.Sink
	logger   *zap.Logger

	defaultProfile []float64
	callTimeout    time.Duration
	sliceInterval  time.Duration
	newID          func() string
}

// NewCoordinator 通过构造注入创建执行协调器，不依赖任何全局实例。
func NewCoordinator(cfg config.ExecutionConfig, gate *risk.Gate, breakers *breaker.Registry, sink audit.Sink, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gate == nil {
		gate = risk.NewGate(config.RiskConfig{}, logger)
	}
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.Settings{}, logger)
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	timeout := cfg.PlaceOrderTimeout
	if timeout <= 0 {
		timeout = defaultPlaceOrderTimeout
	}
	return &Coordinator{
		gate:           gate,
		params:         routing.ParamsFromConfig(cfg),
		breakers:       breakers,
		sink:           sink,
		logger:         logger.Named("execution"),
		defaultProfile: append([]float64(nil), cfg.DefaultVWAPProfile...),
		callTimeout:    timeout,
		sliceInterval:  cfg.SliceInterval,
		newID:          uuid.NewString,
	}
}

// Execute 执行一笔订单。
//
// 请求非法返回 REJECTED 与 *order.ValidationError；风控未通过返回 BLOCKED 与
// *risk.RiskBlockedError，两者都不会调用券商。券商侧失败记录在结果中，不作为错误返回。
func (c *Coordinator) Execute(ctx context.Context, req order.OrderRequest, state order.AccountRiskState, adapter broker.Adapter, opts ...Option) (order.ExecutionResult, error) {
	execID := c.newID()
	logger := c.logger.With(
		zap.String("execution_id", execID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Int64("quantity", req.Quantity),
	)
	result := order.ExecutionResult{
		Request:   req,
		Orders:    []order.BrokerOrderResult{},
		StartedAt: time.Now().UTC(),
	}

	c.record(ctx, execID, req.Symbol, audit.EventRequestReceived, audit.RequestPayload{Request: req, RiskState: state})

	if err := req.Validate(); err != nil {
		var verr *order.ValidationError
		if errors.As(err, &verr) {
			result.Reasons = append(result.Reasons, verr.Problems...)
		}
		logger.Warn("请求校验失败", zap.Error(err))
		return c.finish(ctx, execID, result, order.StatusRejected), err
	}

	verdict := c.gate.Validate(req, state)
	c.record(ctx, execID, req.Symbol, audit.EventRiskDecision, audit.RiskPayload{Passed: verdict.Passed, Reasons: reasonStrings(verdict.Reasons())})
	if !verdict.Passed {
		result.Reasons = reasonStrings(verdict.Reasons())
		logger.Warn("风控拦截", zap.Strings("reasons", result.Reasons))
		return c.finish(ctx, execID, result, order.StatusBlocked), verdict.Err()
	}

	plan, err := c.Plan(req, opts...)
	if err != nil {
		result.Reasons = append(result.Reasons, err.Error())
		logger.Warn("生成执行计划失败", zap.Error(err))
		return c.finish(ctx, execID, result, order.StatusRejected), err
	}
	result.Plan = plan
	c.record(ctx, execID, req.Symbol, audit.EventRouteDecision, audit.RoutePayload{Plan: plan})
	logger.Info("执行计划已生成",
		zap.String("style", string(plan.ExecutionStyle)),
		zap.String("order_type", string(plan.OrderType)),
		zap.String("schedule", string(plan.Schedule)),
		zap.Int("batches", len(plan.Batches)),
	)

	status := c.submitBatches(ctx, execID, req, plan, adapter, &result, logger)
	return c.finish(ctx, execID, result, status), nil
}

// Plan 路由并切片，IMMEDIATE 为单笔，ICEBERG 按 VWAP 曲线或均匀 TWAP 切片。
func (c *Coordinator) Plan(req order.OrderRequest, opts ...Option) (order.ExecutionPlan, error) {
	decision, err := routing.Route(req.Quantity, req.EstimatedVolatility, c.params)
	if err != nil {
		return order.ExecutionPlan{}, fmt.Errorf("execution: 路由失败: %w", err)
	}

	plan := order.ExecutionPlan{
		ExecutionStyle: decision.Style,
		OrderType:      decision.OrderType,
		Schedule:       order.ScheduleSingle,
		Batches:        []int64{req.Quantity},
		Reason:         decision.Reason,
	}
	if decision.Style != order.StyleIceberg {
		return plan, nil
	}

	profile := collectOptions(opts).profile
	if len(profile) == 0 {
		profile = c.defaultProfile
	}

	var batches []int64
	if len(profile) > 0 {
		batches, err = schedule.GenerateVWAP(req.Quantity, profile)
		plan.Schedule = order.ScheduleVWAP
	} else {
		batches, err = schedule.GenerateTWAP(req.Quantity, decision.BatchCount)
		plan.Schedule = order.ScheduleTWAP
	}
	if err != nil {
		return order.ExecutionPlan{}, fmt.Errorf("execution: 生成切片失败: %w", err)
	}

	plan.Batches = schedule.Compact(batches)
	plan.Reason = fmt.Sprintf("%s; %s schedule, %d batches", decision.Reason, plan.Schedule, len(plan.Batches))
	return plan, nil
}

// submitBatches 按计划顺序逐笔提交，只在切片之间检查取消。
func (c *Coordinator) submitBatches(ctx context.Context, execID string, req order.OrderRequest, plan order.ExecutionPlan, adapter broker.Adapter, result *order.ExecutionResult, logger *zap.Logger) order.Status {
	br := c.breakers.Get(adapter.Name())

	var (
		accepted  int
		aborted   bool
		cancelled bool
	)

	for i, qty := range plan.Batches {
		if i > 0 {
			if err := c.pace(ctx); err != nil {
				cancelled = true
				result.Reasons = append(result.Reasons, fmt.Sprintf("cancelled after %d of %d batches: %v", i, len(plan.Batches), err))
				logger.Warn("执行已取消，停止提交剩余切片", zap.Int("submitted", i), zap.Error(err))
				break
			}
		}

		ticket := broker.Ticket{
			Symbol:        req.Symbol,
			Quantity:      qty,
			Side:          req.Side,
			Type:          plan.OrderType,
			LimitPrice:    req.EntryPrice,
			ClientOrderID: fmt.Sprintf("%s-%d", execID, i),
			BatchIndex:    i,
		}

		res, err := c.submit(ctx, br, adapter, ticket)
		if err != nil {
			if errors.Is(err, breaker.ErrCircuitOpen) {
				aborted = true
				result.Reasons = append(result.Reasons, fmt.Sprintf("circuit open at batch %d, %d batches not sent: %v", i, len(plan.Batches)-i, err))
				c.record(ctx, execID, req.Symbol, audit.EventBatchResult, audit.BatchPayload{BatchIndex: i, Quantity: qty, Error: err.Error()})
				logger.Warn("熔断器打开，中止剩余切片", zap.Int("batch", i), zap.Error(err))
				break
			}
			result.Failures = append(result.Failures, order.BatchFailure{BatchIndex: i, Quantity: qty, Error: err.Error()})
			c.record(ctx, execID, req.Symbol, audit.EventBatchResult, audit.BatchPayload{BatchIndex: i, Quantity: qty, Error: err.Error()})
			logger.Warn("切片提交失败，继续下一切片", zap.Int("batch", i), zap.Int64("batch_quantity", qty), zap.Error(err))
			continue
		}

		res.BatchIndex = i
		result.Orders = append(result.Orders, res)
		result.FilledQuantity += res.FilledQuantity
		if res.Status != order.BrokerRejected {
			accepted++
		}
		c.record(ctx, execID, req.Symbol, audit.EventBatchResult, audit.BatchPayload{BatchIndex: i, Quantity: qty, Result: &res})
	}

	switch {
	case cancelled:
		return order.StatusPartial
	case accepted == len(plan.Batches) && !aborted:
		return order.StatusCompleted
	case accepted > 0:
		return order.StatusPartial
	default:
		return order.StatusRejected
	}
}

// submit 在熔断保护下提交单个切片。超时基于不可取消的上下文派生，调用方取消不会打断在途切片。
func (c *Coordinator) submit(ctx context.Context, br *breaker.Breaker, adapter broker.Adapter, ticket broker.Ticket) (order.BrokerOrderResult, error) {
	return breaker.Execute(ctx, br, func(ctx context.Context) (order.BrokerOrderResult, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
		defer cancel()
		return adapter.PlaceOrder(callCtx, ticket)
	})
}

func (c *Coordinator) pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.sliceInterval <= 0 {
		return nil
	}
	timer := time.NewTimer(c.sliceInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Coordinator) finish(ctx context.Context, execID string, result order.ExecutionResult, status order.Status) order.ExecutionResult {
	result.Status = status
	result.FinishedAt = time.Now().UTC()
	c.record(ctx, execID, result.Request.Symbol, audit.EventExecutionCompleted, audit.CompletedPayload{
		Status:         status,
		FilledQuantity: result.FilledQuantity,
		Orders:         len(result.Orders),
		Failures:       len(result.Failures),
		Reasons:        result.Reasons,
		Duration:       result.FinishedAt.Sub(result.StartedAt),
	})
	c.logger.Info("执行结束",
		zap.String("execution_id", execID),
		zap.String("symbol", result.Request.Symbol),
		zap.String("status", string(status)),
		zap.Int64("filled", result.FilledQuantity),
		zap.Int("orders", len(result.Orders)),
		zap.Int("failures", len(result.Failures)),
	)
	return result
}

// record 写入审计事件，失败只记日志，不影响执行结果。
func (c *Coordinator) record(ctx context.Context, execID, symbol string, typ audit.EventType, payload interface{}) {
	event := audit.Event{
		Type:        typ,
		ExecutionID: execID,
		Symbol:      symbol,
		Timestamp:   time.Now().UTC(),
		Payload:     payload,
	}
	if err := c.sink.Record(context.WithoutCancel(ctx), event); err != nil {
		c.logger.Warn("写入审计事件失败", zap.String("type", string(typ)), zap.Error(err))
	}
}

func reasonStrings(reasons []risk.Reason) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, string(r))
	}
	return out
}
