package risk

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"trade-gate/internal/config"
	"trade-gate/internal/order"
)

const (
	defaultLiquidityLockMonths = 3.0
	defaultMarginDangerRatio   = 0.10
)

// Gate 在任何券商交互之前执行风控检查，无副作用。
type Gate struct {
	liquidityLockMonths float64
	marginDangerRatio   float64
	logger              *zap.Logger
}

// NewGate 创建风控闸门。阈值未设置时使用默认值，经 config.Load 的配置已保证阈值为正。
func NewGate(cfg config.RiskConfig, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	lock := cfg.LiquidityLockMonths
	if lock <= 0 {
		lock = defaultLiquidityLockMonths
	}
	margin := cfg.MarginDangerRatio
	if margin <= 0 {
		margin = defaultMarginDangerRatio
	}
	return &Gate{
		liquidityLockMonths: lock,
		marginDangerRatio:   margin,
		logger:              logger,
	}
}

// Validate 运行全部检查并汇总所有失败原因。
func (g *Gate) Validate(req order.OrderRequest, state order.AccountRiskState) ValidationResult {
	var err error
	err = multierr.Append(err, g.checkStopLoss(req))
	err = multierr.Append(err, g.checkLiquidity(req, state))
	err = multierr.Append(err, g.checkMargin(state))

	result := ValidationResult{Passed: err == nil}
	for _, e := range multierr.Errors(err) {
		var f *Finding
		if errors.As(e, &f) {
			result.Findings = append(result.Findings, *f)
		}
	}

	if result.Passed {
		g.logger.Debug("风控检查通过",
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.Int64("quantity", req.Quantity),
		)
	} else {
		reasons := make([]string, 0, len(result.Findings))
		for _, r := range result.Reasons() {
			reasons = append(reasons, string(r))
		}
		g.logger.Warn("风控拦截",
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.Strings("reasons", reasons),
		)
	}

	return result
}

// checkStopLoss 要求多头止损低于入场价、空头止损高于入场价，相等同样拒绝。
func (g *Gate) checkStopLoss(req order.OrderRequest) error {
	if !req.HasStopLoss() {
		return &Finding{Reason: ReasonMissingOrInvalidStopLoss, Detail: "缺少止损价"}
	}

	stop := req.StopLoss.Decimal
	if req.Side.ConsumesCapital() {
		if !stop.LessThan(req.EntryPrice) {
			return &Finding{
				Reason: ReasonMissingOrInvalidStopLoss,
				Detail: fmt.Sprintf("多头止损 %s 必须低于入场价 %s", stop, req.EntryPrice),
			}
		}
		return nil
	}

	if !stop.GreaterThan(req.EntryPrice) {
		return &Finding{
			Reason: ReasonMissingOrInvalidStopLoss,
			Detail: fmt.Sprintf("空头止损 %s 必须高于入场价 %s", stop, req.EntryPrice),
		}
	}
	return nil
}

// checkLiquidity 应急资金不足时禁止占用资金的方向，卖出/平仓始终放行。
func (g *Gate) checkLiquidity(req order.OrderRequest, state order.AccountRiskState) error {
	if !req.Side.ConsumesCapital() {
		return nil
	}
	if state.EmergencyFundMonthsCoverage < g.liquidityLockMonths {
		return &Finding{
			Reason: ReasonLiquidityLockActive,
			Detail: fmt.Sprintf("应急资金覆盖 %.2f 个月，低于 %.2f 个月", state.EmergencyFundMonthsCoverage, g.liquidityLockMonths),
		}
	}
	return nil
}

// checkMargin 仅对保证金账户生效。
func (g *Gate) checkMargin(state order.AccountRiskState) error {
	if !state.IsMargin() {
		return nil
	}
	if state.MarginBufferRatio < g.marginDangerRatio {
		return &Finding{
			Reason: ReasonMarginDangerPreCall,
			Detail: fmt.Sprintf("保证金缓冲 %.4f 低于 %.4f", state.MarginBufferRatio, g.marginDangerRatio),
		}
	}
	return nil
}
