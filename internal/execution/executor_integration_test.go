//go:build integration
// +build integration

package execution

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade-gate/internal/breaker"
	"trade-gate/internal/broker"
	"trade-gate/internal/config"
	"trade-gate/internal/order"
	"trade-gate/internal/risk"
)

func TestCoordinatorIntegration_SandboxSubmit(t *testing.T) {
	configPath := os.Getenv("GATE_CONFIG")
	if configPath == "" {
		configPath = "../../configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Broker.Kind != "ccxt" {
		t.Skip("broker.kind 不是 ccxt，跳过真实下单测试")
	}
	if !cfg.Broker.UseSandbox {
		t.Skip("broker.use_sandbox=false，出于安全考虑跳过真实下单测试")
	}
	symbol := os.Getenv("GATE_INTEGRATION_SYMBOL")
	if symbol == "" {
		t.Skip("缺少 GATE_INTEGRATION_SYMBOL，跳过测试")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	live, err := broker.NewLiveBroker(cfg.Broker, zap.NewNop())
	if err != nil {
		t.Fatalf("初始化券商失败: %v", err)
	}
	if err := live.Authenticate(ctx); err != nil {
		t.Fatalf("券商认证失败: %v", err)
	}

	cash, err := live.GetCashBalance(ctx)
	if err != nil {
		t.Fatalf("获取余额失败: %v", err)
	}
	if !cash.IsPositive() {
		t.Skip("账户余额为 0，跳过真实下单测试")
	}

	breakers := breaker.NewRegistry(breaker.Settings{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		RecoveryTimeout:  cfg.Circuit.RecoveryTimeout,
	}, zap.NewNop())
	coord := NewCoordinator(cfg.Execution, risk.NewGate(cfg.Risk, zap.NewNop()), breakers, nil, zap.NewNop())

	entry := decimal.NewFromInt(1)
	req := order.OrderRequest{
		Symbol:              symbol,
		Side:                order.SideLong,
		Quantity:            1,
		EntryPrice:          entry,
		StopLoss:            decimal.NewNullDecimal(entry.Mul(decimal.NewFromFloat(0.98))),
		EstimatedVolatility: 0.01,
	}
	state := order.AccountRiskState{EmergencyFundMonthsCoverage: 12, MarginBufferRatio: 1}

	result, err := coord.Execute(ctx, req, state, live)
	if err != nil {
		t.Fatalf("Execute 失败: %v", err)
	}
	if result.Status == order.StatusRejected {
		t.Fatalf("下单被拒绝: %+v", result.Failures)
	}

	t.Logf("提交 %d 笔切片，status=%s filled=%d", len(result.Orders), result.Status, result.FilledQuantity)
}
