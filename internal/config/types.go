package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Circuit   CircuitConfig   `mapstructure:"circuit"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExecutionConfig 控制拆单与下单节奏。
type ExecutionConfig struct {
	IcebergThresholdQty int64         `mapstructure:"iceberg_threshold_qty"`
	ClipSize            int64         `mapstructure:"clip_size"`
	VolatilityThreshold float64       `mapstructure:"volatility_threshold"`
	MaxInFlightOrders   int           `mapstructure:"max_in_flight_orders"`
	PlaceOrderTimeout   time.Duration `mapstructure:"place_order_timeout"`
	SliceInterval       time.Duration `mapstructure:"slice_interval"`
	// MaxBatches 为单笔冰山单允许的最大切片数，超出则拒单。
	MaxBatches int64 `mapstructure:"max_batches"`
	// DefaultVWAPProfile 为空时冰山单使用均匀 TWAP 切片。
	DefaultVWAPProfile []float64 `mapstructure:"default_vwap_profile"`
}

// CircuitConfig 控制熔断器。
type CircuitConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

// RiskConfig 管理风控闸门阈值。
type RiskConfig struct {
	LiquidityLockMonths float64 `mapstructure:"liquidity_lock_months"`
	MarginDangerRatio   float64 `mapstructure:"margin_danger_ratio"`
}

// BrokerConfig 描述券商连接。
type BrokerConfig struct {
	Kind               string           `mapstructure:"kind"` // mock | ccxt
	Name               string           `mapstructure:"name"`
	APIKey             string           `mapstructure:"api_key"`
	APISecret          string           `mapstructure:"api_secret"`
	APIPass            string           `mapstructure:"api_password"`
	Wallet             string           `mapstructure:"wallet_address"`
	PrivateKey         string           `mapstructure:"private_key"`
	UseSandbox         bool             `mapstructure:"use_sandbox"`
	RateLimitPerSecond float64          `mapstructure:"rate_limit_per_second"`
	RateBurst          int              `mapstructure:"rate_burst"`
	Retry              RetryConfig      `mapstructure:"retry"`
	Mock               MockBrokerConfig `mapstructure:"mock"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// MockBrokerConfig 配置模拟券商。
type MockBrokerConfig struct {
	SeedCash float64            `mapstructure:"seed_cash"`
	Prices   map[string]float64 `mapstructure:"prices"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// ServerConfig 控制 HTTP 接口。
type ServerConfig struct {
	Addr              string  `mapstructure:"addr"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Execution.IcebergThresholdQty <= 0 {
		err = multierr.Append(err, errors.New("execution.iceberg_threshold_qty 必须大于0"))
	}
	if c.Execution.ClipSize <= 0 {
		err = multierr.Append(err, errors.New("execution.clip_size 必须大于0"))
	}
	if c.Execution.VolatilityThreshold < 0 {
		err = multierr.Append(err, errors.New("execution.volatility_threshold 不能为负"))
	}
	if c.Execution.MaxInFlightOrders <= 0 {
		err = multierr.Append(err, errors.New("execution.max_in_flight_orders 必须大于0"))
	}
	if c.Execution.PlaceOrderTimeout <= 0 {
		err = multierr.Append(err, errors.New("execution.place_order_timeout 必须大于0"))
	}
	if c.Execution.MaxBatches <= 0 {
		err = multierr.Append(err, errors.New("execution.max_batches 必须大于0"))
	}
	if c.Execution.SliceInterval < 0 {
		err = multierr.Append(err, errors.New("execution.slice_interval 不能为负"))
	}
	if len(c.Execution.DefaultVWAPProfile) > 0 {
		var sum float64
		for _, w := range c.Execution.DefaultVWAPProfile {
			if w < 0 {
				err = multierr.Append(err, errors.New("execution.default_vwap_profile 不能包含负权重"))
				break
			}
			sum += w
		}
		if sum <= 0 {
			err = multierr.Append(err, errors.New("execution.default_vwap_profile 权重之和必须大于0"))
		}
	}
	if c.Circuit.FailureThreshold <= 0 {
		err = multierr.Append(err, errors.New("circuit.failure_threshold 必须大于0"))
	}
	if c.Circuit.RecoveryTimeout <= 0 {
		err = multierr.Append(err, errors.New("circuit.recovery_timeout 必须大于0"))
	}
	if c.Risk.LiquidityLockMonths <= 0 {
		err = multierr.Append(err, errors.New("risk.liquidity_lock_months 必须大于0"))
	}
	if c.Risk.MarginDangerRatio <= 0 || c.Risk.MarginDangerRatio > 1 {
		err = multierr.Append(err, errors.New("risk.margin_danger_ratio 必须位于(0,1]"))
	}
	switch strings.ToLower(c.Broker.Kind) {
	case "mock":
		if c.Broker.Mock.SeedCash < 0 {
			err = multierr.Append(err, errors.New("broker.mock.seed_cash 不能为负"))
		}
	case "ccxt":
		if c.Broker.Name == "" {
			err = multierr.Append(err, errors.New("broker.name 不能为空"))
		}
		if strings.EqualFold(c.Broker.Name, "hyperliquid") && (c.Broker.Wallet == "" || c.Broker.PrivateKey == "") {
			err = multierr.Append(err, errors.New("hyperliquid 交易需要配置 wallet_address 与 private_key"))
		}
		if c.Broker.Retry.MaxAttempts <= 0 {
			err = multierr.Append(err, errors.New("broker.retry.max_attempts 必须大于0"))
		}
		if c.Broker.Retry.MinDelay > c.Broker.Retry.MaxDelay {
			err = multierr.Append(err, errors.New("broker.retry.min_delay 不能大于 max_delay"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("broker.kind 不支持: %q", c.Broker.Kind))
	}
	if c.Broker.RateLimitPerSecond <= 0 {
		err = multierr.Append(err, errors.New("broker.rate_limit_per_second 必须大于0"))
	}
	if c.Broker.RateBurst <= 0 {
		err = multierr.Append(err, errors.New("broker.rate_burst 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if c.Server.Addr == "" {
		err = multierr.Append(err, errors.New("server.addr 不能为空"))
	}
	if c.Server.RequestsPerSecond <= 0 || c.Server.Burst <= 0 {
		err = multierr.Append(err, errors.New("server 限流参数必须大于0"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
