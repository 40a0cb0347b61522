package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "gate"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	return decode(v)
}

// Default 返回仅由默认值组成的配置，用于测试与无配置文件的本地运行。
func Default() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("execution.iceberg_threshold_qty", 500)
	v.SetDefault("execution.clip_size", 100)
	v.SetDefault("execution.volatility_threshold", 0.03)
	v.SetDefault("execution.max_in_flight_orders", 4)
	v.SetDefault("execution.place_order_timeout", "10s")
	v.SetDefault("execution.slice_interval", "0s")
	v.SetDefault("execution.max_batches", 1000)
	v.SetDefault("execution.default_vwap_profile", []float64{})

	v.SetDefault("circuit.failure_threshold", 3)
	v.SetDefault("circuit.recovery_timeout", "60s")

	v.SetDefault("risk.liquidity_lock_months", 3.0)
	v.SetDefault("risk.margin_danger_ratio", 0.10)

	v.SetDefault("broker.kind", "mock")
	v.SetDefault("broker.name", "binanceusdm")
	v.SetDefault("broker.use_sandbox", true)
	v.SetDefault("broker.rate_limit_per_second", 10)
	v.SetDefault("broker.rate_burst", 5)
	v.SetDefault("broker.retry.max_attempts", 3)
	v.SetDefault("broker.retry.min_delay", "500ms")
	v.SetDefault("broker.retry.max_delay", "5s")
	v.SetDefault("broker.mock.seed_cash", 1000000)

	v.SetDefault("database.path", "data/trade_gate.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.requests_per_second", 20)
	v.SetDefault("server.burst", 40)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
