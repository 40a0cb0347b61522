package routing

import (
	"errors"
	"fmt"
	"strings"

	"trade-gate/internal/config"
	"trade-gate/internal/order"
)

// ErrInvalidQuantity 表示数量不为正，或切片数超出上限。
var ErrInvalidQuantity = errors.New("routing: InvalidQuantity")

const (
	DefaultIcebergThreshold    int64   = 500
	DefaultClipSize            int64   = 100
	DefaultVolatilityThreshold float64 = 0.03
	DefaultMaxBatches          int64   = 1000
)

// Params 为路由阈值。
type Params struct {
	IcebergThreshold    int64
	ClipSize            int64
	VolatilityThreshold float64
	MaxBatches          int64
}

// DefaultParams 返回默认阈值。
func DefaultParams() Params {
	return Params{
		IcebergThreshold:    DefaultIcebergThreshold,
		ClipSize:            DefaultClipSize,
		VolatilityThreshold: DefaultVolatilityThreshold,
		MaxBatches:          DefaultMaxBatches,
	}
}

// ParamsFromConfig 从执行配置读取阈值，非法值回退默认。
func ParamsFromConfig(cfg config.ExecutionConfig) Params {
	p := Params{
		IcebergThreshold:    cfg.IcebergThresholdQty,
		ClipSize:            cfg.ClipSize,
		VolatilityThreshold: cfg.VolatilityThreshold,
		MaxBatches:          cfg.MaxBatches,
	}
	return p.normalize()
}

func (p Params) normalize() Params {
	d := DefaultParams()
	if p.IcebergThreshold <= 0 {
		p.IcebergThreshold = d.IcebergThreshold
	}
	if p.ClipSize <= 0 {
		p.ClipSize = d.ClipSize
	}
	if p.VolatilityThreshold < 0 {
		p.VolatilityThreshold = d.VolatilityThreshold
	}
	if p.MaxBatches <= 0 {
		p.MaxBatches = d.MaxBatches
	}
	return p
}

// Decision 为路由结论。切片数值由 schedule 包生成。
type Decision struct {
	Style      order.ExecutionStyle
	OrderType  order.OrderType
	BatchCount int64
	Reason     string
}

// Route 根据数量与波动率决定执行方式与委托类型。
func Route(quantity int64, volatility float64, params Params) (Decision, error) {
	if quantity <= 0 {
		return Decision{}, fmt.Errorf("%w: quantity=%d", ErrInvalidQuantity, quantity)
	}
	p := params.normalize()

	reasons := make([]string, 0, 2)
	d := Decision{
		Style:      order.StyleImmediate,
		OrderType:  order.OrderTypeMarket,
		BatchCount: 1,
	}

	if quantity > p.IcebergThreshold {
		d.Style = order.StyleIceberg
		d.BatchCount = ceilDiv(quantity, p.ClipSize)
		if d.BatchCount > p.MaxBatches {
			return Decision{}, fmt.Errorf("%w: quantity=%d 需要 %d 个切片，超过上限 %d", ErrInvalidQuantity, quantity, d.BatchCount, p.MaxBatches)
		}
		reasons = append(reasons, fmt.Sprintf("quantity %d > iceberg threshold %d, %d clips of %d", quantity, p.IcebergThreshold, d.BatchCount, p.ClipSize))
	} else {
		reasons = append(reasons, fmt.Sprintf("quantity %d <= iceberg threshold %d, single order", quantity, p.IcebergThreshold))
	}

	if volatility > p.VolatilityThreshold {
		d.OrderType = order.OrderTypeLimit
		reasons = append(reasons, fmt.Sprintf("volatility %.4f > %.4f, limit order", volatility, p.VolatilityThreshold))
	} else {
		reasons = append(reasons, fmt.Sprintf("volatility %.4f <= %.4f, market order", volatility, p.VolatilityThreshold))
	}

	d.Reason = strings.Join(reasons, "; ")
	return d, nil
}

// ceilDiv 要求 a>0、b>0，不会溢出。
func ceilDiv(a, b int64) int64 {
	return (a-1)/b + 1
}
