package order

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/multierr"
)

// ValidationError 表示请求格式非法，在任何券商交互之前返回。
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "order: 请求校验失败: " + strings.Join(e.Problems, "; ")
}

// PartialExecutionError 仅作提示：部分切片成功、部分未成交。
type PartialExecutionError struct {
	Requested int64
	Filled    int64
	Submitted int
	Planned   int
}

func (e *PartialExecutionError) Error() string {
	return fmt.Sprintf("order: 部分执行 filled=%d/%d batches=%d/%d", e.Filled, e.Requested, e.Submitted, e.Planned)
}

// Validate 检查请求字段的基本合法性。止损方向由风控闸门判定。
func (r OrderRequest) Validate() error {
	var err error

	if strings.TrimSpace(r.Symbol) == "" {
		err = multierr.Append(err, errors.New("symbol 不能为空"))
	}
	if !r.Side.Valid() {
		err = multierr.Append(err, fmt.Errorf("未知方向 %q", r.Side))
	}
	if r.Quantity <= 0 {
		err = multierr.Append(err, fmt.Errorf("quantity 必须为正整数, got %d", r.Quantity))
	}
	if !r.EntryPrice.IsPositive() {
		err = multierr.Append(err, fmt.Errorf("entry_price 必须大于0, got %s", r.EntryPrice))
	}
	if math.IsNaN(r.EstimatedVolatility) || math.IsInf(r.EstimatedVolatility, 0) || r.EstimatedVolatility < 0 {
		err = multierr.Append(err, fmt.Errorf("estimated_volatility 非法: %v", r.EstimatedVolatility))
	}

	if err == nil {
		return nil
	}

	errs := multierr.Errors(err)
	problems := make([]string, 0, len(errs))
	for _, e := range errs {
		problems = append(problems, e.Error())
	}
	return &ValidationError{Problems: problems}
}
