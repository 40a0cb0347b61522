package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示委托方向。LONG/SHORT 用于衍生品开仓，BUY/SELL 用于现货。
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideBuy   Side = "BUY"
	SideSell  Side = "SELL"
)

// ParseSide 解析方向字符串，大小写不敏感。
func ParseSide(value string) (Side, error) {
	side := Side(strings.ToUpper(strings.TrimSpace(value)))
	if !side.Valid() {
		return "", fmt.Errorf("order: 未知方向 %q", value)
	}
	return side, nil
}

// Valid 判断方向是否受支持。
func (s Side) Valid() bool {
	switch s {
	case SideLong, SideShort, SideBuy, SideSell:
		return true
	default:
		return false
	}
}

// ConsumesCapital 表示该方向会占用现金（买入或开多）。
func (s Side) ConsumesCapital() bool {
	return s == SideLong || s == SideBuy
}

// BrokerSide 返回券商接口使用的 buy/sell。
func (s Side) BrokerSide() string {
	if s.ConsumesCapital() {
		return "buy"
	}
	return "sell"
}

// ExecutionStyle 描述执行方式。
type ExecutionStyle string

const (
	StyleImmediate ExecutionStyle = "IMMEDIATE"
	StyleIceberg   ExecutionStyle = "ICEBERG"
)

// OrderType 描述委托类型。
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// ScheduleKind 标记切片由哪种算法生成。
type ScheduleKind string

const (
	ScheduleSingle ScheduleKind = "SINGLE"
	ScheduleTWAP   ScheduleKind = "TWAP"
	ScheduleVWAP   ScheduleKind = "VWAP"
)

// Status 为整笔执行的汇总状态。
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusPartial   Status = "PARTIAL"
	StatusRejected  Status = "REJECTED"
	StatusBlocked   Status = "BLOCKED"
)

// BrokerOrderStatus 为单笔切片在券商侧的状态。
type BrokerOrderStatus string

const (
	BrokerFilled   BrokerOrderStatus = "FILLED"
	BrokerRejected BrokerOrderStatus = "REJECTED"
	BrokerPending  BrokerOrderStatus = "PENDING"
)

// AccountType 区分现金账户与保证金账户。
type AccountType string

const (
	AccountCash   AccountType = "CASH"
	AccountMargin AccountType = "MARGIN"
)

// OrderRequest 为一次下单请求，按值传递，构造后不再修改。
type OrderRequest struct {
	Symbol              string              `json:"symbol"`
	Side                Side                `json:"side"`
	Quantity            int64               `json:"quantity"`
	EntryPrice          decimal.Decimal     `json:"entry_price"`
	StopLoss            decimal.NullDecimal `json:"stop_loss"`
	EstimatedVolatility float64             `json:"estimated_volatility"`
}

// HasStopLoss 判断是否携带止损价。
func (r OrderRequest) HasStopLoss() bool {
	return r.StopLoss.Valid
}

// AccountRiskState 由调用方按请求提供的账户风险快照。
type AccountRiskState struct {
	EmergencyFundMonthsCoverage float64 `json:"emergency_fund_months_coverage"`
	// MarginBufferRatio = 维持保证金盈余 / 持仓市值。
	MarginBufferRatio float64 `json:"margin_buffer_ratio"`
	// AccountType 为空时按保证金账户处理。
	AccountType AccountType `json:"account_type,omitempty"`
}

// IsMargin 判断是否需要执行保证金检查。
func (s AccountRiskState) IsMargin() bool {
	return s.AccountType != AccountCash
}

// ExecutionPlan 描述路由与切片结果，生成后不再修改。
type ExecutionPlan struct {
	ExecutionStyle ExecutionStyle `json:"execution_style"`
	OrderType      OrderType      `json:"order_type"`
	Schedule       ScheduleKind   `json:"schedule"`
	Batches        []int64        `json:"batches"`
	Reason         string         `json:"reason"`
}

// BrokerOrderResult 为单个切片的券商回报。
type BrokerOrderResult struct {
	BrokerOrderID  string            `json:"broker_order_id"`
	Status         BrokerOrderStatus `json:"status"`
	FilledQuantity int64             `json:"filled_quantity"`
	FillPrice      decimal.Decimal   `json:"fill_price"`
	Symbol         string            `json:"symbol"`
	Side           Side              `json:"side"`
	BatchIndex     int               `json:"batch_index"`
}

// BatchFailure 记录单个切片的提交失败。
type BatchFailure struct {
	BatchIndex int    `json:"batch_index"`
	Quantity   int64  `json:"quantity"`
	Error      string `json:"error"`
}

// ExecutionResult 为整笔执行的结构化结果。
type ExecutionResult struct {
	Request        OrderRequest        `json:"request"`
	Plan           ExecutionPlan       `json:"plan"`
	Orders         []BrokerOrderResult `json:"orders"`
	Failures       []BatchFailure      `json:"failures,omitempty"`
	Status         Status              `json:"overall_status"`
	Reasons        []string            `json:"reasons,omitempty"`
	FilledQuantity int64               `json:"filled_quantity"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     time.Time           `json:"finished_at"`
}

// Err 在部分成交时返回 PartialExecutionError，其余情况返回 nil。
func (r ExecutionResult) Err() error {
	if r.Status != StatusPartial {
		return nil
	}
	return &PartialExecutionError{
		Requested: r.Request.Quantity,
		Filled:    r.FilledQuantity,
		Submitted: len(r.Orders),
		Planned:   len(r.Plan.Batches),
	}
}
