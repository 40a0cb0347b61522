package audit

import (
	"context"
	"time"

	"trade-gate/internal/order"
)

// EventType 表示审计事件类型。
type EventType string

const (
	EventRequestReceived    EventType = "request_received"
	EventRiskDecision       EventType = "risk_decision"
	EventRouteDecision      EventType = "route_decision"
	EventBatchResult        EventType = "batch_result"
	EventExecutionCompleted EventType = "execution_completed"
)

// Event 为一条审计记录，同一笔执行的事件共享 ExecutionID。
type Event struct {
	Type        EventType   `json:"type"`
	ExecutionID string      `json:"execution_id"`
	Symbol      string      `json:"symbol"`
	Timestamp   time.Time   `json:"timestamp"`
	Payload     interface{} `json:"payload"`
}

// Sink 接收执行流水线产生的审计事件。
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// RequestPayload 记录收到的请求与账户风险快照。
type RequestPayload struct {
	Request   order.OrderRequest     `json:"request"`
	RiskState order.AccountRiskState `json:"risk_state"`
}

// RiskPayload 记录风控闸门的判定。
type RiskPayload struct {
	Passed  bool     `json:"passed"`
	Reasons []string `json:"reasons,omitempty"`
}

// RoutePayload 记录路由与切片计划。
type RoutePayload struct {
	Plan order.ExecutionPlan `json:"plan"`
}

// BatchPayload 记录单个切片的提交结果，失败时 Result 为空。
type BatchPayload struct {
	BatchIndex int                      `json:"batch_index"`
	Quantity   int64                    `json:"quantity"`
	Result     *order.BrokerOrderResult `json:"result,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// CompletedPayload 汇总整笔执行。
type CompletedPayload struct {
	Status         order.Status  `json:"overall_status"`
	FilledQuantity int64         `json:"filled_quantity"`
	Orders         int           `json:"orders"`
	Failures       int           `json:"failures"`
	Reasons        []string      `json:"reasons,omitempty"`
	Duration       time.Duration `json:"duration"`
}
