package risk

import (
	"strings"
)

// Reason 为风控拒绝原因代码。
type Reason string

const (
	ReasonMissingOrInvalidStopLoss Reason = "MissingOrInvalidStopLoss"
	ReasonLiquidityLockActive      Reason = "LiquidityLockActive"
	ReasonMarginDangerPreCall      Reason = "MarginDangerPreCall"
)

// Finding 为单项检查的失败详情。
type Finding struct {
	Reason Reason `json:"reason"`
	Detail string `json:"detail"`
}

func (f *Finding) Error() string {
	return string(f.Reason) + ": " + f.Detail
}

// ValidationResult 汇总全部检查的结论，不会在首个失败处短路。
type ValidationResult struct {
	Passed   bool      `json:"passed"`
	Findings []Finding `json:"findings,omitempty"`
}

// Reasons 返回全部失败原因代码。
func (r ValidationResult) Reasons() []Reason {
	reasons := make([]Reason, 0, len(r.Findings))
	for _, f := range r.Findings {
		reasons = append(reasons, f.Reason)
	}
	return reasons
}

// Has 判断是否包含某个原因。
func (r ValidationResult) Has(reason Reason) bool {
	for _, f := range r.Findings {
		if f.Reason == reason {
			return true
		}
	}
	return false
}

// Err 未通过时返回 RiskBlockedError。
func (r ValidationResult) Err() error {
	if r.Passed {
		return nil
	}
	return &RiskBlockedError{Findings: append([]Finding(nil), r.Findings...)}
}

// RiskBlockedError 携带全部触发的风控原因。
type RiskBlockedError struct {
	Findings []Finding
}

func (e *RiskBlockedError) Error() string {
	parts := make([]string, 0, len(e.Findings))
	for i := range e.Findings {
		parts = append(parts, e.Findings[i].Error())
	}
	return "risk: 风控拦截: " + strings.Join(parts, "; ")
}

// Reasons 返回全部原因代码。
func (e *RiskBlockedError) Reasons() []Reason {
	return ValidationResult{Findings: e.Findings}.Reasons()
}
