package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen 对应 CircuitOpenError：依赖已被隔离，未发起调用。
var ErrCircuitOpen = errors.New("breaker: CircuitOpenError")

// State 表示熔断器状态。
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText 让状态以名称形式序列化。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Settings 为熔断器参数。
type Settings struct {
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	// Now 可注入时钟，默认 time.Now。
	Now func() time.Time
}

// OpenError 为拒绝调用时返回的错误，可用 errors.Is(err, ErrCircuitOpen) 判断。
type OpenError struct {
	Name  string
	State State
	// RetryAfter 为距离允许试探调用的剩余时间，HALF_OPEN 时为 0。
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("breaker: %s 处于 %s，拒绝调用 (retry_after=%s)", e.Name, e.State, e.RetryAfter)
}

func (e *OpenError) Unwrap() error {
	return ErrCircuitOpen
}

// Snapshot 为监控用的状态快照。
type Snapshot struct {
	Name         string `json:"name"`
	State        State  `json:"state"`
	FailureCount int    `json:"failure_count"`
	// LastFailure 从未失败时为 nil。
	LastFailure *time.Time `json:"last_failure_timestamp,omitempty"`
}

// Breaker 为单个受保护依赖维护熔断状态，并发安全。
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time
	logger           *zap.Logger

	mu           sync.Mutex
	state        State
	failureCount int
	lastFailure  time.Time
}

// New 创建熔断器，非法参数回退默认值。
func New(s Settings, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Breaker{
		name:             s.Name,
		failureThreshold: s.FailureThreshold,
		recoveryTimeout:  s.RecoveryTimeout,
		now:              s.Now,
		logger:           logger.With(zap.String("breaker", s.Name)),
		state:            StateClosed,
	}
}

// Name 返回依赖名称。
func (b *Breaker) Name() string {
	return b.name
}

// Call 在熔断保护下执行 fn。OPEN 时 fn 不会被调用。
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) (err error) {
	trial, err := b.acquire()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(trial, fmt.Errorf("breaker: panic: %v", r))
			panic(r)
		}
		b.record(trial, err)
	}()

	return fn(ctx)
}

// Execute 为带返回值的 Call。
func Execute[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Call(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// acquire 决定是否放行，返回本次调用是否为 HALF_OPEN 试探。
func (b *Breaker) acquire() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		elapsed := b.now().Sub(b.lastFailure)
		if elapsed <= b.recoveryTimeout {
			return false, &OpenError{Name: b.name, State: StateOpen, RetryAfter: b.recoveryTimeout - elapsed}
		}
		b.state = StateHalfOpen
		b.logger.Info("熔断器进入 HALF_OPEN，放行一次试探调用")
		return true, nil
	case StateHalfOpen:
		return false, &OpenError{Name: b.name, State: StateHalfOpen}
	default:
		return false, &OpenError{Name: b.name, State: b.state}
	}
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		if err == nil {
			b.state = StateClosed
			b.failureCount = 0
			b.logger.Info("试探调用成功，熔断器恢复 CLOSED")
			return
		}
		// 试探失败直接重新打开，不重新累计阈值。
		b.state = StateOpen
		b.lastFailure = b.now()
		b.logger.Warn("试探调用失败，熔断器重新 OPEN", zap.Error(err))
		return
	}

	if err == nil {
		if b.state == StateClosed {
			b.failureCount = 0
		}
		return
	}

	b.failureCount++
	// 恢复窗口从跳闸时刻起算，OPEN/HALF_OPEN 期间迟到的失败不刷新。
	if b.state != StateClosed {
		return
	}
	b.lastFailure = b.now()
	if b.failureCount >= b.failureThreshold {
		b.state = StateOpen
		b.logger.Warn("连续失败达到阈值，熔断器 OPEN",
			zap.Int("failures", b.failureCount),
			zap.Duration("recovery_timeout", b.recoveryTimeout),
			zap.Error(err),
		)
	}
}

// State 返回当前状态。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot 返回状态快照。
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := Snapshot{
		Name:         b.name,
		State:        b.state,
		FailureCount: b.failureCount,
	}
	if !b.lastFailure.IsZero() {
		last := b.lastFailure
		snap.LastFailure = &last
	}
	return snap
}

// Reset 强制恢复 CLOSED，供运维使用。
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.logger.Info("熔断器已重置")
}
