package audit

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ZapSink 将审计事件写入结构化日志。
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink 创建日志审计。
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

// Record 实现 Sink。
func (s *ZapSink) Record(_ context.Context, event Event) error {
	s.logger.Info("审计事件",
		zap.String("type", string(event.Type)),
		zap.String("execution_id", event.ExecutionID),
		zap.String("symbol", event.Symbol),
		zap.Time("timestamp", event.Timestamp),
		zap.Any("payload", event.Payload),
	)
	return nil
}

// MemorySink 在内存中保存事件，供测试与本地调试使用。
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink 创建内存审计。
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record 实现 Sink。
func (s *MemorySink) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events 返回全部事件副本。
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// OfType 按类型过滤事件。
func (s *MemorySink) OfType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// MultiSink 将事件分发到多个 Sink，单个失败不影响其余。
type MultiSink []Sink

// Record 实现 Sink，合并所有下游错误。
func (m MultiSink) Record(ctx context.Context, event Event) error {
	var err error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		err = multierr.Append(err, sink.Record(ctx, event))
	}
	return err
}

// Nop 丢弃所有事件。
type Nop struct{}

// Record 实现 Sink。
func (Nop) Record(context.Context, Event) error { return nil }
