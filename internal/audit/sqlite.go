package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trade-gate/internal/store"
)

const defaultListLimit = 100

// SQLiteSink 将审计事件持久化到 audit_events 表。
type SQLiteSink struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteSink 初始化审计表。
func NewSQLiteSink(store *store.Store, logger *zap.Logger) (*SQLiteSink, error) {
	if store == nil {
		return nil, fmt.Errorf("audit: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &SQLiteSink{
		db:     store.DB(),
		logger: logger,
	}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	execution_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_events_execution ON audit_events(execution_id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("audit: 初始化表失败: %w", err)
	}
	return nil
}

// Record 实现 Sink。
func (s *SQLiteSink) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("audit: 序列化事件失败: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_events (event_type, execution_id, symbol, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(event.Type), event.ExecutionID, event.Symbol, string(payload), event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("audit: 写入事件失败: %w", err)
	}
	return nil
}

// Filter 为查询条件，零值表示不过滤。
type Filter struct {
	Type        EventType
	ExecutionID string
	Limit       int
}

// List 按写入顺序倒序返回事件，Payload 为原始 JSON。
func (s *SQLiteSink) List(ctx context.Context, filter Filter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT event_type, execution_id, symbol, payload, created_at FROM audit_events WHERE 1=1`
	args := make([]interface{}, 0, 3)
	if filter.Type != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.ExecutionID != "" {
		query += ` AND execution_id = ?`
		args = append(args, filter.ExecutionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ, execID, symbol string
			payload, created    string
		)
		if scanErr := rows.Scan(&typ, &execID, &symbol, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("audit: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			s.logger.Warn("审计事件时间格式非法", zap.String("created_at", created))
		}

		events = append(events, Event{
			Type:        EventType(typ),
			ExecutionID: execID,
			Symbol:      symbol,
			Timestamp:   ts,
			Payload:     json.RawMessage(payload),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: 遍历事件失败: %w", err)
	}
	return events, nil
}
