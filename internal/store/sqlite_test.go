package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"trade-gate/internal/config"
)

func TestNewSQLite_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "gate.db")
	s, err := NewSQLite(config.DatabaseConfig{
		Path:            path,
		MaxOpenConns:    2,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer s.Close()

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}
	if _, err := s.DB().Exec(`CREATE TABLE t (id INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
}

func TestNewSQLite_InMemory(t *testing.T) {
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	defer s.Close()

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}
}
