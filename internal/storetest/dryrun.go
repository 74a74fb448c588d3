package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Statements collects the SQL a dry-run session renders.
type Statements struct {
	mu  sync.Mutex
	sql []string
}

func (s *Statements) LogMode(logger.LogLevel) logger.Interface { return s }

func (s *Statements) Info(context.Context, string, ...interface{})  {}
func (s *Statements) Warn(context.Context, string, ...interface{})  {}
func (s *Statements) Error(context.Context, string, ...interface{}) {}

func (s *Statements) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	sql, _ := fc()
	s.mu.Lock()
	s.sql = append(s.sql, sql)
	s.mu.Unlock()
}

// All returns the rendered statements in order.
func (s *Statements) All() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sql...)
}

// Last returns the most recent statement or "".
func (s *Statements) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sql) == 0 {
		return ""
	}
	return s.sql[len(s.sql)-1]
}

// OpenMySQLDryRun returns a MySQL-dialect session that renders statements
// without a server.
func OpenMySQLDryRun(t testing.TB) (*gorm.DB, *Statements) {
	t.Helper()

	statements := &Statements{}
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "paysync:paysync@tcp(127.0.0.1:3306)/paysync?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               statements,
	})
	if err != nil {
		t.Fatalf("open mysql dry run: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	return db, statements
}
