package testutil

import (
	"fmt"
	"regexp"
	"testing"

	"rewardmint/pkg/db"

	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// NewTestDB opens a private in-memory SQLite database named after the test
// and migrates models into it. Failed statements are logged to the test
// output.
func NewTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", unsafeChars.ReplaceAllString(t.Name(), "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: db.NewGormLogger(zaptest.NewLogger(t), logger.Error, 0, false),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("test database handle: %v", err)
	}
	// Shared-cache memory databases lock per connection.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := gdb.AutoMigrate(models...); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return gdb
}
