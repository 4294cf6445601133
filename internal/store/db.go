package store

import (
	"fmt"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the production MySQL connection, mirroring the teacher's
// cmd/worker db.Connect helper.
func Connect(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	return db, nil
}

// OpenTestDB opens a fresh in-memory sqlite database for store tests,
// adapted from internal/chat/service_test.go's openTestDB helper in the
// teacher repo. Each call gets its own uniquely named database, so rows
// written through one returned *gorm.DB are not visible through another;
// the shared cache lets every pooled connection of one *gorm.DB see the
// same database.
func OpenTestDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:nimbus_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}
