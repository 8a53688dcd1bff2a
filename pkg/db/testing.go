package db

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTest opens an isolated in-memory sqlite database for service tests.
// The pool is pinned to one connection so every caller sees the same
// memory database.
func NewTest() (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=private"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return conn, nil
}
