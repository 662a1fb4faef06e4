package database

import (
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewGorm opens a gorm handle on top of the existing pgx pool so analysis
// persistence shares connections and limits with the spatial repositories.
func NewGorm(db *Database) (*gorm.DB, error) {
	if db == nil || db.Pool == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	sqlDB := stdlib.OpenDBFromPool(db.Pool)

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm on pgx pool: %w", err)
	}
	return gdb, nil
}
