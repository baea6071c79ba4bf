package database

import "gorm.io/gorm"

// DB is the shared connection assigned by bootstrap.Setup.
var DB *gorm.DB

// Close releases the underlying pool.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
