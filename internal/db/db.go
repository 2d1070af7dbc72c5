package db

import (
	"log"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Connect opens MySQL when a DSN is configured and falls back to the local
// sqlite file otherwise (dev and single-node deployments).
func Connect(dsn, sqlitePath string) *gorm.DB {
	var (
		gdb *gorm.DB
		err error
	)
	if dsn != "" {
		gdb, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	} else {
		gdb, err = gorm.Open(gormsqlite.Open(sqlitePath), &gorm.Config{})
	}
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	return gdb
}
