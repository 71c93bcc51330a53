package config

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/GrainArc/MapEditor/models"
	"github.com/GrainArc/MapEditor/store"
)

const spatialiteDriver = "sqlite3_spatialite"

var registerSpatialite sync.Once

func logLevel(s string) logger.LogLevel {
	switch s {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	}
	return logger.Warn
}

// DSN 按方言拼接连接串
func (c *Config) DSN() string {
	switch c.Dialect {
	case "postgres":
		port := c.Port
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=Asia/Shanghai",
			c.Host, c.Username, c.Password, c.Dbname, port)
	case "mysql":
		port := c.Port
		if port == "" {
			port = "3306"
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local&clientFoundRows=true",
			c.Username, c.Password, c.Host, port, c.Dbname)
	}
	return c.SQLitePath
}

func (c *Config) dialector() gorm.Dialector {
	switch c.Dialect {
	case "postgres":
		return postgres.Open(c.DSN())
	case "mysql":
		return mysql.Open(c.DSN())
	case "spatialite":
		registerSpatialite.Do(func() {
			sql.Register(spatialiteDriver, &sqlite3.SQLiteDriver{Extensions: []string{"mod_spatialite"}})
		})
		return sqlite.New(sqlite.Config{DriverName: spatialiteDriver, DSN: c.DSN()})
	}
	return sqlite.Open(c.DSN())
}

// OpenDatabase 打开图层数据所在的空间数据库，返回对应的 SQL 方言
func (c *Config) OpenDatabase() (*gorm.DB, store.Dialect, error) {
	d, err := store.DialectByName(c.Dialect)
	if err != nil {
		return nil, store.Dialect{}, err
	}
	db, err := gorm.Open(c.dialector(), &gorm.Config{Logger: logger.Default.LogMode(logLevel(c.LogLevel))})
	if err != nil {
		log.Printf("连接数据库失败: %v", err)
		return nil, store.Dialect{}, err
	}
	log.Printf("数据库已连接: %s", c.Dialect)
	return db, d, nil
}

// OpenAudit 打开编辑留痕库（SQLite）并建表
func (c *Config) OpenAudit() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(c.AuditDB), &gorm.Config{Logger: logger.Default.LogMode(logLevel(c.LogLevel))})
	if err != nil {
		log.Printf("打开留痕库失败: %v", err)
		return nil, err
	}
	if err := db.AutoMigrate(&models.GeoRecord{}, &models.EditSession{}); err != nil {
		log.Printf("数据库迁移失败: %v", err)
		return nil, err
	}
	return db, nil
}
