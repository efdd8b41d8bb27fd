package models

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var DB *sql.DB
var GormDB *gorm.DB

// InitDB 打开 MySQL 连接（Native SQL + GORM）并自动建表
func InitDB(dsn string) error {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn: db,
	}), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("init gorm: %w", err)
	}

	if err := gdb.AutoMigrate(&Project{}, &Task{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	DB = db
	GormDB = gdb
	zap.L().Info("database connected (native SQL + GORM)")
	return nil
}

// SaveProject 保存项目快照（存在则覆盖）
func SaveProject(db *gorm.DB, p *Project) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.LastModified = now.UnixMilli()
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(p).Error
}

func GetProjectByID(db *gorm.DB, id string) (*Project, error) {
	var p Project
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects 按最近修改时间倒序，只取摘要字段
func ListProjects(db *gorm.DB, limit int) ([]Project, error) {
	var projects []Project
	q := db.Select("id", "name", "language", "last_modified", "created_at", "updated_at").
		Order("last_modified DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&projects).Error; err != nil {
		return nil, err
	}
	return projects, nil
}

func DeleteProjectByID(db *gorm.DB, id string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&Task{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Project{}, "id = ?", id).Error
	})
}
