package database

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/cargocult/internal/config"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&Submission{}, &Setting{}, &AuditLog{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	DB = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

func DeleteSetting(key string) error {
	return DB.Where("key = ?", key).Delete(&Setting{}).Error
}

// Submission helpers

func CreateSubmission(s *Submission) error {
	return DB.Create(s).Error
}

func GetSubmission(id uint) (*Submission, error) {
	var s Submission
	if err := DB.First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSubmissions returns up to limit submissions in creation order,
// optionally only the approved ones. limit <= 0 means no limit.
func ListSubmissions(approvedOnly bool, limit int) ([]Submission, error) {
	q := DB.Order("id")
	if approvedOnly {
		q = q.Where("approved = ?", true)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var subs []Submission
	if err := q.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ApproveSubmission marks a submission approved and records the package
// name the sandbox installs it under.
func ApproveSubmission(id uint, packageName string) error {
	res := DB.Model(&Submission{}).Where("id = ?", id).Updates(map[string]interface{}{
		"approved":     true,
		"package_name": packageName,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
