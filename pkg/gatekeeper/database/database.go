package database

import (
	"errors"
	"fmt"

	"github.com/mikepea/gatekeeper/pkg/gatekeeper/auth"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Connect initializes the database connection and runs migrations.
// For now, uses SQLite.
func Connect(dsn string) error {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database %s: %w", dsn, err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	DB = db
	return nil
}

// GetDB returns the database instance.
func GetDB() *gorm.DB {
	return DB
}

// RootOwner describes the account that bootstraps the directory
type RootOwner struct {
	Email    string
	Name     string
	Password string
}

// EnsureRootOwner makes sure exactly one root owner exists. An existing root
// owner is left untouched; otherwise the configured account is created, or
// promoted if the email is already registered.
func EnsureRootOwner(db *gorm.DB, owner RootOwner, log *zap.Logger) (models.User, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var root models.User
	err := db.Where("is_root = ?", true).First(&root).Error
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, fmt.Errorf("find root owner: %w", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email = ?", owner.Email).First(&root).Error; err == nil {
			root.Role = roles.OrgRoleOwner
			root.Status = models.UserStatusActive
			root.IsRoot = true
			if err := tx.Save(&root).Error; err != nil {
				return err
			}
			log.Info("promoted existing user to root owner", zap.String("email", root.Email))
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hash, err := auth.HashPassword(owner.Password)
		if err != nil {
			return err
		}
		root = models.User{
			Email:        owner.Email,
			Name:         owner.Name,
			PasswordHash: hash,
			Role:         roles.OrgRoleOwner,
			Status:       models.UserStatusActive,
			IsRoot:       true,
		}
		if err := tx.Create(&root).Error; err != nil {
			return err
		}
		log.Warn("created root owner; change its password", zap.String("email", root.Email))
		return nil
	})
	if err != nil {
		return models.User{}, fmt.Errorf("ensure root owner: %w", err)
	}
	return root, nil
}
