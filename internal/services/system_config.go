package services

import (
	"errors"
	"strconv"

	"github.com/defeatedperson/ykc/internal/models"
	"gorm.io/gorm"
)

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetInt reads a positive integer setting, falling back to def when the key
// is missing or not a positive number.
func (s *SystemConfigService) GetInt(key string, def int) int {
	n, err := strconv.Atoi(s.GetWithDefault(key, ""))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Group: group}).Order("id").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// UpdateGroup stores new values for existing keys of group. Keys outside the
// group are rejected, and int settings must be positive.
func (s *SystemConfigService) UpdateGroup(group string, values map[string]string) error {
	if len(values) == 0 {
		return ErrNoUpdates
	}

	configs, err := s.GetByGroup(group)
	if err != nil {
		return ErrDatabase
	}
	known := make(map[string]models.SystemConfig, len(configs))
	for _, cfg := range configs {
		known[cfg.Key] = cfg
	}

	for key, value := range values {
		cfg, ok := known[key]
		if !ok {
			return ErrInvalidParameters
		}
		if cfg.Type == "int" {
			if n, err := strconv.Atoi(value); err != nil || n <= 0 {
				return ErrInvalidParameters
			}
		}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		for key, value := range values {
			if err := tx.Model(&models.SystemConfig{}).Where(&models.SystemConfig{Key: key}).
				Update("value", value).Error; err != nil {
				return ErrDatabase
			}
		}
		return nil
	})
}
