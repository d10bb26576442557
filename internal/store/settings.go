package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harvestbin/silo/internal/logging"
)

// GetSetting retrieves a setting value by key.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// GetSettingJSON retrieves a setting and unmarshals it from JSON.
func (s *Store) GetSettingJSON(key string, v any) error {
	value, err := s.GetSetting(key)
	if err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	return json.Unmarshal([]byte(value), v)
}

// SetSetting stores a setting value.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// SetSettingJSON stores a setting as JSON.
func (s *Store) SetSettingJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal setting %s: %w", key, err)
	}
	return s.SetSetting(key, string(data))
}

// GetAllSettings retrieves all settings.
func (s *Store) GetAllSettings() (map[string]string, error) {
	rows, err := s.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[key] = value
	}

	return settings, rows.Err()
}

// DeleteSetting removes a setting.
func (s *Store) DeleteSetting(key string) error {
	_, err := s.Exec("DELETE FROM settings WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// Default settings
var DefaultSettings = map[string]any{
	"log.level":                       "info",
	"log.max_size_mb":                 logging.DefaultMaxSizeMB,
	"log.max_backups":                 logging.DefaultMaxBackups,
	"log.max_age_days":                logging.DefaultMaxAgeDays,
	"log.compress":                    logging.DefaultCompress,
	"maintenance.optimize_schedule":   "@hourly",
	"maintenance.checkpoint_schedule": "@every 15m",
	"maintenance.vacuum_schedule":     "", // empty = disabled
	"events.heartbeat_seconds":        30,
	"api.require_token":               false,
}

// InitializeDefaults sets default values for settings that don't exist.
func (s *Store) InitializeDefaults() error {
	for key, value := range DefaultSettings {
		existing, err := s.GetSetting(key)
		if err != nil {
			return err
		}
		if existing == "" {
			if err := s.SetSettingJSON(key, value); err != nil {
				return err
			}
		}
	}
	return nil
}
