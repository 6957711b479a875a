package config

import (
	"fmt"

	"mudcore/internal/logging"
)

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn (warning), error
	Format     string          `yaml:"format"`     // json, console (text)
	File       string          `yaml:"file"`       // empty means stderr
	Categories map[string]bool `yaml:"categories"` // Per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Categories not listed are enabled.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// ToLogging converts to the logging package configuration.
func (c *LoggingConfig) ToLogging() logging.Config {
	return logging.Config{
		Level:      c.Level,
		Format:     c.Format,
		File:       c.File,
		Categories: c.Categories,
	}
}

func (c *LoggingConfig) validate() error {
	if err := c.ToLogging().Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	return nil
}
