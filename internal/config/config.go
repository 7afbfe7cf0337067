package config

import (
	"errors"
	"fmt"
	"os"

	"go-chatlink-download/internal/models"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
)

// LoadConfig reads the configuration from the specified path (defaulting to
// "config.toml") on top of the built-in defaults, validates it, and returns
// the result. A missing file is not an error: the defaults already describe a
// working local layout, and flags/env can override the rest.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml" // Default path
	}

	cfg := models.DefaultConfig()

	if _, err := os.Stat(configFilePath); err == nil {
		if _, err := toml.DecodeFile(configFilePath, &cfg); err != nil {
			return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
		}
		log.Infof("Configuration loaded from %s", configFilePath)
	} else if os.IsNotExist(err) {
		log.Debugf("No config file at %s, using defaults", configFilePath)
	} else {
		return models.Config{}, fmt.Errorf("error checking config file %s: %w", configFilePath, err)
	}

	if cfg.BleveIndexPath == "" {
		cfg.BleveIndexPath = cfg.DatabasePath + ".bleve"
	}

	if err := ValidateConfig(&cfg); err != nil {
		return models.Config{}, err
	}

	return cfg, nil
}

// ValidateConfig checks the struct-level constraints declared on
// models.Config. Directories named by path fields are created on demand by
// the commands that use them, so "dirpath" only rejects a path that already
// exists as a regular file.
func ValidateConfig(cfg *models.Config) error {
	validate := validator.New()

	_ = validate.RegisterValidation("dirpath", func(fl validator.FieldLevel) bool {
		dirPath := fl.Field().String()
		if dirPath == "" {
			return true
		}
		info, err := os.Stat(dirPath)
		if err == nil {
			return info.IsDir()
		}
		return os.IsNotExist(err)
	})

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fieldErr := range fieldErrs {
				log.Errorf("Config validation failed on %s (%s)", fieldErr.Field(), fieldErr.Tag())
			}
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}
