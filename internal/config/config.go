// Package config provides configuration loading, validation, and defaults
// for the wafunnel service. Values come from config.yaml and WAFUNNEL_*
// environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration parameters for all
// components: logging, the HTTP server, storage, and the WhatsApp
// Cloud API connection.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
}

// LogConfig controls log verbosity and output format.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// DatabaseConfig holds the SQLite storage settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// WhatsAppConfig holds the WhatsApp Cloud API credentials and endpoints.
// BusinessAccountID is only needed for template listing and may be empty.
type WhatsAppConfig struct {
	AccessToken       string        `mapstructure:"access_token"      validate:"required"`
	PhoneNumberID     string        `mapstructure:"phone_number_id"   validate:"required"`
	BusinessAccountID string        `mapstructure:"business_account_id"`
	VerifyToken       string        `mapstructure:"verify_token"      validate:"required"`
	BaseURL           string        `mapstructure:"base_url"          validate:"required,url"`
	TemplateLanguage  string        `mapstructure:"template_language" validate:"required"`
	Timeout           time.Duration `mapstructure:"timeout"           validate:"min=1s,max=2m"`
}

// Load reads configuration from the given YAML file (missing file is fine,
// defaults and environment variables still apply), applies WAFUNNEL_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("WAFUNNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("database.path", "wafunnel.db")

	v.SetDefault("whatsapp.access_token", "")
	v.SetDefault("whatsapp.phone_number_id", "")
	v.SetDefault("whatsapp.business_account_id", "")
	v.SetDefault("whatsapp.verify_token", "")
	v.SetDefault("whatsapp.base_url", "https://graph.facebook.com/v19.0")
	v.SetDefault("whatsapp.template_language", "en_US")
	v.SetDefault("whatsapp.timeout", 15*time.Second)
}
