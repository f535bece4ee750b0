package config

import (
	"fmt"

	"github.com/warp/payroll-engine/payroll"
)

// AppConfig configures the HTTP server and the CLI.
type AppConfig struct {
	Server   ServerConfig `mapstructure:"server" json:"server"`
	Database DBConfig     `mapstructure:"db" json:"db"`
	Log      LogConfig    `mapstructure:"log" json:"log"`
	// SettingsFile optionally seeds run settings on first start.
	SettingsFile string `mapstructure:"settings_file" json:"settings_file"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port" json:"port"`
	AllowOrigins []string `mapstructure:"allow_origins" json:"allow_origins"`
	// MaxUploadMB bounds multipart uploads on the run endpoints.
	MaxUploadMB int `mapstructure:"max_upload_mb" json:"max_upload_mb"`
}

type DBConfig struct {
	Path string `mapstructure:"path" json:"path"`
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

func DefaultApp() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Port:         8080,
			AllowOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
			MaxUploadMB:  32,
		},
		Database: DBConfig{Path: "./payroll.db"},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

func (c AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &payroll.ValidationError{Field: "server.port", Value: c.Server.Port, Reason: "must be between 1 and 65535"}
	}
	if c.Server.MaxUploadMB <= 0 {
		return &payroll.ValidationError{Field: "server.max_upload_mb", Value: c.Server.MaxUploadMB, Reason: "must be positive"}
	}
	if c.Database.Path == "" {
		return &payroll.ValidationError{Field: "db.path", Reason: "must not be empty"}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return &payroll.ValidationError{Field: "log.format", Value: c.Log.Format, Reason: "must be json or console"}
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
