package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// PAYROLL_ROUNDING_ROUND_TO=0.25.
const EnvPrefix = "PAYROLL"

// Load reads run settings. Precedence: environment > file > defaults. An empty
// path skips the file. Keys that do not exist in Settings are rejected.
func Load(path string) (Settings, error) {
	v := newViper(path)
	if err := setDefaults(v, Defaults()); err != nil {
		return Settings{}, err
	}
	if err := readFile(v, path); err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := v.UnmarshalExact(&s, viper.DecodeHook(decodeHook())); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadApp reads the server/CLI configuration with the same precedence rules
// as Load.
func LoadApp(path string) (AppConfig, error) {
	v := newViper(path)
	if err := setDefaults(v, DefaultApp()); err != nil {
		return AppConfig{}, err
	}
	if err := readFile(v, path); err != nil {
		return AppConfig{}, err
	}

	var c AppConfig
	if err := v.UnmarshalExact(&c, viper.DecodeHook(decodeHook())); err != nil {
		return AppConfig{}, fmt.Errorf("parse app config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return AppConfig{}, err
	}
	return c, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// setDefaults registers every leaf of defaults as a viper default so that
// environment overrides are recognized for each key.
func setDefaults(v *viper.Viper, defaults any) error {
	data, err := json.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	walkDefaults(v, "", tree)
	return nil
}

func walkDefaults(v *viper.Viper, prefix string, node map[string]any) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if child, ok := value.(map[string]any); ok {
			walkDefaults(v, full, child)
			continue
		}
		v.SetDefault(full, value)
	}
}

// decodeHook extends viper's default hooks with decimal fields. YAML gives
// numbers, environment variables and the JSON-encoded defaults give strings.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		decimalHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid decimal %q: %w", v, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	}
	return nil, fmt.Errorf("cannot decode %T as a decimal", data)
}
