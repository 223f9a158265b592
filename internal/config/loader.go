package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and
// environment variables. If configFile is empty, standard locations
// are searched for surftrail.yaml/.yml. The search requires an
// explicit YAML extension so the binary itself is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError, which callers handle gracefully.
		viper.SetConfigName("surftrail")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: SURFTRAIL_API_BASE_URL
	viper.SetEnvPrefix("SURFTRAIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for surftrail.yaml or
// .yml, returning the first match.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".surftrail"),
		"/etc/surftrail",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "surftrail"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys so they can be overridden
// via environment variables, e.g. SURFTRAIL_API_TOKEN for api.token.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.listen_addr")
	_ = viper.BindEnv("server.log_level")

	_ = viper.BindEnv("api.base_url")
	_ = viper.BindEnv("api.token")
	_ = viper.BindEnv("api.timeout")

	_ = viper.BindEnv("store.dir")

	_ = viper.BindEnv("journal.enabled")
	_ = viper.BindEnv("journal.dir")
	_ = viper.BindEnv("journal.retention_days")
	_ = viper.BindEnv("journal.max_file_size_mb")

	_ = viper.BindEnv("hosts.sync_interval")

	_ = viper.BindEnv("session.debounce")
	_ = viper.BindEnv("session.startup_attempts")
	_ = viper.BindEnv("session.startup_interval")

	_ = viper.BindEnv("heartbeat.interval")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment
// overrides and defaults, and validates the result.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults but
// skips dev defaults and validation. Use when CLI flags may override
// DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: environment variables may still carry the
		// whole configuration.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file,
// empty when running from environment variables only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
