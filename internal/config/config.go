package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	values map[string]string
}

func Load() (*Config, error) {
	cfg := &Config{
		values: make(map[string]string),
	}

	cfg.loadFromEnv()
	return cfg, nil
}

func (c *Config) loadFromEnv() {
	envVars := []string{
		"TAP_SFTP_HOST",
		"TAP_SFTP_PORT",
		"TAP_SFTP_USERNAME",
		"TAP_SFTP_PASSWORD",
		"TAP_SFTP_PRIVATE_KEY_FILE",
		"TAP_SFTP_CONNECT_TIMEOUT",
		"TAP_SFTP_TABLES_FILE",
		"TAP_SFTP_START_DATE",
		"TAP_SFTP_MAX_PARALLELISM",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"METRICS_PORT",
	}

	for _, envVar := range envVars {
		if value := os.Getenv(envVar); value != "" {
			c.values[envVar] = value
		}
	}
}

// NormalizeConfig converts JSON Schema config format to internal
// format. Keys already in internal format pass through unchanged.
func NormalizeConfig(rawConfig map[string]string) (map[string]string, error) {
	if err := ValidateConfig(rawConfig); err != nil {
		return nil, err
	}

	config := make(map[string]string)

	config["host"] = rawConfig["host"]
	config["username"] = rawConfig["username"]
	if password := rawConfig["password"]; password != "" {
		config["password"] = password
	}
	if keyFile := pick(rawConfig, "privateKeyFile", "private_key_file"); keyFile != "" {
		config["private_key_file"] = keyFile
	}

	// Optional fields with defaults
	if port := rawConfig["port"]; port != "" {
		config["port"] = port
	} else {
		config["port"] = "22"
	}
	if timeout := pick(rawConfig, "connectTimeout", "connect_timeout"); timeout != "" {
		config["connect_timeout"] = timeout
	} else {
		config["connect_timeout"] = "30s"
	}

	return config, nil
}

// ValidateConfig validates required fields are present
func ValidateConfig(config map[string]string) error {
	requiredFields := []string{"host", "username"}

	for _, field := range requiredFields {
		if value := config[field]; value == "" {
			return fmt.Errorf("required field '%s' is missing or empty", field)
		}
	}

	if config["password"] == "" && pick(config, "privateKeyFile", "private_key_file") == "" {
		return fmt.Errorf("either 'password' or 'privateKeyFile' must be set")
	}

	return nil
}

func pick(config map[string]string, keys ...string) string {
	for _, key := range keys {
		if value := config[key]; value != "" {
			return value
		}
	}
	return ""
}

func (c *Config) GetString(key, defaultValue string) string {
	if value, exists := c.values[key]; exists {
		return value
	}
	return defaultValue
}

func (c *Config) GetInt(key string, defaultValue int) int {
	if value, exists := c.values[key]; exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (c *Config) GetBool(key string, defaultValue bool) bool {
	if value, exists := c.values[key]; exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func (c *Config) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := c.values[key]; exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func (c *Config) GetSSHConfig() map[string]string {
	return map[string]string{
		"host":             c.GetString("TAP_SFTP_HOST", ""),
		"port":             c.GetString("TAP_SFTP_PORT", "22"),
		"username":         c.GetString("TAP_SFTP_USERNAME", ""),
		"password":         c.GetString("TAP_SFTP_PASSWORD", ""),
		"private_key_file": c.GetString("TAP_SFTP_PRIVATE_KEY_FILE", ""),
		"connect_timeout":  c.GetString("TAP_SFTP_CONNECT_TIMEOUT", "30s"),
	}
}
