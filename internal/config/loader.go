package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for riptide.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the riptided binary itself, which Viper's built-in
// SetConfigName would otherwise match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("riptide")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("RIPTIDE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a riptide config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".riptide"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "riptide"))
		}
	} else {
		paths = append(paths, "/etc/riptide")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for riptide.yaml or
// .yml, returning the first match.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "riptide"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every ServerConfig key for environment variable
// support, e.g. RIPTIDE_LISTEN overrides listen, RIPTIDE_RATE_LIMIT_LIMIT
// overrides rate_limit.limit.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("listen")
	_ = viper.BindEnv("path")
	_ = viper.BindEnv("max_connections")
	_ = viper.BindEnv("send_buffer_size")
	_ = viper.BindEnv("handshake_timeout")
	_ = viper.BindEnv("rpc_call_timeout")
	_ = viper.BindEnv("max_concurrent_calls")
	_ = viper.BindEnv("wire")

	_ = viper.BindEnv("admission.enabled")
	_ = viper.BindEnv("admission.token_hash")

	_ = viper.BindEnv("rate_limit.enabled")
	_ = viper.BindEnv("rate_limit.limit")
	_ = viper.BindEnv("rate_limit.period")
	_ = viper.BindEnv("rate_limit.cleanup_interval")

	_ = viper.BindEnv("tls.enabled")
	_ = viper.BindEnv("tls.cert_file")
	_ = viper.BindEnv("tls.key_file")

	_ = viper.BindEnv("observability.metrics_addr")
	_ = viper.BindEnv("observability.service_name")
	_ = viper.BindEnv("observability.tracing_out")

	_ = viper.BindEnv("dev_mode")
}

// Load reads the configuration file, applies environment overrides, fills
// in defaults for unset fields, validates, and returns the ServerConfig.
func Load() (*ServerConfig, error) {
	cfg := Default()
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded, or "" if none was found (environment-only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
