// Package config provides the layered configuration schema for a riptide
// server: YAML file plus environment variable overrides via viper, struct
// tag validation via go-playground/validator.
//
// Adapted from the teacher's OSSConfig (internal/config/config.go): the
// same top-level-struct-of-nested-structs shape, yaml+mapstructure dual
// tags, and env-prefixed override convention, re-scoped from an MCP proxy
// to a WebSocket RPC/pubsub server.
package config

import "time"

// ServerConfig is the top-level configuration for a riptide server.
type ServerConfig struct {
	// Listen is the address the WebSocket listener binds, e.g. ":8080".
	Listen string `yaml:"listen" mapstructure:"listen" validate:"required"`

	// Path is the HTTP path the WebSocket upgrade handler is mounted on.
	Path string `yaml:"path" mapstructure:"path" validate:"required"`

	// MaxConnections bounds concurrent connections; 0 means unbounded.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections" validate:"gte=0"`

	// SendBufferSize is validated on load but not applied: every
	// connection's outbound queue holds conn.DefaultSendBuffer (128) packets.
	SendBufferSize int `yaml:"send_buffer_size" mapstructure:"send_buffer_size" validate:"gte=1"`

	// HandshakeTimeout bounds how long the WebSocket upgrade may take.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" mapstructure:"handshake_timeout"`

	// RPCCallTimeout bounds a single RPC handler invocation. Zero disables
	// the timeout.
	RPCCallTimeout time.Duration `yaml:"rpc_call_timeout" mapstructure:"rpc_call_timeout"`

	// MaxConcurrentCalls bounds the dispatcher's worker pool across the
	// whole server. Zero means unbounded.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls" mapstructure:"max_concurrent_calls" validate:"gte=0"`

	// Wire selects the codec: "json" or "binary".
	Wire string `yaml:"wire" mapstructure:"wire" validate:"oneof=json binary"`

	// Admission configures the optional admission-token gate.
	Admission AdmissionConfig `yaml:"admission" mapstructure:"admission"`

	// RateLimit holds server-wide rate-limit settings. They are validated on
	// load; the server does not apply them to registered methods, which are
	// rate limited only through their own RateLimit registration.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// TLS configures optional TLS termination for the listener.
	TLS TLSConfig `yaml:"tls" mapstructure:"tls"`

	// Observability configures metrics/tracing export.
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`

	// DevMode enables verbose (debug-level) logging. It does not change the
	// WebSocket origin check, which accepts every origin in either mode.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// AdmissionConfig gates connection acceptance on a shared token, hashed
// with argon2id at rest (spec §4.7's external-collaborator admission
// control).
type AdmissionConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	TokenHash string `yaml:"token_hash" mapstructure:"token_hash" validate:"required_if=Enabled true"`
}

// RateLimitConfig is the server-wide default rate limit, expressed as a
// human period string the way the teacher's rate_limit.cleanup_interval
// field is.
type RateLimitConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Limit           int    `yaml:"limit" mapstructure:"limit" validate:"required_if=Enabled true,gte=0"`
	Period          string `yaml:"period" mapstructure:"period"`
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// TLSConfig configures the optional TLS listener, adapted from the
// teacher's HTTP gateway TLS inspection config's cert/key file pattern
// but without MITM inspection, which has no meaning for a first-party
// WebSocket listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	CertFile string `yaml:"cert_file" mapstructure:"cert_file" validate:"required_if=Enabled true"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file" validate:"required_if=Enabled true"`
}

// ObservabilityConfig controls metrics and tracing export.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
	TracingOut  string `yaml:"tracing_out" mapstructure:"tracing_out" validate:"omitempty,oneof=stdout discard"`
}

// Default returns a ServerConfig with the teacher's "minimalist, works out
// of the box" defaults.
func Default() ServerConfig {
	return ServerConfig{
		Listen:             ":8080",
		Path:               "/ws",
		MaxConnections:     0,
		SendBufferSize:     128,
		HandshakeTimeout:   10 * time.Second,
		RPCCallTimeout:     30 * time.Second,
		MaxConcurrentCalls: 256,
		Wire:               "json",
		RateLimit: RateLimitConfig{
			CleanupInterval: "5m",
		},
		Observability: ObservabilityConfig{
			ServiceName: "riptide",
			TracingOut:  "discard",
		},
	}
}
