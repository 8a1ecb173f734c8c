package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Redis     RedisConfig
	Identity  IdentityConfig
	Consent   ConsentConfig
	Emergency EmergencyConfig
	Audit     AuditConfig
	SMTP      SMTPConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
	// Per-IP token bucket on the public (unauthenticated) routes.
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
	Issuer      string `mapstructure:"issuer"`
	// PEM-encoded RSA public key of the trusted identity provider,
	// used to verify system-integrator assertions.
	AssertionPublicKey string `mapstructure:"assertion_public_key"`
	AssertionIssuer    string `mapstructure:"assertion_issuer"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type IdentityConfig struct {
	CodeTTLSeconds   int `mapstructure:"code_ttl_seconds"`
	CodeIssueLimit   int `mapstructure:"code_issue_limit"`
	CodeIssueWindow  int `mapstructure:"code_issue_window_seconds"`
	MaxLoginAttempts int `mapstructure:"max_login_attempts"`
	LockoutMinutes   int `mapstructure:"lockout_minutes"`
}

type ConsentConfig struct {
	DefaultTTLSeconds int `mapstructure:"default_ttl_seconds"`
	SweepMinutes      int `mapstructure:"sweep_minutes"`
}

type EmergencyConfig struct {
	Disabled bool `mapstructure:"disabled"`
}

type AuditConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeoutSeconds", 30)
	viper.SetDefault("server.rate_limit_per_second", 10)
	viper.SetDefault("server.rate_limit_burst", 20)
	viper.SetDefault("identity.code_ttl_seconds", 300)
	viper.SetDefault("identity.code_issue_limit", 3)
	viper.SetDefault("identity.code_issue_window_seconds", 900)
	viper.SetDefault("identity.max_login_attempts", 5)
	viper.SetDefault("identity.lockout_minutes", 15)
	viper.SetDefault("consent.default_ttl_seconds", 900)
	viper.SetDefault("consent.sweep_minutes", 5)
	viper.SetDefault("audit.retention_days", 365)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
