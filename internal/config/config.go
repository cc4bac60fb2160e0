package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "CIRCUITS"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "circuits.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultSessionIssuer     = "tauth"
	defaultSessionCookieName = "app_session"
	defaultSessionTTLMinutes = 60
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress             string
	DatabasePath            string
	LogLevel                string
	LogFormat               string
	SessionSigningSecret    string
	SessionIssuer           string
	SessionCookieName       string
	SessionTTL              time.Duration
	AllowedOrigins          []string
	LockActiveCircuits      bool
	EnforceUniqueEventNames bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultSessionCookieName)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("cors.allowed_origins", []string{})
	configViper.SetDefault("circuits.lock_active_circuits", false)
	configViper.SetDefault("circuits.enforce_unique_event_names", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:             configViper.GetString("http.address"),
		DatabasePath:            configViper.GetString("database.path"),
		LogLevel:                configViper.GetString("log.level"),
		LogFormat:               configViper.GetString("log.format"),
		SessionSigningSecret:    configViper.GetString("session.signing_secret"),
		SessionIssuer:           configViper.GetString("session.issuer"),
		SessionCookieName:       configViper.GetString("session.cookie_name"),
		SessionTTL:              time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		AllowedOrigins:          normalizeOrigins(configViper.GetStringSlice("cors.allowed_origins")),
		LockActiveCircuits:      configViper.GetBool("circuits.lock_active_circuits"),
		EnforceUniqueEventNames: configViper.GetBool("circuits.enforce_unique_event_names"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("session.issuer is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_minutes must be positive")
	}
	return nil
}

// env values arrive as one comma separated string
func normalizeOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
