package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Defaults for the CRM provider endpoints. Overridable for sandbox
// organizations and tests.
const (
	DefaultAuthURL    = "https://login.salesforce.com/services/oauth2/authorize"
	DefaultTokenURL   = "https://login.salesforce.com/services/oauth2/token"
	DefaultAPIVersion = "v60.0"
)

// Config holds all configuration for the service.
type Config struct {
	HTTPPort    int    `json:"http_port" validate:"gte=0,lte=65535"`
	MetricsPort int    `json:"metrics_port" validate:"gte=0,lte=65535"`
	LogLevel    string `json:"log_level" validate:"oneof=debug info warn error"`
	DBPath      string `json:"db_path" validate:"required"`

	CRM struct {
		ClientID     string   `json:"client_id" validate:"required"`
		ClientSecret string   `json:"client_secret" validate:"required"`
		RedirectURL  string   `json:"redirect_url" validate:"required,url"`
		AuthURL      string   `json:"auth_url" validate:"required,url"`
		TokenURL     string   `json:"token_url" validate:"required,url"`
		Scopes       []string `json:"scopes"`
		APIVersion   string   `json:"api_version" validate:"required"`
	} `json:"crm"`
}

// Load reads configuration from a JSON file, applies environment variable
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides overrides config fields with environment variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("CRM_CLIENT_ID"); v != "" {
		c.CRM.ClientID = v
	}
	if v := os.Getenv("CRM_CLIENT_SECRET"); v != "" {
		c.CRM.ClientSecret = v
	}
	if v := os.Getenv("CRM_REDIRECT_URL"); v != "" {
		c.CRM.RedirectURL = v
	}
	if v := os.Getenv("CRM_AUTH_URL"); v != "" {
		c.CRM.AuthURL = v
	}
	if v := os.Getenv("CRM_TOKEN_URL"); v != "" {
		c.CRM.TokenURL = v
	}

	if v := os.Getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing HTTP_PORT: %w", err)
		}
		c.HTTPPort = port
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing METRICS_PORT: %w", err)
		}
		c.MetricsPort = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}

	return nil
}

// applyDefaults fills provider endpoints left unset.
func (c *Config) applyDefaults() {
	if c.CRM.AuthURL == "" {
		c.CRM.AuthURL = DefaultAuthURL
	}
	if c.CRM.TokenURL == "" {
		c.CRM.TokenURL = DefaultTokenURL
	}
	if c.CRM.APIVersion == "" {
		c.CRM.APIVersion = DefaultAPIVersion
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.CRM.Scopes) == 0 {
		c.CRM.Scopes = []string{"api", "refresh_token"}
	}
}

// validate checks the configuration for errors.
func (c *Config) validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
