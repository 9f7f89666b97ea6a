// Package config loads settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "indexer.yaml"

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string `mapstructure:"database_url" validate:"required"`

	// HTTP server port for the API
	HTTPPort int `mapstructure:"http_port" validate:"min=1,max=65535"`

	// Hex encoded SHA-256 of the API key. Empty disables API key checks.
	APIKeyHash string `mapstructure:"api_key_hash" validate:"omitempty,len=64,hexadecimal"`

	// Requests per second allowed per client on the API
	APIRateLimit float64 `mapstructure:"api_rate_limit" validate:"gte=0"`

	HTTP     HTTPConfig     `mapstructure:"http"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	FHIR     FHIRConfig     `mapstructure:"fhir"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Solr     SolrConfig     `mapstructure:"solr"`
	Log      LogConfig      `mapstructure:"log"`
	OTEL     OTELConfig     `mapstructure:"otel"`
}

type HTTPConfig struct {
	// Timeout for outbound FHIR, Solr and token requests
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
}

type WorkerConfig struct {
	PoolSize int           `mapstructure:"pool_size" validate:"min=1"`
	Backoff  time.Duration `mapstructure:"backoff" validate:"gte=0"`
}

type QueueConfig struct {
	// How often the queue rescans the store when it runs dry
	RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"gte=0"`
}

type PipelineConfig struct {
	CheckpointInterval int `mapstructure:"checkpoint_interval" validate:"min=1"`
}

type FHIRConfig struct {
	BaseURL           string  `mapstructure:"base_url" validate:"required,url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	MRNSystem         string  `mapstructure:"mrn_system"`
	DocumentClasses   string  `mapstructure:"document_classes"`
	PatientLookup     string  `mapstructure:"patient_lookup" validate:"omitempty,oneof=default epic"`
	EpicURL           string  `mapstructure:"epic_url" validate:"required_if=PatientLookup epic,omitempty,url"`
	EpicClientID      string  `mapstructure:"epic_client_id"`
	EpicUsername      string  `mapstructure:"epic_username"`
	EpicPassword      string  `mapstructure:"epic_password"`
	// Extra request headers, one "Name: value" per line
	Headers string `mapstructure:"headers"`
}

type AuthConfig struct {
	Scheme         string `mapstructure:"scheme" validate:"omitempty,oneof=none basic client_credentials jwt_bearer authorization_code"`
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	Scope          string `mapstructure:"scope"`
	TokenURL       string `mapstructure:"token_url" validate:"omitempty,url"`
	PrivateKeyFile string `mapstructure:"private_key_file" validate:"required_if=Scheme jwt_bearer"`
	Code           string `mapstructure:"code" validate:"required_if=Scheme authorization_code"`
	RedirectURI    string `mapstructure:"redirect_uri"`
}

type SolrConfig struct {
	URL      string `mapstructure:"url" validate:"required,url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

type OTELConfig struct {
	// OTLP gRPC collector address
	Endpoint string `mapstructure:"endpoint"`
}

var defaults = map[string]any{
	"database_url":                 "",
	"http_port":                    6161,
	"api_key_hash":                 "",
	"api_rate_limit":               10.0,
	"http.request_timeout":         30 * time.Second,
	"worker.pool_size":             1,
	"worker.backoff":               5 * time.Second,
	"queue.refresh_interval":       60 * time.Second,
	"pipeline.checkpoint_interval": 20,
	"fhir.base_url":                "",
	"fhir.requests_per_second":     0.0,
	"fhir.mrn_system":              "",
	"fhir.document_classes":        "clinical-notes",
	"fhir.patient_lookup":          "default",
	"fhir.epic_url":                "",
	"fhir.epic_client_id":          "",
	"fhir.epic_username":           "",
	"fhir.epic_password":           "",
	"fhir.headers":                 "",
	"auth.scheme":                  "none",
	"auth.client_id":               "",
	"auth.client_secret":           "",
	"auth.username":                "",
	"auth.password":                "",
	"auth.scope":                   "patient/*.read",
	"auth.token_url":               "",
	"auth.private_key_file":        "",
	"auth.code":                    "",
	"auth.redirect_uri":            "",
	"solr.url":                     "http://localhost:8983",
	"solr.username":                "",
	"solr.password":                "",
	"log.level":                    "info",
	"otel.endpoint":                "localhost:4317",
}

// aliases are extra environment names accepted for a key.
var aliases = map[string][]string{
	"http_port":     {"HTTP_PORT", "PORT"},
	"otel.endpoint": {"OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"},
}

// Load reads the configuration and validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read reads path (or DefaultFile when path is empty and the file exists),
// then overlays environment variables, without validating the result.
// Nested keys map to upper-case names with dots replaced by underscores,
// so fhir.base_url is FHIR_BASE_URL.
func Read(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range aliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigFile(DefaultFile)
		if err := v.ReadInConfig(); err != nil && !isMissingFile(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", DefaultFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func isMissingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the loaded values and reports the first problem by config key.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("invalid config: %w", err)
	}

	fe := verrs[0]
	key := fe.Namespace()
	if _, rest, ok := strings.Cut(key, "."); ok {
		key = rest
	}
	env := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))

	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Errorf("%s is required (env: %s)", key, env)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s] (env: %s)", key, fe.Param(), env)
	default:
		return fmt.Errorf("invalid %s: failed %q check (env: %s)", key, fe.Tag(), env)
	}
}
