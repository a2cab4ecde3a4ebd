// Package config provides configuration management for the chat relay.
// A Config is built once at process start (from YAML or from the process
// environment) and passed explicitly to the components that need it.
package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Names of the settings the relay requires. They double as the
// environment variable names read by FromEnv and reported to clients
// when a setting is missing.
const (
	EnvEndpoint   = "AZURE_OPENAI_ENDPOINT"
	EnvAPIKey     = "AZURE_OPENAI_KEY"
	EnvDeployment = "AZURE_OPENAI_DEPLOYMENT_NAME"

	EnvProvider     = "CHATRELAY_PROVIDER"
	EnvPersona      = "CHATRELAY_PERSONA"
	EnvExposeErrors = "CHATRELAY_EXPOSE_ERRORS"
	EnvPort         = "PORT"
)

// Config represents the complete relay configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Provider       ProviderConfig       `yaml:"provider"`
	Relay          RelayConfig          `yaml:"relay"`
	Logging        LoggingConfig        `yaml:"logging"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Metrics        MetricsConfig        `yaml:"metrics"`
}

// ServerConfig holds server-specific configuration for the HTTP server.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 8080)
	Port int `yaml:"port" validate:"gte=0,lte=65535"`

	// ChatPath is the route the relay is mounted on (default: /api/chat)
	ChatPath string `yaml:"chat_path" validate:"required,startswith=/"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0s"`

	// WriteTimeout must exceed provider.timeout, otherwise slow replies
	// are cut off by the server (default: 90s)
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0s"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values (default: 1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes" validate:"gte=0"`

	// ShutdownTimeout specifies how long to wait for in-flight requests
	// during graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0s"`
}

// ProviderConfig names the upstream chat-completion service.
// Endpoint, APIKey and Deployment are required at request time, not at
// load time: the relay reports whichever of them is missing to the caller.
type ProviderConfig struct {
	// Type selects the backend: "azure" uses the Azure OpenAI API, any
	// other value is handed to gollm (openai, anthropic, ollama, ...)
	Type string `yaml:"type" validate:"required,oneof=azure openai anthropic ollama groq mistral cohere openrouter"`

	// Endpoint is the service URL, e.g. https://my-resource.openai.azure.com
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`

	// APIKey is the access credential.
	// Use environment variables (e.g., ${AZURE_OPENAI_KEY}) for secure configuration
	APIKey string `yaml:"api_key"`

	// Deployment is the deployment (Azure) or model (other backends) name
	Deployment string `yaml:"deployment"`

	// APIVersion is the Azure OpenAI REST API version
	APIVersion string `yaml:"api_version"`

	// Timeout bounds a single provider call. Retries are not performed.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0s"`
}

// Missing returns the names of the required settings that are empty, in
// the order endpoint, credential, deployment.
func (p ProviderConfig) Missing() []string {
	var missing []string
	if strings.TrimSpace(p.Endpoint) == "" {
		missing = append(missing, EnvEndpoint)
	}
	if strings.TrimSpace(p.APIKey) == "" {
		missing = append(missing, EnvAPIKey)
	}
	if strings.TrimSpace(p.Deployment) == "" {
		missing = append(missing, EnvDeployment)
	}
	return missing
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Format specifies log output format: json or text
	Format string `yaml:"format" validate:"oneof=json text"`
}

// CircuitBreakerConfig controls the breaker placed in front of the provider.
type CircuitBreakerConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxRequests is maximum number of requests allowed to pass through when in half-open state
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the circuit breaker
	Interval time.Duration `yaml:"interval" validate:"gte=0s"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout" validate:"gte=0s"`

	// FailureThreshold is the number of consecutive failures needed to trip the circuit
	FailureThreshold uint32 `yaml:"failure_threshold" validate:"required_if=Enabled true"`
}

// RateLimitConfig controls the optional per-client inbound rate limiter.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// Requests is the number of requests a client may burst per Window
	Requests int `yaml:"requests" validate:"required_if=Enabled true,gte=0"`

	// Window is the refill period for Requests
	Window time.Duration `yaml:"window" validate:"required_if=Enabled true,gte=0s"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"omitempty,startswith=/"`
}

// DefaultConfig returns the configuration used when no file overrides a
// setting. Provider credentials are intentionally empty.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ChatPath:        "/api/chat",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},

		Provider: ProviderConfig{
			Type:       "azure",
			APIVersion: "2024-02-01",
			Timeout:    60 * time.Second,
		},

		Relay: RelayConfig{
			Persona:            true,
			HTMLReplies:        true,
			FallbackMessage:    "Hello",
			ExposeErrorDetails: true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},

		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          false,
			MaxRequests:      1,
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},

		RateLimit: RateLimitConfig{
			Enabled:  false,
			Requests: 10,
			Window:   time.Minute,
		},

		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFile loads configuration from a YAML file
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

var envRef = regexp.MustCompile(`\$\{([^}\n]*)\}`)

// expandEnvVars resolves ${VAR} and ${VAR:-default} references.
// A default applies when the variable is unset or empty. Any other
// dollar sign, such as $5 or pa$word, is left as written.
func expandEnvVars(s string) (string, error) {
	if strings.Contains(envRef.ReplaceAllString(s, ""), "${") {
		return "", fmt.Errorf("unterminated variable reference")
	}

	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		key := envRef.FindStringSubmatch(ref)[1]
		if i := strings.Index(key, ":-"); i >= 0 {
			if val := os.Getenv(key[:i]); val != "" {
				return val
			}
			return key[i+2:]
		}
		return os.Getenv(key)
	}), nil
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	// Start with defaults
	config := DefaultConfig()

	// Decode YAML on top of defaults. An empty document keeps the defaults.
	dec := yaml.NewDecoder(strings.NewReader(expandedData))
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// FromEnv builds a configuration from defaults and the process
// environment only. Serverless entrypoints use it when no config file
// is shipped.
func FromEnv() (*Config, error) {
	config := DefaultConfig()

	config.Provider.Endpoint = os.Getenv(EnvEndpoint)
	config.Provider.APIKey = os.Getenv(EnvAPIKey)
	config.Provider.Deployment = os.Getenv(EnvDeployment)

	if v := os.Getenv(EnvProvider); v != "" {
		config.Provider.Type = v
	}
	if v := os.Getenv(EnvPersona); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvPersona, err)
		}
		config.Relay.Persona = b
	}
	if v := os.Getenv(EnvExposeErrors); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvExposeErrors, err)
		}
		config.Relay.ExposeErrorDetails = b
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvPort, err)
		}
		config.Server.Port = port
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return config, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks if the configuration is valid. Missing provider
// credentials are not an error here.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("invalid %s: %v (must satisfy %s=%s)", field, fe.Value(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("invalid %s: %v (must satisfy %s)", field, fe.Value(), fe.Tag()))
		}
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
