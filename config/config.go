package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"

	"speechway.dev/pkg/types/tts"
	"speechway.dev/pkg/utils"
)

const (
	ProviderElevenLabs = "elevenlabs"
	ProviderOpenAI     = "openai"
)

// KnownProviders lists the provider selectors the gateway can dispatch to.
var KnownProviders = []string{ProviderElevenLabs, ProviderOpenAI}

type RateLimitMode string

const (
	RateLimitModeLocal RateLimitMode = "local"
	RateLimitModeRedis RateLimitMode = "redis"
)

type RateLimitBasedOn string

const (
	RateLimitBasedOnAPIKey RateLimitBasedOn = "api_key"
	RateLimitBasedOnUser   RateLimitBasedOn = "user"
)

type GatewayConfig struct {
	Listen      string        `yaml:"listen" json:"listen"`
	AdminListen string        `yaml:"admin_listen" json:"admin_listen"`
	AccessLog   bool          `yaml:"access_log" json:"access_log"`
	DrainWait   time.Duration `yaml:"drain_wait" json:"drain_wait"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key" json:"api_key"`
	APIBase string `yaml:"api_base" json:"api_base"`
	// Timeout bounds a single upstream call. Zero means no timeout besides
	// the caller's context.
	Timeout time.Duration     `yaml:"timeout" json:"timeout"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`

	DefaultParams   map[string]any `yaml:"default_params" json:"default_params,omitempty"`
	OverrideParams  map[string]any `yaml:"override_params" json:"override_params,omitempty"`
	RemoveParamKeys []string       `yaml:"remove_param_keys" json:"remove_param_keys,omitempty"`

	FormatPolicy tts.FormatPolicy `yaml:"format_policy" json:"format_policy"`
}

type APIKeyConfig struct {
	Key    string `yaml:"key" json:"key"`
	ID     string `yaml:"id" json:"id"`
	UserID string `yaml:"user_id" json:"user_id"`
	// AllowModels are doublestar globs such as "elevenlabs/**". Empty allows
	// every model.
	AllowModels []string `yaml:"allow_models" json:"allow_models,omitempty"`
	// DenyModels take priority over AllowModels.
	DenyModels []string `yaml:"deny_models" json:"deny_models,omitempty"`
}

type AuthConfig struct {
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Keys    []APIKeyConfig `yaml:"keys" json:"keys,omitempty"`
}

type RateLimitPolicy struct {
	Name    string           `yaml:"name" json:"name"`
	BasedOn RateLimitBasedOn `yaml:"based_on" json:"based_on"`
	// Match is a glob against the API key ID or user ID. Empty matches all.
	Match    string        `yaml:"match" json:"match"`
	Limit    int           `yaml:"limit" json:"limit"`
	Duration time.Duration `yaml:"duration" json:"duration"`
}

type RateLimitConfig struct {
	Enabled  bool              `yaml:"enabled" json:"enabled"`
	Mode     RateLimitMode     `yaml:"mode" json:"mode"`
	RedisURL string            `yaml:"redis_url" json:"redis_url,omitempty"`
	Policies []RateLimitPolicy `yaml:"policies" json:"policies,omitempty"`
}

type Config struct {
	Debug           bool                      `yaml:"debug" json:"debug"`
	Gateway         GatewayConfig             `yaml:"gateway" json:"gateway"`
	DefaultProvider string                    `yaml:"default_provider" json:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" json:"providers"`
	Auth            AuthConfig                `yaml:"auth" json:"auth"`
	RateLimit       RateLimitConfig           `yaml:"rate_limit" json:"rate_limit"`
}

func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Listen:      ":8080",
			AdminListen: "127.0.0.1:9080",
			AccessLog:   true,
			DrainWait:   5 * time.Second,
		},
		DefaultProvider: ProviderElevenLabs,
		Providers:       map[string]ProviderConfig{},
		RateLimit: RateLimitConfig{
			Mode: RateLimitModeLocal,
		},
	}
}

// LoadConfig loads the configuration from the specified YAML file on top of
// the defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	// An empty or comment-only file decodes to io.EOF and keeps the defaults.
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}

	return cfg, nil
}

func (c *Config) Provider(name string) ProviderConfig {
	if c == nil {
		return ProviderConfig{}
	}

	return c.Providers[name]
}

func validateAPIBase(provider string, apiBase string) error {
	if apiBase == "" {
		return nil
	}

	parsed, err := url.Parse(apiBase)
	if err != nil {
		return fmt.Errorf("providers.%s.api_base: %w", provider, err)
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("providers.%s.api_base: %q is not an absolute URL", provider, apiBase)
	}

	return nil
}

// Validate reports every problem found in the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if !lo.Contains(KnownProviders, c.DefaultProvider) {
		result = multierror.Append(result, fmt.Errorf("default_provider: unknown provider %q", c.DefaultProvider))
	}

	for name, provider := range c.Providers {
		if !lo.Contains(KnownProviders, name) {
			result = multierror.Append(result, fmt.Errorf("providers: unknown provider %q", name))
		}

		if err := validateAPIBase(name, provider.APIBase); err != nil {
			result = multierror.Append(result, err)
		}

		if provider.Timeout < 0 {
			result = multierror.Append(result, fmt.Errorf("providers.%s.timeout: must not be negative", name))
		}

		if !lo.Contains([]tts.FormatPolicy{"", tts.FormatPolicyFallback, tts.FormatPolicyReject}, provider.FormatPolicy) {
			result = multierror.Append(result, fmt.Errorf("providers.%s.format_policy: unknown policy %q", name, provider.FormatPolicy))
		}

		if _, err := provider.DefaultParamValues(); err != nil {
			result = multierror.Append(result, fmt.Errorf("providers.%s.default_params: %w", name, err))
		}

		if _, err := provider.OverrideParamValues(); err != nil {
			result = multierror.Append(result, fmt.Errorf("providers.%s.override_params: %w", name, err))
		}
	}

	if c.Auth.Enabled && len(c.Auth.Keys) == 0 {
		result = multierror.Append(result, errors.New("auth.keys: at least one key is required when auth is enabled"))
	}

	seenKeys := make(map[string]struct{}, len(c.Auth.Keys))

	for i, key := range c.Auth.Keys {
		if key.Key == "" {
			result = multierror.Append(result, fmt.Errorf("auth.keys[%d].key: must not be empty", i))
		}

		if _, ok := seenKeys[key.Key]; ok {
			result = multierror.Append(result, fmt.Errorf("auth.keys[%d].key: duplicated", i))
		}

		seenKeys[key.Key] = struct{}{}
	}

	if c.RateLimit.Enabled {
		switch c.RateLimit.Mode {
		case "", RateLimitModeLocal:
		case RateLimitModeRedis:
			if c.RateLimit.RedisURL == "" {
				result = multierror.Append(result, errors.New("rate_limit.redis_url: required in redis mode"))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("rate_limit.mode: unknown mode %q", c.RateLimit.Mode))
		}

		for i, policy := range c.RateLimit.Policies {
			if policy.Limit <= 0 {
				result = multierror.Append(result, fmt.Errorf("rate_limit.policies[%d].limit: must be positive", i))
			}

			switch {
			case policy.Duration <= 0:
				result = multierror.Append(result, fmt.Errorf("rate_limit.policies[%d].duration: must be positive", i))
			case policy.Duration < time.Millisecond:
				result = multierror.Append(result, fmt.Errorf("rate_limit.policies[%d].duration: must be at least 1ms", i))
			}

			if !lo.Contains([]RateLimitBasedOn{"", RateLimitBasedOnAPIKey, RateLimitBasedOnUser}, policy.BasedOn) {
				result = multierror.Append(result, fmt.Errorf("rate_limit.policies[%d].based_on: unknown value %q", i, policy.BasedOn))
			}
		}
	}

	return result.ErrorOrNil()
}

func toValues(params map[string]any) (map[string]*structpb.Value, error) {
	values := make(map[string]*structpb.Value, len(params))

	for k, v := range params {
		value, err := structpb.NewValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}

		values[k] = value
	}

	return values, nil
}

func (p ProviderConfig) DefaultParamValues() (map[string]*structpb.Value, error) {
	return toValues(p.DefaultParams)
}

func (p ProviderConfig) OverrideParamValues() (map[string]*structpb.Value, error) {
	return toValues(p.OverrideParams)
}

// Redacted returns a copy safe to expose on the admin endpoint.
func (c *Config) Redacted() *Config {
	redacted := *c

	redacted.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, provider := range c.Providers {
		provider.APIKey = utils.MaskSecret(provider.APIKey)
		if provider.Headers != nil {
			provider.Headers = lo.MapValues(provider.Headers, func(value string, _ string) string {
				return utils.MaskSecret(value)
			})
		}
		redacted.Providers[name] = provider
	}

	redacted.Auth.Keys = lo.Map(c.Auth.Keys, func(key APIKeyConfig, _ int) APIKeyConfig {
		key.Key = utils.MaskSecret(key.Key)
		return key
	})

	if c.RateLimit.RedisURL != "" {
		if parsed, err := url.Parse(c.RateLimit.RedisURL); err == nil {
			redacted.RateLimit.RedisURL = parsed.Redacted()
		}
	}

	return &redacted
}
