package cfddns

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Defaults applied by LoadConfig for settings left unset.
const (
	DefaultAddressEndpoint      = "https://api.ipify.org?format=json"
	DefaultAddressField         = "ip"
	DefaultPollInterval         = 5 * time.Minute
	DefaultBackoffInterval      = 1 * time.Minute
	DefaultMaxConsecutiveErrors = 10
	DefaultRequestTimeout       = 30 * time.Second
)

// Config holds the settings read from the settings file.
//
// It is loaded once at startup and not modified afterwards.
type Config struct {
	ProviderToken     string   `yaml:"provider_token"`
	ProviderTokenFile string   `yaml:"provider_token_file"`
	ZoneID            string   `yaml:"zone_id"`
	ManagedNames      []string `yaml:"managed_names"`

	// AddressField is a pointer so that an explicit empty string (plain text response) can be told apart from unset.
	AddressEndpoint  string  `yaml:"address_endpoint"`
	AddressField     *string `yaml:"address_field"`
	AddressInterface string  `yaml:"address_interface"`

	APIBaseURL           string        `yaml:"api_base_url"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	BackoffInterval      time.Duration `yaml:"backoff_interval"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`

	LogFile     string `yaml:"log_file"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoadConfig reads and validates the YAML settings file at path.
// All problems are reported as *ConfigurationError values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Setting: "settings file", Reason: "unable to read " + path, Err: err}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigurationError{Setting: "settings file", Reason: "unable to parse " + path, Err: err}
	}

	// secrets are usually kept out of the file itself
	cfg.ProviderToken = os.ExpandEnv(cfg.ProviderToken)
	cfg.ProviderTokenFile = os.ExpandEnv(cfg.ProviderTokenFile)
	cfg.ZoneID = os.ExpandEnv(cfg.ZoneID)

	if cfg.ProviderToken == "" && cfg.ProviderTokenFile != "" {
		if err := VerifyPermissions(cfg.ProviderTokenFile); err != nil {
			return nil, &ConfigurationError{Setting: "provider_token_file", Reason: "unsafe token file", Err: err}
		}
		cfg.ProviderToken, err = ReadKey(cfg.ProviderTokenFile)
		if err != nil {
			return nil, &ConfigurationError{Setting: "provider_token_file", Reason: "unable to read token", Err: err}
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in optional settings and normalizes the managed names.
func (c *Config) ApplyDefaults() {
	if c.AddressEndpoint == "" {
		c.AddressEndpoint = DefaultAddressEndpoint
	}
	if c.AddressField == nil {
		f := DefaultAddressField
		c.AddressField = &f
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BackoffInterval == 0 {
		c.BackoffInterval = DefaultBackoffInterval
	}
	if c.MaxConsecutiveErrors == 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	c.ManagedNames = normalizeNames(c.ManagedNames)
}

// Validate checks that the required settings are present and the optional ones are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.ProviderToken == "" {
		errs = append(errs, missing("provider_token"))
	}
	if c.ZoneID == "" {
		errs = append(errs, missing("zone_id"))
	}
	if len(c.ManagedNames) == 0 {
		errs = append(errs, missing("managed_names"))
	}
	for _, n := range c.ManagedNames {
		if !strings.Contains(n, ".") {
			errs = append(errs, &ConfigurationError{Setting: "managed_names", Reason: fmt.Sprintf("%q must have at least one dot", n)})
		}
	}
	if c.AddressEndpoint != "" {
		if u, err := url.Parse(c.AddressEndpoint); err != nil || u.Host == "" {
			errs = append(errs, &ConfigurationError{Setting: "address_endpoint", Reason: "not an absolute URL", Err: err})
		}
	}
	if c.APIBaseURL != "" {
		if u, err := url.Parse(c.APIBaseURL); err != nil || u.Host == "" {
			errs = append(errs, &ConfigurationError{Setting: "api_base_url", Reason: "not an absolute URL", Err: err})
		}
	}
	if c.PollInterval < 0 {
		errs = append(errs, &ConfigurationError{Setting: "poll_interval", Reason: "must not be negative"})
	}
	if c.BackoffInterval < 0 {
		errs = append(errs, &ConfigurationError{Setting: "backoff_interval", Reason: "must not be negative"})
	}
	if c.MaxConsecutiveErrors < 0 {
		errs = append(errs, &ConfigurationError{Setting: "max_consecutive_errors", Reason: "must not be negative"})
	}
	return errors.Join(errs...)
}

// addressField returns the JSON field holding the address, or "" for plain text responses.
func (c *Config) addressField() string {
	if c.AddressField == nil {
		return DefaultAddressField
	}
	return *c.AddressField
}

func normalizeNames(names []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(n), "."))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// ReadKey returns the first line of the file at path.
func ReadKey(path string) (key string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading key: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	keyb, _, err := r.ReadLine()
	if err != nil {
		return "", fmt.Errorf("error reading line: %w", err)
	}
	return strings.TrimSpace(string(keyb)), nil
}

// VerifyPermissions returns an error unless the file at path is readable only by its owner.
func VerifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking keyfile permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// Error messages will state that we want 0600,
	// but we'll also accept 0400 which is even more restricted.
	// The file might be provided by some secrets managing software as readonly.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for \"%s\": %w", path, permissionError(perms))
	}

	return nil
}

type permissionError fs.FileMode

func (pe permissionError) Error() string {
	return fmt.Sprintf("expected file permissions \"-rw-------\"; found \"%s\"", fs.FileMode(pe))
}
