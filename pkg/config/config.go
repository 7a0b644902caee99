package config

import (
	"fmt"
	"os"
	"time"

	"github.com/bbockelm/StashCache/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level supervisor configuration file structure
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Registry    RegistryConfig    `yaml:"registry"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// ServiceConfig identifies the managed OS-level service and its
// candidate variants.
type ServiceConfig struct {
	// BaseName is the legacy init-script name used when systemd is absent.
	BaseName string          `yaml:"base_name,omitempty"`
	Variants []VariantConfig `yaml:"variants,omitempty"`
}

// VariantConfig maps a variant name to the configuration file whose
// presence selects it, and to the systemd unit controlled for it.
type VariantConfig struct {
	Name       string `yaml:"name"`
	ConfigPath string `yaml:"config_path"`
	Unit       string `yaml:"unit"`
}

// RegistryConfig addresses the local and central registries.
type RegistryConfig struct {
	// LocalAddress overrides the host's own fully-qualified name.
	LocalAddress string `yaml:"local_address,omitempty"`
	// CentralAddress overrides the built-in central fallback pool.
	CentralAddress string `yaml:"central_address,omitempty"`
	Port           int    `yaml:"port,omitempty"`
}

// MonitorConfig tunes the heartbeat monitor cadence and health probe.
type MonitorConfig struct {
	AdvertiseInterval Duration `yaml:"advertise_interval,omitempty"`
	AdvertiseRounds   int      `yaml:"advertise_rounds,omitempty"`
	ProbeURL          string   `yaml:"probe_url,omitempty"`
	ProbeTimeout      Duration `yaml:"probe_timeout,omitempty"`
}

// Duration wraps time.Duration so YAML configs can use forms like "900s";
// yaml.v3 has no native duration decoding.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// CredentialsConfig holds the PKI artifact paths checked at startup.
type CredentialsConfig struct {
	HostCert string `yaml:"host_cert,omitempty"`
	HostKey  string `yaml:"host_key,omitempty"`
}

const (
	DefaultBaseName = "xrootd"

	DefaultAdvertiseInterval = Duration(900 * time.Second)
	DefaultAdvertiseRounds   = 2
	DefaultProbeURL          = "http://localhost:1094/"
	DefaultProbeTimeout      = Duration(30 * time.Second)

	DefaultHostCert = "/etc/grid-security/hostcert.pem"
	DefaultHostKey  = "/etc/grid-security/hostkey.pem"

	DefaultRegistryPort = 9619
)

// DefaultCentralPool is the built-in fallback pool of central registry
// hosts, used when no central address is configured.
var DefaultCentralPool = []string{
	"collector1.opensciencegrid.org",
	"collector2.opensciencegrid.org",
}

// DefaultVariants are probed in order; the first variant whose
// configuration file exists on disk is selected.
func DefaultVariants() []VariantConfig {
	return []VariantConfig{
		{
			Name:       "cache",
			ConfigPath: "/etc/xrootd/xrootd-stashcache-cache-server.cfg",
			Unit:       "xrootd@stashcache-cache-server",
		},
		{
			Name:       "origin",
			ConfigPath: "/etc/xrootd/xrootd-stashcache-origin-server.cfg",
			Unit:       "xrootd@stashcache-origin-server",
		},
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

// LoadConfigFromFile loads and validates configuration from a YAML file
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Service.BaseName == "" {
		c.Service.BaseName = DefaultBaseName
	}
	if len(c.Service.Variants) == 0 {
		c.Service.Variants = DefaultVariants()
	}
	if c.Monitor.AdvertiseInterval == 0 {
		c.Monitor.AdvertiseInterval = DefaultAdvertiseInterval
	}
	if c.Monitor.AdvertiseRounds == 0 {
		c.Monitor.AdvertiseRounds = DefaultAdvertiseRounds
	}
	if c.Monitor.ProbeURL == "" {
		c.Monitor.ProbeURL = DefaultProbeURL
	}
	if c.Monitor.ProbeTimeout == 0 {
		c.Monitor.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Credentials.HostCert == "" {
		c.Credentials.HostCert = DefaultHostCert
	}
	if c.Credentials.HostKey == "" {
		c.Credentials.HostKey = DefaultHostKey
	}
	if c.Registry.Port == 0 {
		c.Registry.Port = DefaultRegistryPort
	}
}

// CentralAddresses returns the configured central registry address, or
// the built-in fallback pool when none is configured.
func (c *Config) CentralAddresses() []string {
	if c.Registry.CentralAddress != "" {
		return []string{c.Registry.CentralAddress}
	}
	return append([]string(nil), DefaultCentralPool...)
}

// ValidateConfig checks configuration consistency before use
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewControllerError("configuration is nil", nil)
	}
	for i, variant := range config.Service.Variants {
		if variant.Name == "" {
			return errors.NewControllerError(
				fmt.Sprintf("variant %d has no name", i), nil)
		}
		if variant.ConfigPath == "" {
			return errors.NewControllerError(
				fmt.Sprintf("variant %q has no config path", variant.Name), nil)
		}
		if variant.Unit == "" {
			return errors.NewControllerError(
				fmt.Sprintf("variant %q has no unit", variant.Name), nil)
		}
	}
	if config.Monitor.AdvertiseInterval < 0 {
		return errors.NewControllerError("advertise interval must not be negative", nil)
	}
	if config.Monitor.AdvertiseRounds < 1 {
		return errors.NewControllerError("advertise rounds must be at least 1", nil)
	}
	if config.Registry.Port < 1 || config.Registry.Port > 65535 {
		return errors.NewControllerError(
			fmt.Sprintf("invalid registry port: %d", config.Registry.Port), nil)
	}
	return nil
}
