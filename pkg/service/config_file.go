package service

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML form of a RouterConfig. Unset fields keep the
// defaults of DefaultRouterConfig.
type FileConfig struct {
	BindAddress string `yaml:"bind_address,omitempty"`
	SRPPort     uint16 `yaml:"srp_port,omitempty"`
	DNSSDPort   uint16 `yaml:"dnssd_port,omitempty"`
	Domain      string `yaml:"domain,omitempty"`

	Leases struct {
		Min    uint32 `yaml:"min,omitempty"`
		Max    uint32 `yaml:"max,omitempty"`
		KeyMin uint32 `yaml:"key_min,omitempty"`
		KeyMax uint32 `yaml:"key_max,omitempty"`
	} `yaml:"leases,omitempty"`

	// QueryTimeout is a duration string, e.g. "6s".
	QueryTimeout string `yaml:"query_timeout,omitempty"`

	AdvertisingProxy bool   `yaml:"advertising_proxy,omitempty"`
	ProxyInterface   string `yaml:"proxy_interface,omitempty"`

	LogFile string `yaml:"log_file,omitempty"`
}

// RouterConfig merges the file over the defaults.
func (f *FileConfig) RouterConfig() (RouterConfig, error) {
	cfg := DefaultRouterConfig()

	if f.BindAddress != "" {
		cfg.BindAddress = f.BindAddress
	}
	if f.SRPPort != 0 {
		cfg.SRPPort = f.SRPPort
	}
	if f.DNSSDPort != 0 {
		cfg.DNSSDPort = f.DNSSDPort
	}
	if f.Domain != "" {
		cfg.Domain = f.Domain
	}
	cfg.Leases = LeaseRange{
		Min:    f.Leases.Min,
		Max:    f.Leases.Max,
		KeyMin: f.Leases.KeyMin,
		KeyMax: f.Leases.KeyMax,
	}
	if f.QueryTimeout != "" {
		d, err := time.ParseDuration(f.QueryTimeout)
		if err != nil {
			return RouterConfig{}, fmt.Errorf("%w: query_timeout: %v", ErrInvalidConfig, err)
		}
		cfg.QueryTimeout = d
	}
	cfg.AdvertisingProxy = f.AdvertisingProxy
	cfg.ProxyInterface = f.ProxyInterface
	cfg.LogFile = f.LogFile

	if err := cfg.Validate(); err != nil {
		return RouterConfig{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML config file and merges it over the
// defaults.
func LoadConfigFile(path string) (RouterConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RouterConfig{}, err
	}
	var f FileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return RouterConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return f.RouterConfig()
}
