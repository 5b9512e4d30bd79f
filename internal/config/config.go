package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/SepehrImanian/ndsol/internal/domain"
	"github.com/SepehrImanian/ndsol/internal/logging"
)

// Auto asks for an address to be taken from the interface.
const Auto = "auto"

// ConfigurationError reports a configuration that cannot be started.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// HTTPConfig configures the introspection endpoint.
type HTTPConfig struct {
	// Listen is the address to serve on. Empty disables the endpoint.
	Listen string `yaml:"listen"`
}

type Config struct {
	Logging logging.Config `yaml:"logging"`

	// Interface is the link neighbour discovery runs on and resolved
	// packets are sent to.
	Interface string `yaml:"interface"`
	// QueryInterface optionally receives solicitations instead of Interface.
	QueryInterface string `yaml:"query_interface"`
	// IngressInterface is where outgoing IPv6 packets are captured.
	IngressInterface string `yaml:"ingress_interface"`
	// NextHop, when set, overrides the destination of every captured packet.
	NextHop string `yaml:"next_hop"`

	// Address is our IPv6 address, or "auto".
	Address string `yaml:"address"`
	// LinkAddress is our Ethernet address, or "auto".
	LinkAddress string `yaml:"link_address"`

	ExpireTimeout time.Duration `yaml:"expire_timeout"`
	// RetransmitInterval throttles re-solicitation of a pending destination.
	// Zero re-solicits for every new packet.
	RetransmitInterval time.Duration `yaml:"retransmit_interval"`
	// QueryRate caps solicitations per second across destinations. Zero
	// means unlimited.
	QueryRate  float64 `yaml:"query_rate"`
	QueryBurst int     `yaml:"query_burst"`

	// Snaplen is the capture length for both interfaces.
	Snaplen datasize.ByteSize `yaml:"snaplen"`

	HTTP HTTPConfig `yaml:"http"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{
			Level: zapcore.InfoLevel,
		},
		ExpireTimeout: 15 * time.Second,
		QueryBurst:    16,
		Snaplen:       64 * datasize.KB,
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("failed to read config file: %w", err)}
	}
	return Parse(buf)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(buf []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("failed to deserialize config: %w", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var err error

	if c.Interface == "" {
		err = multierr.Append(err, errors.New("interface is required"))
	}
	if c.IngressInterface == "" {
		err = multierr.Append(err, errors.New("ingress_interface is required"))
	}
	if c.IngressInterface != "" && c.IngressInterface == c.Interface {
		err = multierr.Append(err, errors.New("ingress_interface must differ from interface"))
	}

	switch c.Address {
	case "":
		err = multierr.Append(err, errors.New("address is required"))
	case Auto:
	default:
		if _, e := ParseAddress(c.Address); e != nil {
			err = multierr.Append(err, fmt.Errorf("address: %w", e))
		}
	}

	switch c.LinkAddress {
	case "":
		err = multierr.Append(err, errors.New("link_address is required"))
	case Auto:
	default:
		if _, e := ParseLinkAddress(c.LinkAddress); e != nil {
			err = multierr.Append(err, fmt.Errorf("link_address: %w", e))
		}
	}

	if c.NextHop != "" {
		if _, e := ParseAddress(c.NextHop); e != nil {
			err = multierr.Append(err, fmt.Errorf("next_hop: %w", e))
		}
	}

	if c.ExpireTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("expire_timeout must be positive, got %s", c.ExpireTimeout))
	}
	if c.RetransmitInterval < 0 {
		err = multierr.Append(err, fmt.Errorf("retransmit_interval must not be negative, got %s", c.RetransmitInterval))
	}
	if c.QueryRate < 0 {
		err = multierr.Append(err, fmt.Errorf("query_rate must not be negative, got %v", c.QueryRate))
	}
	if c.QueryRate > 0 && c.QueryBurst <= 0 {
		err = multierr.Append(err, fmt.Errorf("query_burst must be positive when query_rate is set, got %d", c.QueryBurst))
	}
	if c.Snaplen < 128*datasize.B || c.Snaplen > 256*datasize.KB {
		err = multierr.Append(err, fmt.Errorf("snaplen must be between 128B and 256KB, got %s", c.Snaplen.HR()))
	}

	if err != nil {
		return &ConfigurationError{Err: err}
	}
	return nil
}

// ParseAddress parses an IPv6 unicast address.
func ParseAddress(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	if !addr.Is6() || addr.Is4In6() {
		return netip.Addr{}, fmt.Errorf("%s is not an IPv6 address", addr)
	}
	if addr.IsUnspecified() || addr.IsMulticast() {
		return netip.Addr{}, fmt.Errorf("%s is not a unicast address", addr)
	}
	return addr, nil
}

// ParseLinkAddress parses a unicast EUI-48 address.
func ParseLinkAddress(s string) (domain.LinkAddr, error) {
	l, err := domain.ParseLinkAddr(s)
	if err != nil {
		return l, err
	}
	if l.IsZero() || l.IsMulticast() {
		return domain.LinkAddr{}, fmt.Errorf("%s is not a unicast link address", l)
	}
	return l, nil
}
