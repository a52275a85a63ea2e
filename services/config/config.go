// Package config loads the node configuration: a YAML file (or an embedded
// per-device default), ENVNODE_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"envnode-go/drivers/bme680"
	"envnode-go/errcode"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "ENVNODE"

type Config struct {
	Bus             int            `mapstructure:"bus"`
	QueueSize       int            `mapstructure:"queue_size"`
	TransferTimeout time.Duration  `mapstructure:"transfer_timeout"`
	SamplePeriod    time.Duration  `mapstructure:"sample_period"`
	MetricsAddr     string         `mapstructure:"metrics_addr"`
	LogLevel        string         `mapstructure:"log_level"`
	Sensors         []SensorConfig `mapstructure:"sensors"`
}

type SensorConfig struct {
	ID        string `mapstructure:"id"`
	Address   uint16 `mapstructure:"address"`
	Profile   uint8  `mapstructure:"profile"`
	HeaterC   uint16 `mapstructure:"heater_c"`
	GasWaitMs int    `mapstructure:"gas_wait_ms"`
}

// Settings returns the measurement settings for this sensor.
func (s SensorConfig) Settings() bme680.Settings {
	st := bme680.DefaultSettings(s.Profile)
	st.HeaterC = s.HeaterC
	st.GasWait = bme680.GasWaitCode(time.Duration(s.GasWaitMs) * time.Millisecond)
	return st
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"bus":           "bus",
	"log-level":     "log_level",
	"metrics-addr":  "metrics_addr",
	"sample-period": "sample_period",
}

func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("bus", 1)
	v.SetDefault("queue_size", 16)
	v.SetDefault("transfer_timeout", "250ms")
	v.SetDefault("sample_period", "10s")
	v.SetDefault("metrics_addr", ":9108")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}
	return v, nil
}

// Load reads the YAML file at path. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v, err := newViper(flags)
	if err != nil {
		return nil, err
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return decode(v)
}

// LoadDevice uses the embedded default configuration for a device type.
func LoadDevice(device string, flags *pflag.FlagSet) (*Config, error) {
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("no embedded config for device %q: %w", device, errcode.InvalidParams)
	}
	v, err := newViper(flags)
	if err != nil {
		return nil, err
	}
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to parse embedded config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for i := range cfg.Sensors {
		s := &cfg.Sensors[i]
		if s.Address == 0 {
			s.Address = bme680.AddressDefault
		}
		if s.HeaterC == 0 {
			s.HeaterC = 300
		}
		if s.GasWaitMs == 0 {
			s.GasWaitMs = 30
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("bme680-%02x", s.Address)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges the hardware imposes.
func (c *Config) Validate() error {
	if len(c.Sensors) == 0 {
		return fmt.Errorf("no sensors configured: %w", errcode.InvalidParams)
	}
	if c.SamplePeriod <= 0 {
		return fmt.Errorf("sample_period must be positive: %w", errcode.InvalidParams)
	}
	seen := map[string]bool{}
	for _, s := range c.Sensors {
		switch {
		case seen[s.ID]:
			return fmt.Errorf("sensor %q defined twice: %w", s.ID, errcode.InvalidParams)
		case s.Address > 0x7F:
			return fmt.Errorf("sensor %q: address 0x%x is not 7-bit: %w", s.ID, s.Address, errcode.InvalidParams)
		case s.Profile > bme680.MaxProfile:
			return fmt.Errorf("sensor %q: heater profile %d out of range: %w", s.ID, s.Profile, errcode.InvalidParams)
		case s.HeaterC > 400:
			return fmt.Errorf("sensor %q: heater target %d °C above 400: %w", s.ID, s.HeaterC, errcode.InvalidParams)
		case s.GasWaitMs < 0:
			return fmt.Errorf("sensor %q: negative gas wait: %w", s.ID, errcode.InvalidParams)
		}
		seen[s.ID] = true
	}
	return nil
}
