// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	RPCURL       string `mapstructure:"rpc_url"`
	WebSocketURL string `mapstructure:"websocket_url"`
	Network      string `mapstructure:"network"`

	// Explicit program override; takes precedence over the network table.
	SwapProgram        string   `mapstructure:"swap_program"`
	LegacySwapPrograms []string `mapstructure:"legacy_swap_programs"`

	WalletKeyFile string `mapstructure:"wallet_key_file"`

	SlippagePct       float64 `mapstructure:"slippage_pct"`
	ConfirmTimeoutSec int     `mapstructure:"confirm_timeout_sec"`
	ResubmitMs        int     `mapstructure:"resubmit_ms"`

	HostFeeAddress  string `mapstructure:"host_fee_address"`
	OwnerFeeAddress string `mapstructure:"owner_fee_address"`

	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFile      string `mapstructure:"log_file"`
}

const (
	DefaultNetwork           = "mainnet-beta"
	DefaultSlippagePct       = 0.5
	DefaultConfirmTimeoutSec = 15
	DefaultResubmitMs        = 300
)

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"network":             DefaultNetwork,
		"slippage_pct":        DefaultSlippagePct,
		"confirm_timeout_sec": DefaultConfirmTimeoutSec,
		"resubmit_ms":         DefaultResubmitMs,
		"log_file":            "swapctl.log",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SWAPCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, Validate(&cfg)
}

func Validate(cfg *Config) error {
	if cfg.RPCURL == "" {
		return errors.New("missing rpc_url in configuration")
	}
	if err := validateURL(cfg.RPCURL, "http"); err != nil {
		return errors.New("invalid RPC URL protocol")
	}
	if cfg.WebSocketURL != "" {
		if err := validateURL(cfg.WebSocketURL, "ws"); err != nil {
			return errors.New("invalid WebSocket URL protocol")
		}
	}
	if cfg.SlippagePct < 0 || cfg.SlippagePct >= 100 {
		return errors.New("invalid slippage_pct")
	}
	if cfg.ConfirmTimeoutSec <= 0 {
		return errors.New("invalid confirm_timeout_sec")
	}
	if cfg.ResubmitMs <= 0 {
		return errors.New("invalid resubmit_ms")
	}
	if cfg.SwapProgram == "" {
		if _, ok := networks[cfg.Network]; !ok {
			return fmt.Errorf("unknown network %q and no swap_program override", cfg.Network)
		}
	}
	return nil
}

func validateURL(rawURL, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutSec) * time.Second
}

func (c *Config) ResubmitInterval() time.Duration {
	return time.Duration(c.ResubmitMs) * time.Millisecond
}

// SlippageFraction returns the tolerance as a 0..1 fraction.
func (c *Config) SlippageFraction() float64 {
	return c.SlippagePct / 100
}
