package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// TargetConfig is the blkserve config.toml layout.
type TargetConfig struct {
	ID           string         `toml:"id"`
	Addr         string         `toml:"addr"`
	AdminAddr    string         `toml:"admin_addr"`
	AdminToken   string         `toml:"admin_token"`
	CorsOrigins  []string       `toml:"cors_origins"`
	MaxIOSize    uint64         `toml:"max_io_size"`
	MaxDevSize   uint64         `toml:"max_dev_size"`
	FixedDevices bool           `toml:"fixed_devices"`
	TLSCertFile  string         `toml:"tls_cert_file"`
	TLSKeyFile   string         `toml:"tls_key_file"`
	Devices      []DeviceConfig `toml:"devices"`
}

type DeviceConfig struct {
	Path string `toml:"path"`
	Size uint64 `toml:"size"`
}

// ClientFile is the blkctl config.toml layout. Durations are Go duration
// strings.
type ClientFile struct {
	URI                string `toml:"uri"`
	JSONMode           bool   `toml:"json_mode"`
	ConnectTimeout     string `toml:"connect_timeout"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	TLSEnabled         bool   `toml:"tls_enabled"`
	TLSCAFile          string `toml:"tls_ca_file"`
	TLSServerName      string `toml:"tls_server_name"`
}

func LoadTargetConfig(path string) (TargetConfig, error) {
	var cfg TargetConfig
	if err := loadToml(path, &cfg); err != nil {
		return TargetConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = "blkserve"
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9810"
	}
	if err := ValidateTargetConfig(cfg); err != nil {
		return TargetConfig{}, err
	}
	return cfg, nil
}

func LoadClientFile(path string) (ClientFile, error) {
	var cfg ClientFile
	if err := loadToml(path, &cfg); err != nil {
		return ClientFile{}, err
	}
	if err := ValidateClientFile(cfg); err != nil {
		return ClientFile{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateTargetConfig(cfg TargetConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("target config missing id")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("target config missing addr")
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return fmt.Errorf("target config needs both tls_cert_file and tls_key_file")
	}
	seen := make(map[string]bool, len(cfg.Devices))
	for i, dev := range cfg.Devices {
		if err := ValidateDeviceEntry(dev, cfg.MaxDevSize); err != nil {
			return fmt.Errorf("devices[%d] invalid: %w", i, err)
		}
		if seen[dev.Path] {
			return fmt.Errorf("devices[%d] invalid: duplicate path %q", i, dev.Path)
		}
		seen[dev.Path] = true
	}
	if cfg.FixedDevices && len(cfg.Devices) == 0 {
		return fmt.Errorf("target config fixed_devices requires at least one device")
	}
	return nil
}

func ValidateDeviceEntry(dev DeviceConfig, maxSize uint64) error {
	if strings.TrimSpace(dev.Path) == "" {
		return fmt.Errorf("path is required")
	}
	if maxSize > 0 && dev.Size > maxSize {
		return fmt.Errorf("size %d exceeds max_dev_size %d", dev.Size, maxSize)
	}
	return nil
}

func ValidateClientFile(cfg ClientFile) error {
	if cfg.ConnectTimeout != "" {
		if _, err := time.ParseDuration(strings.TrimSpace(cfg.ConnectTimeout)); err != nil {
			return fmt.Errorf("client config connect_timeout: %w", err)
		}
	}
	if cfg.MaxConnectAttempts < 0 {
		return fmt.Errorf("client config max_connect_attempts must be >= 0")
	}
	if cfg.TLSEnabled && strings.TrimSpace(cfg.TLSCAFile) == "" {
		return fmt.Errorf("client config tls_enabled requires tls_ca_file")
	}
	return nil
}
