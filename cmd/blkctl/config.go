package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/blkio/internal/config"
	"github.com/danmuck/blkio/internal/iio"
	"github.com/danmuck/blkio/internal/transport"
)

const defaultURI = "of://127.0.0.1:9810"

// clientConfig is the resolved blkctl runtime configuration.
type clientConfig struct {
	URI    string
	Client iio.Config
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		URI: defaultURI,
		Client: iio.Config{
			JSON:      true,
			Transport: transport.DefaultConfig(),
		},
	}
}

// blkctl loader for TOML config with default overlay.
func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()

	var raw config.ClientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load blkctl config: %w", err)
	}
	if err := config.ValidateClientFile(raw); err != nil {
		return clientConfig{}, fmt.Errorf("load blkctl config: %w", err)
	}

	if meta.IsDefined("uri") {
		if uri := strings.TrimSpace(raw.URI); uri != "" {
			cfg.URI = uri
		}
	}
	if meta.IsDefined("json_mode") {
		cfg.Client.JSON = raw.JSONMode
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return clientConfig{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.Client.Transport.ConnectTimeout = d
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Client.Transport.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("tls_enabled") {
		cfg.Client.Transport.TLS.Enabled = raw.TLSEnabled
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.Client.Transport.TLS.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("tls_server_name") {
		cfg.Client.Transport.TLS.ServerName = strings.TrimSpace(raw.TLSServerName)
	}

	if _, _, err := iio.ParseURI(cfg.URI); err != nil {
		return clientConfig{}, fmt.Errorf("load blkctl config: %w", err)
	}
	cfg.Client.Transport = cfg.Client.Transport.WithDefaults()
	return cfg, nil
}
