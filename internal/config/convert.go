package config

import (
	"strings"

	"github.com/danmuck/blkio/internal/target"
)

// TargetServerConfig maps a loaded file onto the target server settings.
func TargetServerConfig(cfg TargetConfig) target.Config {
	out := target.DefaultConfig()
	out.ID = strings.TrimSpace(cfg.ID)
	out.Listen = strings.TrimSpace(cfg.Addr)
	out.AdminListen = strings.TrimSpace(cfg.AdminAddr)
	out.AdminToken = strings.TrimSpace(cfg.AdminToken)
	out.CorsOrigins = cfg.CorsOrigins
	if cfg.MaxIOSize > 0 {
		out.MaxIOSize = cfg.MaxIOSize
	}
	out.MaxDevSize = cfg.MaxDevSize
	out.FixedDevices = cfg.FixedDevices
	out.TLSCertFile = strings.TrimSpace(cfg.TLSCertFile)
	out.TLSKeyFile = strings.TrimSpace(cfg.TLSKeyFile)
	out.Devices = make([]target.DeviceInfo, 0, len(cfg.Devices))
	for _, dev := range cfg.Devices {
		out.Devices = append(out.Devices, target.DeviceInfo{
			Path: strings.TrimSpace(dev.Path),
			Size: dev.Size,
		})
	}
	return out
}
