package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "target":
		return targetTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const targetTemplate = `id = "blkserve"
addr = "127.0.0.1:9810"
admin_addr = "127.0.0.1:9811"
admin_token = ""
cors_origins = ["http://localhost:3000"]
max_io_size = 1048576
max_dev_size = 67108864
fixed_devices = false

[[devices]]
path = "/vol/a"
size = 1048576

[[devices]]
path = "/vol/b"
size = 4194304
`

const clientTemplate = `uri = "of://127.0.0.1:9810"
json_mode = true
connect_timeout = "5s"
max_connect_attempts = 3
`
