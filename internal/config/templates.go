package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "node":
		return nodeTemplate, nil
	case "anonymous":
		return anonymousTemplate, nil
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

const nodeTemplate = `name = "uavnode"
node_id = 1
ifaces = 2
rx_queue_depth = 64
outgoing_capacity = 16
transfer_timeout = "2s"
cleanup_period = "1s"
spin_period = "5ms"
tx_timeout = "10ms"
publish_period = "1s"
status_addr = "127.0.0.1:9300"
cors_origins = ["http://localhost:3000"]

[[pools]]
block_size = 8
blocks = 256

[[pools]]
block_size = 32
blocks = 32
`

const anonymousTemplate = `name = "uavnode-listener"
node_id = 0
ifaces = 1
status_addr = "127.0.0.1:9301"

[[pools]]
block_size = 8
blocks = 64
`
