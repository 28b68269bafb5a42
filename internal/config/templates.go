package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "network":
		return networkTemplate, nil
	case "node":
		return nodeTemplate, nil
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

const networkTemplate = `name = "nametransfer-sim"

[[chains]]
id = "chain-a"
port_id = "wasm.nametransfer"
module_address = "nametransfer-module"
voucher_collection = "name-vouchers"
voucher_scheme = "path"
packet_timeout = "10m"

[[chains]]
id = "chain-b"
port_id = "wasm.nametransfer"
module_address = "nametransfer-module"
voucher_collection = "name-vouchers"
voucher_scheme = "path"
packet_timeout = "10m"

[relay]
transport = "memory"
# nats_url = "nats://127.0.0.1:4222"
# stream = "NAMETRANSFER"
connection_id = "connection-0"
max_steps = 8

[[collections]]
chain = "chain-a"
contract = "names"
minter = "registrar"

[[tokens]]
chain = "chain-a"
contract = "names"
token_id = "alice"
owner = "addr-alice"

[[transfers]]
kind = "transfer"
from = "chain-a"
collection = "names"
token_id = "alice"
sender = "addr-alice"
receiver = "addr-bob"

[[transfers]]
kind = "return"
from = "chain-b"
collection = "names"
token_id = "alice"
sender = "addr-bob"
receiver = "addr-alice"
`

const nodeTemplate = `id = "nametransferd.local"
chain_id = "chain-a"
listen_addr = "127.0.0.1:9400"
heartbeat_interval = "30s"
port_id = "wasm.nametransfer"
module_address = "nametransfer-module"
voucher_collection = "name-vouchers"
voucher_scheme = "path"
packet_timeout = "10m"
api_token = ""
cors_origins = ["http://localhost:3000"]

[store]
driver = "memory"
# addr = "127.0.0.1:6379"
# namespace = "nametransfer"
`
