package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/nametransfer/internal/voucher"
	"github.com/pelletier/go-toml/v2"
)

// NetworkConfig describes a two-chain simulation: the chains, the relay
// between them, genesis tokens, and the transfers to run in order.
type NetworkConfig struct {
	Name        string             `toml:"name"`
	Chains      []ChainConfig      `toml:"chains"`
	Relay       RelayConfig        `toml:"relay"`
	Collections []CollectionConfig `toml:"collections"`
	Tokens      []TokenConfig      `toml:"tokens"`
	Transfers   []TransferConfig   `toml:"transfers"`
}

type ChainConfig struct {
	ID                string `toml:"id"`
	PortID            string `toml:"port_id"`
	ModuleAddress     string `toml:"module_address"`
	VoucherCollection string `toml:"voucher_collection"`
	VoucherScheme     string `toml:"voucher_scheme"`
	PacketTimeout     string `toml:"packet_timeout"`
}

type RelayConfig struct {
	Transport    string `toml:"transport"`
	NATSURL      string `toml:"nats_url"`
	Stream       string `toml:"stream"`
	ConnectionID string `toml:"connection_id"`
	MaxSteps     int    `toml:"max_steps"`
}

type CollectionConfig struct {
	Chain    string `toml:"chain"`
	Contract string `toml:"contract"`
	Minter   string `toml:"minter"`
}

type TokenConfig struct {
	Chain    string `toml:"chain"`
	Contract string `toml:"contract"`
	TokenID  string `toml:"token_id"`
	Owner    string `toml:"owner"`
}

const (
	TransferKindTransfer = "transfer"
	TransferKindReturn   = "return"
)

type TransferConfig struct {
	Kind       string `toml:"kind"`
	From       string `toml:"from"`
	Collection string `toml:"collection"`
	TokenID    string `toml:"token_id"`
	Sender     string `toml:"sender"`
	Receiver   string `toml:"receiver"`
	Timeout    string `toml:"timeout"`
	// Expire advances both chain clocks past the packet timeout before
	// relaying, so the transfer settles by timeout.
	Expire bool `toml:"expire"`
}

func LoadNetworkConfig(path string) (NetworkConfig, error) {
	var cfg NetworkConfig
	if err := loadToml(path, &cfg); err != nil {
		return NetworkConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "nametransfer-sim"
	}
	if cfg.Relay.Transport == "" {
		cfg.Relay.Transport = "memory"
	}
	if cfg.Relay.ConnectionID == "" {
		cfg.Relay.ConnectionID = "connection-0"
	}
	if cfg.Relay.MaxSteps <= 0 {
		cfg.Relay.MaxSteps = 8
	}
	if err := ValidateNetworkConfig(cfg); err != nil {
		return NetworkConfig{}, err
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

func ValidateNetworkConfig(cfg NetworkConfig) error {
	if len(cfg.Chains) != 2 {
		return fmt.Errorf("network config needs exactly 2 chains, got %d", len(cfg.Chains))
	}
	known := make(map[string]bool, len(cfg.Chains))
	for i, chain := range cfg.Chains {
		if err := ValidateChainEntry(chain); err != nil {
			return fmt.Errorf("chain[%d] invalid: %w", i, err)
		}
		if known[chain.ID] {
			return fmt.Errorf("chain[%d] duplicate id %q", i, chain.ID)
		}
		known[chain.ID] = true
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Relay.Transport)) {
	case "memory", "nats":
	default:
		return fmt.Errorf("relay transport %q unsupported", cfg.Relay.Transport)
	}
	for i, c := range cfg.Collections {
		if !known[c.Chain] {
			return fmt.Errorf("collection[%d] unknown chain %q", i, c.Chain)
		}
		if strings.TrimSpace(c.Contract) == "" || strings.TrimSpace(c.Minter) == "" {
			return fmt.Errorf("collection[%d] contract and minter are required", i)
		}
	}
	for i, tok := range cfg.Tokens {
		if !known[tok.Chain] {
			return fmt.Errorf("token[%d] unknown chain %q", i, tok.Chain)
		}
		if strings.TrimSpace(tok.Contract) == "" || strings.TrimSpace(tok.TokenID) == "" || strings.TrimSpace(tok.Owner) == "" {
			return fmt.Errorf("token[%d] contract, token_id and owner are required", i)
		}
	}
	for i, tr := range cfg.Transfers {
		if err := ValidateTransferEntry(tr, known); err != nil {
			return fmt.Errorf("transfer[%d] invalid: %w", i, err)
		}
	}
	return nil
}

func ValidateChainEntry(cfg ChainConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if cfg.VoucherScheme != "" {
		if _, err := voucher.ParseScheme(cfg.VoucherScheme); err != nil {
			return err
		}
	}
	if _, err := ParseDuration(cfg.PacketTimeout); err != nil {
		return fmt.Errorf("packet_timeout: %w", err)
	}
	return nil
}

func ValidateTransferEntry(cfg TransferConfig, chains map[string]bool) error {
	switch cfg.Kind {
	case TransferKindTransfer, TransferKindReturn:
	default:
		return fmt.Errorf("kind %q must be %q or %q", cfg.Kind, TransferKindTransfer, TransferKindReturn)
	}
	if !chains[cfg.From] {
		return fmt.Errorf("unknown chain %q", cfg.From)
	}
	for name, v := range map[string]string{
		"collection": cfg.Collection,
		"token_id":   cfg.TokenID,
		"sender":     cfg.Sender,
		"receiver":   cfg.Receiver,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	if _, err := ParseDuration(cfg.Timeout); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	return nil
}

// ParseDuration accepts "" as zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", raw)
	}
	return d, nil
}
