package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/nametransfer/internal/node"
	"github.com/danmuck/nametransfer/internal/voucher"
)

type fileConfig struct {
	ID                  string    `toml:"id"`
	ChainID             string    `toml:"chain_id"`
	ListenAddr          string    `toml:"listen_addr"`
	HeartbeatInterval   string    `toml:"heartbeat_interval"`
	HeartbeatIntervalMS int64     `toml:"heartbeat_interval_ms"`
	PortID              string    `toml:"port_id"`
	ModuleAddress       string    `toml:"module_address"`
	VoucherCollection   string    `toml:"voucher_collection"`
	VoucherScheme       string    `toml:"voucher_scheme"`
	PacketTimeout       string    `toml:"packet_timeout"`
	APIToken            string    `toml:"api_token"`
	CORSOrigins         []string  `toml:"cors_origins"`
	Store               fileStore `toml:"store"`
}

type fileStore struct {
	Driver    string `toml:"driver"`
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	Namespace string `toml:"namespace"`
}

func loadServiceConfig(path string) (node.ServiceConfig, error) {
	cfg := node.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return node.ServiceConfig{}, fmt.Errorf("load node config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return node.ServiceConfig{}, fmt.Errorf("load node config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.NodeID = id
		}
	}
	if meta.IsDefined("chain_id") {
		cfg.ChainID = strings.TrimSpace(raw.ChainID)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("heartbeat_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HeartbeatInterval))
		if err != nil {
			return node.ServiceConfig{}, fmt.Errorf("parse heartbeat_interval: %w", err)
		}
		cfg.HeartbeatInterval = d
	}
	if meta.IsDefined("heartbeat_interval_ms") {
		cfg.HeartbeatInterval = time.Duration(raw.HeartbeatIntervalMS) * time.Millisecond
	}
	if meta.IsDefined("port_id") {
		cfg.PortID = strings.TrimSpace(raw.PortID)
	}
	if meta.IsDefined("module_address") {
		cfg.ModuleAddress = strings.TrimSpace(raw.ModuleAddress)
	}
	if meta.IsDefined("voucher_collection") {
		cfg.VoucherCollection = strings.TrimSpace(raw.VoucherCollection)
	}
	if meta.IsDefined("voucher_scheme") {
		if _, err := voucher.ParseScheme(raw.VoucherScheme); err != nil {
			return node.ServiceConfig{}, err
		}
		cfg.VoucherScheme = strings.TrimSpace(raw.VoucherScheme)
	}
	if meta.IsDefined("packet_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PacketTimeout))
		if err != nil {
			return node.ServiceConfig{}, fmt.Errorf("parse packet_timeout: %w", err)
		}
		cfg.PacketTimeout = d
	}
	if meta.IsDefined("api_token") {
		cfg.APIToken = strings.TrimSpace(raw.APIToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}
	if meta.IsDefined("store", "driver") {
		cfg.Store.Driver = strings.TrimSpace(raw.Store.Driver)
	}
	if meta.IsDefined("store", "addr") {
		cfg.Store.Addr = strings.TrimSpace(raw.Store.Addr)
	}
	if meta.IsDefined("store", "password") {
		cfg.Store.Password = raw.Store.Password
	}
	if meta.IsDefined("store", "db") {
		cfg.Store.DB = raw.Store.DB
	}
	if meta.IsDefined("store", "namespace") {
		cfg.Store.Namespace = strings.TrimSpace(raw.Store.Namespace)
	}

	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
