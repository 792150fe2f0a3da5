package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	path := writeTempConfig(t, `
network:
  id: 7
  listen_addr: /ip4/0.0.0.0/tcp/30303
  max_peers: 50
  discovery_tag: veylan-mainnet
  bootstrap_peers:
    - /ip4/1.2.3.4/tcp/30303/p2p/abc

consensus:
  target_block_time_ms: 10000
  asert_half_life_blocks: 144
  max_block_size_bytes: 1000000
  block_size_safety_margin: 5000
  genesis_file: genesis.yaml

mining:
  enabled: true
  coinbase: "0xabc"
  workers: 4

mempool:
  max_global: 5000
  max_per_sender: 16
  min_fee_floor: "10"

storage:
  db_path: /var/lib/veylan/db

logging:
  level: info

metrics:
  enabled: true
  addr: ":9090"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network.ID != 7 {
		t.Fatalf("network.id = %d, want 7", cfg.Network.ID)
	}
	if len(cfg.Network.BootstrapPeers) != 1 {
		t.Fatalf("expected 1 bootstrap peer, got %d", len(cfg.Network.BootstrapPeers))
	}
	if cfg.Consensus.TargetBlockTimeMs != 10000 {
		t.Fatalf("consensus.target_block_time_ms = %d, want 10000", cfg.Consensus.TargetBlockTimeMs)
	}
	if !cfg.Mining.Enabled || cfg.Mining.Workers != 4 {
		t.Fatalf("mining section mismatch: %+v", cfg.Mining)
	}
	if cfg.Mempool.MaxGlobal != 5000 || cfg.Mempool.MinFeeFloor != "10" {
		t.Fatalf("mempool section mismatch: %+v", cfg.Mempool)
	}
	if cfg.Storage.DBPath != "/var/lib/veylan/db" {
		t.Fatalf("storage.db_path = %q", cfg.Storage.DBPath)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9090" {
		t.Fatalf("metrics section mismatch: %+v", cfg.Metrics)
	}
}

func TestLoadErrorsOnMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
