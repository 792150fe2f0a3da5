// Package config loads node configuration from a YAML file plus environment
// overrides, mirroring the teacher's viper-based loader (pkg/config/config.go)
// but shaped around this chain's own sections instead of Synnergy's.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Version is the configuration schema version.
const Version = "v0.1.0"

// Config is the unified node configuration.
type Config struct {
	Network struct {
		ID             uint32   `mapstructure:"id" json:"id"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		P2PPort        int      `mapstructure:"p2p_port" json:"p2p_port"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Consensus struct {
		TargetBlockTimeMs     int64  `mapstructure:"target_block_time_ms" json:"target_block_time_ms"`
		AsertHalfLifeBlocks   uint64 `mapstructure:"asert_half_life_blocks" json:"asert_half_life_blocks"`
		MaxBlockSizeBytes     int    `mapstructure:"max_block_size_bytes" json:"max_block_size_bytes"`
		BlockSizeSafetyMargin int    `mapstructure:"block_size_safety_margin" json:"block_size_safety_margin"`
		GenesisFile           string `mapstructure:"genesis_file" json:"genesis_file"`
	} `mapstructure:"consensus" json:"consensus"`

	Mining struct {
		Enabled    bool   `mapstructure:"enabled" json:"enabled"`
		Coinbase   string `mapstructure:"coinbase" json:"coinbase"`
		PrivateKey string `mapstructure:"private_key" json:"private_key"`
		Workers    int    `mapstructure:"workers" json:"workers"`
	} `mapstructure:"mining" json:"mining"`

	Mempool struct {
		MaxGlobal    int    `mapstructure:"max_global" json:"max_global"`
		MaxPerSender int    `mapstructure:"max_per_sender" json:"max_per_sender"`
		MinFeeFloor  string `mapstructure:"min_fee_floor" json:"min_fee_floor"`
	} `mapstructure:"mempool" json:"mempool"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Addr    string `mapstructure:"addr" json:"addr"`
	} `mapstructure:"metrics" json:"metrics"`
}

// Load reads configPath (a YAML file) and merges any VEYLAN_-prefixed
// environment variable overrides, the teacher's default-then-env-merge
// shape (pkg/config/config.go Load/LoadFromEnv) collapsed into one call
// since this node has no per-environment config file variant.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	v.SetEnvPrefix("VEYLAN")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
