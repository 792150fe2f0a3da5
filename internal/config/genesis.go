package config

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/viper"

	"github.com/veylan-chain/veylan/internal/types"
)

// genesisFile is the on-disk shape of a genesis configuration, decimal
// strings throughout since YAML has no native big-integer type.
type genesisFile struct {
	NetworkID             uint32   `mapstructure:"network_id"`
	GenesisTimestamp      int64    `mapstructure:"genesis_timestamp"`
	GenesisAuthorities    []string `mapstructure:"genesis_authorities"`
	InitialMint           string   `mapstructure:"initial_mint"`
	InitialMintRecipient  string   `mapstructure:"initial_mint_recipient"`
	ApprovalThresholdBps  uint32   `mapstructure:"approval_threshold_bps"`
	BipExpirationPeriodMs int64    `mapstructure:"bip_expiration_period_ms"`
	MaxBlockSizeBytes     int      `mapstructure:"max_block_size_bytes"`
	BlockSizeSafetyMargin int      `mapstructure:"block_size_safety_margin"`
	TargetBlockTimeMs     int64    `mapstructure:"target_block_time_ms"`

	InitialParams struct {
		BlockReward            string `mapstructure:"block_reward"`
		BlockRewardPoolAddress string `mapstructure:"block_reward_pool_address"`
		TargetMiningTimeMs     int64  `mapstructure:"target_mining_time_ms"`
		AsertHalfLifeBlocks    uint64 `mapstructure:"asert_half_life_blocks"`
		AsertAnchorHeight      uint64 `mapstructure:"asert_anchor_height"`
		MinDifficulty          string `mapstructure:"min_difficulty"`
		MinTxBaseFee           string `mapstructure:"min_tx_base_fee"`
		MinTxByteFee           string `mapstructure:"min_tx_byte_fee"`
	} `mapstructure:"initial_params"`
}

// LoadGenesis reads a genesis YAML file and converts it into
// types.NetworkSettings, parsing hex addresses and decimal Wei amounts.
func LoadGenesis(path string) (*types.NetworkSettings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	var gf genesisFile
	if err := v.Unmarshal(&gf); err != nil {
		return nil, fmt.Errorf("genesis: unmarshal: %w", err)
	}

	authorities := make([]types.Address, len(gf.GenesisAuthorities))
	for i, hexAddr := range gf.GenesisAuthorities {
		authorities[i] = types.BytesToAddress(crypto.HexToAddress(hexAddr).Bytes())
	}

	mintRecipient := types.ZeroAddress
	if gf.InitialMintRecipient != "" {
		mintRecipient = types.BytesToAddress(crypto.HexToAddress(gf.InitialMintRecipient).Bytes())
	}
	rewardPool := types.ZeroAddress
	if gf.InitialParams.BlockRewardPoolAddress != "" {
		rewardPool = types.BytesToAddress(crypto.HexToAddress(gf.InitialParams.BlockRewardPoolAddress).Bytes())
	}

	settings := &types.NetworkSettings{
		NetworkID:             gf.NetworkID,
		GenesisTimestamp:      gf.GenesisTimestamp,
		GenesisAuthorities:    authorities,
		InitialMint:           decimalToWei(gf.InitialMint),
		InitialMintRecipient:  mintRecipient,
		ApprovalThresholdBps:  gf.ApprovalThresholdBps,
		BipExpirationPeriodMs: gf.BipExpirationPeriodMs,
		MaxBlockSizeBytes:     gf.MaxBlockSizeBytes,
		BlockSizeSafetyMargin: gf.BlockSizeSafetyMargin,
		TargetBlockTimeMs:     gf.TargetBlockTimeMs,
		InitialParams: types.NetworkParams{
			BlockReward:            decimalToWei(gf.InitialParams.BlockReward),
			BlockRewardPoolAddress: rewardPool,
			TargetMiningTimeMs:     gf.InitialParams.TargetMiningTimeMs,
			AsertHalfLifeBlocks:    gf.InitialParams.AsertHalfLifeBlocks,
			AsertAnchorHeight:      gf.InitialParams.AsertAnchorHeight,
			MinDifficulty:          decimalToWei(gf.InitialParams.MinDifficulty),
			MinTxBaseFee:           decimalToWei(gf.InitialParams.MinTxBaseFee),
			MinTxByteFee:           decimalToWei(gf.InitialParams.MinTxByteFee),
			CurrentAuthorityCount:  uint32(len(authorities)),
		},
	}
	return settings, nil
}

func decimalToWei(s string) *types.Wei {
	if s == "" {
		return types.NewWei(0)
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return types.NewWei(0)
	}
	return types.BigIntToWei(b)
}
