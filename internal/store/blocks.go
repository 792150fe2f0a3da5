package store

import "github.com/veylan-chain/veylan/internal/types"

// GetBlock loads a StoredBlock by its own hash, canonical or not (spec
// §4.E: "blocks may hold non-canonical forks").
func (s *Store) GetBlock(hash types.Hash) (*types.StoredBlock, error) {
	b, err := s.get(prefixBlock, hash[:])
	if err != nil {
		return nil, err
	}
	return types.UnmarshalStoredBlock(b)
}

// GetCanonicalHash returns the canonical block hash at height, or
// ErrNotFound if the chain hasn't reached that height.
func (s *Store) GetCanonicalHash(height uint64) (types.Hash, error) {
	b, err := s.get(prefixHashByHeight, heightKey(height))
	if err != nil {
		return types.Hash{}, err
	}
	return types.BytesToHash(b), nil
}

// GetCanonicalBlock loads the canonical block at height, verifying that
// the stored block's own hash matches the height index (spec §4.E:
// "canonical-chain queries verify stored.hash == hash_by_height[stored.height]").
func (s *Store) GetCanonicalBlock(height uint64) (*types.StoredBlock, error) {
	hash, err := s.GetCanonicalHash(height)
	if err != nil {
		return nil, err
	}
	sb, err := s.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	if sb.Hash() != hash || sb.Height() != height {
		return nil, ErrCanonicalMismatch
	}
	return sb, nil
}

// GetBlockHashForTx returns the hash of the block a tx was included in.
// May be stale after a reorg (spec §4.E); callers that care about
// canonicity should cross-check against GetCanonicalHash.
func (s *Store) GetBlockHashForTx(txHash types.Hash) (types.Hash, error) {
	b, err := s.get(prefixTxIndex, txHash[:])
	if err != nil {
		return types.Hash{}, err
	}
	return types.BytesToHash(b), nil
}

// GetLatestBlockHash returns the current chain tip's hash.
func (s *Store) GetLatestBlockHash() (types.Hash, error) {
	b, err := s.get(prefixMetadata, MetaLatestBlockHash)
	if err != nil {
		return types.Hash{}, err
	}
	return types.BytesToHash(b), nil
}

// GetLatestBlock loads the current chain tip's StoredBlock, or ErrNotFound
// if the chain has no genesis yet.
func (s *Store) GetLatestBlock() (*types.StoredBlock, error) {
	hash, err := s.GetLatestBlockHash()
	if err != nil {
		return nil, err
	}
	return s.GetBlock(hash)
}

// ErrCanonicalMismatch is returned when a block stored under the height
// index doesn't match the block it points at -- an index corruption that
// should never occur if every write went through Store.Update.
var ErrCanonicalMismatch = canonicalMismatchError{}

type canonicalMismatchError struct{}

func (canonicalMismatchError) Error() string { return "store: canonical index mismatch" }
