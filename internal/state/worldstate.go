package state

import (
	"encoding/hex"
	"fmt"

	"github.com/veylan-chain/veylan/internal/trie"
	"github.com/veylan-chain/veylan/internal/types"
)

// Fixed root-trie keys under which each sub-trie's own root hash is stored
// (spec §4.B).
const (
	keyBalance       = "balance"
	keyNonce         = "nonce"
	keyAuthority     = "authority"
	keyAddressAlias  = "address_alias"
	keyBipState      = "bipstate"
	keyNetworkParams = "network_params"
	keyToken         = "token"
)

// paramsSingletonKey is the one key under which networkParams is stored in
// its own single-entry sub-trie.
var paramsSingletonKey = []byte("params")

// WorldState wraps a root trie plus one sub-trie per entity kind and an
// in-memory dirty overlay. An instance is owned by a single goroutine for
// the lifetime of evaluating one block, then discarded (spec §4.B).
type WorldState struct {
	mining  bool
	storage trie.Storage

	root       *trie.Trie
	balanceT   *trie.Trie
	nonceT     *trie.Trie
	authorityT *trie.Trie
	aliasT     *trie.Trie
	tokenT     *trie.Trie
	bipT       *trie.Trie
	paramsT    *trie.Trie

	balanceOverlay   map[types.Hash]*types.Balance
	nonceOverlay     map[types.Address]*types.Nonce
	authorityOverlay map[types.Address]*types.Authority
	authorityRemoved map[types.Address]bool
	aliasOverlay     map[string]*types.AddressAlias
	aliasRemoved     map[string]bool
	tokenOverlay     map[types.Address]*types.Token
	bipOverlay       map[types.Hash]*types.Bip
	paramsOverlay    *types.NetworkParams

	paramsChangedThisBlock bool
	tokenTouchedThisBlock  map[types.Address]bool

	journal []undoRecord

	// diff is populated only in validation mode: first-touch pre-block
	// values, keyed by "<kind>:<hex key>".
	diff        map[string]DiffEntry
	diffTouched map[string]bool
}

// New opens a WorldState rooted at parentStateRoot. mining selects mining
// mode (journaled, per-tx revertible, no pre-block diff); otherwise the
// WorldState is in validation mode (fail-fast, diff-recording, no revert).
func New(storage trie.Storage, parentStateRoot types.Hash, mining bool) (*WorldState, error) {
	root, err := trie.New(storage, parentStateRoot)
	if err != nil {
		return nil, fmt.Errorf("state: open root trie: %w", err)
	}
	ws := &WorldState{
		mining:           mining,
		storage:          storage,
		root:             root,
		balanceOverlay:   make(map[types.Hash]*types.Balance),
		nonceOverlay:     make(map[types.Address]*types.Nonce),
		authorityOverlay: make(map[types.Address]*types.Authority),
		authorityRemoved: make(map[types.Address]bool),
		aliasOverlay:     make(map[string]*types.AddressAlias),
		aliasRemoved:     make(map[string]bool),
		tokenOverlay:     make(map[types.Address]*types.Token),
		bipOverlay:       make(map[types.Hash]*types.Bip),
		tokenTouchedThisBlock: make(map[types.Address]bool),
		diff:             make(map[string]DiffEntry),
		diffTouched:      make(map[string]bool),
	}
	for _, sub := range []struct {
		key string
		t   **trie.Trie
	}{
		{keyBalance, &ws.balanceT}, {keyNonce, &ws.nonceT}, {keyAuthority, &ws.authorityT},
		{keyAddressAlias, &ws.aliasT}, {keyToken, &ws.tokenT}, {keyBipState, &ws.bipT},
		{keyNetworkParams, &ws.paramsT},
	} {
		subRoot, err := ws.subtrieRoot(sub.key)
		if err != nil {
			return nil, err
		}
		st, err := trie.New(storage, subRoot)
		if err != nil {
			return nil, fmt.Errorf("state: open %s sub-trie: %w", sub.key, err)
		}
		*sub.t = st
	}
	return ws, nil
}

func (ws *WorldState) subtrieRoot(rootKey string) (types.Hash, error) {
	b, err := ws.root.Get([]byte(rootKey))
	if err != nil {
		return types.Hash{}, fmt.Errorf("state: read %s root: %w", rootKey, err)
	}
	if b == nil {
		return trie.EmptyTrieNodeHash, nil
	}
	return types.BytesToHash(b), nil
}

// recordDiff captures the pre-block value the first time kind/key is
// touched, when running in validation mode.
func (ws *WorldState) recordDiff(kind string, rawKey []byte, before []byte) {
	if ws.mining {
		return
	}
	k := kind + ":" + hex.EncodeToString(rawKey)
	if ws.diffTouched[k] {
		return
	}
	ws.diffTouched[k] = true
	ws.diff[k] = DiffEntry{Kind: kind, KeyHex: hex.EncodeToString(rawKey), Before: before}
}

// Diff returns the validation-mode pre-block values recorded so far. Empty
// in mining mode.
func (ws *WorldState) Diff() []DiffEntry {
	out := make([]DiffEntry, 0, len(ws.diff))
	for _, e := range ws.diff {
		out = append(out, e)
	}
	return out
}

func (ws *WorldState) pushUndo(kind undoKind, undo func()) {
	if !ws.mining {
		return
	}
	ws.journal = append(ws.journal, undoRecord{kind: kind, undo: undo})
}

// CreateSnapshot marks the current journal position. No-op (returns 0) in
// validation mode.
func (ws *WorldState) CreateSnapshot() SnapshotToken {
	return SnapshotToken(len(ws.journal))
}

// RevertToSnapshot replays undo records back to token, restoring the
// overlay to its state at CreateSnapshot time. Fails in validation mode,
// which keeps no journal.
func (ws *WorldState) RevertToSnapshot(token SnapshotToken) error {
	if !ws.mining {
		return ErrNoRollbackInValidationMode
	}
	for i := len(ws.journal) - 1; i >= int(token); i-- {
		ws.journal[i].undo()
	}
	ws.journal = ws.journal[:token]
	return nil
}

// --- Balance ---

func balanceKey(addr, token types.Address) types.Hash {
	return types.Keccak256(addr[:], token[:])
}

func (ws *WorldState) GetBalance(addr, token types.Address) (*types.Wei, error) {
	key := balanceKey(addr, token)
	if v, ok := ws.balanceOverlay[key]; ok {
		if v == nil {
			return types.NewWei(0), nil
		}
		return v.Balance, nil
	}
	raw, err := ws.balanceT.Get(key[:])
	if err != nil {
		return nil, err
	}
	ws.recordDiff(keyBalance, key[:], raw)
	if raw == nil {
		return types.NewWei(0), nil
	}
	bal, err := decodeBalance(raw)
	if err != nil {
		return nil, err
	}
	return bal.Balance, nil
}

func (ws *WorldState) SetBalance(addr, token types.Address, balance *types.Wei, height uint64, ts int64) error {
	key := balanceKey(addr, token)
	if !ws.mining {
		if _, touched := ws.balanceOverlay[key]; !touched {
			raw, err := ws.balanceT.Get(key[:])
			if err != nil {
				return err
			}
			ws.recordDiff(keyBalance, key[:], raw)
		}
	}
	prev, hadPrev := ws.balanceOverlay[key]
	ws.pushUndo(undoScalarSlot, func() {
		if hadPrev {
			ws.balanceOverlay[key] = prev
		} else {
			delete(ws.balanceOverlay, key)
		}
	})
	ws.balanceOverlay[key] = &types.Balance{
		Meta:    types.Meta{Version: currentCodecVersion, UpdatedAtBlockHeight: height, UpdatedAtTimestamp: ts},
		Balance: balance,
	}
	return nil
}

// --- Nonce ---

func (ws *WorldState) GetNonce(addr types.Address) (int64, error) {
	if v, ok := ws.nonceOverlay[addr]; ok {
		return v.Nonce, nil
	}
	raw, err := ws.nonceT.Get(addr[:])
	if err != nil {
		return 0, err
	}
	ws.recordDiff(keyNonce, addr[:], raw)
	if raw == nil {
		return -1, nil
	}
	n, err := decodeNonce(raw)
	if err != nil {
		return 0, err
	}
	return n.Nonce, nil
}

func (ws *WorldState) SetNonce(addr types.Address, nonce int64, height uint64, ts int64) error {
	prev, hadPrev := ws.nonceOverlay[addr]
	ws.pushUndo(undoScalarSlot, func() {
		if hadPrev {
			ws.nonceOverlay[addr] = prev
		} else {
			delete(ws.nonceOverlay, addr)
		}
	})
	ws.nonceOverlay[addr] = &types.Nonce{
		Meta:  types.Meta{Version: currentCodecVersion, UpdatedAtBlockHeight: height, UpdatedAtTimestamp: ts},
		Nonce: nonce,
	}
	return nil
}

// --- Authority ---

func (ws *WorldState) GetAuthority(addr types.Address) (*types.Authority, error) {
	if ws.authorityRemoved[addr] {
		return nil, nil
	}
	if v, ok := ws.authorityOverlay[addr]; ok {
		return v, nil
	}
	raw, err := ws.authorityT.Get(addr[:])
	if err != nil {
		return nil, err
	}
	ws.recordDiff(keyAuthority, addr[:], raw)
	if raw == nil {
		return nil, nil
	}
	a, err := decodeAuthority(raw)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (ws *WorldState) AddAuthority(addr types.Address, originTxHash types.Hash, height uint64, ts int64) error {
	wasRemoved := ws.authorityRemoved[addr]
	prev, hadPrev := ws.authorityOverlay[addr]
	ws.pushUndo(undoSetAdd, func() {
		ws.authorityRemoved[addr] = wasRemoved
		if hadPrev {
			ws.authorityOverlay[addr] = prev
		} else {
			delete(ws.authorityOverlay, addr)
		}
	})
	delete(ws.authorityRemoved, addr)
	ws.authorityOverlay[addr] = &types.Authority{
		Meta:            types.Meta{Version: currentCodecVersion, UpdatedAtBlockHeight: height, UpdatedAtTimestamp: ts},
		OriginTxHash:    originTxHash,
		CreatedAtHeight: height,
	}
	return nil
}

func (ws *WorldState) RemoveAuthority(addr types.Address) error {
	wasRemoved := ws.authorityRemoved[addr]
	prev, hadPrev := ws.authorityOverlay[addr]
	ws.pushUndo(undoSetRemove, func() {
		ws.authorityRemoved[addr] = wasRemoved
		if hadPrev {
			ws.authorityOverlay[addr] = prev
		} else {
			delete(ws.authorityOverlay, addr)
		}
	})
	delete(ws.authorityOverlay, addr)
	ws.authorityRemoved[addr] = true
	return nil
}

// --- Address alias ---

func (ws *WorldState) GetAlias(name string) (*types.AddressAlias, error) {
	if ws.aliasRemoved[name] {
		return nil, nil
	}
	if v, ok := ws.aliasOverlay[name]; ok {
		return v, nil
	}
	raw, err := ws.aliasT.Get([]byte(name))
	if err != nil {
		return nil, err
	}
	ws.recordDiff(keyAddressAlias, []byte(name), raw)
	if raw == nil {
		return nil, nil
	}
	a, err := decodeAddressAlias(raw)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (ws *WorldState) AddAlias(name string, addr types.Address, originTxHash types.Hash, height uint64, ts int64) error {
	wasRemoved := ws.aliasRemoved[name]
	prev, hadPrev := ws.aliasOverlay[name]
	ws.pushUndo(undoSetAdd, func() {
		ws.aliasRemoved[name] = wasRemoved
		if hadPrev {
			ws.aliasOverlay[name] = prev
		} else {
			delete(ws.aliasOverlay, name)
		}
	})
	delete(ws.aliasRemoved, name)
	ws.aliasOverlay[name] = &types.AddressAlias{
		Meta:         types.Meta{Version: currentCodecVersion, UpdatedAtBlockHeight: height, UpdatedAtTimestamp: ts},
		Address:      addr,
		OriginTxHash: originTxHash,
		CreatedAt:    ts,
	}
	return nil
}

func (ws *WorldState) RemoveAlias(name string) error {
	wasRemoved := ws.aliasRemoved[name]
	prev, hadPrev := ws.aliasOverlay[name]
	ws.pushUndo(undoSetRemove, func() {
		ws.aliasRemoved[name] = wasRemoved
		if hadPrev {
			ws.aliasOverlay[name] = prev
		} else {
			delete(ws.aliasOverlay, name)
		}
	})
	delete(ws.aliasOverlay, name)
	ws.aliasRemoved[name] = true
	return nil
}

// --- Token ---

func (ws *WorldState) GetToken(addr types.Address) (*types.Token, error) {
	if v, ok := ws.tokenOverlay[addr]; ok {
		return v, nil
	}
	raw, err := ws.tokenT.Get(addr[:])
	if err != nil {
		return nil, err
	}
	ws.recordDiff(keyToken, addr[:], raw)
	if raw == nil {
		return nil, nil
	}
	t, err := decodeToken(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (ws *WorldState) SetToken(addr types.Address, tok types.Token) error {
	prev, hadPrev := ws.tokenOverlay[addr]
	ws.pushUndo(undoMapPut, func() {
		if hadPrev {
			ws.tokenOverlay[addr] = prev
		} else {
			delete(ws.tokenOverlay, addr)
		}
	})
	ws.tokenOverlay[addr] = &tok
	return nil
}

// CheckAndMarkTokenAsUpdated returns true (and marks the token touched) if
// this is the first touch this block; false if the token was already
// touched, signalling the caller must reject a double create (spec §4.B).
func (ws *WorldState) CheckAndMarkTokenAsUpdated(addr types.Address) bool {
	if ws.tokenTouchedThisBlock[addr] {
		return false
	}
	ws.tokenTouchedThisBlock[addr] = true
	ws.pushUndo(undoBoolSlot, func() {
		delete(ws.tokenTouchedThisBlock, addr)
	})
	return true
}

// --- BIP ---

func (ws *WorldState) GetBip(hash types.Hash) (*types.Bip, error) {
	if v, ok := ws.bipOverlay[hash]; ok {
		return v, nil
	}
	raw, err := ws.bipT.Get(hash[:])
	if err != nil {
		return nil, err
	}
	ws.recordDiff(keyBipState, hash[:], raw)
	if raw == nil {
		return nil, nil
	}
	b, err := decodeBip(raw)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (ws *WorldState) SetBip(hash types.Hash, bip types.Bip) error {
	prev, hadPrev := ws.bipOverlay[hash]
	ws.pushUndo(undoMapPut, func() {
		if hadPrev {
			ws.bipOverlay[hash] = prev
		} else {
			delete(ws.bipOverlay, hash)
		}
	})
	ws.bipOverlay[hash] = &bip
	return nil
}

// --- Network params ---

func (ws *WorldState) GetParams() (*types.NetworkParams, error) {
	if ws.paramsOverlay != nil {
		return ws.paramsOverlay, nil
	}
	raw, err := ws.paramsT.Get(paramsSingletonKey)
	if err != nil {
		return nil, err
	}
	ws.recordDiff(keyNetworkParams, paramsSingletonKey, raw)
	if raw == nil {
		return nil, fmt.Errorf("state: network params not initialised")
	}
	p, err := decodeNetworkParams(raw)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetParams overwrites networkParams wholesale (used at genesis and by the
// BIP_NETWORK_PARAMS_SET handler, which first merges non-null payload
// fields onto a copy of the current value).
func (ws *WorldState) SetParams(p types.NetworkParams) error {
	prev := ws.paramsOverlay
	ws.pushUndo(undoScalarSlot, func() {
		ws.paramsOverlay = prev
	})
	ws.paramsOverlay = &p
	return nil
}

// MarkParamsChanged records that networkParams was mutated this block,
// enforcing the "at most once per block" invariant (spec §4.B).
func (ws *WorldState) MarkParamsChanged() error {
	if ws.paramsChangedThisBlock {
		return ErrParamsAlreadyChanged
	}
	ws.paramsChangedThisBlock = true
	ws.pushUndo(undoBoolSlot, func() { ws.paramsChangedThisBlock = false })
	return nil
}

func (ws *WorldState) IsParamsChangedThisBlock() bool { return ws.paramsChangedThisBlock }

// --- Commit / rollback ---

// CalculateRootHash flushes the dirty overlay into each sub-trie, commits
// every sub-trie, writes the resulting sub-roots into the root trie under
// their fixed keys, and commits the root trie.
func (ws *WorldState) CalculateRootHash() (types.Hash, error) {
	for key, v := range ws.balanceOverlay {
		if err := ws.balanceT.Put(key[:], encodeBalance(*v)); err != nil {
			return types.Hash{}, err
		}
	}
	for addr, v := range ws.nonceOverlay {
		if err := ws.nonceT.Put(addr[:], encodeNonce(*v)); err != nil {
			return types.Hash{}, err
		}
	}
	for addr := range ws.authorityRemoved {
		if err := ws.authorityT.Remove(addr[:]); err != nil {
			return types.Hash{}, err
		}
	}
	for addr, v := range ws.authorityOverlay {
		if err := ws.authorityT.Put(addr[:], encodeAuthority(*v)); err != nil {
			return types.Hash{}, err
		}
	}
	for name := range ws.aliasRemoved {
		if err := ws.aliasT.Remove([]byte(name)); err != nil {
			return types.Hash{}, err
		}
	}
	for name, v := range ws.aliasOverlay {
		if err := ws.aliasT.Put([]byte(name), encodeAddressAlias(*v)); err != nil {
			return types.Hash{}, err
		}
	}
	for addr, v := range ws.tokenOverlay {
		if err := ws.tokenT.Put(addr[:], encodeToken(*v)); err != nil {
			return types.Hash{}, err
		}
	}
	for hash, v := range ws.bipOverlay {
		if err := ws.bipT.Put(hash[:], encodeBip(*v)); err != nil {
			return types.Hash{}, err
		}
	}
	if ws.paramsOverlay != nil {
		if err := ws.paramsT.Put(paramsSingletonKey, encodeNetworkParams(*ws.paramsOverlay)); err != nil {
			return types.Hash{}, err
		}
	}

	for _, sub := range []struct {
		key string
		t   *trie.Trie
	}{
		{keyBalance, ws.balanceT}, {keyNonce, ws.nonceT}, {keyAuthority, ws.authorityT},
		{keyAddressAlias, ws.aliasT}, {keyToken, ws.tokenT}, {keyBipState, ws.bipT},
		{keyNetworkParams, ws.paramsT},
	} {
		h := sub.t.Commit()
		if err := ws.root.Put([]byte(sub.key), h[:]); err != nil {
			return types.Hash{}, err
		}
	}
	return ws.root.Commit(), nil
}

// PersistToBatch commits the root hash and flushes every sub-trie's
// buffered node writes into batch as part of the caller's outer atomic
// transaction.
func (ws *WorldState) PersistToBatch(batch trie.Batch) (types.Hash, error) {
	root, err := ws.CalculateRootHash()
	if err != nil {
		return types.Hash{}, err
	}
	if err := ws.storage.CommitToBatch(batch); err != nil {
		return types.Hash{}, err
	}
	return root, nil
}

// Rollback discards every in-memory mutation: the dirty overlay, the
// removed-sets, and the undo journal. Sub-tries are untouched since writes
// only reach them from CalculateRootHash, never earlier.
func (ws *WorldState) Rollback() {
	ws.resetOverlay()
	ws.storage.Rollback()
}

// PrepareForNextBlock resets the same state as Rollback but is the call a
// caller makes between blocks rather than on error, keeping the already
// materialised sub-trie working copies (cheaper than reopening from
// storage) instead of discarding them (spec §4.B).
func (ws *WorldState) PrepareForNextBlock() {
	ws.resetOverlay()
}

func (ws *WorldState) resetOverlay() {
	ws.balanceOverlay = make(map[types.Hash]*types.Balance)
	ws.nonceOverlay = make(map[types.Address]*types.Nonce)
	ws.authorityOverlay = make(map[types.Address]*types.Authority)
	ws.authorityRemoved = make(map[types.Address]bool)
	ws.aliasOverlay = make(map[string]*types.AddressAlias)
	ws.aliasRemoved = make(map[string]bool)
	ws.tokenOverlay = make(map[types.Address]*types.Token)
	ws.bipOverlay = make(map[types.Hash]*types.Bip)
	ws.paramsOverlay = nil
	ws.paramsChangedThisBlock = false
	ws.tokenTouchedThisBlock = make(map[types.Address]bool)
	ws.journal = nil
	ws.diff = make(map[string]DiffEntry)
	ws.diffTouched = make(map[string]bool)
}
