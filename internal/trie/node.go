// Package trie implements the binary-safe, persistent Merkle-Patricia trie
// that backs world state (spec §4.A). Node shape (leaf/extension/branch)
// follows the standard Patricia design; encoding uses RLP so results are
// bit-exact and reproducible, since stateRootHash is consensus-critical.
package trie

import (
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/veylan-chain/veylan/internal/types"
)

// EmptyTrieNodeHash is the reserved root hash of an empty trie.
var EmptyTrieNodeHash = types.Keccak256([]byte{0x80})

// nibbles splits key bytes into a sequence of 4-bit nibbles, the unit the
// Patricia trie branches on.
func nibblesOf(key []byte) []byte {
	out := make([]byte, len(key)*2)
	for i, b := range key {
		out[i*2] = b >> 4
		out[i*2+1] = b & 0x0f
	}
	return out
}

func nibblesToKey(nib []byte) []byte {
	if len(nib)%2 != 0 {
		panic("odd nibble count cannot be restored to bytes")
	}
	out := make([]byte, len(nib)/2)
	for i := range out {
		out[i] = nib[i*2]<<4 | nib[i*2+1]
	}
	return out
}

// nodeKind tags the RLP-encoded node variant on the wire.
type nodeKind uint8

const (
	kindEmpty nodeKind = iota
	kindLeaf
	kindExtension
	kindBranch
)

// node is the in-memory representation of one trie node. Exactly one of the
// type-specific fields is meaningful, selected by Kind -- the tagged-union
// replacement for the source's node-type inheritance (spec §9).
type node struct {
	Kind nodeKind

	// leaf / extension
	Path  []byte // nibbles
	Value []byte // leaf: stored value; extension: unused

	// extension / branch
	Child *childRef

	// branch
	Children [16]*childRef
	Branch   []byte // value stored at the branch itself (rare; empty for this trie)
}

// childRef is either an inline node (small enough to embed) or a hash
// reference to a node persisted separately -- the same inline/hash split
// real Patricia tries use to avoid a storage round trip for tiny subtrees.
type childRef struct {
	Inline *node
	Hash   *types.Hash
}

func hashRef(h types.Hash) *childRef { return &childRef{Hash: &h} }
func inlineRef(n *node) *childRef    { return &childRef{Inline: n} }

// wireNode is the flat, RLP-friendly encoding of node.
type wireNode struct {
	Kind     uint8
	Path     []byte
	Value    []byte
	Child    []byte // empty, or a 32-byte hash prefixed with 0x00, or inline-encoded node bytes prefixed with 0x01
	Children [16][]byte
	Branch   []byte
}

const inlinePrefix = 0x01
const hashPrefix = 0x00

func encodeChildRef(c *childRef) []byte {
	if c == nil {
		return nil
	}
	if c.Hash != nil {
		return append([]byte{hashPrefix}, c.Hash[:]...)
	}
	enc := encodeNode(c.Inline)
	return append([]byte{inlinePrefix}, enc...)
}

func decodeChildRef(b []byte) *childRef {
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case hashPrefix:
		h := types.BytesToHash(b[1:])
		return hashRef(h)
	case inlinePrefix:
		n := decodeNode(b[1:])
		return inlineRef(n)
	default:
		panic("corrupt child ref tag")
	}
}

// encodeNode serializes a node to its canonical RLP byte form.
func encodeNode(n *node) []byte {
	if n == nil || n.Kind == kindEmpty {
		enc, _ := rlp.EncodeToBytes(wireNode{Kind: uint8(kindEmpty)})
		return enc
	}
	w := wireNode{Kind: uint8(n.Kind), Path: n.Path, Value: n.Value, Branch: n.Branch}
	w.Child = encodeChildRef(n.Child)
	for i := range n.Children {
		w.Children[i] = encodeChildRef(n.Children[i])
	}
	enc, err := rlp.EncodeToBytes(w)
	if err != nil {
		panic("trie node rlp encode: " + err.Error())
	}
	return enc
}

func decodeNode(b []byte) *node {
	var w wireNode
	if err := rlp.DecodeBytes(b, &w); err != nil {
		panic("trie node rlp decode: " + err.Error())
	}
	n := &node{Kind: nodeKind(w.Kind), Path: w.Path, Value: w.Value, Branch: w.Branch}
	n.Child = decodeChildRef(w.Child)
	for i := range w.Children {
		n.Children[i] = decodeChildRef(w.Children[i])
	}
	return n
}

// nodeHash is the hash of a node's canonical encoding -- the address under
// which it is persisted and referenced by its parent.
func nodeHash(n *node) types.Hash {
	if n == nil || n.Kind == kindEmpty {
		return EmptyTrieNodeHash
	}
	return types.Keccak256(encodeNode(n))
}
