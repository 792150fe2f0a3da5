package trie

import (
	"bytes"

	"github.com/veylan-chain/veylan/internal/types"
)

// Codec serializes/deserializes a typed value into the bytes stored at a
// trie leaf. Each world-state entity kind supplies its own Codec (spec
// §4.A: "deserializing values via a caller-supplied codec").
type Codec[T any] interface {
	Encode(v T) []byte
	Decode(b []byte) (T, error)
}

// Trie is a working copy of a Merkle-Patricia trie rooted at a given
// historical root hash. Mutations (Put/Remove) only touch the in-memory
// copy; Commit is what persists newly-created nodes (spec §4.A contract).
type Trie struct {
	storage Storage
	root    *node
}

// New opens a trie rooted at root (EmptyTrieNodeHash for a fresh trie).
func New(storage Storage, root types.Hash) (*Trie, error) {
	n, err := loadNodeWithRetry(storage, root)
	if err != nil {
		return nil, err
	}
	return &Trie{storage: storage, root: n}, nil
}

// RootHash returns the working copy's current root hash. Stable across
// reads; changes after Put/Remove, and after a Commit that replaces inline
// children with hash references.
func (t *Trie) RootHash() types.Hash { return nodeHash(t.root) }

// Get looks up key, returning (nil, nil) on a miss.
func (t *Trie) Get(key []byte) ([]byte, error) {
	return t.get(t.root, nibblesOf(key))
}

func (t *Trie) resolve(c *childRef) (*node, error) {
	if c == nil {
		return &node{Kind: kindEmpty}, nil
	}
	if c.Inline != nil {
		return c.Inline, nil
	}
	return loadNodeWithRetry(t.storage, *c.Hash)
}

func (t *Trie) get(n *node, path []byte) ([]byte, error) {
	if n == nil || n.Kind == kindEmpty {
		return nil, nil
	}
	switch n.Kind {
	case kindLeaf:
		if bytes.Equal(n.Path, path) {
			return n.Value, nil
		}
		return nil, nil
	case kindExtension:
		if !bytes.HasPrefix(path, n.Path) {
			return nil, nil
		}
		child, err := t.resolve(n.Child)
		if err != nil {
			return nil, err
		}
		return t.get(child, path[len(n.Path):])
	case kindBranch:
		if len(path) == 0 {
			return n.Branch, nil
		}
		child, err := t.resolve(n.Children[path[0]])
		if err != nil {
			return nil, err
		}
		return t.get(child, path[1:])
	default:
		return nil, nil
	}
}

// Put inserts or overwrites key -> value in the working copy.
func (t *Trie) Put(key, value []byte) error {
	newRoot, err := t.put(t.root, nibblesOf(key), value)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

func (t *Trie) put(n *node, path, value []byte) (*node, error) {
	if n == nil || n.Kind == kindEmpty {
		return &node{Kind: kindLeaf, Path: path, Value: value}, nil
	}
	switch n.Kind {
	case kindLeaf:
		if bytes.Equal(n.Path, path) {
			return &node{Kind: kindLeaf, Path: path, Value: value}, nil
		}
		return t.split(n.Path, n.Value, path, value)
	case kindExtension:
		common := commonPrefixLen(n.Path, path)
		if common == len(n.Path) {
			child, err := t.resolve(n.Child)
			if err != nil {
				return nil, err
			}
			newChild, err := t.put(child, path[common:], value)
			if err != nil {
				return nil, err
			}
			return &node{Kind: kindExtension, Path: n.Path, Child: inlineRef(newChild)}, nil
		}
		// Split the extension at the divergence point.
		branch := &node{Kind: kindBranch}
		remaining := n.Path[common:]
		if len(remaining) == 1 {
			branch.Children[remaining[0]] = n.Child
		} else {
			branch.Children[remaining[0]] = inlineRef(&node{Kind: kindExtension, Path: remaining[1:], Child: n.Child})
		}
		newPath := path[common:]
		if len(newPath) == 0 {
			branch.Branch = value
		} else {
			branch.Children[newPath[0]] = inlineRef(&node{Kind: kindLeaf, Path: newPath[1:], Value: value})
		}
		if common == 0 {
			return branch, nil
		}
		return &node{Kind: kindExtension, Path: path[:common], Child: inlineRef(branch)}, nil
	case kindBranch:
		if len(path) == 0 {
			cp := *n
			cp.Branch = value
			return &cp, nil
		}
		child, err := t.resolve(n.Children[path[0]])
		if err != nil {
			return nil, err
		}
		newChild, err := t.put(child, path[1:], value)
		if err != nil {
			return nil, err
		}
		cp := *n
		cp.Children[path[0]] = inlineRef(newChild)
		return &cp, nil
	default:
		return nil, nil
	}
}

// split builds a branch (optionally preceded by an extension) distinguishing
// two leaves whose paths share a common prefix.
func (t *Trie) split(pathA, valueA, pathB, valueB []byte) (*node, error) {
	common := commonPrefixLen(pathA, pathB)
	branch := &node{Kind: kindBranch}
	a, b := pathA[common:], pathB[common:]
	switch {
	case len(a) == 0:
		branch.Branch = valueA
	default:
		branch.Children[a[0]] = inlineRef(&node{Kind: kindLeaf, Path: a[1:], Value: valueA})
	}
	switch {
	case len(b) == 0:
		branch.Branch = valueB
	default:
		branch.Children[b[0]] = inlineRef(&node{Kind: kindLeaf, Path: b[1:], Value: valueB})
	}
	if common == 0 {
		return branch, nil
	}
	return &node{Kind: kindExtension, Path: pathA[:common], Child: inlineRef(branch)}, nil
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Remove deletes key from the working copy. Removing an absent key is a
// no-op.
func (t *Trie) Remove(key []byte) error {
	newRoot, _, err := t.remove(t.root, nibblesOf(key))
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

// remove returns the new subtree root and whether anything changed.
func (t *Trie) remove(n *node, path []byte) (*node, bool, error) {
	if n == nil || n.Kind == kindEmpty {
		return n, false, nil
	}
	switch n.Kind {
	case kindLeaf:
		if bytes.Equal(n.Path, path) {
			return &node{Kind: kindEmpty}, true, nil
		}
		return n, false, nil
	case kindExtension:
		if !bytes.HasPrefix(path, n.Path) {
			return n, false, nil
		}
		child, err := t.resolve(n.Child)
		if err != nil {
			return nil, false, err
		}
		newChild, changed, err := t.remove(child, path[len(n.Path):])
		if err != nil || !changed {
			return n, changed, err
		}
		return t.mergeExtension(n.Path, newChild), true, nil
	case kindBranch:
		cp := *n
		changed := false
		if len(path) == 0 {
			if cp.Branch != nil {
				cp.Branch = nil
				changed = true
			}
		} else {
			child, err := t.resolve(n.Children[path[0]])
			if err != nil {
				return nil, false, err
			}
			newChild, ch, err := t.remove(child, path[1:])
			if err != nil {
				return nil, false, err
			}
			if ch {
				changed = true
				if newChild.Kind == kindEmpty {
					cp.Children[path[0]] = nil
				} else {
					cp.Children[path[0]] = inlineRef(newChild)
				}
			}
		}
		if !changed {
			return n, false, nil
		}
		return t.collapseBranch(&cp), true, nil
	default:
		return n, false, nil
	}
}

// mergeExtension folds an extension into its (possibly now-empty or
// already-extension) child to keep the trie canonical.
func (t *Trie) mergeExtension(path []byte, child *node) *node {
	switch child.Kind {
	case kindEmpty:
		return child
	case kindExtension:
		return &node{Kind: kindExtension, Path: append(append([]byte{}, path...), child.Path...), Child: child.Child}
	case kindLeaf:
		return &node{Kind: kindLeaf, Path: append(append([]byte{}, path...), child.Path...), Value: child.Value}
	default:
		return &node{Kind: kindExtension, Path: path, Child: inlineRef(child)}
	}
}

// collapseBranch simplifies a branch left with at most one child and no
// value into a leaf or extension, matching canonical Patricia shape.
func (t *Trie) collapseBranch(n *node) *node {
	count, lastIdx := 0, -1
	for i, c := range n.Children {
		if c != nil {
			count++
			lastIdx = i
		}
	}
	if count == 0 {
		if n.Branch == nil {
			return &node{Kind: kindEmpty}
		}
		return &node{Kind: kindLeaf, Path: nil, Value: n.Branch}
	}
	if count == 1 && n.Branch == nil {
		child, err := t.resolve(n.Children[lastIdx])
		if err != nil {
			// Resolution failure here would already have surfaced during the
			// remove() walk that produced this branch; treat as structural bug.
			panic("trie: collapse branch resolve: " + err.Error())
		}
		prefix := append([]byte{byte(lastIdx)})
		switch child.Kind {
		case kindLeaf:
			return &node{Kind: kindLeaf, Path: append(prefix, child.Path...), Value: child.Value}
		case kindExtension:
			return &node{Kind: kindExtension, Path: append(prefix, child.Path...), Child: child.Child}
		default:
			return &node{Kind: kindExtension, Path: prefix, Child: n.Children[lastIdx]}
		}
	}
	return n
}

// Commit walks the working copy and persists every node reachable only via
// an in-memory (inline) reference, replacing them with hash references as
// it goes. Re-committing with no intervening mutation touches nothing,
// since a root already present in storage was persisted together with
// every node it references (spec §4.A: "idempotent re-commit is a no-op").
func (t *Trie) Commit() types.Hash {
	if h := nodeHash(t.root); h != EmptyTrieNodeHash {
		if _, err := t.storage.Get(h); err == nil {
			return h
		}
	}
	t.root = t.commitNode(t.root)
	return nodeHash(t.root)
}

func (t *Trie) commitNode(n *node) *node {
	if n == nil || n.Kind == kindEmpty {
		return n
	}
	switch n.Kind {
	case kindExtension:
		n.Child = t.commitChild(n.Child)
	case kindBranch:
		for i, c := range n.Children {
			n.Children[i] = t.commitChild(c)
		}
	}
	h := nodeHash(n)
	t.storage.Put(h, encodeNode(n))
	return n
}

func (t *Trie) commitChild(c *childRef) *childRef {
	if c == nil || c.Hash != nil {
		return c
	}
	committed := t.commitNode(c.Inline)
	h := nodeHash(committed)
	return hashRef(h)
}
