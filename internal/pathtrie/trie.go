// Package pathtrie implements StreamDb's persistent path trie (spec.md
// §4.4): paths are indexed by their own bytes in order, so that a prefix
// search over the original path space collapses to a subtree walk —
// descend to the node at the query prefix, then enumerate every leaf
// beneath it.
//
// Grounded on the teacher's in-memory B+Tree node arena
// (internal/storage/pager/btree.go in the teacher repo: nodes addressed by
// small integer indices rather than pointers) combined with spec.md §9's
// Design Notes recommendation (b): "an arena of nodes addressed by small
// indices with path-copy on mutation" — friendliest to cache locality and
// to serialising a root snapshot into an index page (codec.go).
package pathtrie

import (
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/text/unicode/norm"
)

// NodeRef indexes a node within a Trie's arena. -1 means "no node".
type NodeRef int32

const NoNode NodeRef = -1

// node is one arena slot: an ordered set of byte-keyed children plus an
// optional leaf value. Arena slots are never mutated in place once
// published as part of a returned root — Insert/Remove always allocate
// fresh slots for every node on the mutated path, so a prior root
// (and every node reachable only from it) stays a valid snapshot.
type node struct {
	children map[byte]NodeRef
	value    *uuid.UUID
}

// Trie is a persistent byte trie. The zero value is not usable;
// construct with New.
type Trie struct {
	arena []node
	root  NodeRef
}

// New returns an empty trie with a single empty root node.
func New() *Trie {
	t := &Trie{}
	t.root = t.alloc(node{})
	return t
}

// Root returns the current root reference, suitable for snapshotting:
// retaining it (and not letting the arena it points into be discarded)
// keeps that version of the trie valid even after further mutation.
func (t *Trie) Root() NodeRef { return t.root }

func (t *Trie) alloc(n node) NodeRef {
	t.arena = append(t.arena, n)
	return NodeRef(len(t.arena) - 1)
}

func (t *Trie) at(ref NodeRef) node {
	if ref == NoNode {
		return node{}
	}
	return t.arena[ref]
}

// normalizeKey returns the trie key for path: its bytes in original
// order, after normalising to Unicode NFC so visually identical paths
// built from different combining-character sequences collapse to one
// trie entry (SPEC_FULL.md §4). Keeping the original byte order (rather
// than reversing) is what lets Search descend directly to the prefix's
// node and enumerate its subtree for a true starts-with match.
func normalizeKey(path string) []byte {
	return []byte(norm.NFC.String(path))
}

// Insert returns a new trie root with path bound to id, sharing every
// untouched subtree with the receiver.
func (t *Trie) Insert(path string, id uuid.UUID) NodeRef {
	key := normalizeKey(path)
	return t.insert(t.root, key, id)
}

func (t *Trie) insert(ref NodeRef, key []byte, id uuid.UUID) NodeRef {
	cur := t.at(ref)
	newChildren := make(map[byte]NodeRef, len(cur.children)+1)
	for k, v := range cur.children {
		newChildren[k] = v
	}

	if len(key) == 0 {
		idCopy := id
		return t.alloc(node{children: newChildren, value: &idCopy})
	}

	head, rest := key[0], key[1:]
	child, ok := newChildren[head]
	if !ok {
		child = NoNode
	}
	newChild := t.insert(child, rest, id)
	newChildren[head] = newChild
	return t.alloc(node{children: newChildren, value: cur.value})
}

// Bind inserts path→id in place, advancing the trie's current root. Used
// by the transaction coordinator when merging a committed staging set;
// callers that need the prior root as a snapshot must capture it (via
// Root) before calling Bind.
func (t *Trie) Bind(path string, id uuid.UUID) {
	t.root = t.Insert(path, id)
}

// Unbind removes path in place, advancing the trie's current root.
func (t *Trie) Unbind(path string) {
	t.root = t.Remove(path)
}

// Lookup returns the id bound to path, if any.
func (t *Trie) Lookup(path string) (uuid.UUID, bool) {
	key := normalizeKey(path)
	ref := t.root
	for _, b := range key {
		cur := t.at(ref)
		next, ok := cur.children[b]
		if !ok {
			return uuid.UUID{}, false
		}
		ref = next
	}
	leaf := t.at(ref)
	if leaf.value == nil {
		return uuid.UUID{}, false
	}
	return *leaf.value, true
}

// Remove returns a new trie root with path unbound, pruning subtrees that
// become valueless and childless along the way.
func (t *Trie) Remove(path string) NodeRef {
	key := normalizeKey(path)
	newRoot, _ := t.remove(t.root, key)
	if newRoot == NoNode {
		newRoot = t.alloc(node{})
	}
	return newRoot
}

// remove returns the replacement ref for ref (NoNode if it should be
// pruned entirely) and whether anything changed below it.
func (t *Trie) remove(ref NodeRef, key []byte) (NodeRef, bool) {
	cur := t.at(ref)

	if len(key) == 0 {
		if cur.value == nil {
			return ref, false
		}
		if len(cur.children) == 0 {
			return NoNode, true
		}
		return t.alloc(node{children: cur.children, value: nil}), true
	}

	head, rest := key[0], key[1:]
	childRef, ok := cur.children[head]
	if !ok {
		return ref, false
	}
	newChild, changed := t.remove(childRef, rest)
	if !changed {
		return ref, false
	}

	newChildren := make(map[byte]NodeRef, len(cur.children))
	for k, v := range cur.children {
		newChildren[k] = v
	}
	if newChild == NoNode {
		delete(newChildren, head)
	} else {
		newChildren[head] = newChild
	}

	if cur.value == nil && len(newChildren) == 0 {
		return NoNode, true
	}
	return t.alloc(node{children: newChildren, value: cur.value}), true
}

// Result is one match from Search.
type Result struct {
	Path string
	ID   uuid.UUID
}

// Search enumerates every path bound beneath prefix: every leaf reachable
// from the node at prefix, i.e. every bound path that starts with prefix
// (prefix enumeration over the original path space).
func (t *Trie) Search(prefix string) []Result {
	key := normalizeKey(prefix)
	ref := t.root
	for _, b := range key {
		cur := t.at(ref)
		next, ok := cur.children[b]
		if !ok {
			return nil
		}
		ref = next
	}

	var out []Result
	t.collect(ref, append([]byte{}, key...), &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (t *Trie) collect(ref NodeRef, accumulated []byte, out *[]Result) {
	cur := t.at(ref)
	if cur.value != nil {
		*out = append(*out, Result{Path: string(accumulated), ID: *cur.value})
	}
	keys := lo.Keys(cur.children)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, b := range keys {
		t.collect(cur.children[b], append(accumulated, b), out)
	}
}
