package models

import (
	"github.com/polinanime/keyspace/internal/types"
)

// KBucket holds the peers of one distance range. Nodes is ordered from least
// to most recently seen. Replacements keeps recently seen peers that did not
// fit, most recent last.
type KBucket struct {
	Nodes        []types.Node
	Replacements []types.Node
}

func newKBucket(k int) *KBucket {
	return &KBucket{
		Nodes: make([]types.Node, 0, k),
	}
}

func (b *KBucket) indexOf(id types.Key) int {
	for i, n := range b.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// touch moves the node at i to the most recently seen end.
func (b *KBucket) touch(i int, node types.Node) {
	b.Nodes = append(b.Nodes[:i], b.Nodes[i+1:]...)
	b.Nodes = append(b.Nodes, node)
}

func (b *KBucket) removeAt(i int) {
	b.Nodes = append(b.Nodes[:i], b.Nodes[i+1:]...)
}

// addReplacement stores node in the bounded replacement cache, dropping the
// oldest entry when full. Known entries are refreshed.
func (b *KBucket) addReplacement(node types.Node, limit int) {
	if limit <= 0 {
		return
	}
	for i, n := range b.Replacements {
		if n.ID == node.ID {
			b.Replacements = append(b.Replacements[:i], b.Replacements[i+1:]...)
			break
		}
	}
	if len(b.Replacements) >= limit {
		b.Replacements = b.Replacements[1:]
	}
	b.Replacements = append(b.Replacements, node)
}

func (b *KBucket) removeReplacement(id types.Key) bool {
	for i, n := range b.Replacements {
		if n.ID == id {
			b.Replacements = append(b.Replacements[:i], b.Replacements[i+1:]...)
			return true
		}
	}
	return false
}

// popReplacement returns the most recently seen replacement.
func (b *KBucket) popReplacement() (types.Node, bool) {
	n := len(b.Replacements)
	if n == 0 {
		return types.Node{}, false
	}
	node := b.Replacements[n-1]
	b.Replacements = b.Replacements[:n-1]
	return node, true
}
