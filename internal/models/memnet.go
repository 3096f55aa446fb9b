package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/polinanime/keyspace/internal/types"
	"github.com/polinanime/keyspace/internal/utils"
)

var ErrPeerUnreachable = errors.New("peer unreachable")

// MemNetwork connects DHTNodes in-process. It stands in for a real transport
// in simulations and tests.
type MemNetwork struct {
	mutex   sync.RWMutex
	nodes   map[string]*DHTNode
	offline map[string]bool
}

func NewMemNetwork() *MemNetwork {
	return &MemNetwork{
		nodes:   make(map[string]*DHTNode),
		offline: make(map[string]bool),
	}
}

// Register makes node reachable at its address.
func (n *MemNetwork) Register(node *DHTNode) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.nodes[node.Self().Address] = node
}

func (n *MemNetwork) Unregister(address string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	delete(n.nodes, address)
	delete(n.offline, address)
}

// SetOnline toggles whether the node at address answers queries.
func (n *MemNetwork) SetOnline(address string, online bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	if online {
		delete(n.offline, address)
	} else {
		n.offline[address] = true
	}
}

func (n *MemNetwork) Node(address string) (*DHTNode, bool) {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	node, ok := n.nodes[address]
	return node, ok
}

// Nodes returns the registered nodes ordered by address.
func (n *MemNetwork) Nodes() []*DHTNode {
	n.mutex.RLock()
	defer n.mutex.RUnlock()

	nodes := make([]*DHTNode, 0, len(n.nodes))
	for _, node := range n.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Self().Address < nodes[j].Self().Address
	})
	return nodes
}

// ClosestOnline returns the count online nodes nearest to target by brute
// force, for checking lookup results.
func (n *MemNetwork) ClosestOnline(target types.Key, count int) []types.Node {
	n.mutex.RLock()
	var all []types.Node
	for addr, node := range n.nodes {
		if !n.offline[addr] {
			all = append(all, node.Self())
		}
	}
	n.mutex.RUnlock()

	SortByDistance(all, target)
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// Transport returns the transport used by the node at self.
func (n *MemNetwork) Transport(self types.Node) Transport {
	return &memTransport{network: n, self: self}
}

func (n *MemNetwork) reach(ctx context.Context, to types.Node) (*DHTNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mutex.RLock()
	defer n.mutex.RUnlock()

	node, ok := n.nodes[to.Address]
	if !ok || n.offline[to.Address] {
		return nil, fmt.Errorf("%w: %s", ErrPeerUnreachable, to.Address)
	}
	if node.Self().ID != to.ID {
		return nil, fmt.Errorf("%w: %s answers as %s", ErrPeerUnreachable, to.Address, node.Self().ID)
	}
	return node, nil
}

type memTransport struct {
	network *MemNetwork
	self    types.Node
}

func (t *memTransport) FindNode(ctx context.Context, to types.Node, target types.Key) ([]types.Node, error) {
	peer, err := t.network.reach(ctx, to)
	if err != nil {
		return nil, err
	}
	return peer.HandleFindNode(ctx, t.self, target), nil
}

func (t *memTransport) Ping(ctx context.Context, to types.Node) error {
	peer, err := t.network.reach(ctx, to)
	if err != nil {
		return err
	}
	return peer.HandlePing(t.self)
}

// Join creates a node for settings, registers it and, when seed is not nil,
// bootstraps it through seed.
func (n *MemNetwork) Join(ctx context.Context, settings utils.Settings, seed *DHTNode, opts ...NodeOption) (*DHTNode, error) {
	self := settings.CreateNode()
	if _, exists := n.Node(self.Address); exists {
		return nil, fmt.Errorf("%w: %s", ErrPeerExists, self.Address)
	}

	node := NewDHTNode(settings, n.Transport(self), opts...)
	n.Register(node)

	if seed == nil {
		return node, nil
	}
	if err := node.AddNode(seed.Self()); err != nil && !errors.Is(err, ErrPeerExists) {
		return node, err
	}
	if err := node.Bootstrap(ctx); err != nil {
		return node, err
	}
	return node, nil
}
