package models

import (
	"context"
	"fmt"

	"github.com/polinanime/keyspace/internal/types"
	"github.com/polinanime/keyspace/internal/utils"
)

// SimulatedAddress returns the address of the i-th simulated node.
func SimulatedAddress(i int) string {
	return fmt.Sprintf("10.%d.%d.%d:4000", (i>>16)&0xff, (i>>8)&0xff, i&0xff)
}

// BuildNetwork creates size nodes sharing base's table and lookup settings.
// Every node after the first joins through the first one.
func BuildNetwork(ctx context.Context, size int, base utils.Settings, opts ...NodeOption) (*MemNetwork, error) {
	if size < 1 {
		return nil, fmt.Errorf("network size must be at least 1, got %d", size)
	}

	network := NewMemNetwork()
	var seed *DHTNode

	for i := 0; i < size; i++ {
		settings := base
		settings.Node.Address = SimulatedAddress(i)
		settings.Node.Peers = ""

		node, err := network.Join(ctx, settings, seed, opts...)
		if err != nil {
			return network, fmt.Errorf("node %s failed to join: %w", settings.Node.Address, err)
		}
		if seed == nil {
			seed = node
		}
	}

	return network, nil
}

// Overlap returns the fraction of expected found in got.
func Overlap(got, expected []types.Node) float64 {
	if len(expected) == 0 {
		return 1
	}

	found := make(map[types.Key]bool, len(got))
	for _, n := range got {
		found[n.ID] = true
	}

	hits := 0
	for _, n := range expected {
		if found[n.ID] {
			hits++
		}
	}
	return float64(hits) / float64(len(expected))
}
