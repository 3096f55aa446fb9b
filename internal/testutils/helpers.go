package testutils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/polinanime/keyspace/internal/models"
	"github.com/polinanime/keyspace/internal/types"
	"github.com/polinanime/keyspace/internal/utils"
)

// CreateTestNodeWithAddress creates a node with a specific address for testing
func CreateTestNodeWithAddress(t *testing.T, address string) types.Node {
	t.Helper()
	return types.NewNode(address)
}

// CreateTestNode creates a node with default address for testing
func CreateTestNode(t *testing.T) types.Node {
	return CreateTestNodeWithAddress(t, "127.0.0.1:8081")
}

// CreateTestNetwork creates size nodes with distinct addresses
func CreateTestNetwork(t *testing.T, size int) []types.Node {
	t.Helper()

	nodes := make([]types.Node, size)
	for i := 0; i < size; i++ {
		nodes[i] = CreateTestNodeWithAddress(t, fmt.Sprintf("127.0.0.1:%d", 9000+i))
	}
	return nodes
}

// NodeWithID builds a node with a hand-picked ID.
func NodeWithID(t *testing.T, hexID, address string) types.Node {
	t.Helper()

	id, err := types.ParseKey(hexID)
	if err != nil {
		t.Fatalf("Invalid test key %s: %v", hexID, err)
	}
	return types.Node{ID: id, Address: address}
}

// TestSettings returns settings for address with short timeouts.
func TestSettings(address string) utils.Settings {
	s := utils.DefaultSettings()
	s.Node.Address = address
	s.Lookup.Timeout = time.Second
	return s
}

// CreateSimNetwork builds an in-memory network of size bootstrapped nodes.
func CreateSimNetwork(t *testing.T, size int, base utils.Settings) *models.MemNetwork {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	network, err := models.BuildNetwork(ctx, size, base)
	if err != nil {
		t.Fatalf("Failed to build network: %v", err)
	}
	return network
}
