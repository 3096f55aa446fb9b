package models_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polinanime/keyspace/internal/mocks"
	"github.com/polinanime/keyspace/internal/models"
	"github.com/polinanime/keyspace/internal/testutils"
	"github.com/polinanime/keyspace/internal/types"
	"github.com/polinanime/keyspace/internal/utils"
)

func TestNewDHTNode(t *testing.T) {
	settings := testutils.TestSettings("127.0.0.1:8080")

	dht := models.NewDHTNode(settings, mocks.NewMockTransport())
	if dht == nil {
		t.Fatal("Expected non-nil DHT node")
	}
	assert.Equal(t, types.NewNode("127.0.0.1:8080"), dht.Self())
	assert.Equal(t, 0, dht.Table().Len())
}

func TestNewDHTNodeLoadsPeersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.txt")
	require.NoError(t, os.WriteFile(path, []byte("127.0.0.1:8081\n127.0.0.1:8082\n127.0.0.1:8080\n"), 0o644))

	settings := testutils.TestSettings("127.0.0.1:8080")
	settings.Node.Peers = path

	dht := models.NewDHTNode(settings, mocks.NewMockTransport())
	assert.Equal(t, 2, dht.Table().Len())
	assert.True(t, dht.HasNode("127.0.0.1:8081"))
	assert.True(t, dht.HasNode("127.0.0.1:8082"))
	assert.False(t, dht.HasNode("127.0.0.1:8080"))
}

func TestAddNode(t *testing.T) {
	dht := models.NewDHTNode(testutils.TestSettings("127.0.0.1:8080"), mocks.NewMockTransport())

	// Create a test node with a specific address
	testAddr := "127.0.0.1:8081"
	testNode := testutils.CreateTestNodeWithAddress(t, testAddr)

	// Add the node
	if err := dht.AddPeer(testNode.Address); err != nil {
		t.Fatalf("Failed to add peer: %v", err)
	}

	// Verify the node was added
	if !dht.HasNode(testNode.Address) {
		t.Errorf("Expected node %s to be in DHT", testNode.Address)
	}
}

func TestAddNode_Multiple(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{
			name:    "Valid address",
			address: "127.0.0.1:8081",
			wantErr: false,
		},
		{
			name:    "Duplicate address",
			address: "127.0.0.1:8081",
			wantErr: true,
		},
		{
			name:    "Different address",
			address: "127.0.0.1:8082",
			wantErr: false,
		},
		{
			name:    "Own address",
			address: "127.0.0.1:8080",
			wantErr: true,
		},
	}

	dht := models.NewDHTNode(testutils.TestSettings("127.0.0.1:8080"), mocks.NewMockTransport())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testNode := testutils.CreateTestNodeWithAddress(t, tt.address)
			err := dht.AddPeer(testNode.Address)

			if (err != nil) != tt.wantErr {
				t.Errorf("AddPeer() error = %v, wantErr %v", err, tt.wantErr)
			}

			if !tt.wantErr {
				if !dht.HasNode(testNode.Address) {
					t.Errorf("Node %s not found in DHT after addition", testNode.Address)
				}
			}
		})
	}
}

func TestAddPeerErrors(t *testing.T) {
	dht := models.NewDHTNode(testutils.TestSettings("127.0.0.1:8080"), mocks.NewMockTransport())

	require.NoError(t, dht.AddPeer("127.0.0.1:8081"))
	assert.ErrorIs(t, dht.AddPeer("127.0.0.1:8081"), models.ErrPeerExists)
	assert.ErrorIs(t, dht.AddPeer("127.0.0.1:8080"), models.ErrSelfInsert)
}

func TestRemovePeer(t *testing.T) {
	dht := models.NewDHTNode(testutils.TestSettings("127.0.0.1:8080"), mocks.NewMockTransport())
	require.NoError(t, dht.AddPeer("127.0.0.1:8081"))

	assert.True(t, dht.RemovePeer("127.0.0.1:8081"))
	assert.False(t, dht.HasNode("127.0.0.1:8081"))
	assert.False(t, dht.RemovePeer("127.0.0.1:8081"))
}

func TestHandleFindNodeRecordsCaller(t *testing.T) {
	dht := models.NewDHTNode(testutils.TestSettings("127.0.0.1:8080"), mocks.NewMockTransport())
	peers := testutils.CreateTestNetwork(t, 5)
	for _, p := range peers[1:] {
		require.NoError(t, dht.Table().Insert(p))
	}

	caller := peers[0]
	got := dht.HandleFindNode(context.Background(), caller, caller.ID)

	assert.True(t, dht.Table().Contains(caller.ID))
	require.Len(t, got, 5)
	assert.Equal(t, caller, got[0], "the caller is closest to its own ID")

	// a node never records itself
	dht.HandleFindNode(context.Background(), dht.Self(), caller.ID)
	assert.False(t, dht.Table().Contains(dht.Self().ID))
}

func TestHandlePingLeavesTableUntouched(t *testing.T) {
	dht := models.NewDHTNode(testutils.TestSettings("127.0.0.1:8080"), mocks.NewMockTransport())
	require.NoError(t, dht.HandlePing(testutils.CreateTestNode(t)))
	assert.Equal(t, 0, dht.Table().Len())
}

func TestBootstrapWithoutPeers(t *testing.T) {
	dht := models.NewDHTNode(testutils.TestSettings("127.0.0.1:8080"), mocks.NewMockTransport())
	err := dht.Bootstrap(context.Background())
	assert.ErrorIs(t, err, models.ErrNoPeers)
}

func TestBootstrapLearnsPeers(t *testing.T) {
	transport := mocks.NewMockTransport()
	dht := models.NewDHTNode(testutils.TestSettings("127.0.0.1:8080"), transport)

	peers := testutils.CreateTestNetwork(t, 4)
	require.NoError(t, dht.AddNode(peers[0]))
	transport.Reply(peers[0].Address, peers[1], peers[2])
	transport.Reply(peers[1].Address, peers[3], dht.Self())

	require.NoError(t, dht.Bootstrap(context.Background()))
	for _, p := range peers {
		assert.True(t, dht.HasNode(p.Address), "expected %s to be learned", p.Address)
	}
	assert.False(t, dht.Table().Contains(dht.Self().ID))
}

func TestFindClosestStopsWhenProbeHangs(t *testing.T) {
	settings := testutils.TestSettings("127.0.0.1:8080")
	settings.Table.K = 1
	settings.Lookup.Timeout = 0

	transport := mocks.NewMockTransport()
	transport.BlockPing = true
	dht := models.NewDHTNode(settings, transport)

	// two peers sharing a bucket, so recording the second probes the first
	var a, b types.Node
	seen := make(map[int]types.Node)
	for _, n := range testutils.CreateTestNetwork(t, 64) {
		idx := dht.Table().BucketIndex(n.ID)
		if first, ok := seen[idx]; ok {
			a, b = first, n
			break
		}
		seen[idx] = n
	}
	require.NotEmpty(t, b.Address, "no two test nodes share a bucket")

	require.NoError(t, dht.AddNode(a))
	transport.Reply(a.Address, b)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := dht.FindClosest(ctx, b.ID)
	assert.Less(t, time.Since(start), time.Second, "the lookup must return with its context")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []types.Node{a}, transport.Pings)
	assert.True(t, dht.Table().Contains(a.ID), "an unanswered probe cut short by ctx must not evict")
}

func TestRefresh(t *testing.T) {
	transport := mocks.NewMockTransport()
	dht := models.NewDHTNode(testutils.TestSettings("127.0.0.1:8080"), transport)
	for _, p := range testutils.CreateTestNetwork(t, 6) {
		require.NoError(t, dht.AddNode(p))
	}

	require.NoError(t, dht.Refresh(context.Background()))
	assert.NotEmpty(t, transport.Calls)
	assert.Len(t, dht.Table().Nodes(), 6)
}

func TestRefreshCancelled(t *testing.T) {
	transport := mocks.NewMockTransport()
	transport.Block = true
	dht := models.NewDHTNode(testutils.TestSettings("127.0.0.1:8080"), transport)
	require.NoError(t, dht.AddPeer("127.0.0.1:8081"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, dht.Refresh(ctx), context.DeadlineExceeded)
	assert.True(t, dht.HasNode("127.0.0.1:8081"), "cancellation must not evict peers")
}

func TestSavePeers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.txt")
	settings := testutils.TestSettings("127.0.0.1:8080")
	settings.Node.Peers = path

	dht := models.NewDHTNode(settings, mocks.NewMockTransport())
	require.NoError(t, dht.AddPeer("127.0.0.1:8081"))
	require.NoError(t, dht.SavePeers())

	reloaded := models.NewDHTNode(settings, mocks.NewMockTransport())
	assert.True(t, reloaded.HasNode("127.0.0.1:8081"))
}

func TestPrint(t *testing.T) {
	dht := models.NewDHTNode(testutils.TestSettings("127.0.0.1:8080"), mocks.NewMockTransport())
	require.NoError(t, dht.AddPeer("127.0.0.1:8081"))

	var buf bytes.Buffer
	dht.Print(&buf)
	assert.Contains(t, buf.String(), "=== K-Buckets")
	assert.Contains(t, buf.String(), "127.0.0.1:8081 -> "+types.KeyFromAddress("127.0.0.1:8081").String())
}

func TestDHTNodeUsesSettings(t *testing.T) {
	settings := utils.DefaultSettings()
	settings.Node.Address = "127.0.0.1:8080"
	settings.Table.K = 3
	settings.Lookup.Alpha = 2

	dht := models.NewDHTNode(settings, mocks.NewMockTransport())
	assert.Equal(t, 3, dht.Table().BucketSize())
}
