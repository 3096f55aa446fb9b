package models

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"

	"github.com/polinanime/keyspace/internal/types"
	"github.com/polinanime/keyspace/internal/utils"
)

var ErrPeerExists = errors.New("peer already known")

// DHTNode is a local node: its identity, routing table and lookup engine.
type DHTNode struct {
	node      types.Node
	settings  utils.Settings
	table     *RoutingTable
	lookup    *Lookup
	transport Transport
	logger    hclog.Logger
	metrics   *Metrics
}

type NodeOption func(*DHTNode)

func WithLogger(l hclog.Logger) NodeOption {
	return func(dht *DHTNode) {
		if l != nil {
			dht.logger = l
		}
	}
}

func WithMetrics(m *Metrics) NodeOption {
	return func(dht *DHTNode) { dht.metrics = m }
}

// NewDHTNode creates a node for the settings' address and seeds its routing
// table from the peers file.
func NewDHTNode(settings utils.Settings, transport Transport, opts ...NodeOption) *DHTNode {
	node := settings.CreateNode()

	dht := &DHTNode{
		node:      node,
		settings:  settings,
		transport: transport,
		logger:    hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(dht)
	}
	dht.logger = dht.logger.With("node", node.Address)

	dht.table = NewRoutingTable(node,
		WithBucketSize(settings.Table.K),
		WithReplacementCacheSize(settings.Table.Replacements),
		WithPinger(dht.ping),
		WithTableLogger(dht.logger.Named("table")),
		WithTableMetrics(dht.metrics),
	)
	dht.lookup = NewLookup(dht.table, transport, LookupConfig{
		Alpha:            settings.Lookup.Alpha,
		K:                settings.Lookup.K,
		MaxRounds:        settings.Lookup.Rounds,
		QueryTimeout:     settings.Lookup.Timeout,
		QueriesPerSecond: settings.Lookup.Rate,
	},
		WithLookupLogger(dht.logger.Named("lookup")),
		WithLookupMetrics(dht.metrics),
	)

	peers, err := settings.ReadPeers(node.Address)
	if err != nil {
		dht.logger.Warn("failed to load peers from configuration file", "error", err)
	} else {
		dht.loadPeers(peers)
	}

	return dht
}

func (dht *DHTNode) loadPeers(peers map[string]types.Node) {
	for _, node := range peers {
		dht.logger.Debug("adding bootstrap peer", "peer", node.Address)
		if err := dht.table.Insert(node); err != nil {
			dht.logger.Debug("bootstrap peer not added", "peer", node.Address, "error", err)
		}
	}
}

// ping checks if a node is still alive
func (dht *DHTNode) ping(ctx context.Context, node types.Node) bool {
	if dht.transport == nil {
		return false
	}

	if timeout := dht.settings.Lookup.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return dht.transport.Ping(ctx, node) == nil
}

func (dht *DHTNode) Self() types.Node {
	return dht.node
}

func (dht *DHTNode) Table() *RoutingTable {
	return dht.table
}

// AddPeer adds the peer at address. Known addresses are rejected.
func (dht *DHTNode) AddPeer(address string) error {
	return dht.AddNode(types.NewNode(address))
}

func (dht *DHTNode) AddNode(node types.Node) error {
	if dht.HasNode(node.Address) || dht.table.Contains(node.ID) {
		return fmt.Errorf("%w: %s", ErrPeerExists, node.Address)
	}
	return dht.table.Insert(node)
}

// HasNode checks if a node is already in the k-buckets
func (dht *DHTNode) HasNode(address string) bool {
	_, ok := dht.table.FindByAddress(address)
	return ok
}

func (dht *DHTNode) RemovePeer(address string) bool {
	node, ok := dht.table.FindByAddress(address)
	if !ok {
		return false
	}
	return dht.table.Remove(node.ID)
}

// FindClosest runs an iterative lookup for target.
func (dht *DHTNode) FindClosest(ctx context.Context, target types.Key) (LookupResult, error) {
	return dht.lookup.Run(ctx, target)
}

// Bootstrap looks up the node's own ID, which fills the buckets nearest to
// it and announces the node to the peers it queries.
func (dht *DHTNode) Bootstrap(ctx context.Context) error {
	dht.logger.Info("starting bootstrap", "peers", dht.table.Len())

	result, err := dht.lookup.Run(ctx, dht.node.ID)
	if err != nil {
		return fmt.Errorf("bootstrap lookup failed: %w", err)
	}

	dht.logger.Info("bootstrap complete",
		"rounds", result.Rounds,
		"queried", result.Queried,
		"peers", dht.table.Len())
	return nil
}

// Refresh runs one lookup towards a random key in every non-empty bucket.
func (dht *DHTNode) Refresh(ctx context.Context) error {
	var errs []error
	for idx := range dht.table.BucketSizes() {
		target, err := types.RandomKeyInBucket(dht.node.ID, idx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := dht.lookup.Run(ctx, target); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			errs = append(errs, fmt.Errorf("bucket %d: %w", idx, err))
		}
	}
	return errors.Join(errs...)
}

// HandleFindNode answers a FIND_NODE from a peer. The caller is recorded as
// recently seen; ctx bounds the liveness probe that may cause.
func (dht *DHTNode) HandleFindNode(ctx context.Context, from types.Node, target types.Key) []types.Node {
	if from.ID != dht.node.ID {
		if err := dht.table.InsertContext(ctx, from); err != nil && !errors.Is(err, ErrBucketFull) {
			dht.logger.Debug("caller not recorded", "peer", from.Address, "error", err)
		}
	}
	return dht.table.Closest(target, dht.settings.Lookup.K)
}

// HandlePing answers a liveness probe. It never touches the routing table,
// so probes cannot trigger further probes.
func (dht *DHTNode) HandlePing(from types.Node) error {
	dht.logger.Trace("ping", "from", from.Address)
	return nil
}

// SavePeers writes the known peers to the peers file.
func (dht *DHTNode) SavePeers() error {
	return dht.settings.WritePeers(dht.table.Nodes())
}

func (dht *DHTNode) Print(w io.Writer) {
	dht.table.Print(w)
}
