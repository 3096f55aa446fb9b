package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/polinanime/keyspace/internal/types"
)

const (
	DefaultBucketSize = 20
)

var (
	ErrSelfInsert = errors.New("cannot insert local node")
	ErrBucketFull = errors.New("bucket full")
)

// Pinger reports whether a peer is still responsive. It must return once ctx
// is done.
type Pinger func(ctx context.Context, node types.Node) bool

// RoutingTable keeps known peers in buckets indexed by the length of the
// prefix they share with the local node.
type RoutingTable struct {
	self         types.Node
	buckets      [types.KeySizeBits]*KBucket
	k            int
	replacements int
	mutex        sync.RWMutex

	// called without holding mutex
	pinger  Pinger
	logger  hclog.Logger
	metrics *Metrics
}

type TableOption func(*RoutingTable)

// WithBucketSize sets the maximum number of peers per bucket.
func WithBucketSize(k int) TableOption {
	return func(rt *RoutingTable) {
		if k > 0 {
			rt.k = k
		}
	}
}

// WithReplacementCacheSize bounds each bucket's replacement cache. Zero
// disables it.
func WithReplacementCacheSize(n int) TableOption {
	return func(rt *RoutingTable) {
		if n >= 0 {
			rt.replacements = n
		}
	}
}

func WithPinger(p Pinger) TableOption {
	return func(rt *RoutingTable) { rt.pinger = p }
}

func WithTableLogger(l hclog.Logger) TableOption {
	return func(rt *RoutingTable) {
		if l != nil {
			rt.logger = l
		}
	}
}

func WithTableMetrics(m *Metrics) TableOption {
	return func(rt *RoutingTable) { rt.metrics = m }
}

func NewRoutingTable(self types.Node, opts ...TableOption) *RoutingTable {
	rt := &RoutingTable{
		self:         self,
		k:            DefaultBucketSize,
		replacements: -1,
		logger:       hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.replacements < 0 {
		rt.replacements = rt.k
	}
	for i := range rt.buckets {
		rt.buckets[i] = newKBucket(rt.k)
	}
	return rt
}

func (rt *RoutingTable) Self() types.Node {
	return rt.self
}

func (rt *RoutingTable) BucketSize() int {
	return rt.k
}

// BucketIndex returns the bucket a key belongs to, or -1 for the local key.
func (rt *RoutingTable) BucketIndex(id types.Key) int {
	cpl := types.CommonPrefixLen(rt.self.ID, id)
	if cpl == types.KeySizeBits {
		return -1
	}
	return cpl
}

// Insert is InsertContext without a deadline on the liveness probe.
func (rt *RoutingTable) Insert(node types.Node) error {
	return rt.InsertContext(context.Background(), node)
}

// InsertContext records a peer as recently seen. When its bucket is full the
// least recently seen peer is pinged with ctx: if it does not answer it is
// evicted in favor of node, otherwise node is parked in the replacement cache
// and ErrBucketFull is returned. A probe cut short by ctx evicts nobody.
func (rt *RoutingTable) InsertContext(ctx context.Context, node types.Node) error {
	idx := rt.BucketIndex(node.ID)
	if idx < 0 {
		return ErrSelfInsert
	}

	rt.mutex.Lock()
	bucket := rt.buckets[idx]

	if i := bucket.indexOf(node.ID); i >= 0 {
		bucket.touch(i, node)
		rt.mutex.Unlock()
		return nil
	}

	if len(bucket.Nodes) < rt.k {
		bucket.Nodes = append(bucket.Nodes, node)
		bucket.removeReplacement(node.ID)
		rt.mutex.Unlock()
		rt.metrics.peerAdded()
		rt.logger.Trace("peer added", "peer", node.Address, "bucket", idx)
		return nil
	}

	lru := bucket.Nodes[0]
	pinger := rt.pinger
	rt.mutex.Unlock()

	alive := pinger != nil && pinger(ctx, lru)
	probeErr := ctx.Err()

	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	bucket = rt.buckets[idx]

	// the bucket may have changed while the lock was released
	if i := bucket.indexOf(node.ID); i >= 0 {
		bucket.touch(i, node)
		return nil
	}

	switch i := bucket.indexOf(lru.ID); {
	case i < 0 || pinger == nil || probeErr != nil:
	case alive:
		bucket.touch(i, bucket.Nodes[i])
	default:
		bucket.removeAt(i)
		rt.metrics.peerRemoved()
		rt.metrics.evicted()
		rt.logger.Debug("evicted unresponsive peer", "peer", lru.Address, "bucket", idx)
	}

	if len(bucket.Nodes) < rt.k {
		bucket.Nodes = append(bucket.Nodes, node)
		bucket.removeReplacement(node.ID)
		rt.metrics.peerAdded()
		return nil
	}

	bucket.addReplacement(node, rt.replacements)
	rt.metrics.replacementCached()
	rt.logger.Trace("bucket full, peer cached", "peer", node.Address, "bucket", idx)
	if probeErr != nil {
		return fmt.Errorf("%w: probe of %s interrupted: %w", ErrBucketFull, lru.Address, probeErr)
	}
	return fmt.Errorf("%w: bucket %d holds %d peers", ErrBucketFull, idx, len(bucket.Nodes))
}

// Remove drops a peer and promotes the most recent replacement into its
// slot. It reports whether the peer was in the table.
func (rt *RoutingTable) Remove(id types.Key) bool {
	idx := rt.BucketIndex(id)
	if idx < 0 {
		return false
	}

	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	bucket := rt.buckets[idx]

	i := bucket.indexOf(id)
	if i < 0 {
		return bucket.removeReplacement(id)
	}
	bucket.removeAt(i)
	rt.metrics.peerRemoved()

	if promoted, ok := bucket.popReplacement(); ok {
		bucket.Nodes = append(bucket.Nodes, promoted)
		rt.metrics.peerAdded()
		rt.logger.Debug("promoted replacement", "peer", promoted.Address, "bucket", idx)
	}
	return true
}

// Closest returns up to count known peers ordered by ascending distance to
// target.
func (rt *RoutingTable) Closest(target types.Key, count int) []types.Node {
	if count <= 0 {
		return []types.Node{}
	}

	rt.mutex.RLock()
	var nodes []types.Node
	for _, bucket := range rt.buckets {
		nodes = append(nodes, bucket.Nodes...)
	}
	rt.mutex.RUnlock()

	SortByDistance(nodes, target)

	if len(nodes) > count {
		nodes = nodes[:count]
	}
	return nodes
}

// SortByDistance orders nodes by ascending XOR distance to target. Distinct
// IDs never tie.
func SortByDistance(nodes []types.Node, target types.Key) {
	sort.Slice(nodes, func(i, j int) bool {
		return types.CloserTo(target, nodes[i].ID, nodes[j].ID)
	})
}

func (rt *RoutingTable) Contains(id types.Key) bool {
	_, ok := rt.Get(id)
	return ok
}

func (rt *RoutingTable) Get(id types.Key) (types.Node, bool) {
	idx := rt.BucketIndex(id)
	if idx < 0 {
		return types.Node{}, false
	}

	rt.mutex.RLock()
	defer rt.mutex.RUnlock()

	bucket := rt.buckets[idx]
	if i := bucket.indexOf(id); i >= 0 {
		return bucket.Nodes[i], true
	}
	return types.Node{}, false
}

// FindByAddress returns the peer with the given address.
func (rt *RoutingTable) FindByAddress(address string) (types.Node, bool) {
	rt.mutex.RLock()
	defer rt.mutex.RUnlock()

	for _, bucket := range rt.buckets {
		for _, node := range bucket.Nodes {
			if node.Address == address {
				return node, true
			}
		}
	}
	return types.Node{}, false
}

func (rt *RoutingTable) Len() int {
	rt.mutex.RLock()
	defer rt.mutex.RUnlock()

	total := 0
	for _, bucket := range rt.buckets {
		total += len(bucket.Nodes)
	}
	return total
}

// Nodes returns every peer, bucket by bucket.
func (rt *RoutingTable) Nodes() []types.Node {
	rt.mutex.RLock()
	defer rt.mutex.RUnlock()

	var nodes []types.Node
	for _, bucket := range rt.buckets {
		nodes = append(nodes, bucket.Nodes...)
	}
	return nodes
}

// BucketSizes maps each non-empty bucket index to its peer count.
func (rt *RoutingTable) BucketSizes() map[int]int {
	rt.mutex.RLock()
	defer rt.mutex.RUnlock()

	sizes := make(map[int]int)
	for i, bucket := range rt.buckets {
		if len(bucket.Nodes) > 0 {
			sizes[i] = len(bucket.Nodes)
		}
	}
	return sizes
}

// Replacements returns a copy of a bucket's replacement cache.
func (rt *RoutingTable) Replacements(bucket int) []types.Node {
	if bucket < 0 || bucket >= len(rt.buckets) {
		return nil
	}

	rt.mutex.RLock()
	defer rt.mutex.RUnlock()
	return append([]types.Node(nil), rt.buckets[bucket].Replacements...)
}

// Print writes the non-empty buckets to w.
func (rt *RoutingTable) Print(w io.Writer) {
	rt.mutex.RLock()
	defer rt.mutex.RUnlock()

	fmt.Fprintf(w, "\n=== K-Buckets (%s) ===\n", rt.self)
	for i, bucket := range rt.buckets {
		if len(bucket.Nodes) == 0 {
			continue
		}
		fmt.Fprintf(w, "Bucket %d:\n", i)
		for _, node := range bucket.Nodes {
			fmt.Fprintf(w, "  %s -> %s\n", node.Address, node.ID)
		}
	}
}
