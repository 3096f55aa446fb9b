package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/polinanime/keyspace/internal/types"
)

var (
	ErrNoPeers = errors.New("no known peers")
	// ErrRateLimited is returned when the query limiter cannot admit a query
	// before the lookup's context ends. No request reaches the peer.
	ErrRateLimited = errors.New("query rate limit exceeded")
)

// Transport carries lookup queries to remote peers.
type Transport interface {
	// FindNode asks to for the peers it knows closest to target.
	FindNode(ctx context.Context, to types.Node, target types.Key) ([]types.Node, error)
	Ping(ctx context.Context, to types.Node) error
}

type LookupConfig struct {
	// Alpha is the number of queries in flight per round.
	Alpha int
	// K is the size of the result set.
	K         int
	MaxRounds int
	// QueryTimeout bounds a single FindNode call. Zero means no timeout.
	QueryTimeout time.Duration
	// QueriesPerSecond limits outgoing queries. Zero means unlimited.
	QueriesPerSecond float64
}

func DefaultLookupConfig() LookupConfig {
	return LookupConfig{
		Alpha:        3,
		K:            DefaultBucketSize,
		MaxRounds:    16,
		QueryTimeout: 3 * time.Second,
	}
}

type LookupResult struct {
	ID     string
	Target types.Key
	// Closest holds the responsive peers nearest to Target, closest first.
	Closest   []types.Node
	Rounds    int
	Queried   int
	Failed    int
	Converged bool
}

// Lookup runs iterative FIND_NODE searches against a routing table.
type Lookup struct {
	table     *RoutingTable
	transport Transport
	config    LookupConfig
	limiter   *rate.Limiter
	logger    hclog.Logger
	metrics   *Metrics
}

type LookupOption func(*Lookup)

func WithLookupLogger(l hclog.Logger) LookupOption {
	return func(lk *Lookup) {
		if l != nil {
			lk.logger = l
		}
	}
}

func WithLookupMetrics(m *Metrics) LookupOption {
	return func(lk *Lookup) { lk.metrics = m }
}

func NewLookup(table *RoutingTable, transport Transport, config LookupConfig, opts ...LookupOption) *Lookup {
	defaults := DefaultLookupConfig()
	if config.Alpha < 1 {
		config.Alpha = defaults.Alpha
	}
	if config.K < 1 {
		config.K = defaults.K
	}
	if config.MaxRounds < 1 {
		config.MaxRounds = defaults.MaxRounds
	}

	lk := &Lookup{
		table:     table,
		transport: transport,
		config:    config,
		logger:    hclog.NewNullLogger(),
	}
	if config.QueriesPerSecond > 0 {
		burst := config.Alpha
		lk.limiter = rate.NewLimiter(rate.Limit(config.QueriesPerSecond), burst)
	}
	for _, opt := range opts {
		opt(lk)
	}
	return lk
}

func (lk *Lookup) Config() LookupConfig {
	return lk.config
}

type candidate struct {
	node    types.Node
	queried bool
}

// shortlist is the distance-ordered candidate set of one lookup. The local
// node is marked seen up front so it is never queried.
type shortlist struct {
	target types.Key
	nodes  []*candidate
	seen   map[types.Key]bool
}

func newShortlist(target, self types.Key) *shortlist {
	return &shortlist{
		target: target,
		seen:   map[types.Key]bool{self: true},
	}
}

// add merges unseen nodes, keeping the list ordered by distance.
func (s *shortlist) add(nodes []types.Node) {
	for _, n := range nodes {
		if s.seen[n.ID] {
			continue
		}
		s.seen[n.ID] = true
		s.nodes = append(s.nodes, &candidate{node: n})
	}
	sortCandidates(s.nodes, s.target)
}

func (s *shortlist) drop(id types.Key) {
	for i, c := range s.nodes {
		if c.node.ID == id {
			s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
			return
		}
	}
}

// pending returns up to max unqueried candidates among the k closest.
func (s *shortlist) pending(k, max int) []*candidate {
	var out []*candidate
	for i, c := range s.nodes {
		if i >= k || len(out) >= max {
			break
		}
		if !c.queried {
			out = append(out, c)
		}
	}
	return out
}

func (s *shortlist) best() (types.Key, bool) {
	if len(s.nodes) == 0 {
		return types.Key{}, false
	}
	return types.Distance(s.nodes[0].node.ID, s.target), true
}

func (s *shortlist) responded(k int) []types.Node {
	var out []types.Node
	for _, c := range s.nodes {
		if len(out) >= k {
			break
		}
		if c.queried {
			out = append(out, c.node)
		}
	}
	return out
}

type queryResult struct {
	peers []types.Node
	err   error
}

// Run searches for the K peers closest to target. On context cancellation it
// returns what it found so far together with the context error.
func (lk *Lookup) Run(ctx context.Context, target types.Key) (LookupResult, error) {
	result := LookupResult{
		ID:     ulid.Make().String(),
		Target: target,
	}
	logger := lk.logger.With("lookup", result.ID, "target", target.String())

	seeds := lk.table.Closest(target, lk.config.K)
	if len(seeds) == 0 {
		lk.metrics.lookupDone(result, ErrNoPeers)
		return result, ErrNoPeers
	}

	list := newShortlist(target, lk.table.Self().ID)
	list.add(seeds)

	best, _ := list.best()
	finalRound := false

	for result.Rounds < lk.config.MaxRounds {
		if err := ctx.Err(); err != nil {
			result.Closest = list.responded(lk.config.K)
			lk.metrics.lookupDone(result, err)
			return result, err
		}

		limit := lk.config.Alpha
		if finalRound {
			limit = lk.config.K
		}
		batch := list.pending(lk.config.K, limit)
		if len(batch) == 0 {
			result.Converged = true
			break
		}

		result.Rounds++
		logger.Trace("lookup round", "round", result.Rounds, "queries", len(batch))

		replies := lk.queryAll(ctx, batch, target)
		var limited error
		for i, c := range batch {
			reply := replies[i]
			if errors.Is(reply.err, ErrRateLimited) {
				// never sent, the peer stays a candidate
				limited = reply.err
				continue
			}
			result.Queried++
			if reply.err != nil {
				result.Failed++
				if ctx.Err() != nil {
					// cancelled, not the peer's fault
					continue
				}
				list.drop(c.node.ID)
				lk.table.Remove(c.node.ID)
				logger.Debug("query failed", "peer", c.node.Address, "error", reply.err)
				continue
			}
			c.queried = true
			// a full bucket is not a lookup failure
			_ = lk.table.InsertContext(ctx, c.node)
			list.add(reply.peers)
		}

		if limited != nil {
			result.Closest = list.responded(lk.config.K)
			err := limited
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			lk.metrics.lookupDone(result, err)
			logger.Debug("lookup cut short by rate limit", "rounds", result.Rounds, "error", err)
			return result, err
		}

		// without progress, query everything left in the top K until it is exhausted
		if current, ok := list.best(); ok && types.Compare(current, best) < 0 {
			best = current
			finalRound = false
		} else {
			finalRound = true
		}
	}

	result.Closest = list.responded(lk.config.K)
	if !result.Converged && len(list.pending(lk.config.K, 1)) == 0 {
		result.Converged = true
	}
	if err := ctx.Err(); err != nil {
		result.Converged = false
		lk.metrics.lookupDone(result, err)
		return result, err
	}
	if len(result.Closest) == 0 {
		result.Converged = false
		err := fmt.Errorf("%w: all %d queried peers failed", ErrNoPeers, result.Failed)
		lk.metrics.lookupDone(result, err)
		return result, err
	}

	logger.Debug("lookup finished",
		"rounds", result.Rounds,
		"queried", result.Queried,
		"failed", result.Failed,
		"converged", result.Converged)
	lk.metrics.lookupDone(result, nil)
	return result, nil
}

func (lk *Lookup) queryAll(ctx context.Context, batch []*candidate, target types.Key) []queryResult {
	replies := make([]queryResult, len(batch))

	var g errgroup.Group
	g.SetLimit(lk.config.Alpha)
	for i, c := range batch {
		i, c := i, c
		g.Go(func() error {
			peers, err := lk.query(ctx, c.node, target)
			replies[i] = queryResult{peers: peers, err: err}
			if !errors.Is(err, ErrRateLimited) {
				lk.metrics.query(err == nil)
			}
			return nil
		})
	}
	_ = g.Wait()

	return replies
}

func (lk *Lookup) query(ctx context.Context, to types.Node, target types.Key) ([]types.Node, error) {
	if lk.limiter != nil {
		if err := lk.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	if lk.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, lk.config.QueryTimeout)
		defer cancel()
	}
	return lk.transport.FindNode(ctx, to, target)
}

func sortCandidates(nodes []*candidate, target types.Key) {
	// insertion sort: the list is short and mostly sorted between merges
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && types.CloserTo(target, nodes[j].node.ID, nodes[j-1].node.ID); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}
