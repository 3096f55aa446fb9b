package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/polinanime/keyspace/internal/models"
	"github.com/polinanime/keyspace/internal/types"
)

type simulateOptions struct {
	nodes   int
	lookups int
	k       int
	alpha   int
	timeout time.Duration
	metrics bool
}

func newSimulateCmd(root *rootOptions) *cobra.Command {
	opts := &simulateOptions{}

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run random lookups over an in-memory network",
		Long: `Builds an in-memory network where every node joins through the first one,
then runs lookups for random keys and compares them with the true closest nodes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, root, opts)
		},
	}

	simulateCmd.Flags().IntVarP(&opts.nodes, "nodes", "n", 64, "number of simulated nodes")
	simulateCmd.Flags().IntVarP(&opts.lookups, "lookups", "l", 20, "number of random lookups")
	simulateCmd.Flags().IntVar(&opts.k, "k", 0, "bucket and result size (default from config)")
	simulateCmd.Flags().IntVar(&opts.alpha, "alpha", 0, "lookup parallelism (default from config)")
	simulateCmd.Flags().DurationVar(&opts.timeout, "timeout", time.Minute, "overall simulation timeout")
	simulateCmd.Flags().BoolVar(&opts.metrics, "metrics", false, "print collected metrics")
	return simulateCmd
}

func runSimulate(cmd *cobra.Command, root *rootOptions, opts *simulateOptions) error {
	settings, logger, err := root.load(cmd)
	if err != nil {
		return err
	}
	if opts.k > 0 {
		settings.Table.K = opts.k
		settings.Lookup.K = opts.k
	}
	if opts.alpha > 0 {
		settings.Lookup.Alpha = opts.alpha
	}
	settings.Node.Address = models.SimulatedAddress(0)
	if err := settings.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	reg := prometheus.NewRegistry()
	metrics := models.NewMetrics(reg)

	start := time.Now()
	network, err := models.BuildNetwork(ctx, opts.nodes, *settings,
		models.WithLogger(logger.Named("sim")),
		models.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	nodes := network.Nodes()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "network: %d nodes (k=%d, alpha=%d) built in %s\n",
		len(nodes), settings.Lookup.K, settings.Lookup.Alpha, time.Since(start).Round(time.Millisecond))

	var (
		overlap   float64
		rounds    int
		converged int
	)
	for i := 0; i < opts.lookups; i++ {
		from := nodes[i%len(nodes)]
		target, err := types.RandomKey()
		if err != nil {
			return err
		}

		result, err := from.FindClosest(ctx, target)
		if err != nil {
			return fmt.Errorf("lookup %d from %s: %w", i, from.Self().Address, err)
		}

		expected := excludeNode(network.ClosestOnline(target, settings.Lookup.K+1), from.Self().ID)
		if len(expected) > settings.Lookup.K {
			expected = expected[:settings.Lookup.K]
		}
		overlap += models.Overlap(result.Closest, expected)
		rounds += result.Rounds
		if result.Converged {
			converged++
		}
		logger.Debug("lookup done", "id", result.ID, "from", from.Self().Address, "rounds", result.Rounds)
	}

	if opts.lookups > 0 {
		n := float64(opts.lookups)
		fmt.Fprintf(out, "lookups: %d, converged %d, mean rounds %.2f, mean overlap %.3f\n",
			opts.lookups, converged, float64(rounds)/n, overlap/n)
	}

	if opts.metrics {
		return writeMetrics(out, reg)
	}
	return nil
}

func excludeNode(nodes []types.Node, id types.Key) []types.Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

// writeMetrics prints counter and gauge samples, and histogram counts, one
// per line.
func writeMetrics(w io.Writer, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var lines []string
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			var labels []string
			for _, pair := range metric.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", pair.GetName(), pair.GetValue()))
			}
			name := family.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}

			switch {
			case metric.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, metric.GetCounter().GetValue()))
			case metric.GetGauge() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, metric.GetGauge().GetValue()))
			case metric.GetHistogram() != nil:
				h := metric.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s_count %d", name, h.GetSampleCount()))
				lines = append(lines, fmt.Sprintf("%s_sum %g", name, h.GetSampleSum()))
			}
		}
	}

	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	return nil
}
