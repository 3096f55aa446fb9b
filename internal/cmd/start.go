package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/polinanime/keyspace/internal/models"
	"github.com/polinanime/keyspace/internal/types"
	"github.com/polinanime/keyspace/internal/utils"
)

type startOptions struct {
	peers       int
	metricsAddr string
}

func newStartCmd(root *rootOptions) *cobra.Command {
	opts := &startOptions{}

	startCmd := &cobra.Command{
		Use:   "start [address]",
		Short: "Start an interactive node on a simulated network",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return startNode(cmd, args, root, opts)
		},
	}

	startCmd.Flags().IntVarP(&opts.peers, "peers", "p", 32, "number of simulated peers to join")
	startCmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return startCmd
}

type session struct {
	node     *models.DHTNode
	network  *models.MemNetwork
	registry *prometheus.Registry
	out      io.Writer
}

func startNode(cmd *cobra.Command, args []string, root *rootOptions, opts *startOptions) error {
	settings, logger, err := root.load(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		settings.Node.Address = args[0]
	}

	ctx := cmd.Context()
	registry := prometheus.NewRegistry()
	metrics := models.NewMetrics(registry)
	nodeOpts := []models.NodeOption{
		models.WithLogger(logger),
		models.WithMetrics(metrics),
	}

	network := models.NewMemNetwork()
	if opts.peers > 0 {
		base := *settings
		base.Node.Peers = ""
		network, err = models.BuildNetwork(ctx, opts.peers, base, models.WithMetrics(metrics))
		if err != nil {
			return err
		}
	}

	var seed *models.DHTNode
	if nodes := network.Nodes(); len(nodes) > 0 {
		seed = nodes[0]
	}
	node, err := network.Join(ctx, *settings, seed, nodeOpts...)
	if err != nil {
		return fmt.Errorf("failed to join: %w", err)
	}

	if opts.metricsAddr != "" {
		stop := serveMetrics(opts.metricsAddr, registry, logger)
		defer stop()
	}

	out := cmd.OutOrStdout()
	s := &session{node: node, network: network, registry: registry, out: out}

	fmt.Fprintf(out, "\n=== Keyspace node ===\n")
	fmt.Fprintf(out, "Address: %s\n", node.Self().Address)
	fmt.Fprintf(out, "ID:      %s\n", node.Self().ID)
	fmt.Fprintf(out, "Peers:   %d\n", node.Table().Len())
	fmt.Fprintf(out, "Type 'help' for available commands\n\n")

	reader := bufio.NewReader(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		command, cmdArgs, err := utils.ReadCommand(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("error reading input: %w", err)
		}
		if command == "" {
			continue
		}
		if command == "exit" {
			fmt.Fprintln(out, "Exiting...")
			return nil
		}
		if err := s.run(ctx, command, cmdArgs); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

func (s *session) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "help":
		printHelp(s.out)
	case "whoami":
		fmt.Fprintf(s.out, "%s\n", s.node.Self())
	case "list":
		s.node.Print(s.out)
	case "add":
		if len(args) < 1 {
			return errors.New("usage: add <address>")
		}
		if err := s.node.AddPeer(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Peer added: %s\n", args[0])
	case "remove":
		if len(args) < 1 {
			return errors.New("usage: remove <address>")
		}
		if !s.node.RemovePeer(args[0]) {
			return fmt.Errorf("unknown peer %s", args[0])
		}
		fmt.Fprintf(s.out, "Peer removed: %s\n", args[0])
	case "closest":
		if len(args) < 1 {
			return errors.New("usage: closest <key|address> [count]")
		}
		count := s.node.Table().BucketSize()
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid count %q", args[1])
			}
			count = n
		}
		target := targetKey(args[0])
		printNodes(s.out, s.node.Table().Closest(target, count), target)
	case "lookup":
		if len(args) < 1 {
			return errors.New("usage: lookup <key|address>")
		}
		target := targetKey(args[0])
		result, err := s.node.FindClosest(ctx, target)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Lookup %s: %d rounds, %d queried, %d failed, converged=%t\n",
			result.ID, result.Rounds, result.Queried, result.Failed, result.Converged)
		printNodes(s.out, result.Closest, target)
	case "refresh":
		if err := s.node.Refresh(ctx); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Refreshed, %d peers known\n", s.node.Table().Len())
	case "offline", "online":
		if len(args) < 1 {
			return fmt.Errorf("usage: %s <address>", command)
		}
		if _, ok := s.network.Node(args[0]); !ok {
			return fmt.Errorf("no simulated node at %s", args[0])
		}
		s.network.SetOnline(args[0], command == "online")
		fmt.Fprintf(s.out, "%s is now %s\n", args[0], command)
	case "save":
		if err := s.node.SavePeers(); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Saved %d peers\n", s.node.Table().Len())
	case "metrics":
		return writeMetrics(s.out, s.registry)
	default:
		return fmt.Errorf("unknown command '%s', type 'help' for available commands", command)
	}
	return nil
}

// targetKey accepts a hex key and falls back to deriving one from an address.
func targetKey(arg string) types.Key {
	if key, err := types.ParseKey(arg); err == nil {
		return key
	}
	return types.KeyFromAddress(arg)
}

func printNodes(w io.Writer, nodes []types.Node, target types.Key) {
	for i, n := range nodes {
		fmt.Fprintf(w, "%3d  %s  %s  %s\n", i+1, n.ID, types.Distance(n.ID, target), n.Address)
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, logger hclog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "address", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "\nAvailable commands:")
	fmt.Fprintln(w, "  help                        Show this help message")
	fmt.Fprintln(w, "  whoami                      Print the local node")
	fmt.Fprintln(w, "  list                        List the routing table buckets")
	fmt.Fprintln(w, "  add <address>               Add a peer manually")
	fmt.Fprintln(w, "  remove <address>            Remove a peer")
	fmt.Fprintln(w, "  closest <key|addr> [count]  Closest known peers, no network traffic")
	fmt.Fprintln(w, "  lookup <key|addr>           Iterative lookup over the network")
	fmt.Fprintln(w, "  refresh                     Refresh every non-empty bucket")
	fmt.Fprintln(w, "  offline|online <address>    Toggle a simulated peer")
	fmt.Fprintln(w, "  save                        Write known peers to the peers file")
	fmt.Fprintln(w, "  metrics                     Print collected metrics")
	fmt.Fprintln(w, "  exit                        Exit the application")
	fmt.Fprintln(w, "\nExample:")
	fmt.Fprintln(w, "  > lookup 10.0.0.7:4000")
	fmt.Fprintln(w, "")
}
