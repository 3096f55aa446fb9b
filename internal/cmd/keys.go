package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polinanime/keyspace/internal/types"
)

func newKeyCmd() *cobra.Command {
	var (
		hash   string
		random bool
	)

	keyCmd := &cobra.Command{
		Use:   "key [input]",
		Short: "Derive a key from input",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if random {
				key, err := types.RandomKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			}
			if len(args) == 0 {
				return errors.New("an input is required unless --random is set")
			}

			derive, ok := types.HashFuncs[hash]
			if !ok {
				return fmt.Errorf("unknown hash %q, want one of %s", hash, strings.Join(types.HashFuncNames(), ", "))
			}
			fmt.Fprintln(cmd.OutOrStdout(), derive([]byte(args[0])))
			return nil
		},
	}

	keyCmd.Flags().StringVar(&hash, "hash", "sha3", "derivation: "+strings.Join(types.HashFuncNames(), ", "))
	keyCmd.Flags().BoolVar(&random, "random", false, "print a random key")
	return keyCmd
}

func newCmpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cmp <a> <b>",
		Short: "Compare two hex keys",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, b, err := parseKeyPair(args)
			if err != nil {
				return err
			}

			switch types.Compare(a, b) {
			case -1:
				fmt.Fprintln(cmd.OutOrStdout(), "less")
			case 0:
				fmt.Fprintln(cmd.OutOrStdout(), "equal")
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "greater")
			}
			return nil
		},
	}
}

func newDistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dist <a> <b>",
		Short: "Print the XOR distance of two hex keys",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, b, err := parseKeyPair(args)
			if err != nil {
				return err
			}

			d := types.Distance(a, b)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "distance: %s\n", d)
			if cpl := types.CommonPrefixLen(a, b); cpl < types.KeySizeBits {
				fmt.Fprintf(out, "bucket:   %d\n", cpl)
			} else {
				fmt.Fprintln(out, "bucket:   none")
			}
			fmt.Fprintf(out, "bits:     %d\n", d.BitLen())
			return nil
		},
	}
}

func parseKeyPair(args []string) (types.Key, types.Key, error) {
	a, err := types.ParseKey(args[0])
	if err != nil {
		return types.Key{}, types.Key{}, fmt.Errorf("first key: %w", err)
	}
	b, err := types.ParseKey(args[1])
	if err != nil {
		return types.Key{}, types.Key{}, fmt.Errorf("second key: %w", err)
	}
	return a, b, nil
}
