package cmd_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polinanime/keyspace/internal/cmd"
	"github.com/polinanime/keyspace/internal/types"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	root := cmd.NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestKeyCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want types.Key
	}{
		{"default sha3", []string{"key", "10.0.0.1:4000"}, types.KeyFromAddress("10.0.0.1:4000")},
		{"blake2b", []string{"key", "--hash", "blake2b", "hello"}, types.KeyFromContent([]byte("hello"))},
		{"murmur3", []string{"key", "--hash", "murmur3", "hello"}, types.KeyFromMurmur([]byte("hello"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "", tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want.String()+"\n", out)
		})
	}
}

func TestKeyCommandErrors(t *testing.T) {
	_, err := execute(t, "", "key", "--hash", "md5", "hello")
	assert.ErrorContains(t, err, "unknown hash")

	_, err = execute(t, "", "key")
	assert.Error(t, err)
}

func TestKeyCommandRandom(t *testing.T) {
	out, err := execute(t, "", "key", "--random")
	require.NoError(t, err)

	_, err = types.ParseKey(strings.TrimSpace(out))
	assert.NoError(t, err)
}

func TestCmpCommand(t *testing.T) {
	one := "01000000000000000000000000000000"
	low := "00010000000000000000000000000000"

	tests := []struct {
		a, b string
		want string
	}{
		{one, low, "greater"},
		{low, one, "less"},
		{one, one, "equal"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			out, err := execute(t, "", "cmp", tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want+"\n", out)
		})
	}

	_, err := execute(t, "", "cmp", one, "abcd")
	assert.ErrorIs(t, err, types.ErrLengthMismatch)
}

func TestDistCommand(t *testing.T) {
	out, err := execute(t, "", "dist",
		"ffffffffffffffffffffffffffffffff",
		"01000000000000000000000000000000")
	require.NoError(t, err)

	assert.Contains(t, out, "distance: feffffffffffffffffffffffffffffff")
	assert.Contains(t, out, "bucket:   0")
	assert.Contains(t, out, "bits:     128")

	out, err = execute(t, "", "dist",
		"0000000000000000000000000000000a",
		"0000000000000000000000000000000a")
	require.NoError(t, err)
	assert.Contains(t, out, "bucket:   none")
	assert.Contains(t, out, "bits:     0")
}

func TestSimulateCommand(t *testing.T) {
	out, err := execute(t, "", "simulate", "--nodes", "16", "--lookups", "4", "--k", "8", "--metrics")
	require.NoError(t, err)

	assert.Contains(t, out, "network: 16 nodes (k=8, alpha=3)")
	assert.Contains(t, out, "lookups: 4")
	assert.Contains(t, out, "keyspace_table_peers")
	assert.Contains(t, out, `keyspace_lookup_total{result="converged"}`)
}

func TestSimulateRejectsBadSize(t *testing.T) {
	_, err := execute(t, "", "simulate", "--nodes", "0")
	assert.Error(t, err)
}

func TestStartREPL(t *testing.T) {
	script := strings.Join([]string{
		"whoami",
		"",
		"lookup 10.0.0.3:4000",
		"closest 10.0.0.3:4000 2",
		"offline 10.0.0.3:4000",
		"online 10.0.0.3:4000",
		"bogus",
		"help",
		"exit",
	}, "\n") + "\n"

	out, err := execute(t, script, "start", "127.0.0.1:4000", "--peers", "8")
	require.NoError(t, err)

	self := types.NewNode("127.0.0.1:4000")
	target := types.KeyFromAddress("10.0.0.3:4000")

	assert.Contains(t, out, "ID:      "+self.ID.String())
	assert.Contains(t, out, self.String())
	assert.Contains(t, out, "converged=true")
	assert.Contains(t, out, "  1  "+target.String(), "the looked up node is found first")
	assert.Contains(t, out, "10.0.0.3:4000 is now offline")
	assert.Contains(t, out, "unknown command 'bogus'")
	assert.Contains(t, out, "Available commands:")
	assert.Contains(t, out, "Exiting...")
}

func TestStartREPLStopsAtEOF(t *testing.T) {
	out, err := execute(t, "list", "start", "127.0.0.1:4000", "--peers", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Peers:   0")
}
