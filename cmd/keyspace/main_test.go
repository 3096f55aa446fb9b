package main_test

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polinanime/keyspace/internal/cmd"
)

var configDir string

func TestMain(m *testing.M) {
	log.Println("Setting up tests...")

	dir, err := setup()
	if err != nil {
		log.Printf("Test setup failed: %v", err)
		os.Exit(1)
	}
	configDir = dir

	code := m.Run()

	log.Println("Cleaning up after tests...")
	if err := os.RemoveAll(dir); err != nil {
		log.Printf("Test cleanup failed: %v", err)
	}

	os.Exit(code)
}

func setup() (string, error) {
	dir, err := os.MkdirTemp("", "keyspace-config")
	if err != nil {
		return "", err
	}
	config := []byte("lookup:\n  alpha: 2\n  k: 4\ntable:\n  k: 4\nlog:\n  level: error\n")
	if err := os.WriteFile(filepath.Join(dir, "keyspace.yaml"), config, 0o644); err != nil {
		return "", err
	}
	return dir, nil
}

func TestConfigFileFlag(t *testing.T) {
	root := cmd.NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{
		"simulate",
		"--config", filepath.Join(configDir, "keyspace.yaml"),
		"--nodes", "12",
		"--lookups", "2",
	})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "network: 12 nodes (k=4, alpha=2)")
}

func TestMissingConfigFile(t *testing.T) {
	root := cmd.NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"simulate", "--config", filepath.Join(configDir, "missing.yaml")})

	assert.Error(t, root.Execute())
}
