package utils

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/polinanime/keyspace/internal/types"
)

// EnvPrefix prefixes environment overrides, e.g. KEYSPACE_LOOKUP_ALPHA.
const EnvPrefix = "KEYSPACE_"

// ErrInvalidSettings is wrapped by every validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

type NodeSection struct {
	Address string `koanf:"address"`
	Peers   string `koanf:"peers"`
}

type TableSection struct {
	K            int `koanf:"k"`
	Replacements int `koanf:"replacements"`
}

type LookupSection struct {
	Alpha   int           `koanf:"alpha"`
	K       int           `koanf:"k"`
	Rounds  int           `koanf:"rounds"`
	Timeout time.Duration `koanf:"timeout"`
	Rate    float64       `koanf:"rate"`
}

type LogSection struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type Settings struct {
	Node   NodeSection   `koanf:"node"`
	Table  TableSection  `koanf:"table"`
	Lookup LookupSection `koanf:"lookup"`
	Log    LogSection    `koanf:"log"`
}

// DefaultSettings returns the built-in configuration.
func DefaultSettings() Settings {
	return Settings{
		Node: NodeSection{
			Address: "127.0.0.1:4000",
		},
		Table: TableSection{
			K:            20,
			Replacements: 20,
		},
		Lookup: LookupSection{
			Alpha:   3,
			K:       20,
			Rounds:  16,
			Timeout: 3 * time.Second,
		},
		Log: LogSection{
			Level: "info",
		},
	}
}

func NewSettings(address, peersFile string) *Settings {
	s := DefaultSettings()
	s.Node.Address = address
	s.Node.Peers = peersFile
	return &s
}

// LoadSettings layers the defaults, the YAML file at path (if path is not
// empty) and KEYSPACE_* environment variables, then validates the result.
func LoadSettings(path string) (*Settings, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	settings := DefaultSettings()
	if err := k.Unmarshal("", &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Settings) Validate() error {
	switch {
	case s.Node.Address == "":
		return fmt.Errorf("%w: node.address is required", ErrInvalidSettings)
	case s.Table.K < 1:
		return fmt.Errorf("%w: table.k must be at least 1, got %d", ErrInvalidSettings, s.Table.K)
	case s.Table.Replacements < 0:
		return fmt.Errorf("%w: table.replacements must not be negative", ErrInvalidSettings)
	case s.Lookup.Alpha < 1:
		return fmt.Errorf("%w: lookup.alpha must be at least 1, got %d", ErrInvalidSettings, s.Lookup.Alpha)
	case s.Lookup.K < 1:
		return fmt.Errorf("%w: lookup.k must be at least 1, got %d", ErrInvalidSettings, s.Lookup.K)
	case s.Lookup.Rounds < 1:
		return fmt.Errorf("%w: lookup.rounds must be at least 1, got %d", ErrInvalidSettings, s.Lookup.Rounds)
	case s.Lookup.Timeout < 0:
		return fmt.Errorf("%w: lookup.timeout must not be negative", ErrInvalidSettings)
	case s.Lookup.Rate < 0:
		return fmt.Errorf("%w: lookup.rate must not be negative", ErrInvalidSettings)
	}
	return nil
}

// ReadPeers reads bootstrap peers from the peers file, one address per line.
// Blank lines, '#' comments and ignoreAddress are skipped. A missing file
// yields no peers.
func (s *Settings) ReadPeers(ignoreAddress string) (map[string]types.Node, error) {
	if s.Node.Peers == "" {
		return nil, nil
	}

	file, err := os.Open(s.Node.Peers)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open peers file: %w", err)
	}
	defer file.Close()

	uniquePeers := make(map[string]types.Node)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == ignoreAddress {
			continue
		}
		uniquePeers[line] = types.NewNode(line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading peers file: %w", err)
	}

	return uniquePeers, nil
}

// WritePeers writes one address per line to the peers file.
func (s *Settings) WritePeers(nodes []types.Node) error {
	if s.Node.Peers == "" {
		return fmt.Errorf("%w: node.peers is not set", ErrInvalidSettings)
	}

	var b strings.Builder
	for _, node := range nodes {
		b.WriteString(node.Address)
		b.WriteByte('\n')
	}
	return os.WriteFile(s.Node.Peers, []byte(b.String()), 0o644)
}

// CreateNode returns the local node described by the settings.
func (s *Settings) CreateNode() types.Node {
	return types.NewNode(s.Node.Address)
}
