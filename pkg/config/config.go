package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"replistore/pkg/storage"
	"replistore/pkg/utils"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeCoordinator Mode = "coordinator"
	ModeNode        Mode = "node"
)

const (
	DefaultNodeCount         = 4
	DefaultReplicationFactor = 2
	DefaultNodeAddress       = ":7001"
	DefaultMaxMessageSize    = "4MB"
)

type Config struct {
	Mode    Mode          `json:"mode" yaml:"mode"`
	Cluster ClusterConfig `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	Node    NodeConfig    `json:"node,omitempty" yaml:"node,omitempty"`
}

// ClusterConfig describes the cluster a coordinator drives. When RemoteNodes
// is set the node count is the number of addresses and Backend is ignored.
type ClusterConfig struct {
	NodeCount         int      `json:"node_count" yaml:"node_count"`
	ReplicationFactor int      `json:"replication_factor" yaml:"replication_factor"`
	Backend           string   `json:"backend" yaml:"backend"`
	DataDir           string   `json:"data_dir" yaml:"data_dir"`
	RemoteNodes       []string `json:"remote_nodes,omitempty" yaml:"remote_nodes,omitempty"`
	RepairInterval    string   `json:"repair_interval,omitempty" yaml:"repair_interval,omitempty"`
	MetricsAddress    string   `json:"metrics_address,omitempty" yaml:"metrics_address,omitempty"`
	// MaxMessageSize bounds gRPC messages to remote nodes. It must be at least
	// the largest blob stored and match the nodes' own limit.
	MaxMessageSize string `json:"max_message_size,omitempty" yaml:"max_message_size,omitempty"`
}

// NodeConfig describes a standalone node process serving gRPC.
type NodeConfig struct {
	Name           string `json:"name" yaml:"name"`
	Address        string `json:"address" yaml:"address"`
	Backend        string `json:"backend" yaml:"backend"`
	DataDir        string `json:"data_dir" yaml:"data_dir"`
	MaxMessageSize string `json:"max_message_size" yaml:"max_message_size"`
}

// Default returns the 4-node, R=2 in-memory cluster configuration.
func Default() *Config {
	return &Config{
		Mode: ModeCoordinator,
		Cluster: ClusterConfig{
			NodeCount:         DefaultNodeCount,
			ReplicationFactor: DefaultReplicationFactor,
			Backend:           storage.KindMemory,
			MaxMessageSize:    DefaultMaxMessageSize,
		},
		Node: NodeConfig{
			Name:           "Node_1",
			Address:        DefaultNodeAddress,
			Backend:        storage.KindMemory,
			MaxMessageSize: DefaultMaxMessageSize,
		},
	}
}

// LoadConfig reads a JSON or YAML file (chosen by extension) over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type envSettings struct {
	Mode              string   `envconfig:"MODE" default:"coordinator"`
	NodeCount         int      `envconfig:"NODE_COUNT" default:"4"`
	ReplicationFactor int      `envconfig:"REPLICATION_FACTOR" default:"2"`
	Backend           string   `envconfig:"BACKEND" default:"memory"`
	DataDir           string   `envconfig:"DATA_DIR"`
	RemoteNodes       []string `envconfig:"REMOTE_NODES"`
	RepairInterval    string   `envconfig:"REPAIR_INTERVAL"`
	MetricsAddress    string   `envconfig:"METRICS_ADDRESS"`
	NodeName          string   `envconfig:"NODE_NAME" default:"Node_1"`
	NodeAddress       string   `envconfig:"NODE_ADDRESS" default:":7001"`
	MaxMessageSize    string   `envconfig:"MAX_MESSAGE_SIZE" default:"4MB"`
}

// LoadFromEnv builds a config from REPLISTORE_* environment variables.
func LoadFromEnv() (*Config, error) {
	var env envSettings
	if err := envconfig.Process("replistore", &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg := &Config{
		Mode: Mode(env.Mode),
		Cluster: ClusterConfig{
			NodeCount:         env.NodeCount,
			ReplicationFactor: env.ReplicationFactor,
			Backend:           env.Backend,
			DataDir:           env.DataDir,
			RemoteNodes:       env.RemoteNodes,
			RepairInterval:    env.RepairInterval,
			MetricsAddress:    env.MetricsAddress,
			MaxMessageSize:    env.MaxMessageSize,
		},
		Node: NodeConfig{
			Name:           env.NodeName,
			Address:        env.NodeAddress,
			Backend:        env.Backend,
			DataDir:        env.DataDir,
			MaxMessageSize: env.MaxMessageSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeCoordinator:
		if err := c.Cluster.Validate(); err != nil {
			return fmt.Errorf("invalid cluster config: %w", err)
		}
	case ModeNode:
		if err := c.Node.Validate(); err != nil {
			return fmt.Errorf("invalid node config: %w", err)
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	return nil
}

// Size is the number of nodes the cluster will hold.
func (c ClusterConfig) Size() int {
	if len(c.RemoteNodes) > 0 {
		return len(c.RemoteNodes)
	}
	return c.NodeCount
}

func (c ClusterConfig) Validate() error {
	size := c.Size()
	if size <= 0 {
		return fmt.Errorf("node count must be positive, got %d", size)
	}
	if c.ReplicationFactor < 1 || c.ReplicationFactor > size {
		return fmt.Errorf("replication factor must be between 1 and %d, got %d", size, c.ReplicationFactor)
	}
	if len(c.RemoteNodes) == 0 {
		if err := validateBackend(c.Backend, c.DataDir); err != nil {
			return err
		}
	}
	if _, err := c.RepairEvery(); err != nil {
		return err
	}
	if _, err := c.MessageSize(); err != nil {
		return err
	}
	return nil
}

// MessageSize returns the gRPC message limit used when dialing remote nodes;
// zero keeps the gRPC default.
func (c ClusterConfig) MessageSize() (int, error) {
	return parseMessageSize(c.MaxMessageSize)
}

// RepairEvery returns the periodic repair interval; zero disables it.
func (c ClusterConfig) RepairEvery() (time.Duration, error) {
	if c.RepairInterval == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(c.RepairInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid repair interval %q: %w", c.RepairInterval, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("repair interval must not be negative, got %s", d)
	}
	return d, nil
}

func (n NodeConfig) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("node name is required")
	}
	if n.Address == "" {
		return fmt.Errorf("node address is required")
	}
	if err := validateBackend(n.Backend, n.DataDir); err != nil {
		return err
	}
	if _, err := n.MessageSize(); err != nil {
		return err
	}
	return nil
}

// MessageSize returns the gRPC message limit in bytes; zero keeps the gRPC default.
func (n NodeConfig) MessageSize() (int, error) {
	return parseMessageSize(n.MaxMessageSize)
}

func parseMessageSize(s string) (int, error) {
	if s == "" {
		return 0, nil
	}

	size, err := utils.ParseDataSize(s)
	if err != nil {
		return 0, fmt.Errorf("invalid max message size: %w", err)
	}
	if size > math.MaxInt32 {
		return 0, fmt.Errorf("max message size %s exceeds the gRPC limit of 2GiB", s)
	}
	return int(size), nil
}

func validateBackend(kind, dataDir string) error {
	switch kind {
	case "", storage.KindMemory:
		return nil
	case storage.KindBadger, storage.KindLevelDB:
		if dataDir == "" {
			return fmt.Errorf("backend %q requires a data directory", kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown backend %q", kind)
	}
}
