package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"replistore/pkg/config"
	"replistore/pkg/metrics"
	"replistore/pkg/node"
	"replistore/pkg/placement"
	"replistore/pkg/storage"

	"go.uber.org/zap"
)

// Cluster is the fixed, ordered set of nodes plus the replication factor.
// It owns every node for its whole lifetime.
type Cluster struct {
	nodes             []node.Client
	replicationFactor int
}

// NewCluster creates nodeCount in-memory nodes named Node_1..Node_n.
func NewCluster(nodeCount, replicationFactor int) (*Cluster, error) {
	if err := validateCluster(nodeCount, replicationFactor); err != nil {
		return nil, err
	}

	clients := make([]node.Client, nodeCount)
	for i := range clients {
		clients[i] = node.New(node.Name(i+1), nil)
	}
	return &Cluster{nodes: clients, replicationFactor: replicationFactor}, nil
}

// NewClusterFromClients builds a cluster over existing node clients, in order.
func NewClusterFromClients(clients []node.Client, replicationFactor int) (*Cluster, error) {
	if err := validateCluster(len(clients), replicationFactor); err != nil {
		return nil, err
	}

	nodes := make([]node.Client, len(clients))
	copy(nodes, clients)
	return &Cluster{nodes: nodes, replicationFactor: replicationFactor}, nil
}

// NewClusterFromConfig dials the configured remote nodes or opens one local
// node per index on the configured backend.
func NewClusterFromConfig(ctx context.Context, cfg config.ClusterConfig, logger *zap.Logger) (*Cluster, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := validateCluster(cfg.Size(), cfg.ReplicationFactor); err != nil {
		return nil, err
	}

	clients := make([]node.Client, 0, cfg.Size())
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}

	if len(cfg.RemoteNodes) > 0 {
		messageSize, err := cfg.MessageSize()
		if err != nil {
			return nil, err
		}
		for _, address := range cfg.RemoteNodes {
			remote, err := node.Dial(ctx, address, logger, node.WithMaxMessageSize(messageSize))
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("failed to connect to node at %s: %w", address, err)
			}
			clients = append(clients, remote)
		}
	} else {
		for i := 1; i <= cfg.NodeCount; i++ {
			name := node.Name(i)
			backend, err := storage.Open(cfg.Backend, cfg.DataDir, name, logger)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("failed to open storage for %s: %w", name, err)
			}
			clients = append(clients, node.NewWithBackend(name, backend, logger))
		}
	}

	logger.Info("Cluster created",
		zap.Int("nodes", len(clients)),
		zap.Int("replication_factor", cfg.ReplicationFactor),
		zap.Bool("remote", len(cfg.RemoteNodes) > 0))

	return &Cluster{nodes: clients, replicationFactor: cfg.ReplicationFactor}, nil
}

func validateCluster(nodeCount, replicationFactor int) error {
	if nodeCount <= 0 {
		return fmt.Errorf("%w: node count must be positive, got %d", ErrInvalidCluster, nodeCount)
	}
	if replicationFactor < 1 || replicationFactor > nodeCount {
		return fmt.Errorf("%w: replication factor must be between 1 and %d, got %d",
			ErrInvalidCluster, nodeCount, replicationFactor)
	}
	return nil
}

func (c *Cluster) Size() int {
	return len(c.nodes)
}

func (c *Cluster) ReplicationFactor() int {
	return c.replicationFactor
}

// node resolves a 1-based index.
func (c *Cluster) node(index int) (node.Client, error) {
	if index < 1 || index > len(c.nodes) {
		return nil, fmt.Errorf("node %d (valid 1-%d): %w", index, len(c.nodes), ErrInvalidNode)
	}
	return c.nodes[index-1], nil
}

// statuses snapshots every node in canonical order.
func (c *Cluster) statuses(ctx context.Context) ([]node.Status, error) {
	out := make([]node.Status, len(c.nodes))
	for i, n := range c.nodes {
		st, err := n.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get status of %s: %w", n.Name(), err)
		}
		out[i] = st
	}
	return out, nil
}

func (c *Cluster) Close() error {
	var errs []error
	for _, n := range c.nodes {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Coordinator is the only component that drives nodes. Mutating operations
// are serialised under mu; reads share it.
type Coordinator struct {
	cluster *Cluster
	placer  placement.Placer
	metrics *metrics.ClusterMetrics
	logger  *zap.Logger

	mu sync.RWMutex
}

var _ metrics.HealthSource = (*Coordinator)(nil)

func New(cluster *Cluster, logger *zap.Logger) *Coordinator {
	return NewWithMetrics(cluster, placement.NewOrdered(), nil, logger)
}

// NewWithMetrics allows a custom placer and metrics sink; m may be nil.
func NewWithMetrics(cluster *Cluster, placer placement.Placer, m *metrics.ClusterMetrics, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if placer == nil {
		placer = placement.NewOrdered()
	}

	return &Coordinator{
		cluster: cluster,
		placer:  placer,
		metrics: m,
		logger:  logger,
	}
}

func (c *Coordinator) Cluster() *Cluster {
	return c.cluster
}
