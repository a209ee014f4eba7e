package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"replistore/pkg/storage"

	"go.uber.org/zap"
)

var (
	// ErrNodeUnavailable is returned when an operation targets a Down node.
	ErrNodeUnavailable = errors.New("node unavailable")
	// ErrFileNotFound is returned by an Active node that does not hold the file.
	ErrFileNotFound = errors.New("file not found")
)

// Name returns the display name of the node at a 1-based index.
func Name(index int) string {
	return fmt.Sprintf("Node_%d", index)
}

// Node is a single storage node: a health flag in front of a backend that
// exclusively owns the node's blobs. Stored data survives Down periods.
type Node struct {
	name    string
	logger  *zap.Logger
	backend storage.Backend

	mu     sync.RWMutex
	active bool
}

var _ Client = (*Node)(nil)

// New creates an Active node backed by an in-memory store.
func New(name string, logger *zap.Logger) *Node {
	return NewWithBackend(name, storage.NewMemoryBackend(), logger)
}

func NewWithBackend(name string, backend storage.Backend, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Node{
		name:    name,
		logger:  logger.With(zap.String("node", name)),
		backend: backend,
		active:  true,
	}
}

func (n *Node) Name() string {
	return n.name
}

// Store inserts or overwrites filename. It fails when the node is Down.
func (n *Node) Store(ctx context.Context, filename string, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.active {
		return fmt.Errorf("%s: %w", n.name, ErrNodeUnavailable)
	}

	if err := n.backend.Put(filename, data); err != nil {
		return fmt.Errorf("%s: failed to store %q: %w", n.name, filename, err)
	}

	n.logger.Debug("Stored file", zap.String("filename", filename), zap.Int("size", len(data)))
	return nil
}

// Has reports whether the node holds filename, regardless of health.
func (n *Node) Has(ctx context.Context, filename string) (bool, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.backend.Has(filename)
}

// Read returns the blob for filename. A Down node reports ErrNodeUnavailable
// even when it holds the file; an Active node without it reports ErrFileNotFound.
func (n *Node) Read(ctx context.Context, filename string) ([]byte, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if !n.active {
		return nil, fmt.Errorf("%s: %w", n.name, ErrNodeUnavailable)
	}

	data, err := n.backend.Get(filename)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %q: %w", n.name, filename, ErrFileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read %q: %w", n.name, filename, err)
	}
	return data, nil
}

// SetActive sets the health flag and reports whether it changed.
func (n *Node) SetActive(ctx context.Context, active bool) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.active == active {
		return false, nil
	}

	n.active = active
	n.logger.Info("Node health changed", zap.Bool("active", active))
	return true, nil
}

func (n *Node) Active(ctx context.Context) (bool, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.active, nil
}

// Status returns a consistent snapshot of health and held filenames.
func (n *Node) Status(ctx context.Context) (Status, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	files, err := n.backend.Keys()
	if err != nil {
		return Status{}, fmt.Errorf("%s: failed to list files: %w", n.name, err)
	}

	return Status{
		Name:   n.name,
		Active: n.active,
		Files:  files,
	}, nil
}

func (n *Node) Close() error {
	return n.backend.Close()
}
