package node

import "context"

// Client is the call surface the coordinator uses to drive one node. The
// local *Node and the gRPC-backed *RemoteNode both implement it.
type Client interface {
	Name() string
	Store(ctx context.Context, filename string, data []byte) error
	Has(ctx context.Context, filename string) (bool, error)
	Read(ctx context.Context, filename string) ([]byte, error)
	SetActive(ctx context.Context, active bool) (bool, error)
	Active(ctx context.Context) (bool, error)
	Status(ctx context.Context) (Status, error)
	Close() error
}

// Status is a point-in-time view of a node.
type Status struct {
	Name   string
	Active bool
	Files  []string
}

// Holds reports whether filename is among the snapshot's files.
func (s Status) Holds(filename string) bool {
	for _, f := range s.Files {
		if f == filename {
			return true
		}
	}
	return false
}
