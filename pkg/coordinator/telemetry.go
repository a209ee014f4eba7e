package coordinator

import (
	"context"

	"replistore/pkg/metrics"
)

// ListFiles returns every node's health and sorted filenames in cluster order.
func (c *Coordinator) ListFiles(ctx context.Context) ([]NodeListing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses, err := c.cluster.statuses(ctx)
	if err != nil {
		return nil, err
	}

	listings := make([]NodeListing, len(statuses))
	for i, st := range statuses {
		listings[i] = NodeListing{
			Index:  i + 1,
			Name:   st.Name,
			Active: st.Active,
			Files:  st.Files,
		}
	}
	return listings, nil
}

// ReplicaCount is the number of Active nodes holding filename.
func (c *Coordinator) ReplicaCount(ctx context.Context, filename string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses, err := c.cluster.statuses(ctx)
	if err != nil {
		return 0, err
	}
	return len(liveHolders(statuses, filename)), nil
}

// Health summarises node and replication state.
func (c *Coordinator) Health(ctx context.Context) (metrics.HealthSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses, err := c.cluster.statuses(ctx)
	if err != nil {
		return metrics.HealthSnapshot{}, err
	}

	snapshot := metrics.HealthSnapshot{
		TotalNodes: len(statuses),
		NodeFiles:  make(map[string]int, len(statuses)),
	}
	for _, st := range statuses {
		if st.Active {
			snapshot.ActiveNodes++
		}
		snapshot.NodeFiles[st.Name] = len(st.Files)
	}

	files := knownFiles(statuses)
	snapshot.Files = len(files)
	for _, f := range files {
		switch live := len(liveHolders(statuses, f)); {
		case live == 0:
			snapshot.Unavailable++
		case live < c.cluster.replicationFactor:
			snapshot.UnderReplicated++
		}
	}

	if c.metrics != nil {
		c.metrics.ObserveHealth(snapshot)
	}
	return snapshot, nil
}
