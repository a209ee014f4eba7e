// Package placement decides which nodes a file's replicas should go to.
package placement

import "sync/atomic"

// Placer returns the preference order of 0-based node indices to try when
// placing or backfilling filename. The order must be a permutation of
// [0, nodeCount) and must not depend on node health: callers skip Down nodes
// themselves.
type Placer interface {
	Order(filename string, nodeCount int) []int
}

// PlacementMetrics tracks placement activity.
type PlacementMetrics struct {
	OrdersComputed int64
}

// Ordered places every file in canonical cluster order, so the first R
// Active nodes receive a new file and repair backfills from the lowest index up.
type Ordered struct {
	orders atomic.Int64
}

func NewOrdered() *Ordered {
	return &Ordered{}
}

func (o *Ordered) Order(filename string, nodeCount int) []int {
	o.orders.Add(1)

	if nodeCount <= 0 {
		return nil
	}

	order := make([]int, nodeCount)
	for i := range order {
		order[i] = i
	}
	return order
}

// Stats returns a copy of the placement counters.
func (o *Ordered) Stats() PlacementMetrics {
	return PlacementMetrics{
		OrdersComputed: o.orders.Load(),
	}
}
