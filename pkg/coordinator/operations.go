package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"replistore/pkg/node"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Upload stores data on Active nodes in placement order until the
// replication factor is met or the order is exhausted. Copies that were
// stored are kept even when the result is partial. When Active nodes were
// tried and none accepted the copy, the last node error is returned with
// the result.
func (c *Coordinator) Upload(ctx context.Context, filename string, data []byte) (UploadResult, error) {
	if filename == "" {
		return UploadResult{}, ErrEmptyFilename
	}

	started := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	result := UploadResult{
		Filename: filename,
		Required: c.cluster.replicationFactor,
	}
	var lastErr error

	for _, idx := range c.placer.Order(filename, c.cluster.Size()) {
		if result.Stored == result.Required {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("upload of %q interrupted: %w", filename, err)
		}

		target := c.cluster.nodes[idx]
		active, err := target.Active(ctx)
		if err != nil {
			c.logger.Warn("Failed to query node health",
				zap.String("node", target.Name()),
				zap.Error(err))
			result.Failed = append(result.Failed, target.Name())
			lastErr = err
			continue
		}
		if !active {
			continue
		}

		if err := target.Store(ctx, filename, data); err != nil {
			c.logger.Warn("Failed to store replica",
				zap.String("node", target.Name()),
				zap.String("filename", filename),
				zap.Error(err))
			// A node that went Down between the two calls is not a failure.
			if !errors.Is(err, node.ErrNodeUnavailable) {
				result.Failed = append(result.Failed, target.Name())
				lastErr = err
			}
			continue
		}

		result.Stored++
		result.Nodes = append(result.Nodes, target.Name())
	}

	if c.metrics != nil {
		c.metrics.Uploads.Inc()
		if result.Partial() {
			c.metrics.PartialReplications.Inc()
		}
		c.metrics.ObserveLatency("upload", started)
	}

	if result.Partial() {
		c.logger.Warn("File partially replicated",
			zap.String("filename", filename),
			zap.Int("stored", result.Stored),
			zap.Int("required", result.Required))
	} else {
		c.logger.Info("File uploaded",
			zap.String("filename", filename),
			zap.Int("size", len(data)),
			zap.Strings("nodes", result.Nodes))
	}

	if result.Stored == 0 && lastErr != nil {
		return result, fmt.Errorf("upload of %q failed on every active node: %w", filename, lastErr)
	}
	return result, nil
}

// Download returns the file from the first Active node, in canonical order,
// that holds it. ErrFileUnavailable is returned only when every node answered
// that it is Down or lacks the file; if any node failed for another reason
// its error is returned instead.
func (c *Coordinator) Download(ctx context.Context, filename string) (DownloadResult, error) {
	started := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.metrics != nil {
		c.metrics.Downloads.Inc()
		defer c.metrics.ObserveLatency("download", started)
	}

	var lastErr error
	for i, n := range c.cluster.nodes {
		data, err := n.Read(ctx, filename)
		if err == nil {
			c.logger.Debug("File downloaded",
				zap.String("filename", filename),
				zap.String("node", n.Name()))
			return DownloadResult{Data: data, Node: n.Name(), Index: i + 1}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return DownloadResult{}, fmt.Errorf("download of %q interrupted: %w", filename, ctxErr)
		}
		if !errors.Is(err, node.ErrNodeUnavailable) && !errors.Is(err, node.ErrFileNotFound) {
			c.logger.Warn("Failed to read from node",
				zap.String("node", n.Name()),
				zap.String("filename", filename),
				zap.Error(err))
			lastErr = err
		}
	}

	if c.metrics != nil {
		c.metrics.DownloadFailures.Inc()
	}
	if lastErr != nil {
		return DownloadResult{}, fmt.Errorf("download of %q failed: %w", filename, lastErr)
	}
	return DownloadResult{}, fmt.Errorf("%q: %w", filename, ErrFileUnavailable)
}

// FailNode marks the node at a 1-based index Down.
func (c *Coordinator) FailNode(ctx context.Context, index int) (NodeTransition, error) {
	return c.setActive(ctx, index, false)
}

// RecoverNode marks the node at a 1-based index Active. It does not repair.
func (c *Coordinator) RecoverNode(ctx context.Context, index int) (NodeTransition, error) {
	return c.setActive(ctx, index, true)
}

func (c *Coordinator) setActive(ctx context.Context, index int, active bool) (NodeTransition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, err := c.cluster.node(index)
	if err != nil {
		c.logger.Warn("Invalid node index", zap.Int("index", index))
		return NodeTransition{Index: index}, err
	}

	changed, err := target.SetActive(ctx, active)
	if err != nil {
		return NodeTransition{}, fmt.Errorf("failed to set %s active=%t: %w", target.Name(), active, err)
	}

	transition := NodeTransition{
		Index:   index,
		Name:    target.Name(),
		Active:  active,
		Changed: changed,
	}

	if !changed {
		c.logger.Warn("Node already in requested state",
			zap.String("node", target.Name()),
			zap.Bool("active", active))
		return transition, fmt.Errorf("%s: %w", target.Name(), ErrNoStateChange)
	}

	if c.metrics != nil {
		if active {
			c.metrics.NodeRecoveries.Inc()
		} else {
			c.metrics.NodeFailures.Inc()
		}
	}

	if active {
		c.logger.Info("Node recovered", zap.String("node", target.Name()))
	} else {
		c.logger.Warn("Node failed", zap.String("node", target.Name()))
	}
	return transition, nil
}

// RepairFaults brings every under-replicated file back to the replication
// factor where Active nodes allow. Files are visited in name order; the
// source is the first Active holder and targets follow placement order.
// Files held only by Down nodes are listed as unrecoverable.
func (c *Coordinator) RepairFaults(ctx context.Context) (RepairReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := RepairReport{
		ID:        uuid.New(),
		StartedAt: time.Now(),
	}

	statuses, err := c.cluster.statuses(ctx)
	if err != nil {
		return report, fmt.Errorf("repair aborted: %w", err)
	}

	logger := c.logger.With(zap.String("repair_id", report.ID.String()))
	required := c.cluster.replicationFactor

	for _, filename := range knownFiles(statuses) {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("repair interrupted: %w", err)
		}

		holders := liveHolders(statuses, filename)
		if len(holders) == 0 {
			logger.Error("File unrecoverable, no active node holds it", zap.String("filename", filename))
			report.Unrecoverable = append(report.Unrecoverable, filename)
			continue
		}
		if len(holders) >= required {
			continue
		}

		repair, err := c.repairFile(ctx, logger, statuses, filename, holders)
		if err != nil {
			report.Failed = append(report.Failed, RepairFailure{Filename: filename, Err: err})
			continue
		}
		if len(repair.Targets) > 0 {
			report.Repairs = append(report.Repairs, repair)
		}
		if repair.After < required {
			report.UnderReplicated = append(report.UnderReplicated, filename)
		}
	}

	report.Duration = time.Since(report.StartedAt)
	if c.metrics != nil {
		c.metrics.RepairRuns.Inc()
		c.metrics.ReplicasRepaired.Add(float64(report.Copies()))
		c.metrics.ObserveLatency("repair", report.StartedAt)
	}

	logger.Info("Repair completed",
		zap.Int("files_repaired", len(report.Repairs)),
		zap.Int("copies", report.Copies()),
		zap.Int("under_replicated", len(report.UnderReplicated)),
		zap.Int("unrecoverable", len(report.Unrecoverable)),
		zap.Int("failed", len(report.Failed)))

	return report, nil
}

// repairFile copies filename from its first readable live holder. It fails
// only when no holder could be read.
func (c *Coordinator) repairFile(ctx context.Context, logger *zap.Logger, statuses []node.Status, filename string, holders []int) (FileRepair, error) {
	repair := FileRepair{
		Filename: filename,
		Before:   len(holders),
		After:    len(holders),
	}

	var (
		data    []byte
		readErr error
	)
	for _, idx := range holders {
		blob, err := c.cluster.nodes[idx].Read(ctx, filename)
		if err != nil {
			logger.Warn("Failed to read repair source",
				zap.String("node", statuses[idx].Name),
				zap.String("filename", filename),
				zap.Error(err))
			readErr = err
			continue
		}
		data = blob
		repair.Source = statuses[idx].Name
		break
	}
	if repair.Source == "" {
		logger.Error("No readable repair source", zap.String("filename", filename), zap.Error(readErr))
		return repair, readErr
	}

	for _, idx := range c.placer.Order(filename, c.cluster.Size()) {
		if repair.After >= c.cluster.replicationFactor {
			break
		}

		st := statuses[idx]
		if !st.Active || st.Holds(filename) {
			continue
		}

		if err := c.cluster.nodes[idx].Store(ctx, filename, data); err != nil {
			logger.Warn("Failed to store repair copy",
				zap.String("node", st.Name),
				zap.String("filename", filename),
				zap.Error(err))
			continue
		}

		repair.Targets = append(repair.Targets, st.Name)
		repair.After++
	}

	logger.Info("File re-replicated",
		zap.String("filename", filename),
		zap.String("source", repair.Source),
		zap.Strings("targets", repair.Targets),
		zap.Int("replicas", repair.After))

	return repair, nil
}

// knownFiles is the sorted union of filenames on every node, Active or Down.
func knownFiles(statuses []node.Status) []string {
	seen := make(map[string]struct{})
	for _, st := range statuses {
		for _, f := range st.Files {
			seen[f] = struct{}{}
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// liveHolders returns the 0-based indices of Active nodes holding filename.
func liveHolders(statuses []node.Status, filename string) []int {
	var holders []int
	for i, st := range statuses {
		if st.Active && st.Holds(filename) {
			holders = append(holders, i)
		}
	}
	return holders
}
