package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ClusterMetrics tracks coordinator activity and cluster health.
type ClusterMetrics struct {
	// Operation counters
	Uploads             prometheus.Counter
	PartialReplications prometheus.Counter
	Downloads           prometheus.Counter
	DownloadFailures    prometheus.Counter
	NodeFailures        prometheus.Counter
	NodeRecoveries      prometheus.Counter
	RepairRuns          prometheus.Counter
	ReplicasRepaired    prometheus.Counter
	OperationLatency    *prometheus.HistogramVec

	// Health gauges
	TotalNodes           prometheus.Gauge
	ActiveNodes          prometheus.Gauge
	Files                prometheus.Gauge
	UnderReplicatedFiles prometheus.Gauge
	UnavailableFiles     prometheus.Gauge
	NodeFiles            *prometheus.GaugeVec
	ClusterHealth        prometheus.Gauge
}

// NewClusterMetrics creates and registers the metrics. A nil registry means
// the default Prometheus registerer.
func NewClusterMetrics(registry prometheus.Registerer) *ClusterMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &ClusterMetrics{
		Uploads: factory.NewCounter(prometheus.CounterOpts{
			Name: "replistore_uploads_total",
			Help: "Total number of upload operations",
		}),
		PartialReplications: factory.NewCounter(prometheus.CounterOpts{
			Name: "replistore_partial_replications_total",
			Help: "Uploads that stored fewer copies than the replication factor",
		}),
		Downloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "replistore_downloads_total",
			Help: "Total number of download operations",
		}),
		DownloadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "replistore_download_failures_total",
			Help: "Downloads that found no active node holding the file",
		}),
		NodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "replistore_node_failures_total",
			Help: "Nodes transitioned from active to down",
		}),
		NodeRecoveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "replistore_node_recoveries_total",
			Help: "Nodes transitioned from down to active",
		}),
		RepairRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "replistore_repair_runs_total",
			Help: "Total number of repair passes",
		}),
		ReplicasRepaired: factory.NewCounter(prometheus.CounterOpts{
			Name: "replistore_replicas_repaired_total",
			Help: "Copies created by repair passes",
		}),
		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "replistore_operation_latency_seconds",
			Help:    "Coordinator operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		TotalNodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "replistore_nodes",
			Help: "Number of nodes in the cluster",
		}),
		ActiveNodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "replistore_nodes_active",
			Help: "Number of active nodes",
		}),
		Files: factory.NewGauge(prometheus.GaugeOpts{
			Name: "replistore_files",
			Help: "Number of distinct files known to the cluster",
		}),
		UnderReplicatedFiles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "replistore_files_under_replicated",
			Help: "Files with at least one but fewer than R live replicas",
		}),
		UnavailableFiles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "replistore_files_unavailable",
			Help: "Files with no live replica",
		}),
		NodeFiles: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replistore_node_files",
			Help: "Number of files held per node",
		}, []string{"node"}),
		ClusterHealth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "replistore_cluster_health_score",
			Help: "Overall cluster health score (0-100)",
		}),
	}
}

// ObserveLatency records how long an operation took.
func (m *ClusterMetrics) ObserveLatency(operation string, started time.Time) {
	m.OperationLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// ObserveHealth copies a snapshot into the health gauges.
func (m *ClusterMetrics) ObserveHealth(h HealthSnapshot) {
	m.TotalNodes.Set(float64(h.TotalNodes))
	m.ActiveNodes.Set(float64(h.ActiveNodes))
	m.Files.Set(float64(h.Files))
	m.UnderReplicatedFiles.Set(float64(h.UnderReplicated))
	m.UnavailableFiles.Set(float64(h.Unavailable))
	m.ClusterHealth.Set(h.Score())
	for name, files := range h.NodeFiles {
		m.NodeFiles.WithLabelValues(name).Set(float64(files))
	}
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthSnapshot summarises replication health at one instant.
type HealthSnapshot struct {
	TotalNodes      int            `json:"total_nodes"`
	ActiveNodes     int            `json:"active_nodes"`
	Files           int            `json:"files"`
	UnderReplicated int            `json:"under_replicated"`
	Unavailable     int            `json:"unavailable"`
	NodeFiles       map[string]int `json:"node_files,omitempty"`
}

// Score is the share of active nodes, halved while any file is unavailable.
func (h HealthSnapshot) Score() float64 {
	if h.TotalNodes == 0 {
		return 0
	}

	score := float64(h.ActiveNodes) / float64(h.TotalNodes) * 100
	if h.Unavailable > 0 {
		score /= 2
	}
	return score
}

func (h HealthSnapshot) Status() string {
	switch {
	case h.ActiveNodes == 0 || h.Unavailable > 0:
		return StatusUnhealthy
	case h.UnderReplicated > 0 || h.ActiveNodes < h.TotalNodes:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// HealthSource is implemented by the coordinator.
type HealthSource interface {
	Health(ctx context.Context) (HealthSnapshot, error)
}

// HealthEndpoint provides HTTP health check endpoints
type HealthEndpoint struct {
	source   HealthSource
	metrics  *ClusterMetrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

func NewHealthEndpoint(source HealthSource, m *ClusterMetrics, gatherer prometheus.Gatherer, logger *zap.Logger) *HealthEndpoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &HealthEndpoint{
		source:   source,
		metrics:  m,
		gatherer: gatherer,
		logger:   logger,
	}
}

// RegisterHandlers registers HTTP handlers
func (he *HealthEndpoint) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", he.handleHealth)
	mux.HandleFunc("/health/live", he.handleLiveness)
	mux.HandleFunc("/health/ready", he.handleReadiness)
	mux.Handle("/metrics", promhttp.HandlerFor(he.gatherer, promhttp.HandlerOpts{}))
}

type healthResponse struct {
	Status      string         `json:"status"`
	HealthScore float64        `json:"health_score"`
	Snapshot    HealthSnapshot `json:"snapshot"`
	Timestamp   string         `json:"timestamp"`
}

func (he *HealthEndpoint) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot, err := he.source.Health(r.Context())
	if err != nil {
		he.logger.Error("Health check failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if he.metrics != nil {
		he.metrics.ObserveHealth(snapshot)
	}

	statusCode := http.StatusOK
	if snapshot.Status() == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	body, err := json.Marshal(healthResponse{
		Status:      snapshot.Status(),
		HealthScore: snapshot.Score(),
		Snapshot:    snapshot,
		Timestamp:   time.Now().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}

// handleLiveness checks if the service is alive
func (he *HealthEndpoint) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleReadiness reports ready while at least one node accepts writes.
func (he *HealthEndpoint) handleReadiness(w http.ResponseWriter, r *http.Request) {
	snapshot, err := he.source.Health(r.Context())
	if err != nil || snapshot.ActiveNodes == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT READY"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

// StartMetricsServer serves the health and metrics endpoints in the background.
func StartMetricsServer(address string, endpoint *HealthEndpoint, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	endpoint.RegisterHandlers(mux)

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting metrics server", zap.String("address", address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return server
}
