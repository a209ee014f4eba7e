package coordinator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"replistore/pkg/config"
	"replistore/pkg/metrics"
	"replistore/pkg/node"
	"replistore/pkg/placement"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// setupCoordinator creates an in-memory cluster and a coordinator over it.
func setupCoordinator(t *testing.T, nodeCount, replicationFactor int) *Coordinator {
	cluster, err := NewCluster(nodeCount, replicationFactor)
	require.NoError(t, err)
	t.Cleanup(func() { cluster.Close() })

	return New(cluster, testLogger(t))
}

// reversed places files on the highest-numbered nodes first.
type reversed struct{}

func (reversed) Order(filename string, nodeCount int) []int {
	order := make([]int, nodeCount)
	for i := range order {
		order[i] = nodeCount - 1 - i
	}
	return order
}

func TestNewCluster(t *testing.T) {
	tests := []struct {
		name              string
		nodeCount         int
		replicationFactor int
		wantErr           bool
	}{
		{"Default", 4, 2, false},
		{"SingleNode", 1, 1, false},
		{"FullReplication", 3, 3, false},
		{"ZeroNodes", 0, 1, true},
		{"NegativeNodes", -2, 1, true},
		{"ZeroReplication", 4, 0, true},
		{"ReplicationAboveCount", 4, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cluster, err := NewCluster(tt.nodeCount, tt.replicationFactor)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCluster)
				assert.Nil(t, cluster)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.nodeCount, cluster.Size())
			assert.Equal(t, tt.replicationFactor, cluster.ReplicationFactor())
		})
	}
}

func TestNewClusterFromClients(t *testing.T) {
	clients := []node.Client{node.New("Node_1", nil), node.New("Node_2", nil)}

	cluster, err := NewClusterFromClients(clients, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, cluster.Size())

	_, err = NewClusterFromClients(nil, 1)
	assert.ErrorIs(t, err, ErrInvalidCluster)
}

func TestUploadPlacesFirstActiveNodes(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)
	ctx := context.Background()

	result, err := coord.Upload(ctx, "a.txt", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stored)
	assert.Equal(t, 2, result.Required)
	assert.False(t, result.Partial())
	assert.Equal(t, []string{"Node_1", "Node_2"}, result.Nodes)

	count, err := coord.ReplicaCount(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUploadSkipsDownNodes(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)
	ctx := context.Background()

	_, err := coord.FailNode(ctx, 1)
	require.NoError(t, err)

	result, err := coord.Upload(ctx, "a.txt", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Node_2", "Node_3"}, result.Nodes)
}

func TestUploadPartialReplication(t *testing.T) {
	coord := setupCoordinator(t, 3, 3)
	ctx := context.Background()

	_, err := coord.FailNode(ctx, 2)
	require.NoError(t, err)

	result, err := coord.Upload(ctx, "a.txt", []byte("hi"))
	require.NoError(t, err, "partial replication is not an error")
	assert.True(t, result.Partial())
	assert.Equal(t, 2, result.Stored)
	assert.Equal(t, 3, result.Required)
	assert.Equal(t, []string{"Node_1", "Node_3"}, result.Nodes)

	// Partial copies are kept
	dl, err := coord.Download(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(dl.Data))
}

func TestUploadWithNoActiveNodes(t *testing.T) {
	coord := setupCoordinator(t, 2, 1)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		_, err := coord.FailNode(ctx, i)
		require.NoError(t, err)
	}

	result, err := coord.Upload(ctx, "a.txt", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Stored)
	assert.True(t, result.Partial())
}

func TestUploadRejectsEmptyFilename(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)

	_, err := coord.Upload(context.Background(), "", []byte("hi"))
	assert.ErrorIs(t, err, ErrEmptyFilename)
}

func TestUploadOverwrites(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)
	ctx := context.Background()

	_, err := coord.Upload(ctx, "a.txt", []byte("one"))
	require.NoError(t, err)
	_, err = coord.Upload(ctx, "a.txt", []byte("two"))
	require.NoError(t, err)

	dl, err := coord.Download(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "two", string(dl.Data))
}

func TestUploadFollowsPlacer(t *testing.T) {
	cluster, err := NewCluster(4, 2)
	require.NoError(t, err)
	coord := NewWithMetrics(cluster, reversed{}, nil, testLogger(t))
	ctx := context.Background()

	result, err := coord.Upload(ctx, "a.txt", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Node_4", "Node_3"}, result.Nodes)

	// Download still scans canonical order
	_, err = coord.FailNode(ctx, 4)
	require.NoError(t, err)
	dl, err := coord.Download(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "Node_3", dl.Node)
	assert.Equal(t, 3, dl.Index)
}

func TestDownloadMissingFile(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)

	_, err := coord.Download(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, ErrFileUnavailable)
}

func TestFailoverScenario(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)
	ctx := context.Background()

	result, err := coord.Upload(ctx, "a.txt", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Node_1", "Node_2"}, result.Nodes)

	_, err = coord.FailNode(ctx, 1)
	require.NoError(t, err)

	dl, err := coord.Download(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(dl.Data))
	assert.Equal(t, "Node_2", dl.Node)

	_, err = coord.FailNode(ctx, 2)
	require.NoError(t, err)

	_, err = coord.Download(ctx, "a.txt")
	assert.ErrorIs(t, err, ErrFileUnavailable)

	// Replicas still exist on the Down nodes
	listings, err := coord.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, listings[0].Files)
	assert.Equal(t, []string{"a.txt"}, listings[1].Files)
}

func TestFailNodeValidation(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)
	ctx := context.Background()

	for _, index := range []int{0, -1, 5, 10} {
		t.Run(fmt.Sprintf("Index%d", index), func(t *testing.T) {
			_, err := coord.FailNode(ctx, index)
			assert.ErrorIs(t, err, ErrInvalidNode)
			assert.NotErrorIs(t, err, ErrNoStateChange)

			_, err = coord.RecoverNode(ctx, index)
			assert.ErrorIs(t, err, ErrInvalidNode)
		})
	}
}

func TestNodeTransitions(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)
	ctx := context.Background()

	tr, err := coord.RecoverNode(ctx, 1)
	assert.ErrorIs(t, err, ErrNoStateChange)
	assert.NotErrorIs(t, err, ErrInvalidNode)
	assert.False(t, tr.Changed)
	assert.Equal(t, "Node_1", tr.Name)

	tr, err = coord.FailNode(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, NodeTransition{Index: 1, Name: "Node_1", Active: false, Changed: true}, tr)

	tr, err = coord.FailNode(ctx, 1)
	assert.ErrorIs(t, err, ErrNoStateChange)
	assert.False(t, tr.Changed)

	tr, err = coord.RecoverNode(ctx, 1)
	require.NoError(t, err)
	assert.True(t, tr.Active)
	assert.True(t, tr.Changed)
}

func TestFailRecoverPreservesFiles(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)
	ctx := context.Background()

	for _, f := range []string{"c.txt", "a.txt", "b.txt"} {
		_, err := coord.Upload(ctx, f, []byte(f))
		require.NoError(t, err)
	}

	before, err := coord.ListFiles(ctx)
	require.NoError(t, err)

	_, err = coord.FailNode(ctx, 2)
	require.NoError(t, err)
	_, err = coord.RecoverNode(ctx, 2)
	require.NoError(t, err)

	after, err := coord.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, after[1].Files)
}

func TestRecoverDoesNotRepair(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)
	ctx := context.Background()

	_, err := coord.FailNode(ctx, 1)
	require.NoError(t, err)
	_, err = coord.Upload(ctx, "a.txt", []byte("hi"))
	require.NoError(t, err)
	_, err = coord.RecoverNode(ctx, 1)
	require.NoError(t, err)

	listings, err := coord.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, listings[0].Files)
	assert.True(t, listings[0].Active)
}

func TestRepairFaults(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)
	ctx := context.Background()

	_, err := coord.Upload(ctx, "a.txt", []byte("hi"))
	require.NoError(t, err)
	_, err = coord.FailNode(ctx, 1)
	require.NoError(t, err)

	report, err := coord.RepairFaults(ctx)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.NotEqual(t, uuid.Nil, report.ID)

	require.Len(t, report.Repairs, 1)
	assert.Equal(t, FileRepair{
		Filename: "a.txt",
		Source:   "Node_2",
		Targets:  []string{"Node_3"},
		Before:   1,
		After:    2,
	}, report.Repairs[0])
	assert.Equal(t, 1, report.Copies())
	assert.Empty(t, report.UnderReplicated)

	count, err := coord.ReplicaCount(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	dl, err := coord.Download(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(dl.Data))
}

func TestRepairIsIdempotent(t *testing.T) {
	coord := setupCoordinator(t, 5, 3)
	ctx := context.Background()

	for _, f := range []string{"a.txt", "b.txt"} {
		_, err := coord.Upload(ctx, f, []byte(f))
		require.NoError(t, err)
	}
	_, err := coord.FailNode(ctx, 1)
	require.NoError(t, err)
	_, err = coord.FailNode(ctx, 3)
	require.NoError(t, err)

	first, err := coord.RepairFaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, first.Copies())

	before, err := coord.ListFiles(ctx)
	require.NoError(t, err)

	second, err := coord.RepairFaults(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Repairs)
	assert.Equal(t, 0, second.Copies())
	assert.NotEqual(t, first.ID, second.ID)

	after, err := coord.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRepairReachesMinOfReplicationAndLiveNodes(t *testing.T) {
	coord := setupCoordinator(t, 4, 3)
	ctx := context.Background()

	_, err := coord.Upload(ctx, "a.txt", []byte("hi"))
	require.NoError(t, err)
	_, err = coord.Upload(ctx, "b.txt", []byte("yo"))
	require.NoError(t, err)

	// Only Node_1 and Node_4 stay up: 2 live nodes, R=3
	_, err = coord.FailNode(ctx, 2)
	require.NoError(t, err)
	_, err = coord.FailNode(ctx, 3)
	require.NoError(t, err)

	report, err := coord.RepairFaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, report.UnderReplicated)

	for _, f := range []string{"a.txt", "b.txt"} {
		count, err := coord.ReplicaCount(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, 2, count, f)
	}

	// More nodes come back and a second pass tops up to R
	_, err = coord.RecoverNode(ctx, 2)
	require.NoError(t, err)
	_, err = coord.RecoverNode(ctx, 3)
	require.NoError(t, err)

	report, err = coord.RepairFaults(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.UnderReplicated)
	for _, f := range []string{"a.txt", "b.txt"} {
		count, err := coord.ReplicaCount(ctx, f)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, 3, f)
	}
}

func TestRepairUnrecoverable(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)
	ctx := context.Background()

	_, err := coord.Upload(ctx, "a.txt", []byte("hi"))
	require.NoError(t, err)
	_, err = coord.FailNode(ctx, 1)
	require.NoError(t, err)
	_, err = coord.FailNode(ctx, 2)
	require.NoError(t, err)

	report, err := coord.RepairFaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, report.Unrecoverable)
	assert.Empty(t, report.Repairs)

	err = report.Err()
	assert.ErrorIs(t, err, ErrUnrecoverable)
	var unrecoverable *UnrecoverableError
	require.True(t, errors.As(err, &unrecoverable))
	assert.Equal(t, "a.txt", unrecoverable.Filename)

	// Nothing was copied from the Down holders
	count, err := coord.ReplicaCount(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Bringing a holder back makes it repairable again
	_, err = coord.RecoverNode(ctx, 2)
	require.NoError(t, err)
	report, err = coord.RepairFaults(ctx)
	require.NoError(t, err)
	assert.NoError(t, report.Err())
	require.Len(t, report.Repairs, 1)
	assert.Equal(t, "Node_2", report.Repairs[0].Source)
	assert.Equal(t, []string{"Node_3"}, report.Repairs[0].Targets)
}

func TestDownloadAfterUploadProperty(t *testing.T) {
	coord := setupCoordinator(t, 5, 2)
	ctx := context.Background()

	files := make(map[string]string)
	for i := 0; i < 20; i++ {
		if i == 7 {
			_, err := coord.FailNode(ctx, 1)
			require.NoError(t, err)
		}
		if i == 14 {
			_, err := coord.FailNode(ctx, 3)
			require.NoError(t, err)
		}

		name := fmt.Sprintf("file-%02d.txt", i)
		data := fmt.Sprintf("payload %d", i)
		result, err := coord.Upload(ctx, name, []byte(data))
		require.NoError(t, err)
		require.Equal(t, 2, result.Stored)
		files[name] = data
	}

	for name, data := range files {
		dl, err := coord.Download(ctx, name)
		if !assert.NoError(t, err, name) {
			continue
		}
		assert.Equal(t, data, string(dl.Data))
	}
}

func TestListFiles(t *testing.T) {
	coord := setupCoordinator(t, 3, 2)
	ctx := context.Background()

	_, err := coord.Upload(ctx, "b.txt", []byte("2"))
	require.NoError(t, err)
	_, err = coord.Upload(ctx, "a.txt", []byte("1"))
	require.NoError(t, err)
	_, err = coord.FailNode(ctx, 2)
	require.NoError(t, err)

	listings, err := coord.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, listings, 3)

	assert.Equal(t, 1, listings[0].Index)
	assert.Equal(t, "Node_1", listings[0].Name)
	assert.True(t, listings[0].Active)
	assert.Equal(t, []string{"a.txt", "b.txt"}, listings[0].Files)

	assert.Equal(t, "Node_2", listings[1].Name)
	assert.False(t, listings[1].Active)
	assert.Equal(t, []string{"a.txt", "b.txt"}, listings[1].Files)

	assert.Equal(t, "Node_3", listings[2].Name)
	assert.Empty(t, listings[2].Files)
}

func TestHealth(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)
	ctx := context.Background()

	for _, f := range []string{"a.txt", "b.txt"} {
		_, err := coord.Upload(ctx, f, []byte(f))
		require.NoError(t, err)
	}

	h, err := coord.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, metrics.StatusHealthy, h.Status())
	assert.Equal(t, 2, h.Files)

	_, err = coord.FailNode(ctx, 1)
	require.NoError(t, err)
	h, err = coord.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, h.ActiveNodes)
	assert.Equal(t, 2, h.UnderReplicated)
	assert.Equal(t, metrics.StatusDegraded, h.Status())

	_, err = coord.FailNode(ctx, 2)
	require.NoError(t, err)
	h, err = coord.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Unavailable)
	assert.Equal(t, metrics.StatusUnhealthy, h.Status())
	assert.Equal(t, 2, h.NodeFiles["Node_1"])
}

func TestCoordinatorMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewClusterMetrics(registry)

	cluster, err := NewCluster(3, 2)
	require.NoError(t, err)
	coord := NewWithMetrics(cluster, placement.NewOrdered(), m, testLogger(t))
	ctx := context.Background()

	_, err = coord.Upload(ctx, "a.txt", []byte("hi"))
	require.NoError(t, err)
	_, err = coord.FailNode(ctx, 1)
	require.NoError(t, err)
	_, err = coord.FailNode(ctx, 2)
	require.NoError(t, err)
	_, err = coord.Download(ctx, "a.txt")
	require.Error(t, err)
	_, err = coord.RecoverNode(ctx, 2)
	require.NoError(t, err)
	_, err = coord.RepairFaults(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Uploads))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Downloads))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DownloadFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NodeFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeRecoveries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepairRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplicasRepaired))
}

func TestConcurrentOperations(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("f%d.txt", i)
			_, err := coord.Upload(ctx, name, []byte(name))
			assert.NoError(t, err)
			_, err = coord.Download(ctx, name)
			assert.NoError(t, err)
			_, err = coord.ListFiles(ctx)
			assert.NoError(t, err)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := coord.RepairFaults(ctx)
		assert.NoError(t, err)
	}()
	wg.Wait()

	for i := 0; i < 8; i++ {
		count, err := coord.ReplicaCount(ctx, fmt.Sprintf("f%d.txt", i))
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	}
}

const remoteMessageSize = 64 * 1024 * 1024

// setupRemoteCoordinator serves nodeCount nodes over bufconn, each with a
// remoteMessageSize server limit, and dials them with dialOpts.
func setupRemoteCoordinator(t *testing.T, nodeCount, replicationFactor int, dialOpts ...grpc.DialOption) *Coordinator {
	logger := testLogger(t)
	ctx := context.Background()

	clients := make([]node.Client, nodeCount)
	for i := range clients {
		local := node.New(node.Name(i+1), logger)
		lis := bufconn.Listen(1024 * 1024)
		srv := node.NewServer(local, "bufnet", remoteMessageSize, logger)
		go srv.Serve(lis)
		t.Cleanup(srv.Stop)

		opts := append([]grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		}, dialOpts...)
		remote, err := node.Dial(ctx, "bufnet", logger, opts...)
		require.NoError(t, err)
		clients[i] = remote
	}

	cluster, err := NewClusterFromClients(clients, replicationFactor)
	require.NoError(t, err)
	t.Cleanup(func() { cluster.Close() })
	return New(cluster, logger)
}

func TestRemoteCluster(t *testing.T) {
	ctx := context.Background()
	coord := setupRemoteCoordinator(t, 3, 2, grpc.WithTransportCredentials(insecure.NewCredentials()))

	result, err := coord.Upload(ctx, "a.txt", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Node_1", "Node_2"}, result.Nodes)

	_, err = coord.FailNode(ctx, 1)
	require.NoError(t, err)
	dl, err := coord.Download(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "Node_2", dl.Node)

	report, err := coord.RepairFaults(ctx)
	require.NoError(t, err)
	require.Len(t, report.Repairs, 1)
	assert.Equal(t, []string{"Node_3"}, report.Repairs[0].Targets)

	_, err = coord.FailNode(ctx, 2)
	require.NoError(t, err)
	_, err = coord.FailNode(ctx, 3)
	require.NoError(t, err)
	_, err = coord.Download(ctx, "a.txt")
	assert.ErrorIs(t, err, ErrFileUnavailable)
}

func TestRemoteClusterPayloads(t *testing.T) {
	ctx := context.Background()
	coord := setupRemoteCoordinator(t, 3, 2, node.WithMaxMessageSize(remoteMessageSize))

	large := bytes.Repeat([]byte("z"), 5*1024*1024+5)

	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"ASCII", "a.txt", []byte("hi")},
		{"Accented", "café.txt", []byte("au lait")},
		{"MixedScripts", "résumé-日本語.txt", []byte("cv")},
		{"AboveDefaultLimit", "big.bin", large},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := coord.Upload(ctx, tt.filename, tt.data)
			require.NoError(t, err)
			assert.Equal(t, 2, result.Stored)
			assert.Empty(t, result.Failed)

			dl, err := coord.Download(ctx, tt.filename)
			require.NoError(t, err)
			assert.Equal(t, "Node_1", dl.Node)
			assert.True(t, bytes.Equal(tt.data, dl.Data))

			count, err := coord.ReplicaCount(ctx, tt.filename)
			require.NoError(t, err)
			assert.Equal(t, 2, count)
		})
	}

	// Repair reads the large blob from its surviving copy.
	_, err := coord.FailNode(ctx, 1)
	require.NoError(t, err)
	report, err := coord.RepairFaults(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.UnderReplicated)
	assert.Len(t, report.Repairs, len(tests))
}

func TestRemoteClusterTransportErrors(t *testing.T) {
	ctx := context.Background()
	// Clients keep gRPC's 4MiB receive limit while nodes accept 64MiB.
	coord := setupRemoteCoordinator(t, 3, 2)

	big := bytes.Repeat([]byte("z"), 5*1024*1024)
	result, err := coord.Upload(ctx, "big.bin", big)
	require.NoError(t, err)
	require.Equal(t, 2, result.Stored)

	t.Run("DownloadIsNotUnavailable", func(t *testing.T) {
		_, err := coord.Download(ctx, "big.bin")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrFileUnavailable)

		count, err := coord.ReplicaCount(ctx, "big.bin")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("RepairReportsUnreadableSource", func(t *testing.T) {
		_, err := coord.FailNode(ctx, 1)
		require.NoError(t, err)
		t.Cleanup(func() { coord.RecoverNode(ctx, 1) })

		report, err := coord.RepairFaults(ctx)
		require.NoError(t, err)
		assert.Empty(t, report.Repairs)
		assert.Empty(t, report.UnderReplicated)
		require.Len(t, report.Failed, 1)
		assert.Equal(t, "big.bin", report.Failed[0].Filename)
		assert.ErrorIs(t, report.Err(), ErrRepairFailed)
		assert.NotErrorIs(t, report.Err(), ErrUnrecoverable)
	})
}

func TestUploadReportsNodeErrors(t *testing.T) {
	ctx := context.Background()
	coord := setupRemoteCoordinator(t, 2, 2)

	// Nodes reject messages above their 64MiB limit on every attempt.
	result, err := coord.Upload(ctx, "huge.bin", make([]byte, remoteMessageSize+1))
	require.Error(t, err)
	assert.Equal(t, 0, result.Stored)
	assert.Equal(t, []string{"Node_1", "Node_2"}, result.Failed)

	// No Active node at all is still a plain zero-copy result.
	_, err = coord.FailNode(ctx, 1)
	require.NoError(t, err)
	_, err = coord.FailNode(ctx, 2)
	require.NoError(t, err)
	result, err = coord.Upload(ctx, "a.txt", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Stored)
	assert.Empty(t, result.Failed)
}

func TestNewClusterFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := config.ClusterConfig{
		NodeCount:         3,
		ReplicationFactor: 2,
		Backend:           "badger",
		DataDir:           t.TempDir(),
	}

	cluster, err := NewClusterFromConfig(ctx, cfg, testLogger(t))
	require.NoError(t, err)
	coord := New(cluster, testLogger(t))

	_, err = coord.Upload(ctx, "a.txt", []byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, cluster.Close())

	// Reopening the same directories finds the stored copies
	reopened, err := NewClusterFromConfig(ctx, cfg, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	dl, err := New(reopened, testLogger(t)).Download(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(dl.Data))

	_, err = NewClusterFromConfig(ctx, config.ClusterConfig{NodeCount: 2, ReplicationFactor: 3}, nil)
	assert.ErrorIs(t, err, ErrInvalidCluster)
}

func TestRepairMonitor(t *testing.T) {
	coord := setupCoordinator(t, 4, 2)
	ctx := context.Background()

	_, err := coord.Upload(ctx, "a.txt", []byte("hi"))
	require.NoError(t, err)
	_, err = coord.FailNode(ctx, 2)
	require.NoError(t, err)

	monitor := NewRepairMonitor(coord, 10*time.Millisecond, testLogger(t))
	monitor.Start(ctx)
	defer monitor.Stop()

	select {
	case report := <-monitor.Reports():
		require.Len(t, report.Repairs, 1)
		assert.Equal(t, "Node_1", report.Repairs[0].Source)
	case <-time.After(5 * time.Second):
		t.Fatal("repair monitor produced no report")
	}

	count, err := coord.ReplicaCount(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	monitor.Stop()
	monitor.Stop()
}
