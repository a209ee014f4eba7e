package node

import (
	"context"
	"fmt"

	"replistore/pkg/protocol"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// RemoteNode drives a node served by Server in another process.
type RemoteNode struct {
	name   string
	conn   *grpc.ClientConn
	client protocol.NodeClient
	retry  RetryPolicy
	logger *zap.Logger
}

var _ Client = (*RemoteNode)(nil)

// Dial connects to a node server and learns its name. Connections are
// insecure unless opts carries other transport credentials.
func Dial(ctx context.Context, address string, logger *zap.Logger, opts ...grpc.DialOption) (*RemoteNode, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	conn, err := grpc.DialContext(ctx, address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node at %s: %w", address, err)
	}

	remote, err := NewRemoteNode(ctx, conn, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return remote, nil
}

// WithMaxMessageSize raises the client's send and receive limits to match a
// Server started with the same maxMessageSize. Without it reads of blobs over
// the gRPC default of 4MiB fail even when the server accepts them.
func WithMaxMessageSize(size int) grpc.DialOption {
	if size <= 0 {
		return grpc.EmptyDialOption{}
	}
	return grpc.WithDefaultCallOptions(
		grpc.MaxCallRecvMsgSize(size),
		grpc.MaxCallSendMsgSize(size))
}

// NewRemoteNode wraps an established connection.
func NewRemoteNode(ctx context.Context, conn *grpc.ClientConn, logger *zap.Logger) (*RemoteNode, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &RemoteNode{
		conn:   conn,
		client: protocol.NewNodeClient(conn),
		retry:  DefaultRetryPolicy(),
		logger: logger,
	}

	st, err := r.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query node status at %s: %w", conn.Target(), err)
	}

	r.name = st.Name
	r.logger = logger.With(zap.String("node", st.Name), zap.String("address", conn.Target()))
	return r, nil
}

func (r *RemoteNode) Name() string {
	return r.name
}

// SetRetryPolicy replaces the default retry policy.
func (r *RemoteNode) SetRetryPolicy(p RetryPolicy) {
	r.retry = p
}

func (r *RemoteNode) Store(ctx context.Context, filename string, data []byte) error {
	ctx = metadata.AppendToOutgoingContext(ctx, protocol.FilenameMetadataKey, filename)
	err := r.call(ctx, "store", func(ctx context.Context) error {
		_, err := r.client.Store(ctx, wrapperspb.Bytes(data))
		return err
	})
	if err != nil {
		return r.fromStatus(err)
	}
	return nil
}

func (r *RemoteNode) Has(ctx context.Context, filename string) (bool, error) {
	var resp *wrapperspb.BoolValue
	err := r.call(ctx, "has", func(ctx context.Context) (err error) {
		resp, err = r.client.Has(ctx, wrapperspb.String(filename))
		return err
	})
	if err != nil {
		return false, r.fromStatus(err)
	}
	return resp.GetValue(), nil
}

func (r *RemoteNode) Read(ctx context.Context, filename string) ([]byte, error) {
	var resp *wrapperspb.BytesValue
	err := r.call(ctx, "read", func(ctx context.Context) (err error) {
		resp, err = r.client.Read(ctx, wrapperspb.String(filename))
		return err
	})
	if err != nil {
		return nil, r.fromStatus(err)
	}
	return resp.GetValue(), nil
}

// SetActive is not retried: a lost reply would make a retry report no change.
func (r *RemoteNode) SetActive(ctx context.Context, active bool) (bool, error) {
	resp, err := r.client.SetActive(ctx, wrapperspb.Bool(active))
	if err != nil {
		return false, r.fromStatus(err)
	}
	return resp.GetValue(), nil
}

func (r *RemoteNode) Active(ctx context.Context) (bool, error) {
	st, err := r.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.Active, nil
}

func (r *RemoteNode) Status(ctx context.Context) (Status, error) {
	var resp *structpb.Struct
	err := r.call(ctx, "status", func(ctx context.Context) (err error) {
		resp, err = r.client.Status(ctx, &emptypb.Empty{})
		return err
	})
	if err != nil {
		return Status{}, r.fromStatus(err)
	}

	fields := resp.GetFields()
	st := Status{
		Name:   fields["name"].GetStringValue(),
		Active: fields["active"].GetBoolValue(),
		Files:  []string{},
	}
	for _, v := range fields["files"].GetListValue().GetValues() {
		st.Files = append(st.Files, v.GetStringValue())
	}
	return st, nil
}

func (r *RemoteNode) Close() error {
	return r.conn.Close()
}

// fromStatus maps wire codes back onto the node sentinels.
func (r *RemoteNode) fromStatus(err error) error {
	name := r.name
	if name == "" {
		name = r.conn.Target()
	}

	switch status.Code(err) {
	case codes.FailedPrecondition:
		return fmt.Errorf("%s: %w", name, ErrNodeUnavailable)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", name, ErrFileNotFound)
	default:
		r.logger.Warn("Node RPC failed", zap.Error(err))
		return fmt.Errorf("%s: rpc failed: %w", name, err)
	}
}
