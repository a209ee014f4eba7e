package node

import (
	"context"
	"errors"
	"fmt"
	"net"

	"replistore/pkg/protocol"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server exposes a local node over gRPC so a coordinator in another process
// can drive it through a RemoteNode.
type Server struct {
	node    *Node
	address string
	logger  *zap.Logger
	server  *grpc.Server
}

var _ protocol.NodeServer = (*Server)(nil)

func NewServer(n *Node, address string, maxMessageSize int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	var serverOpts []grpc.ServerOption
	if maxMessageSize > 0 {
		serverOpts = append(serverOpts,
			grpc.MaxRecvMsgSize(maxMessageSize),
			grpc.MaxSendMsgSize(maxMessageSize))
	}

	s := &Server{
		node:    n,
		address: address,
		logger:  logger.With(zap.String("node", n.Name())),
		server:  grpc.NewServer(serverOpts...),
	}
	protocol.RegisterNodeServer(s.server, s)
	return s
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	return s.Serve(listener)
}

// Serve serves on an existing listener.
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("Node server starting", zap.String("address", listener.Addr().String()))
	return s.server.Serve(listener)
}

func (s *Server) Stop() {
	s.server.GracefulStop()
}

func (s *Server) Store(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	names := md.Get(protocol.FilenameMetadataKey)
	if len(names) == 0 || names[0] == "" {
		return nil, status.Error(codes.InvalidArgument, "missing filename metadata")
	}

	if err := s.node.Store(ctx, names[0], req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Has(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	exists, err := s.node.Has(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(exists), nil
}

func (s *Server) Read(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	data, err := s.node.Read(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(data), nil
}

func (s *Server) SetActive(ctx context.Context, req *wrapperspb.BoolValue) (*wrapperspb.BoolValue, error) {
	changed, err := s.node.SetActive(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(changed), nil
}

func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := s.node.Status(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	files := make([]interface{}, len(st.Files))
	for i, f := range st.Files {
		files[i] = f
	}

	out, err := structpb.NewStruct(map[string]interface{}{
		"name":   st.Name,
		"active": st.Active,
		"files":  files,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode status: %v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrNodeUnavailable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrFileNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
