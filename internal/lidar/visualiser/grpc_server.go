// Package visualiser provides gRPC streaming of frontier data.
// This file implements the FrontierService over well-known protobuf types.
package visualiser

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "frontier.v1.FrontierService"

const (
	methodStreamFrontier   = "/" + ServiceName + "/StreamFrontier"
	methodGetFrontierMap   = "/" + ServiceName + "/GetFrontierMap"
	methodGetFilteredCloud = "/" + ServiceName + "/GetFilteredCloud"
)

// Response metadata keys set by GetFrontierMap.
const (
	HeaderMapFrame      = "x-map-frame"
	HeaderMapSeq        = "x-map-seq"
	HeaderMapVoxels     = "x-map-voxels"
	HeaderMapCompressed = "x-map-compressed"
)

// FrontierServiceServer is the server API for FrontierService.
type FrontierServiceServer interface {
	StreamFrontier(*emptypb.Empty, FrontierStreamServer) error
	GetFrontierMap(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	GetFilteredCloud(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// FrontierStreamServer is the server side of StreamFrontier.
type FrontierStreamServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type frontierStreamServer struct {
	grpc.ServerStream
}

func (x *frontierStreamServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// Ensure Server implements the gRPC interface.
var _ FrontierServiceServer = (*Server)(nil)

// Server implements FrontierService on top of a Publisher.
type Server struct {
	publisher *Publisher
}

// NewServer creates a new gRPC server.
func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// StreamFrontier streams marker sets until the client goes away. A client
// that joins late first receives the latest set.
func (s *Server) StreamFrontier(_ *emptypb.Empty, stream FrontierStreamServer) error {
	client := s.publisher.addClient()
	if client == nil {
		return status.Errorf(codes.ResourceExhausted, "client limit %d reached", s.publisher.config.MaxClients)
	}
	defer s.publisher.removeClient(client.id)

	if latest := s.publisher.LatestMarkers(); latest != nil {
		if err := sendMarkers(stream, latest); err != nil {
			return err
		}
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return status.Error(codes.Unavailable, "publisher stopped")
		case ms := <-client.frameCh:
			if err := sendMarkers(stream, ms); err != nil {
				return err
			}
		}
	}
}

func sendMarkers(stream FrontierStreamServer, ms *MarkerSet) error {
	msg, err := markerSetToStruct(ms)
	if err != nil {
		return status.Errorf(codes.Internal, "encode markers: %v", err)
	}
	if err := stream.Send(msg); err != nil {
		tracef("send error: %v", err)
		return err
	}
	return nil
}

// GetFrontierMap returns the latest binary map. Map metadata is carried
// in the response header.
func (s *Server) GetFrontierMap(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	m := s.publisher.LatestMap()
	if m == nil {
		return nil, status.Error(codes.Unavailable, "no map published yet")
	}
	md := metadata.Pairs(
		HeaderMapFrame, m.Frame,
		HeaderMapSeq, strconv.FormatUint(m.Seq, 10),
		HeaderMapVoxels, strconv.Itoa(m.Voxels),
		HeaderMapCompressed, strconv.FormatBool(m.Compressed),
	)
	if err := grpc.SetHeader(ctx, md); err != nil {
		tracef("set header: %v", err)
	}
	return wrapperspb.Bytes(m.Payload), nil
}

// GetFilteredCloud returns the latest filtered cloud as a flat xyz list.
func (s *Server) GetFilteredCloud(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	c := s.publisher.LatestCloud()
	if c == nil {
		return nil, status.Error(codes.NotFound, "no filtered cloud published")
	}
	xyz := make([]interface{}, 0, 3*len(c.Points))
	for _, p := range c.Points {
		xyz = append(xyz, p.X, p.Y, p.Z)
	}
	return structpb.NewStruct(map[string]interface{}{
		"seq":      float64(c.Seq),
		"frame_id": c.FrameID,
		"points":   xyz,
	})
}

func streamFrontierHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(FrontierServiceServer).StreamFrontier(in, &frontierStreamServer{stream})
}

func getFrontierMapHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FrontierServiceServer).GetFrontierMap(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetFrontierMap}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FrontierServiceServer).GetFrontierMap(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getFilteredCloudHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FrontierServiceServer).GetFilteredCloud(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetFilteredCloud}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FrontierServiceServer).GetFilteredCloud(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes FrontierService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FrontierServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetFrontierMap", Handler: getFrontierMapHandler},
		{MethodName: "GetFilteredCloud", Handler: getFilteredCloudHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamFrontier", Handler: streamFrontierHandler, ServerStreams: true},
	},
	Metadata: "frontier/v1/frontier.proto",
}

// RegisterService registers the gRPC service with the server.
func RegisterService(grpcServer grpc.ServiceRegistrar, server FrontierServiceServer) {
	grpcServer.RegisterService(&ServiceDesc, server)
}

// Client is a FrontierService client.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// MarkerStream receives marker sets from StreamFrontier.
type MarkerStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next marker set.
func (s *MarkerStream) Recv() (*MarkerSet, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return MarkerSetFromStruct(msg)
}

// StreamFrontier opens a marker stream. Cancel ctx to close it.
func (c *Client) StreamFrontier(ctx context.Context, opts ...grpc.CallOption) (*MarkerStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], methodStreamFrontier, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &MarkerStream{stream: stream}, nil
}

// GetFrontierMap fetches the latest binary map and its metadata header.
func (c *Client) GetFrontierMap(ctx context.Context, opts ...grpc.CallOption) ([]byte, metadata.MD, error) {
	var header metadata.MD
	out := new(wrapperspb.BytesValue)
	opts = append(opts, grpc.Header(&header))
	if err := c.cc.Invoke(ctx, methodGetFrontierMap, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, nil, err
	}
	return out.GetValue(), header, nil
}

// GetFilteredCloud fetches the latest filtered cloud message.
func (c *Client) GetFilteredCloud(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetFilteredCloud, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
