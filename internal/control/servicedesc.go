package control

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified name the control service is
// registered under, playing the role a generated catalogv1connect
// service path constant would in the teacher's ConnectRPC stack.
const ServiceName = "io.pact.plugin.PactPlugin"

// ServiceDesc hand-registers the control RPCs as a grpc.ServiceDesc,
// replacing the generated stub connectrpc.com/connect would normally
// provide (see package doc in types.go). Each handler decodes its
// request via the codec configured on the serving grpc.Server
// (jsonCodec, set with grpc.ForceServerCodec) and dispatches to the
// matching Service method, mirroring the teacher's one-struct,
// one-method-per-RPC CatalogServer shape.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "InitPlugin", Handler: initPluginHandler},
		{MethodName: "UpdateCatalogue", Handler: updateCatalogueHandler},
		{MethodName: "ConfigureInteraction", Handler: configureInteractionHandler},
		{MethodName: "CompareContents", Handler: compareContentsHandler},
		{MethodName: "StartMockServer", Handler: startMockServerHandler},
		{MethodName: "ShutdownMockServer", Handler: shutdownMockServerHandler},
		{MethodName: "GetMockServerResults", Handler: getMockServerResultsHandler},
		{MethodName: "MockServerMatched", Handler: mockServerMatchedHandler},
		{MethodName: "PrepareInteractionForVerification", Handler: prepareInteractionForVerificationHandler},
		{MethodName: "VerifyInteraction", Handler: verifyInteractionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pact-protobuf-plugin/control.proto",
}

func initPluginHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(InitPluginRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Service)
	if interceptor == nil {
		return s.InitPlugin(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + ServiceName + "/InitPlugin"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.InitPlugin(ctx, req.(*InitPluginRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func updateCatalogueHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(UpdateCatalogueRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Service)
	if interceptor == nil {
		return s.UpdateCatalogue(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + ServiceName + "/UpdateCatalogue"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.UpdateCatalogue(ctx, req.(*UpdateCatalogueRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func configureInteractionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ConfigureInteractionRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Service)
	if interceptor == nil {
		return s.ConfigureInteraction(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + ServiceName + "/ConfigureInteraction"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.ConfigureInteraction(ctx, req.(*ConfigureInteractionRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func compareContentsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(CompareContentsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Service)
	if interceptor == nil {
		return s.CompareContents(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + ServiceName + "/CompareContents"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.CompareContents(ctx, req.(*CompareContentsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func startMockServerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(StartMockServerRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Service)
	if interceptor == nil {
		return s.StartMockServer(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + ServiceName + "/StartMockServer"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.StartMockServer(ctx, req.(*StartMockServerRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func shutdownMockServerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ShutdownMockServerRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Service)
	if interceptor == nil {
		return s.ShutdownMockServer(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + ServiceName + "/ShutdownMockServer"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.ShutdownMockServer(ctx, req.(*ShutdownMockServerRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getMockServerResultsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetMockServerResultsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Service)
	if interceptor == nil {
		return s.GetMockServerResults(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + ServiceName + "/GetMockServerResults"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.GetMockServerResults(ctx, req.(*GetMockServerResultsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func mockServerMatchedHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(MockServerMatchedRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Service)
	if interceptor == nil {
		return s.MockServerMatched(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + ServiceName + "/MockServerMatched"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.MockServerMatched(ctx, req.(*MockServerMatchedRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func prepareInteractionForVerificationHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(PrepareInteractionForVerificationRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Service)
	if interceptor == nil {
		return s.PrepareInteractionForVerification(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + ServiceName + "/PrepareInteractionForVerification"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.PrepareInteractionForVerification(ctx, req.(*PrepareInteractionForVerificationRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func verifyInteractionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(VerifyInteractionRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Service)
	if interceptor == nil {
		return s.VerifyInteraction(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + ServiceName + "/VerifyInteraction"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.VerifyInteraction(ctx, req.(*VerifyInteractionRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// Register attaches ServiceDesc to a gRPC server already configured with
// grpc.ForceServerCodec(jsonCodec{}).
func Register(grpcServer *grpc.Server, svc *Service) {
	grpcServer.RegisterService(&ServiceDesc, svc)
}

// Codec returns the control-plane wire codec, for
// grpc.ForceServerCodec at server construction time.
func Codec() grpc.ServerOption {
	return grpc.ForceServerCodec(jsonCodec{})
}
