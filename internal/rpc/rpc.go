// Package rpc registers unary gRPC services whose messages are
// google.protobuf.Struct. The file descriptors are built at startup and added
// to the global registry so server reflection (and grpcurl) can see them.
package rpc

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const structType = ".google.protobuf.Struct"

// Handler serves one unary method.
type Handler func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// Method binds a method name to its handler.
type Method struct {
	Name    string
	Handler Handler
}

// Service describes a Struct-in/Struct-out gRPC service.
type Service struct {
	Package string
	Name    string
	Methods []Method
}

// FullName returns the fully qualified service name, e.g. apsystems.v1.ApsystemsService.
func (s Service) FullName() string {
	return s.Package + "." + s.Name
}

// FileName is the synthetic proto path the service descriptor is registered under.
func (s Service) FileName() string {
	return s.Package + "/" + s.Name + ".proto"
}

// MethodPath returns the /service/method path used on the wire.
func (s Service) MethodPath(method string) string {
	return "/" + s.FullName() + "/" + method
}

var registerMu sync.Mutex

// Register adds the service descriptor to the global proto registry (once per
// file name) and registers the handlers on server.
func Register(server *grpc.Server, svc Service) error {
	if err := registerDescriptor(svc); err != nil {
		return err
	}

	desc := grpc.ServiceDesc{
		ServiceName: svc.FullName(),
		HandlerType: (*any)(nil),
		Metadata:    svc.FileName(),
	}
	for _, m := range svc.Methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.Name,
			Handler:    methodHandler(svc.MethodPath(m.Name), m.Handler),
		})
	}
	server.RegisterService(&desc, &svc)
	return nil
}

func methodHandler(fullMethod string, h Handler) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return h(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return h(ctx, req.(*structpb.Struct))
		})
	}
}

func registerDescriptor(svc Service) error {
	registerMu.Lock()
	defer registerMu.Unlock()

	if _, err := protoregistry.GlobalFiles.FindFileByPath(svc.FileName()); err == nil {
		return nil
	}

	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(svc.FileName()),
		Package:    proto.String(svc.Package),
		Dependency: []string{"google/protobuf/struct.proto"},
		Syntax:     proto.String("proto3"),
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String(svc.Name),
		}},
	}
	for _, m := range svc.Methods {
		fdp.Service[0].Method = append(fdp.Service[0].Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.Name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}

	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("build descriptor %s: %w", svc.FileName(), err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		return fmt.Errorf("register descriptor %s: %w", svc.FileName(), err)
	}
	return nil
}

// Invoke calls a Struct-in/Struct-out method on conn.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, svc Service, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, svc.MethodPath(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Response builds a Struct response, failing on unsupported value types.
func Response(fields map[string]any) (*structpb.Struct, error) {
	return structpb.NewStruct(fields)
}

// StringField reads a string field, returning "" when absent.
func StringField(req *structpb.Struct, key string) string {
	if req == nil {
		return ""
	}
	v, ok := req.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// NumberField reads a numeric field.
func NumberField(req *structpb.Struct, key string) (float64, bool) {
	if req == nil {
		return 0, false
	}
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, false
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return 0, false
	}
	return v.GetNumberValue(), true
}

// BoolField reads a boolean field.
func BoolField(req *structpb.Struct, key string) (bool, bool) {
	if req == nil {
		return false, false
	}
	v, ok := req.GetFields()[key]
	if !ok {
		return false, false
	}
	if _, isBool := v.GetKind().(*structpb.Value_BoolValue); !isBool {
		return false, false
	}
	return v.GetBoolValue(), true
}
