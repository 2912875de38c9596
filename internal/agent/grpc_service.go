package agent

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/prompt"
)

// Remote provider service identifiers. Requests and replies travel as
// google.protobuf.Struct so a provider can be written in any language without
// sharing generated stubs.
const (
	ProviderServiceName = "myaa.provider.v1.ResponseProvider"
	chatMethod          = "/" + ProviderServiceName + "/Chat"
)

// ResponseProviderServer is the server API for the remote provider service.
type ResponseProviderServer interface {
	Chat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var responseProviderServiceDesc = grpc.ServiceDesc{
	ServiceName: ProviderServiceName,
	HandlerType: (*ResponseProviderServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Chat",
			Handler:    chatHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "myaa/provider/v1/provider.proto",
}

func chatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ResponseProviderServer).Chat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: chatMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ResponseProviderServer).Chat(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterResponseProviderServer registers srv on s together with a gRPC
// health service reporting SERVING for the provider service.
func RegisterResponseProviderServer(s *grpc.Server, srv ResponseProviderServer) *health.Server {
	s.RegisterService(&responseProviderServiceDesc, srv)

	hs := health.NewServer()
	hs.SetServingStatus(ProviderServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

// ProviderServer exposes any Provider over gRPC.
type ProviderServer struct {
	provider Provider
	logger   *slog.Logger
}

// NewProviderServer wraps provider for serving.
func NewProviderServer(provider Provider, logger *slog.Logger) *ProviderServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderServer{provider: provider, logger: logger}
}

// Chat implements ResponseProviderServer.
func (s *ProviderServer) Chat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := requestFromStruct(in)
	reply, err := s.provider.Chat(ctx, req)
	if err != nil {
		s.logger.Warn("Provider chat failed", "provider", s.provider.Name(), "error", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := messageToStruct(reply)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func requestToStruct(req prompt.Request) (*structpb.Struct, error) {
	lines := make([]any, len(req.DialogueLines))
	for i, l := range req.DialogueLines {
		lines[i] = l
	}
	s, err := structpb.NewStruct(map[string]any{
		"responder_id":          req.ResponderID,
		"responder_name":        req.ResponderName,
		"role_instruction":      req.RoleInstruction,
		"format_instruction":    req.FormatInstruction,
		"responder_description": req.ResponderDescription,
		"dialogue_lines":        lines,
		"current": map[string]any{
			"speaker": req.Current.Speaker,
			"content": req.Current.Content,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode prompt request: %w", err)
	}
	return s, nil
}

func requestFromStruct(s *structpb.Struct) prompt.Request {
	f := s.GetFields()
	req := prompt.Request{
		ResponderID:          f["responder_id"].GetStringValue(),
		ResponderName:        f["responder_name"].GetStringValue(),
		RoleInstruction:      f["role_instruction"].GetStringValue(),
		FormatInstruction:    f["format_instruction"].GetStringValue(),
		ResponderDescription: f["responder_description"].GetStringValue(),
	}
	for _, v := range f["dialogue_lines"].GetListValue().GetValues() {
		req.DialogueLines = append(req.DialogueLines, v.GetStringValue())
	}
	req.Current = messageFromStruct(f["current"].GetStructValue())
	return req
}

func messageToStruct(msg domain.Message) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{
		"speaker": msg.Speaker,
		"content": msg.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

func messageFromStruct(s *structpb.Struct) domain.Message {
	f := s.GetFields()
	return domain.Message{
		Speaker: f["speaker"].GetStringValue(),
		Content: f["content"].GetStringValue(),
	}
}
