package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

const RunServiceName = "esg.v1.RunService"

// RunServiceServer is the gRPC surface over runs. Messages are protobuf
// well-known types so no generated code is needed on either side.
type RunServiceServer interface {
	// GetRun takes a run id and returns the RunView as a struct.
	GetRun(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
	// ExportAudit takes a run id and returns the XLSX audit export.
	ExportAudit(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	// Decide takes {run_id, token, decision} and returns the supplier review state.
	Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var RunServiceDesc = grpc.ServiceDesc{
	ServiceName: RunServiceName,
	HandlerType: (*RunServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetRun", Handler: unary("GetRun", func(s RunServiceServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.GetRun(ctx, in)
		})},
		{MethodName: "ExportAudit", Handler: unary("ExportAudit", func(s RunServiceServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.ExportAudit(ctx, in)
		})},
		{MethodName: "Decide", Handler: unary("Decide", func(s RunServiceServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.Decide(ctx, in)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "esg/v1/run_service",
}

// unary builds a grpc.MethodDesc handler the way generated code does.
func unary[In any, P interface{ *In }](method string, call func(RunServiceServer, context.Context, P) (any, error)) grpc.MethodHandler {
	full := "/" + RunServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := P(new(In))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RunServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RunServiceServer), ctx, req.(P))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RunService implements RunServiceServer over the status, export and review services.
type RunService struct {
	status RunStatuser
	export AuditExporter
	review Decider
	log    *slog.Logger
}

func NewRunService(status RunStatuser, export AuditExporter, review Decider, logger *slog.Logger) *RunService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunService{status: status, export: export, review: review, log: logger}
}

func (s *RunService) GetRun(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	view, err := s.status.RunStatus(ctx, in.GetValue())
	if err != nil {
		return nil, common.GRPCError(err)
	}
	out, err := toStruct(view)
	if err != nil {
		s.log.Error("grpc.get_run.encode_failed", "run_id", in.GetValue(), "error", err)
		return nil, common.GRPCError(err)
	}
	return out, nil
}

func (s *RunService) ExportAudit(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	view, err := s.status.RunStatus(ctx, in.GetValue())
	if err != nil {
		return nil, common.GRPCError(err)
	}
	if view.Run.CompanyName == "" || view.Run.AuditDate == "" {
		return nil, common.GRPCError(fmt.Errorf("%w: run %s has no supplier details yet", common.ErrNotReady, in.GetValue()))
	}
	data, err := s.export.AuditRecordsXLSX(ctx, view.Run.CompanyName, view.Run.AuditDate)
	if err != nil {
		s.log.Error("export.xlsx.failed", "run_id", in.GetValue(), "error", err)
		return nil, common.GRPCError(err)
	}
	return wrapperspb.Bytes(data), nil
}

func (s *RunService) Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.review == nil {
		return nil, common.GRPCError(fmt.Errorf("%w: human review is disabled", common.ErrNotReady))
	}
	f := in.GetFields()
	sup, err := s.review.Decide(ctx, f["run_id"].GetStringValue(), f["token"].GetStringValue(), f["decision"].GetStringValue())
	if err != nil {
		return nil, common.GRPCError(err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"company_name":    sup.CompanyName,
		"audit_date":      sup.AuditDate,
		"approval_status": string(sup.ApprovalStatus),
	})
	if err != nil {
		return nil, common.GRPCError(err)
	}
	return out, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// RunServiceClient calls RunService over any client connection.
type RunServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRunServiceClient(cc grpc.ClientConnInterface) *RunServiceClient {
	return &RunServiceClient{cc: cc}
}

func (c *RunServiceClient) GetRun(ctx context.Context, runID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+RunServiceName+"/GetRun", wrapperspb.String(runID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RunServiceClient) ExportAudit(ctx context.Context, runID string, opts ...grpc.CallOption) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/"+RunServiceName+"/ExportAudit", wrapperspb.String(runID), out, opts...); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

func (c *RunServiceClient) Decide(ctx context.Context, runID, token, decision string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"run_id": runID, "token": token, "decision": decision})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+RunServiceName+"/Decide", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GrpcRecorder interface {
	RecordGrpcRequest(method string, status string, duration time.Duration)
}

// GrpcMetricsInterceptor creates a gRPC interceptor for metrics and logging
func GrpcMetricsInterceptor(m GrpcRecorder, log *slog.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = slog.Default()
	}
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		duration := time.Since(start)
		code := status.Code(err)
		if m != nil {
			m.RecordGrpcRequest(info.FullMethod, code.String(), duration)
		}
		if err != nil {
			log.Warn("grpc.request.failed", "method", info.FullMethod, "code", code.String(), "error", err,
				"elapsed_ms", duration.Milliseconds())
		} else {
			log.Info("grpc.request", "method", info.FullMethod, "elapsed_ms", duration.Milliseconds())
		}
		return resp, err
	}
}
