package handler

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/core/service"
)

const (
	ServiceName = "itam.v1.Lifecycle"

	// CodecName is the content-subtype clients must select, e.g. with
	// grpc.CallContentSubtype(CodecName).
	CodecName = "json"

	actorMetadataKey = "x-actor-id"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries the same JSON request and envelope types the HTTP API
// uses, so no generated protobuf code is needed.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return CodecName }

type RunChecksRequest struct{}

// LifecycleServer is the gRPC surface of the lifecycle engine.
type LifecycleServer interface {
	AssignAsset(ctx context.Context, req *AssignAssetRequest) (*Response, error)
	ReturnAsset(ctx context.Context, req *ReturnAssetRequest) (*Response, error)
	ChangeAssetStatus(ctx context.Context, req *ChangeStatusRequest) (*Response, error)
	AssignLicense(ctx context.Context, req *AssignLicenseRequest) (*Response, error)
	RevokeLicense(ctx context.Context, req *RevokeLicenseRequest) (*Response, error)
	BulkReturn(ctx context.Context, req *BulkReturnRequest) (*Response, error)
	RunAllChecks(ctx context.Context, req *RunChecksRequest) (*Response, error)
}

type GRPCHandler struct {
	lifecycle     *service.LifecycleService
	notifications *service.NotificationService
	logger        *zap.Logger
}

var _ LifecycleServer = (*GRPCHandler)(nil)

func NewGRPCHandler(lifecycle *service.LifecycleService, notifications *service.NotificationService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{lifecycle: lifecycle, notifications: notifications, logger: logger}
}

func RegisterLifecycleServer(s grpc.ServiceRegistrar, srv LifecycleServer) {
	s.RegisterService(&lifecycleServiceDesc, srv)
}

func (h *GRPCHandler) AssignAsset(ctx context.Context, req *AssignAssetRequest) (*Response, error) {
	assignment, err := h.lifecycle.AssignAsset(ctx, actorFrom(ctx), req.AssetID, req.UserID, req.AssignmentType, req.IsPrimary)
	return h.envelope("AssignAsset", assignment, "asset assigned", err), nil
}

func (h *GRPCHandler) ReturnAsset(ctx context.Context, req *ReturnAssetRequest) (*Response, error) {
	asset, err := h.lifecycle.ReturnAsset(ctx, actorFrom(ctx), req.AssetID)
	return h.envelope("ReturnAsset", asset, "asset returned", err), nil
}

func (h *GRPCHandler) ChangeAssetStatus(ctx context.Context, req *ChangeStatusRequest) (*Response, error) {
	asset, err := h.lifecycle.ChangeAssetStatus(ctx, actorFrom(ctx), req.AssetID, req.Status, req.Reason)
	return h.envelope("ChangeAssetStatus", asset, "status changed", err), nil
}

func (h *GRPCHandler) AssignLicense(ctx context.Context, req *AssignLicenseRequest) (*Response, error) {
	change, err := h.lifecycle.AssignLicense(ctx, actorFrom(ctx), req.LicenseID, req.UserID, req.AssetID)
	return h.envelope("AssignLicense", change, "license assigned", err), nil
}

func (h *GRPCHandler) RevokeLicense(ctx context.Context, req *RevokeLicenseRequest) (*Response, error) {
	change, err := h.lifecycle.RevokeLicense(ctx, actorFrom(ctx), req.AssignmentID)
	return h.envelope("RevokeLicense", change, "license revoked", err), nil
}

func (h *GRPCHandler) BulkReturn(ctx context.Context, req *BulkReturnRequest) (*Response, error) {
	result, err := h.lifecycle.BulkReturn(ctx, actorFrom(ctx), req.UserID)
	return h.envelope("BulkReturn", result, "user offboarded", err), nil
}

func (h *GRPCHandler) RunAllChecks(ctx context.Context, _ *RunChecksRequest) (*Response, error) {
	counts, err := h.notifications.RunAllChecks(ctx)
	switch {
	case errors.Is(err, service.ErrCheckInProgress):
		return &Response{Message: err.Error()}, nil
	case err != nil && counts != nil:
		h.logger.Error("notification rules failed", zap.Error(err))
		return &Response{Data: counts, Message: "some notification rules failed"}, nil
	}
	return h.envelope("RunAllChecks", counts, "notification checks finished", err), nil
}

func (h *GRPCHandler) envelope(method string, data any, message string, err error) *Response {
	if err == nil {
		return &Response{Success: true, Data: data, Message: message}
	}
	if !domain.IsDomain(err) || errors.Is(err, domain.ErrConsistency) {
		h.logger.Error("grpc call failed", zap.String("method", method), zap.Error(err))
	}
	_, msg := errorStatus(err)
	return &Response{Message: msg}
}

func actorFrom(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(actorMetadataKey); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return defaultActor
}

func unary[Req any](name string, call func(LifecycleServer, context.Context, *Req) (*Response, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LifecycleServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(LifecycleServer), ctx, req.(*Req))
			})
		},
	}
}

var lifecycleServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LifecycleServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("AssignAsset", LifecycleServer.AssignAsset),
		unary("ReturnAsset", LifecycleServer.ReturnAsset),
		unary("ChangeAssetStatus", LifecycleServer.ChangeAssetStatus),
		unary("AssignLicense", LifecycleServer.AssignLicense),
		unary("RevokeLicense", LifecycleServer.RevokeLicense),
		unary("BulkReturn", LifecycleServer.BulkReturn),
		unary("RunAllChecks", LifecycleServer.RunAllChecks),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "itam/v1/lifecycle",
}
