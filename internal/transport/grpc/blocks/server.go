package blocksgrpc

import (
	"context"
	"errors"

	gocid "github.com/ipfs/go-cid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/systemshift/memex-log/internal/dag"
)

// Handler is what the server exposes: a content store plus the newest saved
// root of each writer. *replica.Replica satisfies this interface.
type Handler interface {
	dag.ContentStore
	Head(ctx context.Context, writer string) (gocid.Cid, error)
}

// Server implements BlockServiceServer by delegating to a Handler.
type Server struct {
	handler Handler
	tracer  oteltrace.Tracer
}

// NewServer creates a BlockService adapter for handler. A nil tracer
// disables spans.
func NewServer(handler Handler, tracer oteltrace.Tracer) *Server {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Server{handler: handler, tracer: tracer}
}

// Put stores the node data in the request.
func (s *Server) Put(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	ctx, span := s.tracer.Start(ctx, "blocksgrpc.server.Put", oteltrace.WithAttributes(attribute.Int("block.bytes", len(req.GetValue()))))
	defer span.End()

	c, err := s.handler.Put(ctx, req.GetValue())
	if err != nil {
		recordSpanError(span, err)
		return nil, toGRPCStatus(err)
	}
	span.SetAttributes(attribute.String("block.cid", c.String()))
	return wrapperspb.String(c.String()), nil
}

// Get returns the node data stored under the requested CID.
func (s *Server) Get(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	ctx, span := s.tracer.Start(ctx, "blocksgrpc.server.Get", oteltrace.WithAttributes(attribute.String("block.cid", req.GetValue())))
	defer span.End()

	c, err := dag.ParseCID(req.GetValue())
	if err != nil {
		recordSpanError(span, err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	data, err := s.handler.Get(ctx, c)
	if err != nil {
		recordSpanError(span, err)
		return nil, toGRPCStatus(err)
	}
	return wrapperspb.Bytes(data), nil
}

// Head returns the newest saved root of the requested writer.
func (s *Server) Head(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	ctx, span := s.tracer.Start(ctx, "blocksgrpc.server.Head", oteltrace.WithAttributes(attribute.String("log.writer", req.GetValue())))
	defer span.End()

	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "writer id is required")
	}
	c, err := s.handler.Head(ctx, req.GetValue())
	if err != nil {
		recordSpanError(span, err)
		return nil, toGRPCStatus(err)
	}
	return wrapperspb.String(c.String()), nil
}

func toGRPCStatus(err error) error {
	switch {
	case errors.Is(err, dag.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func recordSpanError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
