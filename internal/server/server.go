// Package server implements the gRPC leostore service
package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/leostore/internal/logger"
	"github.com/nainya/leostore/internal/metrics"
	"github.com/nainya/leostore/internal/service"
	"github.com/nainya/leostore/pkg/delta"
	"github.com/nainya/leostore/pkg/document"
	"github.com/nainya/leostore/pkg/extract"
	"github.com/nainya/leostore/pkg/version"
)

// Server implements DocumentStoreServer on top of the ingest service
type Server struct {
	svc *service.Service
	log *logger.Logger
}

// NewServer creates a new gRPC server implementation
func NewServer(svc *service.Service, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{svc: svc, log: log}
}

// NewGRPCServer builds a grpc.Server with metrics and logging, and registers s on it
func NewGRPCServer(s *Server, m *metrics.Metrics, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(100 * 1024 * 1024), // 100 MB
		grpc.MaxSendMsgSize(100 * 1024 * 1024), // 100 MB
		grpc.UnaryInterceptor(GrpcMetricsInterceptor(m, s.log)),
	}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterDocumentStoreServer(gs, s)
	return gs
}

// ========== Requests ==========

type ingestRequest struct {
	Class string `json:"class"`
	HTML  string `json:"html"`
}

type upsertRequest struct {
	Class   string         `json:"class"`
	Content map[string]any `json:"content"`
}

type historyRequest struct {
	Class  string   `json:"class"`
	UID    string   `json:"uid"`
	Limit  *float64 `json:"limit"`
	Window string   `json:"window"`
	AsOf   string   `json:"as_of"`
}

type faultView struct {
	Section int    `json:"section"`
	Rule    string `json:"rule"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

// decode maps a request struct onto a typed request through JSON.
func decode(in *structpb.Struct, out any) error {
	data, err := in.MarshalJSON()
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

// encode converts any JSON-marshalable response into a Struct.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps library errors onto gRPC codes
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, document.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, document.ErrExists):
		code = codes.AlreadyExists
	case errors.Is(err, service.ErrUnknownClass),
		errors.Is(err, extract.ErrEmptyDocument),
		errors.Is(err, version.ErrBeforeCreation):
		code = codes.InvalidArgument
	case errors.Is(err, service.ErrNoParser):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

// ========== Document Operations ==========

func (s *Server) Ingest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ingestRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.HTML == "" {
		return nil, status.Error(codes.InvalidArgument, "html is required")
	}

	report, err := s.svc.Ingest(ctx, req.Class, []byte(req.HTML))
	if err != nil {
		return nil, toStatus(err)
	}

	faults := make([]faultView, len(report.Result.Faults))
	for i, f := range report.Result.Faults {
		faults[i] = faultView{Section: f.Section, Rule: f.Rule, Kind: f.Kind.String(), Error: f.Err.Error()}
	}
	return encode(map[string]any{
		"records": outcomeViews(report.Outcomes),
		"faults":  faults,
	})
}

func (s *Server) Upsert(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req upsertRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.Content == nil {
		return nil, status.Error(codes.InvalidArgument, "content is required")
	}

	out, err := s.svc.Upsert(ctx, req.Class, req.Content)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(outcomeView(out))
}

func (s *Server) History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req historyRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.UID == "" {
		return nil, status.Error(codes.InvalidArgument, "uid is required")
	}

	if req.AsOf != "" {
		at, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "as_of: %v", err)
		}
		content, err := s.svc.AsOf(ctx, req.Class, req.UID, at)
		if err != nil {
			return nil, toStatus(err)
		}
		return encode(map[string]any{"content": content})
	}

	var (
		snaps []version.Snapshot
		err   error
	)
	if req.Window != "" {
		w, perr := version.ParseWindow(req.Window)
		if perr != nil {
			return nil, status.Error(codes.InvalidArgument, perr.Error())
		}
		snaps, err = s.svc.Window(ctx, req.Class, req.UID, w)
	} else {
		limit := -1
		if req.Limit != nil {
			limit = int(*req.Limit)
		}
		snaps, err = s.svc.History(ctx, req.Class, req.UID, version.Query{Limit: limit})
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(map[string]any{"snapshots": snaps})
}

func outcomeView(o service.Outcome) map[string]any {
	d := o.Delta
	if d == nil {
		d = delta.Delta{}
	}
	changes := make([]string, len(d))
	for i, op := range d {
		changes[i] = op.String()
	}
	return map[string]any{
		"uid":     o.UID,
		"status":  o.Status(),
		"delta":   d,
		"changes": changes,
	}
}

func outcomeViews(outs []service.Outcome) []map[string]any {
	views := make([]map[string]any, len(outs))
	for i, o := range outs {
		views[i] = outcomeView(o)
	}
	return views
}
