// Package grpc exposes the write engine as the autotable.v1.EntryService
// gRPC service. Requests are google.protobuf.Struct messages shaped like the
// HTTP entry body, so no generated code is needed.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	autoerrors "github.com/autotable/autotable/internal/errors"
	"github.com/autotable/autotable/pkg/types"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "autotable.v1.EntryService"

	insertMethod = "/" + ServiceName + "/Insert"
	updateMethod = "/" + ServiceName + "/Update"

	requestIDHeader = "x-request-id"
)

// Writer is the part of the engine the service needs.
type Writer interface {
	Insert(ctx context.Context, entry types.Entry) error
	Update(ctx context.Context, entry types.Entry) error
}

// EntryServer implements autotable.v1.EntryService.
type EntryServer struct {
	writer Writer
	logger *slog.Logger
}

// NewEntryServer creates a gRPC entry server.
func NewEntryServer(w Writer, logger *slog.Logger) *EntryServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntryServer{writer: w, logger: logger}
}

// Register adds the service to s.
func (s *EntryServer) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&serviceDesc, s)
}

// Insert writes a new entry.
func (s *EntryServer) Insert(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	return s.write(ctx, "insert", req, s.writer.Insert)
}

// Update changes an existing entry.
func (s *EntryServer) Update(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	return s.write(ctx, "update", req, s.writer.Update)
}

func (s *EntryServer) write(ctx context.Context, op string, req *structpb.Struct, fn func(context.Context, types.Entry) error) (*emptypb.Empty, error) {
	requestID := extractRequestID(ctx)
	grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, requestID))

	entry, err := EntryFromStruct(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid entry: %v", err)
	}

	if err := fn(ctx, entry); err != nil {
		code := codeFor(err)
		if code == codes.Internal || code == codes.Unavailable {
			s.logger.ErrorContext(ctx, "grpc write failed",
				"op", op, "table", entry.Table, "key", entry.Key, "request_id", requestID, "err", err)
		}
		return nil, status.Error(code, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// codeFor maps an engine error to a gRPC status code.
func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, autoerrors.ErrInvalidEntry), errors.Is(err, autoerrors.ErrInvalidIdentifier):
		return codes.InvalidArgument
	case errors.Is(err, autoerrors.ErrDuplicateKey):
		return codes.AlreadyExists
	case errors.Is(err, autoerrors.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, autoerrors.ErrStoreUnavailable):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// EntryFromStruct converts a request message into an entry. Field values
// must be strings; children must be structs of the same shape.
func EntryFromStruct(s *structpb.Struct) (types.Entry, error) {
	var entry types.Entry
	if s == nil {
		return entry, fmt.Errorf("empty request")
	}
	m := s.GetFields()

	var err error
	if entry.Table, err = stringField(m, "table"); err != nil {
		return entry, err
	}
	if entry.Key, err = stringField(m, "key"); err != nil {
		return entry, err
	}

	if v, ok := m["fields"]; ok {
		fs := v.GetStructValue()
		if fs == nil {
			return entry, fmt.Errorf("fields must be an object")
		}
		values := make(map[string]string, len(fs.GetFields()))
		for name, fv := range fs.GetFields() {
			sv, ok := fv.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return entry, fmt.Errorf("field %q must be a string", name)
			}
			values[name] = sv.StringValue
		}
		// Struct fields are unordered; columns are added in name order.
		entry.Fields = types.FieldsFrom(values)
	}

	if v, ok := m["children"]; ok {
		list := v.GetListValue()
		if list == nil {
			return entry, fmt.Errorf("children must be a list")
		}
		for i, cv := range list.GetValues() {
			child, err := EntryFromStruct(cv.GetStructValue())
			if err != nil {
				return entry, fmt.Errorf("child %d: %w", i, err)
			}
			entry.Children = append(entry.Children, child)
		}
	}
	return entry, nil
}

// StructFromEntry builds a request message for entry.
func StructFromEntry(entry types.Entry) (*structpb.Struct, error) {
	return structpb.NewStruct(entryMap(entry))
}

func entryMap(entry types.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"table": entry.Table,
		"key":   entry.Key,
	}
	if entry.Fields != nil {
		fields := make(map[string]interface{}, entry.Fields.Len())
		entry.Fields.Range(func(name, value string) bool {
			fields[name] = value
			return true
		})
		m["fields"] = fields
	}
	if len(entry.Children) > 0 {
		children := make([]interface{}, len(entry.Children))
		for i, c := range entry.Children {
			children[i] = entryMap(c)
		}
		m["children"] = children
	}
	return m
}

func stringField(m map[string]*structpb.Value, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%s must be a string", name)
	}
	return sv.StringValue, nil
}

// extractRequestID takes the request ID from incoming metadata or generates one.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(requestIDHeader); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return uuid.New().String()
}

// entryService is the server interface the service descriptor dispatches to.
type entryService interface {
	Insert(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Update(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*entryService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Insert", Handler: unaryHandler(insertMethod, entryService.Insert)},
		{MethodName: "Update", Handler: unaryHandler(updateMethod, entryService.Update)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "autotable/v1/entry.proto",
}

func unaryHandler(fullMethod string, call func(entryService, context.Context, *structpb.Struct) (*emptypb.Empty, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(entryService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(entryService), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client calls autotable.v1.EntryService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Insert sends an Insert call.
func (c *Client) Insert(ctx context.Context, entry types.Entry, opts ...grpc.CallOption) error {
	return c.invoke(ctx, insertMethod, entry, opts...)
}

// Update sends an Update call.
func (c *Client) Update(ctx context.Context, entry types.Entry, opts ...grpc.CallOption) error {
	return c.invoke(ctx, updateMethod, entry, opts...)
}

func (c *Client) invoke(ctx context.Context, method string, entry types.Entry, opts ...grpc.CallOption) error {
	req, err := StructFromEntry(entry)
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, method, req, new(emptypb.Empty), opts...)
}
