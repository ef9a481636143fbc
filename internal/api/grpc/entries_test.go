package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"

	"github.com/autotable/autotable/internal/engine"
	autoerrors "github.com/autotable/autotable/internal/errors"
	"github.com/autotable/autotable/internal/store/sqlite"
	"github.com/autotable/autotable/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, opts ...engine.Option) (*Client, *engine.Engine) {
	t.Helper()
	exec, err := sqlite.Open(sqlite.DefaultConfig(filepath.Join(t.TempDir(), "store.db")))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { exec.Close() })
	eng := engine.New(exec, append([]engine.Option{engine.WithLogger(quietLogger())}, opts...)...)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	NewEntryServer(eng, quietLogger()).Register(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn), eng
}

func TestEntryService_InsertAndUpdate(t *testing.T) {
	client, eng := newTestClient(t)
	ctx := context.Background()

	e := types.NewEntry("events", "k1")
	e.Fields.Set("a", "1")
	if err := client.Insert(ctx, e); err != nil {
		t.Fatalf("insert: %v", err)
	}

	e.Fields.Set("b", "2")
	var header metadata.MD
	ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", "req-42")
	if err := client.Update(ctx, e, grpc.Header(&header)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := header.Get("x-request-id"); len(got) != 1 || got[0] != "req-42" {
		t.Errorf("x-request-id header = %v", got)
	}

	d, _ := eng.Catalog().Get("events")
	if !d.Has("a") || !d.Has("b") {
		t.Errorf("columns = %v", d.Columns())
	}
	if totals := eng.Stats().Totals(); totals.Inserts != 1 || totals.Updates != 1 {
		t.Errorf("stats = %+v", totals)
	}
}

func TestEntryService_StatusCodes(t *testing.T) {
	client, _ := newTestClient(t, engine.WithStrictUpdate(true))
	ctx := context.Background()

	if err := client.Insert(ctx, types.NewEntry("events", "dup")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"duplicate", func() error { return client.Insert(ctx, types.NewEntry("events", "dup")) }, codes.AlreadyExists},
		{"missing key", func() error { return client.Insert(ctx, types.NewEntry("events", "")) }, codes.InvalidArgument},
		{"bad table", func() error { return client.Insert(ctx, types.NewEntry("a-b", "k")) }, codes.InvalidArgument},
		{"strict miss", func() error { return client.Update(ctx, types.NewEntry("events", "ghost")) }, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.Code(tt.call()); got != tt.want {
				t.Errorf("code = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntryFromStruct(t *testing.T) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"table":  "events",
		"key":    "k",
		"fields": map[string]interface{}{"b": "2", "a": "1"},
		"children": []interface{}{
			map[string]interface{}{"table": "lines", "key": "l1"},
		},
	})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}

	e, err := EntryFromStruct(s)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if e.Table != "events" || e.Key != "k" {
		t.Errorf("entry = %+v", e)
	}
	if names := e.FieldNames(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("field names = %v, want [a b]", names)
	}
	if len(e.Children) != 1 || e.Children[0].Table != "lines" {
		t.Errorf("children = %+v", e.Children)
	}

	bad := []map[string]interface{}{
		{"table": 1.0, "key": "k"},
		{"table": "t", "key": "k", "fields": "x"},
		{"table": "t", "key": "k", "fields": map[string]interface{}{"a": true}},
		{"table": "t", "key": "k", "children": "x"},
	}
	for _, m := range bad {
		s, _ := structpb.NewStruct(m)
		if _, err := EntryFromStruct(s); err == nil {
			t.Errorf("EntryFromStruct(%v) should fail", m)
		}
	}
}

func TestCodeFor(t *testing.T) {
	unavailable := autoerrors.NewStoreUnavailable("busy", errors.New("database is locked"))
	tests := []struct {
		err  error
		want codes.Code
	}{
		{autoerrors.NewInvalidEntry(types.ErrEmptyTable), codes.InvalidArgument},
		{autoerrors.NewDuplicateKey("t", "k", nil), codes.AlreadyExists},
		{autoerrors.NewNotFound("t", "k"), codes.NotFound},
		{unavailable, codes.Unavailable},
		{autoerrors.NewSchemaSyncFailed("t", unavailable), codes.Unavailable},
		{autoerrors.NewWriteFailed("t", errors.New("x")), codes.Internal},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
	}
	for _, tt := range tests {
		if got := codeFor(tt.err); got != tt.want {
			t.Errorf("codeFor(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
