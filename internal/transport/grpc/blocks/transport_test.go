package blocksgrpc_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	gocid "github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/systemshift/memex-log/internal/dag"
	blocksgrpc "github.com/systemshift/memex-log/internal/transport/grpc/blocks"
)

const bufSize = 1 << 20

// stubHandler serves blocks from memory and heads from a map.
type stubHandler struct {
	*dag.MemoryStore
	heads map[string]gocid.Cid
	err   error
}

func (s *stubHandler) Head(_ context.Context, writer string) (gocid.Cid, error) {
	if s.err != nil {
		return gocid.Undef, s.err
	}
	c, ok := s.heads[writer]
	if !ok {
		return gocid.Undef, fmt.Errorf("%w: writer %s", dag.ErrNotFound, writer)
	}
	return c, nil
}

func startServer(t *testing.T, handler blocksgrpc.Handler, tracer trace.Tracer) *blocksgrpc.Client {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer()
	blocksgrpc.RegisterBlockServiceServer(srv, blocksgrpc.NewServer(handler, tracer))
	go func() { _ = srv.Serve(lis) }()

	client, err := blocksgrpc.Dial("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		srv.GracefulStop()
	})
	return client
}

func newStub() *stubHandler {
	return &stubHandler{MemoryStore: dag.NewMemoryStore(), heads: map[string]gocid.Cid{}}
}

func TestPutGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	stub := newStub()
	client := startServer(t, stub, nil)

	data := []byte(`{"id":"A","seq":0,"ver":0,"items":[]}`)
	c, err := client.Put(ctx, data)
	require.NoError(t, err)
	require.Equal(t, "QmVkddks6YBH88TqJf7nFHdyb9PjebPmJAxaRvWdu8ueoE", c.String())
	require.Equal(t, 1, stub.Len())

	got, err := client.Get(ctx, c)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestGet_NotFound(t *testing.T) {
	client := startServer(t, newStub(), nil)

	missing, err := dag.AddressOf([]byte("absent"))
	require.NoError(t, err)
	_, err = client.Get(context.Background(), missing)
	require.ErrorIs(t, err, dag.ErrNotFound)
}

func TestHead(t *testing.T) {
	ctx := context.Background()
	stub := newStub()
	root, err := dag.AddressOf([]byte("root"))
	require.NoError(t, err)
	stub.heads["did:key:z6Mk"] = root
	client := startServer(t, stub, nil)

	got, err := client.Head(ctx, "did:key:z6Mk")
	require.NoError(t, err)
	require.True(t, got.Equals(root))

	_, err = client.Head(ctx, "unknown")
	require.ErrorIs(t, err, dag.ErrNotFound)

	_, err = client.Head(ctx, "")
	require.Error(t, err)
	require.NotErrorIs(t, err, dag.ErrNotFound)
}

func TestHead_InternalError(t *testing.T) {
	stub := newStub()
	stub.err = errors.New("disk on fire")
	client := startServer(t, stub, nil)

	_, err := client.Head(context.Background(), "A")
	require.ErrorContains(t, err, "disk on fire")
	require.NotErrorIs(t, err, dag.ErrNotFound)
}

// lyingStore answers every Get with the same block.
type lyingStore struct {
	*stubHandler
}

func (l lyingStore) Get(context.Context, gocid.Cid) ([]byte, error) {
	return []byte("not what you asked for"), nil
}

func TestGet_RejectsMismatchedBlock(t *testing.T) {
	client := startServer(t, lyingStore{newStub()}, nil)

	c, err := dag.AddressOf([]byte("expected"))
	require.NoError(t, err)
	_, err = client.Get(context.Background(), c)
	require.ErrorContains(t, err, "returned")
}

func TestServer_RecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	client := startServer(t, newStub(), tp.Tracer("test"))

	ctx := context.Background()
	c, err := client.Put(ctx, []byte("x"))
	require.NoError(t, err)
	_, err = client.Get(ctx, c)
	require.NoError(t, err)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	require.Equal(t, []string{"blocksgrpc.server.Put", "blocksgrpc.server.Get"}, names)
}
