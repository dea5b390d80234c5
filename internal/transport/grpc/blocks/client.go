// Package blocksgrpc serves a node's content store and saved heads over
// gRPC, and provides the matching client used to pull from peers.
package blocksgrpc

import (
	"context"
	"errors"
	"fmt"

	gocid "github.com/ipfs/go-cid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/systemshift/memex-log/internal/dag"
)

// Client is a remote dag.ContentStore over a gRPC connection. Every block
// it returns is checked against the address it was requested by.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a BlockService at target.
// The connection is established lazily on the first RPC call.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("blocks client: dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Put sends data to the peer and checks the address it reports.
func (c *Client) Put(ctx context.Context, data []byte) (gocid.Cid, error) {
	want, err := dag.AddressOf(data)
	if err != nil {
		return gocid.Undef, err
	}
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, methodPut, wrapperspb.Bytes(data), out); err != nil {
		return gocid.Undef, fromGRPCStatus(err)
	}
	got, err := dag.ParseCID(out.GetValue())
	if err != nil {
		return gocid.Undef, err
	}
	if !got.Equals(want) {
		return gocid.Undef, fmt.Errorf("blocks client: peer stored %s, expected %s", got, want)
	}
	return got, nil
}

// Get fetches the node data stored under addr.
func (c *Client) Get(ctx context.Context, addr gocid.Cid) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, methodGet, wrapperspb.String(addr.String()), out); err != nil {
		return nil, fromGRPCStatus(err)
	}
	got, err := dag.AddressOf(out.GetValue())
	if err != nil {
		return nil, err
	}
	if !got.Equals(addr) {
		return nil, fmt.Errorf("blocks client: peer returned %s for %s", got, addr)
	}
	return out.GetValue(), nil
}

// Head asks the peer for writer's newest saved root.
func (c *Client) Head(ctx context.Context, writer string) (gocid.Cid, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, methodHead, wrapperspb.String(writer), out); err != nil {
		return gocid.Undef, fromGRPCStatus(err)
	}
	return dag.ParseCID(out.GetValue())
}

// DialPeers dials all peers and returns clients keyed by writer id.
// On any dial failure the already-opened connections are closed.
func DialPeers(addresses map[string]string, opts ...grpc.DialOption) (map[string]*Client, error) {
	peers := make(map[string]*Client, len(addresses))
	for id, addr := range addresses {
		pc, err := Dial(addr, opts...)
		if err != nil {
			for _, p := range peers {
				_ = p.Close()
			}
			return nil, fmt.Errorf("dial peer %s at %s: %w", id, addr, err)
		}
		peers[id] = pc
	}
	return peers, nil
}

func fromGRPCStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", dag.ErrNotFound, st.Message())
	case codes.Canceled:
		return errors.Join(context.Canceled, err)
	case codes.DeadlineExceeded:
		return errors.Join(context.DeadlineExceeded, err)
	}
	return err
}

var (
	_ dag.ContentStore   = (*Client)(nil)
	_ BlockServiceServer = (*Server)(nil)
)
