package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	gocid "github.com/ipfs/go-cid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/systemshift/memex-log/internal/app"
	"github.com/systemshift/memex-log/internal/dag"
	memexfuse "github.com/systemshift/memex-log/internal/fuse"
	"github.com/systemshift/memex-log/internal/list"
	blocksgrpc "github.com/systemshift/memex-log/internal/transport/grpc/blocks"
)

type cli struct {
	app    *app.App
	cfg    app.Config
	logger *slog.Logger
	out    io.Writer
	errOut io.Writer
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	return fs
}

func (c *cli) append(ctx context.Context, args []string) error {
	fs := c.flags("append")
	asJSON := fs.Bool("json", false, "parse each payload as a JSON value")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("usage: append [-json] <payload>...")
	}

	r, writer := c.app.Replica(), c.app.Writer()
	for _, arg := range fs.Args() {
		var data interface{} = arg
		if *asJSON {
			data = json.RawMessage(arg)
		}
		e, err := r.Append(ctx, writer, data)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(c.out, e.Ref())
	}
	root, err := r.Save(ctx, writer, fmt.Sprintf("append %d", fs.NArg()))
	if err != nil {
		return err
	}
	c.logger.Info("saved", "writer", dag.Petname(writer), "root", root)
	return nil
}

func (c *cli) show(ctx context.Context) error {
	return c.app.Replica().View(ctx, c.app.Writer(), func(l *list.List) error {
		_, err := fmt.Fprintln(c.out, l.String())
		return err
	})
}

func (c *cli) heads(ctx context.Context) error {
	return c.app.Replica().View(ctx, c.app.Writer(), func(l *list.List) error {
		heads, err := l.Heads()
		if err != nil {
			return err
		}
		for _, h := range heads {
			_, _ = fmt.Fprintln(c.out, h.Ref())
		}
		return nil
	})
}

func (c *cli) history(ctx context.Context, args []string) error {
	fs := c.flags("history")
	n := fs.Int("n", 20, "number of checkpoints to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cps, err := c.app.Replica().History(ctx, c.app.Writer(), *n)
	if err != nil {
		return err
	}
	for _, cp := range cps {
		_, _ = fmt.Fprintf(c.out, "%s  %s  seq=%d ver=%d items=%d  %s\n",
			cp.Timestamp.Format("2006-01-02 15:04:05"), cp.Root, cp.Seq, cp.Ver, cp.Items, cp.Message)
	}
	return nil
}

// join pulls a peer's log into the local one. With -from the blocks and the
// peer head come from that replica; otherwise root must already be in the
// local store.
func (c *cli) join(ctx context.Context, args []string) error {
	fs := c.flags("join")
	from := fs.String("from", "", "gRPC address of the peer replica")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return errors.New("usage: join [-from host:port] <peer-writer> [root]")
	}
	peer := fs.Arg(0)

	r := c.app.Replica()
	var remote dag.ContentStore = r
	root := gocid.Undef
	if *from != "" {
		client, err := blocksgrpc.Dial(*from, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		remote = client
		if fs.NArg() == 1 {
			if root, err = client.Head(ctx, peer); err != nil {
				return fmt.Errorf("head of %s at %s: %w", peer, *from, err)
			}
		}
	}
	if fs.NArg() == 2 {
		var err error
		if root, err = dag.ParseCID(fs.Arg(1)); err != nil {
			return err
		}
	}
	if !root.Defined() {
		return errors.New("join: root is required without -from")
	}

	joined, err := r.Pull(ctx, c.app.Writer(), peer, remote, root)
	if err != nil {
		return err
	}
	if !joined {
		_, _ = fmt.Fprintf(c.out, "%s at %s already joined\n", dag.Petname(peer), root)
		return nil
	}
	head, err := r.Head(ctx, c.app.Writer())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, head)
	return nil
}

// pulls lists the newest root joined from each peer.
func (c *cli) pulls() error {
	for _, rec := range c.app.Replica().Repository().Pulls.Records(c.app.Writer()) {
		_, _ = fmt.Fprintf(c.out, "%s  %-24s %s\n", rec.At.Format("2006-01-02 15:04:05"), dag.Petname(rec.Peer), rec.Root)
	}
	return nil
}

func (c *cli) mount(ctx context.Context, args []string) error {
	fs := c.flags("mount")
	debug := fs.Bool("debug", false, "log FUSE requests")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: mount [-debug] <mountpoint>")
	}
	mountpoint := fs.Arg(0)
	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return fmt.Errorf("create mountpoint: %w", err)
	}

	server, err := memexfuse.MountFS(mountpoint, c.app.Replica(), c.app.Writer(), *debug)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	go func() {
		<-ctx.Done()
		c.logger.Info("unmounting", "mountpoint", mountpoint)
		if err := server.Unmount(); err != nil {
			c.logger.Warn("unmount failed", "error", err)
		}
	}()

	c.logger.Info("mounted", "mountpoint", mountpoint, "writer", dag.Petname(c.app.Writer()), "pid", os.Getpid())
	server.Wait()
	return nil
}
