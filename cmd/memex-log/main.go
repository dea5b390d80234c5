// Command memex-log manages per-writer append-only logs that can be joined
// across replicas.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/systemshift/memex-log/internal/app"
)

const usage = `Usage:
  memex-log [-data dir] [-writer id] append [-json] <payload>...
  memex-log [-data dir] [-writer id] show
  memex-log [-data dir] [-writer id] heads
  memex-log [-data dir] [-writer id] history [-n count]
  memex-log [-data dir] [-writer id] join [-from host:port] <peer-writer> [root]
  memex-log [-data dir] [-writer id] pulls
  memex-log [-data dir] [-writer id] serve
  memex-log [-data dir] [-writer id] mount [-debug] <mountpoint>

Settings not given as flags come from APP_* environment variables
(APP_DATA_DIR, APP_WRITER_ID, APP_STORE, APP_PEERS, ...). Without a writer id
the did:key of the local identity file is used.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := app.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("memex-log", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = fmt.Fprint(stderr, usage) }
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "data directory (contains .mx/)")
	fs.StringVar(&cfg.WriterID, "writer", cfg.WriterID, "writer id of the local log")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("subcommand required: append | show | heads | history | join | pulls | serve | mount")
	}

	logger := app.NewLogger(stderr, cfg.LogLevel)
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	c := &cli{app: a, cfg: cfg, logger: logger, out: stdout, errOut: stderr}

	switch rest[0] {
	case "append":
		return c.append(ctx, rest[1:])
	case "show":
		return c.show(ctx)
	case "heads":
		return c.heads(ctx)
	case "history":
		return c.history(ctx, rest[1:])
	case "join":
		return c.join(ctx, rest[1:])
	case "pulls":
		return c.pulls()
	case "serve":
		return a.Run(ctx)
	case "mount":
		return c.mount(ctx, rest[1:])
	default:
		fs.Usage()
		return fmt.Errorf("unknown subcommand %q", rest[0])
	}
}
