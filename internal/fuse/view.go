package fuse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/systemshift/memex-log/internal/dag"
	"github.com/systemshift/memex-log/internal/list"
	"github.com/systemshift/memex-log/internal/replica"
)

const maxHistory = 64

// logView renders the file contents of the mount.
type logView struct {
	replica *replica.Replica
	writer  string
}

func (v *logView) head(ctx context.Context) ([]byte, error) {
	root, err := v.replica.Head(ctx, v.writer)
	if errors.Is(err, dag.ErrNotFound) {
		return []byte("(none)\n"), nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(root.String() + "\n"), nil
}

func (v *logView) log(ctx context.Context) ([]byte, error) {
	var out string
	err := v.replica.View(ctx, v.writer, func(l *list.List) error {
		out = l.String() + "\n"
		return nil
	})
	return []byte(out), err
}

func (v *logView) heads(ctx context.Context) ([]byte, error) {
	var b strings.Builder
	err := v.replica.View(ctx, v.writer, func(l *list.List) error {
		heads, err := l.Heads()
		if err != nil {
			return err
		}
		for _, h := range heads {
			b.WriteString(string(h.Ref()))
			b.WriteByte('\n')
		}
		return nil
	})
	return []byte(b.String()), err
}

func (v *logView) count(ctx context.Context) (int, error) {
	var n int
	err := v.replica.View(ctx, v.writer, func(l *list.List) error {
		n = l.Len()
		return nil
	})
	return n, err
}

func (v *logView) item(ctx context.Context, idx int) ([]byte, error) {
	var data []byte
	err := v.replica.View(ctx, v.writer, func(l *list.List) error {
		items := l.Items()
		if idx < 0 || idx >= len(items) {
			return fmt.Errorf("%w: item %d", dag.ErrNotFound, idx)
		}
		var err error
		data, err = list.Encode(items[idx])
		return err
	})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (v *logView) history(ctx context.Context) ([]dag.Checkpoint, error) {
	return v.replica.History(ctx, v.writer, maxHistory)
}

func (v *logView) checkpoint(ctx context.Context, idx int) ([]byte, error) {
	cps, err := v.replica.History(ctx, v.writer, idx+1)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(cps) {
		return nil, fmt.Errorf("%w: checkpoint %d", dag.ErrNotFound, idx)
	}
	data, err := json.MarshalIndent(cps[idx], "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// appendLine appends text as one string entry and saves the log.
func (v *logView) appendLine(ctx context.Context, text string) error {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	if _, err := v.replica.Append(ctx, v.writer, text); err != nil {
		return err
	}
	_, err := v.replica.Save(ctx, v.writer, "append via mount")
	return err
}
