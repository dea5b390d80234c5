package fuse

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/systemshift/memex-log/internal/dag"
)

// RootNode is the mountpoint directory.
type RootNode struct {
	fs.Inode
	view *logView
}

var _ = (fs.NodeOnAdder)((*RootNode)(nil))
var _ = (fs.NodeGetattrer)((*RootNode)(nil))

func (r *RootNode) OnAdd(ctx context.Context) {
	files := map[string]func(context.Context) ([]byte, error){
		"HEAD":  r.view.head,
		"log":   r.view.log,
		"heads": r.view.heads,
	}
	for name, gen := range files {
		f := &GeneratedFile{path: name, gen: gen}
		r.AddChild(name, r.NewPersistentInode(ctx, f, fs.StableAttr{Mode: syscall.S_IFREG, Ino: stableIno(name)}), true)
	}

	items := &ItemsDir{view: r.view}
	r.AddChild("items", r.NewPersistentInode(ctx, items, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: stableIno("items")}), true)

	history := &HistoryDir{view: r.view}
	r.AddChild("history", r.NewPersistentInode(ctx, history, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: stableIno("history")}), true)

	appendFile := &AppendFile{view: r.view}
	r.AddChild("append", r.NewPersistentInode(ctx, appendFile, fs.StableAttr{Mode: syscall.S_IFREG, Ino: stableIno("append")}), true)
}

func (r *RootNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0755
	out.Ino = stableIno("/")
	return fs.OK
}

// GeneratedFile is a read-only file whose content is rendered on each access.
type GeneratedFile struct {
	fs.Inode
	path string
	gen  func(context.Context) ([]byte, error)
}

var _ = (fs.NodeGetattrer)((*GeneratedFile)(nil))
var _ = (fs.NodeReader)((*GeneratedFile)(nil))
var _ = (fs.NodeOpener)((*GeneratedFile)(nil))

func (f *GeneratedFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	data, err := f.gen(ctx)
	if err != nil {
		return toErrno(err)
	}
	out.Mode = 0444
	out.Size = uint64(len(data))
	out.Ino = stableIno(f.path)
	return fs.OK
}

func (f *GeneratedFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EACCES
	}
	return nil, fuse.FOPEN_DIRECT_IO, fs.OK
}

func (f *GeneratedFile) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := f.gen(ctx)
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(readAt(data, dest, off)), fs.OK
}

// ItemsDir lists items by position: items/0 is the first item.
type ItemsDir struct {
	fs.Inode
	view *logView
}

var _ = (fs.NodeLookuper)((*ItemsDir)(nil))
var _ = (fs.NodeReaddirer)((*ItemsDir)(nil))
var _ = (fs.NodeGetattrer)((*ItemsDir)(nil))

func (d *ItemsDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno("items")
	return fs.OK
}

func (d *ItemsDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n, err := d.view.count(ctx)
	if err != nil {
		return nil, toErrno(err)
	}
	return fs.NewListDirStream(indexEntries("items", n)), fs.OK
}

func (d *ItemsDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	idx, err := strconv.Atoi(name)
	if err != nil || idx < 0 {
		return nil, syscall.ENOENT
	}
	if _, err := d.view.item(ctx, idx); err != nil {
		return nil, toErrno(err)
	}
	path := "items/" + name
	f := &GeneratedFile{path: path, gen: func(ctx context.Context) ([]byte, error) { return d.view.item(ctx, idx) }}
	return d.NewInode(ctx, f, fs.StableAttr{Mode: syscall.S_IFREG, Ino: stableIno(path)}), fs.OK
}

// HistoryDir lists checkpoints newest first: history/0 is the latest save.
type HistoryDir struct {
	fs.Inode
	view *logView
}

var _ = (fs.NodeLookuper)((*HistoryDir)(nil))
var _ = (fs.NodeReaddirer)((*HistoryDir)(nil))
var _ = (fs.NodeGetattrer)((*HistoryDir)(nil))

func (d *HistoryDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno("history")
	return fs.OK
}

func (d *HistoryDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	cps, err := d.view.history(ctx)
	if err != nil {
		return nil, toErrno(err)
	}
	return fs.NewListDirStream(indexEntries("history", len(cps))), fs.OK
}

func (d *HistoryDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	idx, err := strconv.Atoi(name)
	if err != nil || idx < 0 || idx >= maxHistory {
		return nil, syscall.ENOENT
	}
	if _, err := d.view.checkpoint(ctx, idx); err != nil {
		return nil, toErrno(err)
	}
	path := "history/" + name
	f := &GeneratedFile{path: path, gen: func(ctx context.Context) ([]byte, error) { return d.view.checkpoint(ctx, idx) }}
	return d.NewInode(ctx, f, fs.StableAttr{Mode: syscall.S_IFREG, Ino: stableIno(path)}), fs.OK
}

// AppendFile accepts writes; each flushed write appends one entry.
type AppendFile struct {
	fs.Inode
	view *logView
}

var _ = (fs.NodeGetattrer)((*AppendFile)(nil))
var _ = (fs.NodeSetattrer)((*AppendFile)(nil))
var _ = (fs.NodeOpener)((*AppendFile)(nil))

func (f *AppendFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0200
	out.Ino = stableIno("append")
	return fs.OK
}

func (f *AppendFile) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	// Truncation from shell redirects is accepted and ignored.
	return f.Getattr(ctx, fh, out)
}

func (f *AppendFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) == 0 {
		return nil, 0, syscall.EACCES
	}
	return &AppendHandle{view: f.view}, fuse.FOPEN_DIRECT_IO, fs.OK
}

// AppendHandle buffers writes and appends them on flush.
type AppendHandle struct {
	view *logView
	buf  []byte
}

const maxWriteSize = 16 << 20

var _ = (fs.FileWriter)((*AppendHandle)(nil))
var _ = (fs.FileFlusher)((*AppendHandle)(nil))

func (h *AppendHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	end := int(off) + len(data)
	if end > maxWriteSize {
		return 0, syscall.EFBIG
	}
	if end > len(h.buf) {
		grown := make([]byte, end)
		copy(grown, h.buf)
		h.buf = grown
	}
	copy(h.buf[off:], data)
	return uint32(len(data)), fs.OK
}

func (h *AppendHandle) Flush(ctx context.Context) syscall.Errno {
	if h.buf == nil {
		return fs.OK
	}
	buf := h.buf
	h.buf = nil
	if err := h.view.appendLine(ctx, string(buf)); err != nil {
		slog.Error("append via mount failed", "writer", h.view.writer, "error", err)
		return syscall.EIO
	}
	return fs.OK
}

func indexEntries(prefix string, n int) []fuse.DirEntry {
	entries := make([]fuse.DirEntry, n)
	for i := range entries {
		name := strconv.Itoa(i)
		entries[i] = fuse.DirEntry{Name: name, Mode: syscall.S_IFREG, Ino: stableIno(prefix + "/" + name)}
	}
	return entries
}

func toErrno(err error) syscall.Errno {
	if errors.Is(err, dag.ErrNotFound) {
		return syscall.ENOENT
	}
	return syscall.EIO
}
