// Package fuse exposes one writer's log as a small FUSE filesystem:
//
//	HEAD        newest saved root CID
//	log         header line plus one entry JSON per line
//	heads       compact refs of the current heads, one per line
//	items/N     entry JSON of the N-th item
//	history/N   N-th newest checkpoint, indented JSON
//	append      each flushed write becomes one entry and is saved
package fuse

import (
	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/systemshift/memex-log/internal/replica"
)

// MountFS mounts writer's log from r at mountpoint.
// Returns the server (call server.Wait() to block, server.Unmount() to stop).
func MountFS(mountpoint string, r *replica.Replica, writer string, debug bool) (*gofuse.Server, error) {
	root := &RootNode{view: &logView{replica: r, writer: writer}}

	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			FsName:        "memex-log",
			Name:          "memexlog",
			DisableXAttrs: true,
			Debug:         debug,
		},
	}
	return fs.Mount(mountpoint, root, opts)
}
