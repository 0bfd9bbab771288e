// Package backingroot resolves every path the VFS Adapter needs against
// a directory file descriptor captured once, before the FUSE mount is
// established, rather than against the mountpoint's path string.
//
// spec.md mounts tagfs directly over its backing directory (the same
// path is both backing root and mountpoint), so any subsequent path-based
// open of that same absolute path would walk back down through the new
// mount and re-enter this server. Resolving everything relative to an
// already-open directory descriptor (the *at family of syscalls) sidesteps
// that self-mount recursion entirely, and — per spec.md §5's concurrency
// note — also avoids relying on the single process-wide working directory,
// which would otherwise race across the goroutines bazil.org/fuse spawns
// per request.
package backingroot

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Root is the open backing directory every file-branch and tag-branch
// operation resolves names against.
type Root struct {
	dir *os.File
}

// Open captures the backing directory's descriptor before the caller
// mounts a filesystem over the same path.
func Open(path string) (*Root, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving absolute path for %s", path)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "opening backing root %s", abs)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "statting backing root %s", abs)
	}
	if !info.IsDir() {
		f.Close()
		return nil, errors.Errorf("%s is not a directory", abs)
	}
	return &Root{dir: f}, nil
}

// File returns the directory handle itself, for callers (the Tag
// Registry) that need to get/set an xattr on the backing root.
func (r *Root) File() *os.File { return r.dir }

// Close releases the backing directory's descriptor.
func (r *Root) Close() error { return r.dir.Close() }
