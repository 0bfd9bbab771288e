package tagfs

import (
	"errors"
	"syscall"

	"bazil.org/fuse"
	perrors "github.com/pkg/errors"
)

// Sentinel errors the VFS Adapter returns for conditions spec.md §7
// names directly, independent of any particular backing syscall. "not a
// directory" is not among them: rmdir of a file name is forwarded to
// the backing filesystem, which already returns that errno on its own.
var (
	errNoSuchEntry  = fuse.Errno(syscall.ENOENT)
	errExists       = fuse.Errno(syscall.EEXIST)
	errPermission   = fuse.Errno(syscall.EACCES)
	errIsDirectory  = fuse.Errno(syscall.EISDIR)
	errNotEmpty     = fuse.Errno(syscall.ENOTEMPTY)
	errNotSupported = fuse.Errno(syscall.ENOTSUP)
)

// toFuseErr is the Operation Dispatcher's errno translator. Backing
// syscalls surface errors as *os.PathError or a bare syscall.Errno, and
// the registry/filetags packages wrap those with github.com/pkg/errors
// for diagnostics; toFuseErr unwraps all of that back down to the bare
// syscall.Errno the FUSE reply expects, per spec.md §7's propagation
// policy ("errno preserved, and reissued as VFS errors").
func toFuseErr(err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(fuse.Errno); ok {
		return fe
	}
	cause := perrors.Cause(err)
	var errno syscall.Errno
	if errors.As(cause, &errno) {
		return fuse.Errno(errno)
	}
	return cause
}
