//go:build linux

package backingroot

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Stat resolves name relative to the backing root, following a trailing
// symlink, without ever composing or opening the root's own path string.
func (r *Root) Stat(name string) (os.FileInfo, error) {
	fd, err := unix.Openat(int(r.dir.Fd()), name, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "openat", Path: name, Err: err}
	}
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()
	return f.Stat()
}

// openNoFollow opens name relative to the backing root with O_PATH, the
// descriptor class reserved for addressing an entry without the
// permission to read or write through it. Combined with O_NOFOLLOW it
// pins the symlink object itself rather than its target.
func (r *Root) openNoFollow(name string) (*os.File, error) {
	fd, err := unix.Openat(int(r.dir.Fd()), name, unix.O_PATH|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "openat", Path: name, Err: err}
	}
	return os.NewFile(uintptr(fd), name), nil
}

// Lstat resolves name relative to the backing root without following a
// trailing symlink; fstat on the pinned O_PATH descriptor still reports
// the link's own metadata.
func (r *Root) Lstat(name string) (os.FileInfo, error) {
	f, err := r.openNoFollow(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Stat()
}

// ResolveNoFollow pins name's own inode (not a trailing symlink's
// target) via an O_PATH descriptor and returns a /proc/self/fd path
// that addresses it for syscalls with no dirfd-relative form, such as
// the lgetxattr/lsetxattr family. Re-resolving that magic symlink jumps
// straight to the pinned dentry and mount, so it carries none of the
// self-mount hazard backingroot.go describes for a plain path join.
// The caller must call the returned close func once done with path.
func (r *Root) ResolveNoFollow(name string) (path string, closeFn func() error, err error) {
	f, err := r.openNoFollow(name)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("/proc/self/fd/%d", f.Fd()), f.Close, nil
}

// OpenFile resolves name relative to the backing root and opens it with
// the given flags, creating it with perm if O_CREATE is set.
func (r *Root) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := unix.Openat(int(r.dir.Fd()), name, flag|unix.O_CLOEXEC, uint32(perm))
	if err != nil {
		return nil, &os.PathError{Op: "openat", Path: name, Err: err}
	}
	return os.NewFile(uintptr(fd), name), nil
}

// Mkdir creates name as a subdirectory of the backing root.
func (r *Root) Mkdir(name string, perm os.FileMode) error {
	if err := unix.Mkdirat(int(r.dir.Fd()), name, uint32(perm)); err != nil {
		return &os.PathError{Op: "mkdirat", Path: name, Err: err}
	}
	return nil
}

// Remove unlinks the regular file or symlink name.
func (r *Root) Remove(name string) error {
	if err := unix.Unlinkat(int(r.dir.Fd()), name, 0); err != nil {
		return &os.PathError{Op: "unlinkat", Path: name, Err: err}
	}
	return nil
}

// Rmdir removes the empty subdirectory name.
func (r *Root) Rmdir(name string) error {
	if err := unix.Unlinkat(int(r.dir.Fd()), name, unix.AT_REMOVEDIR); err != nil {
		return &os.PathError{Op: "unlinkat", Path: name, Err: err}
	}
	return nil
}

// Rename moves oldname (resolved against r) to newname (resolved against
// newRoot), which are the same backing root in every tagfs call site
// since the whole tree shares one backing directory.
func (r *Root) Rename(oldname string, newRoot *Root, newname string) error {
	if err := unix.Renameat(int(r.dir.Fd()), oldname, int(newRoot.dir.Fd()), newname); err != nil {
		return &os.PathError{Op: "renameat", Path: oldname, Err: err}
	}
	return nil
}

// Symlink creates name as a symlink pointing at target.
func (r *Root) Symlink(target, name string) error {
	if err := unix.Symlinkat(target, int(r.dir.Fd()), name); err != nil {
		return &os.PathError{Op: "symlinkat", Path: name, Err: err}
	}
	return nil
}

// Link creates name as a hard link to oldname, both resolved against r.
func (r *Root) Link(oldname, name string) error {
	if err := unix.Linkat(int(r.dir.Fd()), oldname, int(r.dir.Fd()), name, 0); err != nil {
		return &os.PathError{Op: "linkat", Path: name, Err: err}
	}
	return nil
}

// Readlink returns the target of the symlink name.
func (r *Root) Readlink(name string) (string, error) {
	buf := make([]byte, 1024)
	for {
		n, err := unix.Readlinkat(int(r.dir.Fd()), name, buf)
		if err != nil {
			return "", &os.PathError{Op: "readlinkat", Path: name, Err: err}
		}
		if n < len(buf) {
			return string(buf[:n]), nil
		}
		buf = make([]byte, len(buf)*2)
	}
}

// Mknod creates name as a device, fifo, or socket node.
func (r *Root) Mknod(name string, mode uint32, dev int) error {
	if err := unix.Mknodat(int(r.dir.Fd()), name, mode, dev); err != nil {
		return &os.PathError{Op: "mknodat", Path: name, Err: err}
	}
	return nil
}

// Chmod changes the permission bits of name.
func (r *Root) Chmod(name string, mode os.FileMode) error {
	if err := unix.Fchmodat(int(r.dir.Fd()), name, uint32(mode), 0); err != nil {
		return &os.PathError{Op: "fchmodat", Path: name, Err: err}
	}
	return nil
}

// Chown changes the owning uid/gid of name. Either may be -1 to leave
// that field unchanged.
func (r *Root) Chown(name string, uid, gid int) error {
	if err := unix.Fchownat(int(r.dir.Fd()), name, uid, gid, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return &os.PathError{Op: "fchownat", Path: name, Err: err}
	}
	return nil
}

// Chtimes sets the access and modification times of name.
func (r *Root) Chtimes(name string, atime, mtime time.Time) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(int(r.dir.Fd()), name, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return &os.PathError{Op: "utimensat", Path: name, Err: err}
	}
	return nil
}
