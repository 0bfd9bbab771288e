//go:build !linux

package backingroot

import (
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// On non-Linux platforms there is no portable *at syscall family exposed
// by golang.org/x/sys/unix with matching semantics across darwin/bsd, so
// these fall back to plain path joins against the backing root's own
// path. That reopens the self-mount hazard backingroot.go documents;
// tagfs is developed and exercised on linux, and this file exists only
// so the rest of the module still builds elsewhere.
func (r *Root) resolve(name string) string {
	return filepath.Join(r.dir.Name(), name)
}

func (r *Root) Stat(name string) (os.FileInfo, error)  { return os.Stat(r.resolve(name)) }
func (r *Root) Lstat(name string) (os.FileInfo, error) { return os.Lstat(r.resolve(name)) }

func (r *Root) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(r.resolve(name), flag, perm)
}

func (r *Root) Mkdir(name string, perm os.FileMode) error { return os.Mkdir(r.resolve(name), perm) }
func (r *Root) Remove(name string) error                  { return os.Remove(r.resolve(name)) }
func (r *Root) Rmdir(name string) error {
	info, err := os.Lstat(r.resolve(name))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "rmdir", Path: name, Err: syscall.ENOTDIR}
	}
	return os.Remove(r.resolve(name))
}

func (r *Root) Rename(oldname string, newRoot *Root, newname string) error {
	return os.Rename(r.resolve(oldname), newRoot.resolve(newname))
}

func (r *Root) Symlink(target, name string) error { return os.Symlink(target, r.resolve(name)) }

func (r *Root) Link(oldname, name string) error {
	return os.Link(r.resolve(oldname), r.resolve(name))
}

func (r *Root) Readlink(name string) (string, error) { return os.Readlink(r.resolve(name)) }

func (r *Root) Mknod(name string, mode uint32, dev int) error {
	return errNotSupportedHere
}

// ResolveNoFollow has no dirfd-relative equivalent outside Linux's
// procfs trick, so it falls back to the same plain path join the rest
// of this file uses, carrying the same documented self-mount hazard.
func (r *Root) ResolveNoFollow(name string) (string, func() error, error) {
	return r.resolve(name), func() error { return nil }, nil
}

func (r *Root) Chmod(name string, mode os.FileMode) error { return os.Chmod(r.resolve(name), mode) }

func (r *Root) Chown(name string, uid, gid int) error { return os.Lchown(r.resolve(name), uid, gid) }

func (r *Root) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(r.resolve(name), atime, mtime)
}

var errNotSupportedHere = os.ErrInvalid
