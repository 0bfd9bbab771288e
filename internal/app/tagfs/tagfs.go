// Package tagfs implements the VFS Adapter and Operation Dispatcher: the
// bazil.org/fuse node types that present the backing directory's files
// as tag directories, and translate every FUSE request into a Tag
// Registry or File Tag Store operation.
package tagfs

import (
	"context"
	"io"
	"os"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/pkg/xattr"
	"github.com/rs/zerolog/log"

	"github.com/Idloj/atfs/internal/pkg/backingroot"
	"github.com/Idloj/atfs/internal/pkg/filetags"
	"github.com/Idloj/atfs/internal/pkg/metadata"
	"github.com/Idloj/atfs/internal/pkg/registry"
	"github.com/Idloj/atfs/internal/pkg/tagset"
)

// Mount captures the backing root's directory descriptor, loads the Tag
// Registry from it, and serves tagfs at root. The mountpoint and the
// backing store are the same directory; every name lookup after this
// point resolves against the captured descriptor rather than root's
// path string, so it never re-enters the mount it is about to shadow.
func Mount(root string) error {
	backing, err := backingroot.Open(root)
	if err != nil {
		return err
	}
	defer backing.Close()

	reg, err := registry.Load(backing.File())
	if err != nil {
		return err
	}

	c, err := fuse.Mount(root,
		fuse.FSName("tagfs"),
		fuse.Subtype("tagfs"),
		fuse.LocalVolume(),
		fuse.VolumeName("Tagged Filesystem"),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	filesys := &FS{root: backing, reg: reg}
	log.Info().Str("root", root).Msg("mounting tagfs")
	if err := fs.Serve(c, filesys); err != nil {
		return err
	}

	<-c.Ready
	if err := c.MountError; err != nil {
		return err
	}
	return nil
}

// FS is the tagfs filesystem. Every node it hands out shares the same
// backing root descriptor and the same in-memory Tag Registry.
type FS struct {
	root *backingroot.Root
	reg  *registry.Registry
}

var _ fs.FS = (*FS)(nil)

func (f *FS) Root() (fs.Node, error) {
	return &Dir{fs: f, tags: nil}, nil
}

// readFileTags and writeFileTags read/write a backing entry's user.tags
// xattr. A symlink entry is handled through its own no-follow path (see
// readLinkTags/writeLinkTags) so its tags land on the link itself, the
// same object File.Attr reports stat for via Lstat, rather than on
// whatever the link happens to point at.
func (f *FS) readFileTags(name string) (tagset.Set, error) {
	info, err := f.root.Lstat(name)
	if err != nil {
		return tagset.New(), err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return f.readLinkTags(name)
	}
	fh, err := f.root.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return tagset.New(), err
	}
	defer fh.Close()
	return filetags.Read(fh)
}

func (f *FS) writeFileTags(name string, tags tagset.Set) error {
	info, err := f.root.Lstat(name)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return f.writeLinkTags(name, tags)
	}
	fh, err := f.root.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer fh.Close()
	return filetags.Write(fh, tags)
}

func (f *FS) readLinkTags(name string) (tagset.Set, error) {
	path, closeFn, err := f.root.ResolveNoFollow(name)
	if err != nil {
		return tagset.New(), err
	}
	defer closeFn()
	return filetags.ReadLink(path)
}

func (f *FS) writeLinkTags(name string, tags tagset.Set) error {
	path, closeFn, err := f.root.ResolveNoFollow(name)
	if err != nil {
		return err
	}
	defer closeFn()
	return filetags.WriteLink(path, tags)
}

// listBackingNames lists the backing directory's entries through the
// already-open root descriptor, via a fresh fd-relative "." open rather
// than a path-based os.Open, for the same self-mount reason Mount does.
func (f *FS) listBackingNames() ([]string, error) {
	dir, err := f.root.OpenFile(".", os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer dir.Close()
	names, err := dir.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if n == "." || n == ".." {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Dir is a tag-branch node: the root (tags == nil) or the directory
// reached by narrowing through one or more tag segments.
type Dir struct {
	fs   *FS
	tags []string
}

var _ fs.Node = (*Dir)(nil)

func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0o755
	if len(d.tags) == 0 {
		return nil
	}
	// A tag directory's attrs come from the stat snapshot taken when the
	// tag nearest this directory was created (mkdir), frozen thereafter
	// (DESIGN.md Open Question 3).
	stat, ok := d.fs.reg.Snapshot(d.tags[len(d.tags)-1])
	if !ok {
		return nil
	}
	a.Atime = stat.Atime
	a.Mtime = stat.Mtime
	a.Ctime = stat.Ctime
	a.Uid = stat.Uid
	a.Gid = stat.Gid
	a.Nlink = stat.Nlink
	a.Size = uint64(stat.Size)
	if stat.Mode != 0 {
		a.Mode = os.FileMode(stat.Mode)
	}
	return nil
}

func (d *Dir) withTag(tag string) []string {
	next := make([]string, len(d.tags), len(d.tags)+1)
	copy(next, d.tags)
	return append(next, tag)
}

var _ = fs.NodeRequestLookuper(&Dir{})

// Lookup resolves a single path segment: a known tag not yet consumed
// narrows into a child Dir, anything else is checked against the
// backing store and the requesting file's own Tag Set.
func (d *Dir) Lookup(ctx context.Context, req *fuse.LookupRequest, resp *fuse.LookupResponse) (fs.Node, error) {
	res := classify(append(d.tags, req.Name), d.fs.reg)
	if res.kind == kindTagDir {
		return &Dir{fs: d.fs, tags: res.tags}, nil
	}
	info, err := d.fs.root.Lstat(req.Name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNoSuchEntry
		}
		return nil, toFuseErr(err)
	}
	if info.IsDir() {
		// tagfs only addresses regular files and symlinks in the
		// backing store; a real subdirectory there is out of scope.
		return nil, errNoSuchEntry
	}
	tags, err := d.fs.readFileTags(req.Name)
	if err != nil {
		return nil, toFuseErr(err)
	}
	if !tags.IsSupersetOf(tagset.New(d.tags...)) {
		return nil, errNoSuchEntry
	}
	return &File{fs: d.fs, name: req.Name}, nil
}

var _ = fs.HandleReadDirAller(&Dir{})

// ReadDirAll lists every remaining tag as a subdirectory (tagfs has no
// tag hierarchy, so any tag not yet in the path is a valid next
// narrowing step) plus every backing file whose Tag Set is a superset
// of the path's accumulated tags.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	var dirents []fuse.Dirent
	for _, tag := range d.fs.reg.Tags() {
		if containsStr(d.tags, tag) {
			continue
		}
		dirents = append(dirents, fuse.Dirent{Name: tag, Type: fuse.DT_Dir})
	}
	names, err := d.fs.listBackingNames()
	if err != nil {
		return nil, toFuseErr(err)
	}
	want := tagset.New(d.tags...)
	for _, name := range names {
		tags, err := d.fs.readFileTags(name)
		if err != nil {
			continue
		}
		if tags.IsSupersetOf(want) {
			dirents = append(dirents, fuse.Dirent{Name: name, Type: fuse.DT_File})
		}
	}
	return dirents, nil
}

var _ fs.NodeMkdirer = (*Dir)(nil)

// Mkdir registers a new, globally unique tag. Tags have no hierarchy,
// so mkdir of an already-known tag is EEXIST regardless of which
// directory it is attempted from.
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	if d.fs.reg.Contains(req.Name) {
		return nil, errExists
	}
	now := time.Now()
	stat := metadata.TagStat{
		Atime: now,
		Ctime: now,
		Mtime: now,
		Uid:   req.Header.Uid,
		Gid:   req.Header.Gid,
		Mode:  uint32(os.ModeDir | (req.Mode & os.ModePerm)),
		Nlink: 1,
	}
	if err := d.fs.reg.Insert(req.Name, stat); err != nil {
		return nil, toFuseErr(err)
	}
	return &Dir{fs: d.fs, tags: d.withTag(req.Name)}, nil
}

var _ fs.NodeRemover = (*Dir)(nil)

// Remove handles both rmdir (req.Dir, a tag) and unlink (a file).
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	if req.Dir {
		return d.removeTag(req.Name)
	}
	return d.removeFile(req.Name)
}

// removeTag deletes tag from the registry, refusing with ENOTEMPTY if
// any backing file still carries tag at all, regardless of the
// directory rmdir was invoked from (spec.md §4.3, §4.5, and P5: a tag
// can only go away once no File Entry bears it anywhere in the tree). A
// name that is not a known tag is forwarded to the backing rmdir
// instead, so a plain file gets the backing filesystem's own ENOTDIR
// (spec.md §4.5).
func (d *Dir) removeTag(tag string) error {
	if !d.fs.reg.Contains(tag) {
		return toFuseErr(d.fs.root.Rmdir(tag))
	}
	names, err := d.fs.listBackingNames()
	if err != nil {
		return toFuseErr(err)
	}
	for _, name := range names {
		tags, err := d.fs.readFileTags(name)
		if err != nil {
			continue
		}
		if tags.Contains(tag) {
			return errNotEmpty
		}
	}
	return toFuseErr(d.fs.reg.Remove(tag))
}

// removeFile strips the path's accumulated tags from name. At the root
// (no tags accumulated) or once the last tag is stripped, the backing
// file itself is unlinked. unlink of a tag name itself is rejected with
// EISDIR (spec.md §4.5: "Tag branch: fail with is a directory").
func (d *Dir) removeFile(name string) error {
	if d.fs.reg.Contains(name) && !containsStr(d.tags, name) {
		return errIsDirectory
	}
	tags, err := d.fs.readFileTags(name)
	if err != nil {
		if os.IsNotExist(err) {
			return errNoSuchEntry
		}
		return toFuseErr(err)
	}
	want := tagset.New(d.tags...)
	if !tags.IsSupersetOf(want) {
		return errNoSuchEntry
	}
	remaining := tags.Without(want)
	if len(d.tags) == 0 || len(remaining) == 0 {
		return toFuseErr(d.fs.root.Remove(name))
	}
	return toFuseErr(d.fs.writeFileTags(name, remaining))
}

var _ fs.NodeOpener = (*Dir)(nil)

// Open refuses file-style access to a tag directory (spec.md §4.5/§7:
// "open on a tag-directory returns permission denied").
func (d *Dir) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	return nil, errPermission
}

var _ fs.NodeSetattrer = (*Dir)(nil)

// Setattr refuses truncate on a tag directory with "is a directory",
// and every other attribute change (chmod/chown/utimens) with "not
// supported" — the tag branch has no settable attributes of its own,
// only the frozen stat snapshot DESIGN.md Open Question 3 describes
// (spec.md §4.5/§7).
func (d *Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		return errIsDirectory
	}
	if req.Valid.Mode() || req.Valid.Uid() || req.Valid.Gid() || req.Valid.Atime() || req.Valid.Mtime() {
		return errNotSupported
	}
	return nil
}

var _ fs.NodeRenamer = (*Dir)(nil)

// Rename handles renaming a tag in place, or moving/retagging a file
// between tag directories. A file moved from one tag directory to
// another loses the source directory's tags and gains the
// destination's, keeping any tags it carried beyond those.
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		return errNotSupported
	}
	if res := classify(append(d.tags, req.OldName), d.fs.reg); res.kind == kindTagDir {
		if d.fs.reg.Contains(req.NewName) {
			return errExists
		}
		return toFuseErr(d.fs.reg.Rename(req.OldName, req.NewName))
	}
	tags, err := d.fs.readFileTags(req.OldName)
	if err != nil {
		if os.IsNotExist(err) {
			return errNoSuchEntry
		}
		return toFuseErr(err)
	}
	want := tagset.New(d.tags...)
	if !tags.IsSupersetOf(want) {
		return errNoSuchEntry
	}
	final := tags.Without(want).Union(tagset.New(target.tags...))
	if req.OldName != req.NewName {
		if err := d.fs.root.Rename(req.OldName, d.fs.root, req.NewName); err != nil {
			return toFuseErr(err)
		}
	}
	return toFuseErr(d.fs.writeFileTags(req.NewName, final))
}

var _ fs.NodeLinker = (*Dir)(nil)

// Link applies this directory's accumulated tags to an existing file,
// matching the teacher's "link adds tags, doesn't duplicate files" idiom.
func (d *Dir) Link(ctx context.Context, req *fuse.LinkRequest, old fs.Node) (fs.Node, error) {
	src, ok := old.(*File)
	if !ok {
		return nil, errPermission
	}
	tags, err := d.fs.readFileTags(src.name)
	if err != nil {
		return nil, toFuseErr(err)
	}
	merged := tags.Union(tagset.New(d.tags...))
	if err := d.fs.writeFileTags(src.name, merged); err != nil {
		return nil, toFuseErr(err)
	}
	return &File{fs: d.fs, name: src.name}, nil
}

var _ fs.NodeSymlinker = (*Dir)(nil)

// Symlink creates a real symlink in the backing store and stamps it
// with the tags of the directory it was created in.
func (d *Dir) Symlink(ctx context.Context, req *fuse.SymlinkRequest) (fs.Node, error) {
	if d.fs.reg.Contains(req.NewName) {
		return nil, errExists
	}
	if err := d.fs.root.Symlink(req.Target, req.NewName); err != nil {
		return nil, toFuseErr(err)
	}
	if err := d.fs.writeFileTags(req.NewName, tagset.New(d.tags...)); err != nil {
		return nil, toFuseErr(err)
	}
	return &File{fs: d.fs, name: req.NewName}, nil
}

var _ fs.NodeMknoder = (*Dir)(nil)

// Mknod creates a device, fifo, or socket node in the backing store,
// stamped the same way Create and Symlink are.
func (d *Dir) Mknod(ctx context.Context, req *fuse.MknodRequest) (fs.Node, error) {
	if d.fs.reg.Contains(req.Name) {
		return nil, errExists
	}
	if err := d.fs.root.Mknod(req.Name, uint32(req.Mode), int(req.Rdev)); err != nil {
		return nil, toFuseErr(err)
	}
	if err := d.fs.writeFileTags(req.Name, tagset.New(d.tags...)); err != nil {
		return nil, toFuseErr(err)
	}
	return &File{fs: d.fs, name: req.Name}, nil
}

var _ fs.NodeCreater = (*Dir)(nil)

// Create makes a new regular file in the backing store, stamped with
// the tags of the directory it was created in, and returns it already open.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	if d.fs.reg.Contains(req.Name) {
		return nil, nil, errExists
	}
	fh, err := d.fs.root.OpenFile(req.Name, int(req.Flags)|os.O_CREATE, req.Mode.Perm())
	if err != nil {
		return nil, nil, toFuseErr(err)
	}
	if err := filetags.Write(fh, tagset.New(d.tags...)); err != nil {
		fh.Close()
		return nil, nil, toFuseErr(err)
	}
	return &File{fs: d.fs, name: req.Name}, &FileHandle{file: fh}, nil
}

// File is a file-branch node: a regular file or symlink in the backing
// store, reached through whatever tag path led to it.
type File struct {
	fs   *FS
	name string
}

var _ fs.Node = (*File)(nil)

func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	info, err := f.fs.root.Lstat(f.name)
	if err != nil {
		return toFuseErr(err)
	}
	a.Size = uint64(info.Size())
	a.Mode = info.Mode()
	a.Mtime = info.ModTime()
	a.Crtime = getCreateTime(info)
	a.Ctime = a.Crtime
	if sysStat, ok := info.Sys().(*syscall.Stat_t); ok {
		a.Uid = sysStat.Uid
		a.Gid = sysStat.Gid
		a.Nlink = uint32(sysStat.Nlink)
	}
	return nil
}

var _ fs.NodeReadlinker = (*File)(nil)

func (f *File) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	target, err := f.fs.root.Readlink(f.name)
	if err != nil {
		return "", toFuseErr(err)
	}
	return target, nil
}

var _ fs.NodeSetattrer = (*File)(nil)

func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Mode() {
		if err := f.fs.root.Chmod(f.name, req.Mode); err != nil {
			return toFuseErr(err)
		}
	}
	if req.Valid.Uid() || req.Valid.Gid() {
		uid, gid := -1, -1
		if req.Valid.Uid() {
			uid = int(req.Uid)
		}
		if req.Valid.Gid() {
			gid = int(req.Gid)
		}
		if err := f.fs.root.Chown(f.name, uid, gid); err != nil {
			return toFuseErr(err)
		}
	}
	if req.Valid.Size() {
		fh, err := f.fs.root.OpenFile(f.name, os.O_WRONLY, 0)
		if err != nil {
			return toFuseErr(err)
		}
		terr := fh.Truncate(int64(req.Size))
		fh.Close()
		if terr != nil {
			return toFuseErr(terr)
		}
	}
	if req.Valid.Atime() || req.Valid.Mtime() {
		if err := f.fs.root.Chtimes(f.name, req.Atime, req.Mtime); err != nil {
			return toFuseErr(err)
		}
	}
	return nil
}

var _ fs.NodeGetxattrer = (*File)(nil)

func (f *File) Getxattr(ctx context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	fh, err := f.fs.root.OpenFile(f.name, os.O_RDONLY, 0)
	if err != nil {
		return toFuseErr(err)
	}
	defer fh.Close()
	val, err := xattr.FGet(fh, req.Name)
	if err != nil {
		return toFuseErr(xattrErrno(err))
	}
	resp.Xattr = val
	return nil
}

var _ fs.NodeSetxattrer = (*File)(nil)

func (f *File) Setxattr(ctx context.Context, req *fuse.SetxattrRequest) error {
	fh, err := f.fs.root.OpenFile(f.name, os.O_RDONLY, 0)
	if err != nil {
		return toFuseErr(err)
	}
	defer fh.Close()
	if err := xattr.FSet(fh, req.Name, req.Xattr); err != nil {
		return toFuseErr(xattrErrno(err))
	}
	return nil
}

var _ fs.NodeListxattrer = (*File)(nil)

func (f *File) Listxattr(ctx context.Context, req *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	fh, err := f.fs.root.OpenFile(f.name, os.O_RDONLY, 0)
	if err != nil {
		return toFuseErr(err)
	}
	defer fh.Close()
	names, err := xattr.FList(fh)
	if err != nil {
		return toFuseErr(xattrErrno(err))
	}
	for _, n := range names {
		resp.Append(n)
	}
	return nil
}

var _ fs.NodeRemovexattrer = (*File)(nil)

// Removexattr clears user.tags to the empty set rather than deleting
// the attribute outright, leaving the same present-but-empty value that
// filetags.Read initializes a missing attribute to.
func (f *File) Removexattr(ctx context.Context, req *fuse.RemovexattrRequest) error {
	fh, err := f.fs.root.OpenFile(f.name, os.O_RDONLY, 0)
	if err != nil {
		return toFuseErr(err)
	}
	defer fh.Close()
	if req.Name == filetags.XattrName {
		return toFuseErr(filetags.Write(fh, tagset.New()))
	}
	if err := xattr.FRemove(fh, req.Name); err != nil {
		return toFuseErr(xattrErrno(err))
	}
	return nil
}

var _ fs.NodeOpener = (*File)(nil)

func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	fh, err := f.fs.root.OpenFile(f.name, int(req.Flags), 0)
	if err != nil {
		return nil, toFuseErr(err)
	}
	return &FileHandle{file: fh}, nil
}

// FileHandle is the open-file state behind a Read/Write/Flush/Fsync/Release
// sequence: just the backing file's own descriptor.
type FileHandle struct {
	file *os.File
}

var _ fs.Handle = (*FileHandle)(nil)
var _ fs.HandleReader = (*FileHandle)(nil)
var _ fs.HandleWriter = (*FileHandle)(nil)
var _ fs.HandleFlusher = (*FileHandle)(nil)
var _ fs.HandleFsyncer = (*FileHandle)(nil)
var _ fs.HandleReleaser = (*FileHandle)(nil)

func (fh *FileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	n, err := fh.file.ReadAt(buf, req.Offset)
	if err == io.EOF {
		err = nil
	}
	resp.Data = buf[:n]
	return toFuseErr(err)
}

func (fh *FileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	n, err := fh.file.WriteAt(req.Data, req.Offset)
	resp.Size = n
	return toFuseErr(err)
}

func (fh *FileHandle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	return nil
}

func (fh *FileHandle) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return toFuseErr(fh.file.Sync())
}

func (fh *FileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	return toFuseErr(fh.file.Close())
}

// xattrErrno unwraps a *xattr.Error down to a fuse.Errno carrying the
// syscall.Errno it wraps, which toFuseErr then passes through unchanged;
// any other error is returned as is.
func xattrErrno(err error) error {
	if xerr, ok := err.(*xattr.Error); ok {
		if errno, ok := xerr.Err.(syscall.Errno); ok {
			return fuse.Errno(errno)
		}
	}
	return err
}
