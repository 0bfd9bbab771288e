package tagfs

import (
	"context"
	"os"
	"testing"

	"bazil.org/fuse"

	"github.com/Idloj/atfs/internal/pkg/backingroot"
	"github.com/Idloj/atfs/internal/pkg/registry"
	"github.com/Idloj/atfs/internal/pkg/tagset"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	root, err := backingroot.Open(dir)
	if err != nil {
		t.Fatalf("backingroot.Open: %v", err)
	}
	t.Cleanup(func() { root.Close() })
	reg, err := registry.Load(root.File())
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	return &FS{root: root, reg: reg}
}

func mkdir(t *testing.T, d *Dir, name string) *Dir {
	t.Helper()
	node, err := d.Mkdir(context.Background(), &fuse.MkdirRequest{Name: name, Mode: os.ModeDir | 0o755})
	if err != nil {
		t.Fatalf("Mkdir(%s) returned error: %v", name, err)
	}
	child, ok := node.(*Dir)
	if !ok {
		t.Fatalf("Mkdir(%s) returned a non-Dir node", name)
	}
	return child
}

func TestMkdirRegistersTagAndRejectsDuplicate(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	mkdir(t, root, "red")
	if !fs.reg.Contains("red") {
		t.Fatal("Expected red to be registered after mkdir")
	}
	if _, err := root.Mkdir(context.Background(), &fuse.MkdirRequest{Name: "red"}); err != errExists {
		t.Errorf("Expected EEXIST for duplicate tag mkdir, got %v", err)
	}
}

func TestCreateStampsDirectoryTags(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	red := mkdir(t, root, "red")

	_, handle, err := red.Create(context.Background(), &fuse.CreateRequest{Name: "photo.jpg", Mode: 0o644}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	fh := handle.(*FileHandle)
	fh.file.Close()

	tags, err := fs.readFileTags("photo.jpg")
	if err != nil {
		t.Fatalf("readFileTags returned error: %v", err)
	}
	if !tags.Contains("red") {
		t.Errorf("Expected new file to carry the red tag, got %v", tags)
	}
}

func TestLookupFindsFileOnlyThroughASupersetPath(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	red := mkdir(t, root, "red")
	mkdir(t, root, "big")

	_, handle, err := red.Create(context.Background(), &fuse.CreateRequest{Name: "photo.jpg", Mode: 0o644}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	handle.(*FileHandle).file.Close()

	if _, err := red.Lookup(context.Background(), &fuse.LookupRequest{Name: "photo.jpg"}, &fuse.LookupResponse{}); err != nil {
		t.Errorf("Expected lookup under red to succeed, got %v", err)
	}
	big := &Dir{fs: fs, tags: []string{"big"}}
	if _, err := big.Lookup(context.Background(), &fuse.LookupRequest{Name: "photo.jpg"}, &fuse.LookupResponse{}); err != errNoSuchEntry {
		t.Errorf("Expected ENOENT looking up photo.jpg under an unrelated tag, got %v", err)
	}
}

func TestReadDirAllListsRemainingTagsAndMatchingFiles(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	red := mkdir(t, root, "red")
	mkdir(t, root, "big")

	_, handle, err := red.Create(context.Background(), &fuse.CreateRequest{Name: "photo.jpg", Mode: 0o644}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	handle.(*FileHandle).file.Close()

	entries, err := red.ReadDirAll(context.Background())
	if err != nil {
		t.Fatalf("ReadDirAll returned error: %v", err)
	}
	var sawBig, sawPhoto bool
	for _, e := range entries {
		if e.Name == "big" && e.Type == fuse.DT_Dir {
			sawBig = true
		}
		if e.Name == "photo.jpg" && e.Type == fuse.DT_File {
			sawPhoto = true
		}
	}
	if !sawBig {
		t.Error("Expected big to be listed as a remaining narrowing tag")
	}
	if !sawPhoto {
		t.Error("Expected photo.jpg to be listed under red")
	}
}

func TestRemoveFileUntagsThenUnlinks(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	red := mkdir(t, root, "red")
	big := mkdir(t, root, "big")

	_, handle, err := red.Create(context.Background(), &fuse.CreateRequest{Name: "photo.jpg", Mode: 0o644}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	handle.(*FileHandle).file.Close()
	if err := fs.writeFileTags("photo.jpg", tagset.New("red", "big")); err != nil {
		t.Fatalf("writeFileTags returned error: %v", err)
	}

	if err := red.Remove(context.Background(), &fuse.RemoveRequest{Name: "photo.jpg"}); err != nil {
		t.Fatalf("Remove under red returned error: %v", err)
	}
	tags, err := fs.readFileTags("photo.jpg")
	if err != nil {
		t.Fatalf("readFileTags returned error: %v", err)
	}
	if tags.Contains("red") || !tags.Contains("big") {
		t.Errorf("Expected red stripped and big retained, got %v", tags)
	}

	if err := big.Remove(context.Background(), &fuse.RemoveRequest{Name: "photo.jpg"}); err != nil {
		t.Fatalf("Remove under big returned error: %v", err)
	}
	if _, err := fs.root.Lstat("photo.jpg"); !os.IsNotExist(err) {
		t.Errorf("Expected backing file removed once its last tag was stripped, stat err=%v", err)
	}
}

func TestRmdirRefusesWhenATagWouldOrphanAFile(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	red := mkdir(t, root, "red")

	_, handle, err := red.Create(context.Background(), &fuse.CreateRequest{Name: "photo.jpg", Mode: 0o644}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	handle.(*FileHandle).file.Close()

	if err := root.Remove(context.Background(), &fuse.RemoveRequest{Name: "red", Dir: true}); err != errNotEmpty {
		t.Errorf("Expected ENOTEMPTY removing a tag that still solely covers a file, got %v", err)
	}
}

func TestRmdirRefusesWhenTagIsCarriedByAFileNotVisibleFromHere(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	a := mkdir(t, root, "A")
	mkdir(t, root, "T")

	// photo.jpg carries T but not A: visible at /T, not at /A/T.
	_, handle, err := root.Create(context.Background(), &fuse.CreateRequest{Name: "photo.jpg", Mode: 0o644}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	handle.(*FileHandle).file.Close()
	if err := fs.writeFileTags("photo.jpg", tagset.New("T")); err != nil {
		t.Fatalf("writeFileTags returned error: %v", err)
	}

	if err := a.Remove(context.Background(), &fuse.RemoveRequest{Name: "T", Dir: true}); err != errNotEmpty {
		t.Errorf("Expected ENOTEMPTY removing T from inside A while photo.jpg still carries T, got %v", err)
	}
	if !fs.reg.Contains("T") {
		t.Error("Expected T to remain registered after the refused rmdir")
	}
}

func TestSetattrRejectsChmodChownUtimensOnATagDirectory(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	red := mkdir(t, root, "red")

	req := &fuse.SetattrRequest{Valid: fuse.SetattrMode, Mode: 0o700}
	if err := red.Setattr(context.Background(), req, &fuse.SetattrResponse{}); err != errNotSupported {
		t.Errorf("Expected ENOTSUP chmodding a tag directory, got %v", err)
	}
}

func TestSymlinkTagsAreStoredOnTheLinkNotItsTarget(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	red := mkdir(t, root, "red")

	if _, err := red.Symlink(context.Background(), &fuse.SymlinkRequest{NewName: "link", Target: "/does/not/exist"}); err != nil {
		t.Fatalf("Symlink returned error: %v", err)
	}
	info, err := fs.root.Lstat("link")
	if err != nil {
		t.Fatalf("Lstat returned error: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("Expected link to remain a symlink after tagging, got mode %v", info.Mode())
	}
	tags, err := fs.readFileTags("link")
	if err != nil {
		t.Fatalf("readFileTags returned error: %v", err)
	}
	if !tags.Contains("red") {
		t.Errorf("Expected the symlink itself to carry the red tag, got %v", tags)
	}
}

func TestCreateRejectsCollisionWithExistingTag(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	mkdir(t, root, "red")

	if _, _, err := root.Create(context.Background(), &fuse.CreateRequest{Name: "red", Mode: 0o644}, &fuse.CreateResponse{}); err != errExists {
		t.Errorf("Expected EEXIST creating a file named after an existing tag, got %v", err)
	}
}

func TestUnlinkOfATagNameIsRejected(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	mkdir(t, root, "red")

	if err := root.Remove(context.Background(), &fuse.RemoveRequest{Name: "red"}); err != errIsDirectory {
		t.Errorf("Expected EISDIR unlinking a tag name, got %v", err)
	}
}

func TestRenameAcrossTagDirectoriesSwapsTags(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	red := mkdir(t, root, "red")
	big := mkdir(t, root, "big")

	_, handle, err := red.Create(context.Background(), &fuse.CreateRequest{Name: "photo.jpg", Mode: 0o644}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	handle.(*FileHandle).file.Close()

	if err := red.Rename(context.Background(), &fuse.RenameRequest{OldName: "photo.jpg", NewName: "photo.jpg"}, big); err != nil {
		t.Fatalf("Rename returned error: %v", err)
	}
	tags, err := fs.readFileTags("photo.jpg")
	if err != nil {
		t.Fatalf("readFileTags returned error: %v", err)
	}
	if tags.Contains("red") || !tags.Contains("big") {
		t.Errorf("Expected red dropped and big added after cross-tag rename, got %v", tags)
	}
}

func TestLinkAddsDestinationTagsWithoutDuplicatingTheFile(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	red := mkdir(t, root, "red")
	big := mkdir(t, root, "big")

	fileNode, handle, err := red.Create(context.Background(), &fuse.CreateRequest{Name: "photo.jpg", Mode: 0o644}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	handle.(*FileHandle).file.Close()

	if _, err := big.Link(context.Background(), &fuse.LinkRequest{NewName: "photo.jpg"}, fileNode.(*File)); err != nil {
		t.Fatalf("Link returned error: %v", err)
	}
	tags, err := fs.readFileTags("photo.jpg")
	if err != nil {
		t.Fatalf("readFileTags returned error: %v", err)
	}
	if !tags.Contains("red") || !tags.Contains("big") {
		t.Errorf("Expected photo.jpg to carry both red and big after link, got %v", tags)
	}
}

func TestSymlinkStampsDirectoryTagsAndRejectsTagCollision(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	red := mkdir(t, root, "red")

	if _, err := red.Symlink(context.Background(), &fuse.SymlinkRequest{NewName: "link", Target: "photo.jpg"}); err != nil {
		t.Fatalf("Symlink returned error: %v", err)
	}
	tags, err := fs.readFileTags("link")
	if err != nil {
		t.Fatalf("readFileTags returned error: %v", err)
	}
	if !tags.Contains("red") {
		t.Errorf("Expected symlink to carry the red tag, got %v", tags)
	}

	if _, err := root.Symlink(context.Background(), &fuse.SymlinkRequest{NewName: "red", Target: "photo.jpg"}); err != errExists {
		t.Errorf("Expected EEXIST creating a symlink named after an existing tag, got %v", err)
	}
}

func TestDirRejectsFileStyleOpenAndTruncate(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}
	red := mkdir(t, root, "red")

	if _, err := red.Open(context.Background(), &fuse.OpenRequest{}, &fuse.OpenResponse{}); err != errPermission {
		t.Errorf("Expected EACCES opening a tag directory as a file, got %v", err)
	}

	req := &fuse.SetattrRequest{Valid: fuse.SetattrSize, Size: 0}
	if err := red.Setattr(context.Background(), req, &fuse.SetattrResponse{}); err != errIsDirectory {
		t.Errorf("Expected EISDIR truncating a tag directory, got %v", err)
	}
}

func TestRmdirOfAFileNameForwardsToBackingFilesystem(t *testing.T) {
	fs := newTestFS(t)
	root := &Dir{fs: fs, tags: nil}

	_, handle, err := root.Create(context.Background(), &fuse.CreateRequest{Name: "photo.jpg", Mode: 0o644}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	handle.(*FileHandle).file.Close()

	if err := root.Remove(context.Background(), &fuse.RemoveRequest{Name: "photo.jpg", Dir: true}); err == nil {
		t.Error("Expected rmdir of a plain file to fail")
	}
}
