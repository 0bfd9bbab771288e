// Package filetags implements the File Tag Store: reading and writing a
// single regular file's Tag Set through its `user.tags` extended
// attribute. Read and Write take an already-open descriptor for the
// file (obtained through backingroot, relative to the backing root)
// rather than a path; ReadLink and WriteLink take a path that the caller
// has already resolved through backingroot.
package filetags

import (
	"os"

	"github.com/pkg/errors"
	"github.com/pkg/xattr"

	"github.com/Idloj/atfs/internal/pkg/tagset"
)

// XattrName is the name of the per-file extended attribute holding the
// comma-separated Tag Set.
const XattrName = "user.tags"

// Read decodes the Tag Set stored on f. A missing xattr is treated as
// the empty set and the xattr is initialized to empty so that later
// reads observe a present-but-empty value, matching spec.md §4.4.
func Read(f *os.File) (tagset.Set, error) {
	raw, err := xattr.FGet(f, XattrName)
	if err != nil {
		if isNotExist(err) {
			if werr := Write(f, tagset.New()); werr != nil {
				return tagset.New(), errors.Wrapf(werr, "initializing %s on %s", XattrName, f.Name())
			}
			return tagset.New(), nil
		}
		return tagset.New(), errors.Wrapf(err, "reading %s on %s", XattrName, f.Name())
	}
	return tagset.Decode(string(raw)), nil
}

// Write encodes tags as the comma-separated form and stores it on f,
// replacing any prior value.
func Write(f *os.File, tags tagset.Set) error {
	if err := xattr.FSet(f, XattrName, []byte(tags.Encode())); err != nil {
		return errors.Wrapf(err, "writing %s on %s", XattrName, f.Name())
	}
	return nil
}

// ReadLink and WriteLink handle the user.tags xattr on a symlink File
// Entry. A symlink cannot be opened as a regular file descriptor for
// fgetxattr/fsetxattr, so these go through the lgetxattr/lsetxattr
// syscalls (github.com/pkg/xattr's path-based, non-symlink-following
// L-prefixed calls) instead. path must already be resolved so the
// lookup never walks back through a mount point — see
// internal/pkg/backingroot.Root.ResolveNoFollow.
func ReadLink(path string) (tagset.Set, error) {
	raw, err := xattr.LGet(path, XattrName)
	if err != nil {
		if isNotExist(err) {
			if werr := WriteLink(path, tagset.New()); werr != nil {
				return tagset.New(), errors.Wrapf(werr, "initializing %s on %s", XattrName, path)
			}
			return tagset.New(), nil
		}
		return tagset.New(), errors.Wrapf(err, "reading %s on %s", XattrName, path)
	}
	return tagset.Decode(string(raw)), nil
}

// WriteLink encodes tags and stores them on the symlink addressed by
// path, replacing any prior value.
func WriteLink(path string, tags tagset.Set) error {
	if err := xattr.LSet(path, XattrName, []byte(tags.Encode())); err != nil {
		return errors.Wrapf(err, "writing %s on %s", XattrName, path)
	}
	return nil
}

func isNotExist(err error) bool {
	xerr, ok := err.(*xattr.Error)
	if !ok {
		return false
	}
	return xerr.Err == xattr.ENOATTR
}
