// Package registry implements the Tag Registry: the process-wide mapping
// of known tag names to their synthetic Tag Directory Entry stat
// snapshot, persisted in the `user.tagfs.tags` extended attribute on the
// backing root directory.
package registry

import (
	"bytes"
	"encoding/gob"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/pkg/xattr"
	"github.com/rs/zerolog/log"

	"github.com/Idloj/atfs/internal/pkg/metadata"
)

// XattrName is the name of the extended attribute on the backing root
// directory that holds the serialized Tag Registry.
const XattrName = "user.tagfs.tags"

// ErrNotFound is returned by Remove and Rename when the tag does not
// exist in the registry.
var ErrNotFound = errors.New("tag not found in registry")

// Registry is the process-wide Tag Registry. All mutations serialize
// through mu and persist to the backing root's xattr before returning,
// per spec.md §3 invariant 2 and §5 (the registry is shared state). It
// reads and writes the xattr through the already-open root directory
// descriptor rather than the root's path, so persistence keeps working
// once tagfs is mounted over that same path.
type Registry struct {
	mu   sync.Mutex
	dir  *os.File
	tags map[string]metadata.TagStat
}

// Load reads the Tag Registry from the backing root's `user.tagfs.tags`
// xattr, or starts an empty registry if the attribute is absent. Mount
// calls it once, with the directory descriptor captured before the mount
// call; the batch indexer also calls it once per root it indexes.
func Load(dir *os.File) (*Registry, error) {
	r := &Registry{dir: dir, tags: make(map[string]metadata.TagStat)}
	raw, err := xattr.FGet(dir, XattrName)
	if err != nil {
		if isNotExist(err) {
			return r, nil
		}
		return nil, errors.Wrapf(err, "reading %s on %s", XattrName, dir.Name())
	}
	decoded := make(map[string]metadata.TagStat)
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&decoded); err != nil {
		log.Warn().Err(err).Str("root", dir.Name()).Msg("tag registry xattr did not decode, starting empty")
		return r, nil
	}
	r.tags = decoded
	return r, nil
}

// Contains reports whether tag is a known tag in the registry.
func (r *Registry) Contains(tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tags[tag]
	return ok
}

// Snapshot returns the stored stat snapshot for tag, and whether it exists.
func (r *Registry) Snapshot(tag string) (metadata.TagStat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.tags[tag]
	return stat, ok
}

// Tags returns every known tag name, in lexical order.
func (r *Registry) Tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tags))
	for tag := range r.tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Insert adds or overwrites tag with stat, then persists the registry.
func (r *Registry) Insert(tag string, stat metadata.TagStat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[tag] = stat
	return r.persistLocked()
}

// Remove deletes tag from the registry, then persists. The caller is
// responsible for having already verified no File Entry still bears the
// tag (spec.md §4.3); Remove itself does not scan files.
func (r *Registry) Remove(tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tags[tag]; !ok {
		return ErrNotFound
	}
	delete(r.tags, tag)
	return r.persistLocked()
}

// Rename moves the stat snapshot stored under oldTag to newTag, leaving
// it otherwise unchanged, then persists.
func (r *Registry) Rename(oldTag, newTag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.tags[oldTag]
	if !ok {
		return ErrNotFound
	}
	delete(r.tags, oldTag)
	r.tags[newTag] = stat
	return r.persistLocked()
}

// persistLocked serializes the registry and writes it to the backing
// root's xattr. mu must already be held.
func (r *Registry) persistLocked() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r.tags); err != nil {
		return errors.Wrap(err, "encoding tag registry")
	}
	if err := xattr.FSet(r.dir, XattrName, buf.Bytes()); err != nil {
		log.Error().Err(err).Str("root", r.dir.Name()).Msg("failed to persist tag registry")
		return errors.Wrapf(err, "writing %s on %s", XattrName, r.dir.Name())
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
