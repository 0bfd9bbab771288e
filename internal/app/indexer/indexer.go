// Package indexer implements the batch indexer: a one-shot pass over an
// existing backing directory that infers a starting Tag Set for each
// file from its extension and stamps it via the File Tag Store,
// registering any newly-seen tag in the Tag Registry along the way.
package indexer

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Idloj/atfs/internal/pkg/backingroot"
	"github.com/Idloj/atfs/internal/pkg/filetags"
	"github.com/Idloj/atfs/internal/pkg/metadata"
	"github.com/Idloj/atfs/internal/pkg/registry"
	"github.com/Idloj/atfs/internal/pkg/tagset"
)

var defaultTag = "uncategorized"

var extensionToTagMap = map[string][]string{
	".jpg":     {"media", "image"},
	".jpeg":    {"media", "image"},
	".bmp":     {"media", "image"},
	".png":     {"media", "image"},
	".gif":     {"media", "image"},
	".tiff":    {"media", "image"},
	".tif":     {"media", "image"},
	".ico":     {"media", "image"},
	".svg":     {"media", "image"},
	".psd":     {"media", "image"},
	".odt":     {"document"},
	".rtf":     {"document"},
	".doc":     {"document"},
	".docx":    {"document"},
	".pages":   {"document"},
	".md":      {"document"},
	".ps":      {"document"},
	".eml":     {"document", "email"},
	".ppt":     {"document", "presentation"},
	".pptx":    {"document", "presentation"},
	".key":     {"document", "presentation"},
	".xls":     {"document", "spreadsheet"},
	".xlsx":    {"document", "spreadsheet"},
	".xlsm":    {"document", "spreadsheet"},
	".csv":     {"document", "spreadsheet"},
	".numbers": {"document", "spreadsheet"},
	".ods":     {"document", "spreadsheet"},
	".txt":     {"document"},
	".pdf":     {"document"},
	".mp3":     {"media", "audio"},
	".wav":     {"media", "audio"},
	".wma":     {"media", "audio"},
	".cda":     {"media", "audio"},
	".mov":     {"media", "video"},
	".wmv":     {"media", "video"},
	".mp4":     {"media", "video"},
	".avi":     {"media", "video"},
	".flv":     {"media", "video"},
	".h264":    {"media", "video"},
	".mpg":     {"media", "video"},
	".mpeg":    {"media", "video"},
	".zip":     {"archive"},
	".tar":     {"archive"},
	".gz":      {"archive"},
	".tgz":     {"archive"},
	".7z":      {"archive"},
	".rar":     {"archive"},
	".dmg":     {"archive"},
	".java":    {"code", "java"},
	".xml":     {"code", "xml"},
	".css":     {"code", "css", "web"},
	".html":    {"code", "html", "web"},
	".htm":     {"code", "html", "web"},
	".sh":      {"code", "scripts"},
	".py":      {"code", "python"},
	".go":      {"code", "go"},
	".sql":     {"code", "sql"},
	".json":    {"code", "javascript"},
	".js":      {"code", "javascript", "web"},
}

// IndexPath opens pathToIndex as a tagfs backing root and stamps every
// regular file in it (top-level only; tagfs has no real subdirectory
// support) with a Tag Set inferred from its extension, merged with any
// tags it already carries.
func IndexPath(pathToIndex string) error {
	root, err := backingroot.Open(pathToIndex)
	if err != nil {
		return err
	}
	defer root.Close()

	reg, err := registry.Load(root.File())
	if err != nil {
		return err
	}

	dir, err := root.OpenFile(".", os.O_RDONLY, 0)
	if err != nil {
		return errors.Wrapf(err, "opening %s for scan", pathToIndex)
	}
	defer dir.Close()

	names, err := dir.Readdirnames(-1)
	if err != nil {
		return errors.Wrapf(err, "reading %s", pathToIndex)
	}

	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		if err := indexFile(root, reg, name); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("could not index file")
		}
	}
	return nil
}

func indexFile(root *backingroot.Root, reg *registry.Registry, name string) error {
	info, err := root.Lstat(name)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	fh, err := root.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer fh.Close()

	existing, err := filetags.Read(fh)
	if err != nil {
		return err
	}

	inferred := inferTags(name)
	merged := existing.Union(inferred)
	if len(merged) != len(existing) {
		if err := filetags.Write(fh, merged); err != nil {
			return err
		}
	}
	for _, tag := range inferred.Slice() {
		if reg.Contains(tag) {
			continue
		}
		now := time.Now()
		stat := metadata.TagStat{Atime: now, Ctime: now, Mtime: now, Mode: uint32(os.ModeDir | 0o755), Nlink: 1}
		if err := reg.Insert(tag, stat); err != nil {
			return err
		}
	}
	return nil
}

// inferTags maps name's extension to a starting Tag Set, falling back
// to defaultTag when the extension is unrecognized.
func inferTags(name string) tagset.Set {
	ext := strings.ToLower(filepath.Ext(name))
	if tags, ok := extensionToTagMap[ext]; ok {
		return tagset.New(tags...)
	}
	return tagset.New(defaultTag)
}
