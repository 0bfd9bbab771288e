package tagfs

import "strings"

// splitPath breaks a FUSE-relative path (no leading/trailing slash
// assumptions) into its segments. The root itself splits to nil.
func splitPath(raw string) []string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

type kind int

const (
	kindRoot kind = iota
	kindTagDir
	kindFile
)

// resolution is the Path Classifier's verdict for a path: which branch
// it falls in (root, a tag directory, or a file), the Tag Set
// accumulated by the tag segments consumed so far, and the final
// segment itself.
type resolution struct {
	kind kind
	tags []string
	name string
}

// tagLookup is the subset of the Tag Registry the classifier needs.
type tagLookup interface {
	Contains(tag string) bool
}

// classify walks segments against the registry, accumulating tags as it
// descends. A segment that names a known tag not already consumed
// narrows the view further; any other segment, final or not, ends the
// walk and is assumed to name a file (later segments are ignored), and
// it is the Operation Dispatcher's job to confirm that
// against the backing store and the file's own Tag Set.
func classify(segments []string, reg tagLookup) resolution {
	if len(segments) == 0 {
		return resolution{kind: kindRoot}
	}
	var tags []string
	for i, seg := range segments {
		last := i == len(segments)-1
		if reg.Contains(seg) && !containsStr(tags, seg) {
			tags = append(tags, seg)
			if last {
				return resolution{kind: kindTagDir, tags: tags, name: seg}
			}
			continue
		}
		return resolution{kind: kindFile, tags: tags, name: seg}
	}
	return resolution{kind: kindRoot}
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
