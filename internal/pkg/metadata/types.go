// Package metadata holds the small value types shared between the Tag
// Registry and the VFS Adapter.
package metadata

import "time"

// TagStat is the frozen POSIX stat snapshot captured for a Tag Directory
// Entry at the moment its tag is created (mkdir). It is never updated
// afterwards: atime/mtime aging of tag directories is intentionally not
// implemented (see DESIGN.md, Open Question 3).
type TagStat struct {
	Atime time.Time
	Ctime time.Time
	Mtime time.Time
	Uid   uint32
	Gid   uint32
	Mode  uint32
	Nlink uint32
	Size  int64
}
