package xfer

import (
	"io/fs"
	"strings"
	"time"
)

// EntryType is the kind of a listed entry.
type EntryType string

const (
	TypeFile EntryType = "file"
	TypeDir  EntryType = "dir"
	TypeLink EntryType = "link"
)

// Access is one read/write/execute permission triad.
type Access struct {
	Read  bool
	Write bool
	Exec  bool
}

// Permissions holds the user, group and other triads of an entry.
type Permissions struct {
	User  Access
	Group Access
	Other Access
}

// DirectoryEntry is an immutable snapshot of one listed file or directory.
//
// Transports fill what their library reports. The FTP transport cannot see
// owner, group or permissions and leaves them zero.
type DirectoryEntry struct {
	Name        string
	Type        EntryType
	Size        int64
	Owner       string
	Group       string
	Permissions Permissions
	ModTime     time.Time

	// Target is the symlink target, when the transport reports it.
	Target string
}

// IsDir reports whether the entry is a directory.
func (e DirectoryEntry) IsDir() bool {
	return e.Type == TypeDir
}

// permissionsFromMode splits the permission bits of mode into triads.
func permissionsFromMode(mode fs.FileMode) Permissions {
	triad := func(shift uint) Access {
		bits := mode.Perm() >> shift
		return Access{
			Read:  bits&0o4 != 0,
			Write: bits&0o2 != 0,
			Exec:  bits&0o1 != 0,
		}
	}
	return Permissions{
		User:  triad(6),
		Group: triad(3),
		Other: triad(0),
	}
}

func typeFromMode(mode fs.FileMode) EntryType {
	switch {
	case mode&fs.ModeSymlink != 0:
		return TypeLink
	case mode.IsDir():
		return TypeDir
	}
	return TypeFile
}

// entryFromFileInfo converts the fs.FileInfo returned by the SFTP and local
// transports. Owner and group are filled by the caller.
func entryFromFileInfo(fi fs.FileInfo) DirectoryEntry {
	return DirectoryEntry{
		Name:        fi.Name(),
		Type:        typeFromMode(fi.Mode()),
		Size:        fi.Size(),
		Permissions: permissionsFromMode(fi.Mode()),
		ModTime:     fi.ModTime().UTC(),
	}
}

// IsHidden reports whether any segment of the slash-separated path p starts
// with a dot. "a/.b/c" is hidden, "a.b/c" is not. The navigation segments
// "." and ".." do not count.
func IsHidden(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			continue
		}
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// filterEntries drops the "." and ".." entries and, unless includeHidden is
// set, every hidden entry. The order of the remaining entries is kept.
func filterEntries(entries []DirectoryEntry, includeHidden bool) []DirectoryEntry {
	out := make([]DirectoryEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." || e.Name == "" {
			continue
		}
		if !includeHidden && IsHidden(e.Name) {
			continue
		}
		out = append(out, e)
	}
	return out
}
