//go:build unix

package xfer

import (
	"io/fs"
	"os/user"
	"strconv"
	"syscall"
)

// fileOwner returns the user and group names of info, falling back to the
// numeric ids when they cannot be looked up.
func fileOwner(info fs.FileInfo) (owner, group string) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return "", ""
	}
	uid := strconv.FormatUint(uint64(st.Uid), 10)
	gid := strconv.FormatUint(uint64(st.Gid), 10)

	owner, group = uid, gid
	if u, err := user.LookupId(uid); err == nil {
		owner = u.Username
	}
	if g, err := user.LookupGroupId(gid); err == nil {
		group = g.Name
	}
	return owner, group
}
