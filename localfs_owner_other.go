//go:build !unix

package xfer

import "io/fs"

func fileOwner(fs.FileInfo) (owner, group string) {
	return "", ""
}
