//go:build linux

package nodes

import (
	"os"

	"golang.org/x/sys/unix"
)

// platformOps wires osOps to the real syscalls: unix.Mknod/Setegid for the
// two operations stdlib has no portable equivalent for, os for the rest.
func platformOps() osOps {
	return osOps{
		setegid: unix.Setegid,
		mknod: func(path string, mode uint32, dev int) error {
			return unix.Mknod(path, mode, dev)
		},
		chown: func(path string, uid, gid int) error {
			return os.Chown(path, uid, gid)
		},
		symlink:  os.Symlink,
		remove:   os.Remove,
		mkdirAll: os.MkdirAll,
	}
}

// makedev packs a major/minor pair into the dev_t encoding mknod(2)
// expects, the same encoding unix.Mkdev produces.
func makedev(major, minor int) int {
	return int(unix.Mkdev(uint32(major), uint32(minor)))
}

// nodeTypeBits returns the S_IFBLK/S_IFCHR type bits to OR into a mknod
// mode argument.
func nodeTypeBits(block bool) uint32 {
	if block {
		return unix.S_IFBLK
	}
	return unix.S_IFCHR
}
