//go:build linux

package filesystem

import (
	"io/fs"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// fileTimes returns access and birth time. Birth time comes from statx when
// the filesystem records it, otherwise the inode change time stands in.
func fileTimes(path string, info fs.FileInfo) (accessed, created time.Time) {
	accessed, created = info.ModTime(), info.ModTime()
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		accessed = time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec))
		created = time.Unix(int64(st.Ctim.Sec), int64(st.Ctim.Nsec))
	}

	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_BTIME, &stx)
	if err == nil && stx.Mask&unix.STATX_BTIME != 0 && stx.Btime.Sec != 0 {
		created = time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
	}
	return accessed, created
}

func fileOwner(info fs.FileInfo) (uid, gid uint32, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return st.Uid, st.Gid, true
}

// openNonBlock keeps open(2) from waiting for a writer on a FIFO
const openNonBlock = unix.O_NONBLOCK
