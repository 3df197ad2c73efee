package filesystem

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/nusapanel/panel/backend/internal/shared/id"
)

// stagingPrefix marks in-flight temp entries; they are hidden from listings by default
const stagingPrefix = ".nusapanel-"

// renameCheckExisting is the fallback for filesystems without RENAME_NOREPLACE.
// It leaves a window between the check and the rename.
func renameCheckExisting(oldpath, newpath string) error {
	if _, err := os.Lstat(newpath); err == nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fs.ErrExist}
	}
	return os.Rename(oldpath, newpath)
}

// stagingPath returns a unique hidden sibling inside dir
func stagingPath(dir, purpose string) string {
	return filepath.Join(dir, id.StagingName(stagingPrefix, purpose))
}

// writeAtomic streams r into a temp file next to dest and renames it into place.
// At most limit bytes are accepted. A crash mid-write never touches dest.
// With prev set, the replacement keeps the owner and mode of the file it replaces.
func (ops *FilesystemOps) writeAtomic(sb *Sandbox, op, rel, dest string, prev fs.FileInfo, r io.Reader, limit int64, replace bool) (int64, error) {
	tmpName := stagingPath(filepath.Dir(dest), "write")
	tmp, err := sb.openFile(op, tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, err
	}
	cleanup := func() {
		tmp.Close()
		if err := os.Remove(tmpName); err != nil && !errors.Is(err, fs.ErrNotExist) {
			ops.Logger.Warn("failed to remove temp file", zap.String("path", rel), zap.Error(err))
		}
	}

	n, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if err != nil {
		cleanup()
		return 0, wrapOS(op, rel, err)
	}
	if n > limit {
		cleanup()
		return 0, newError(KindTooLarge, op, rel, "content exceeds %s limit", formatBytes(limit))
	}

	mode := fs.FileMode(0o644)
	if prev != nil {
		// chown clears setuid and setgid, so the mode goes on after it
		if err := ops.keepOwner(tmp, prev, rel); err != nil {
			cleanup()
			return 0, wrapOS(op, rel, err)
		}
		mode = prev.Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
	}
	if err := tmp.Chmod(mode); err != nil {
		cleanup()
		return 0, wrapOS(op, rel, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, wrapOS(op, rel, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return 0, wrapOS(op, rel, err)
	}

	if replace {
		err = os.Rename(tmpName, dest)
	} else {
		err = ops.rename(tmpName, dest)
	}
	if err != nil {
		cleanup()
		return 0, wrapOS(op, rel, err)
	}
	return n, nil
}

// keepOwner gives f the uid and gid of prev. A service without the right to
// chown leaves the file owned by itself and logs it.
func (ops *FilesystemOps) keepOwner(f *os.File, prev fs.FileInfo, rel string) error {
	uid, gid, ok := fileOwner(prev)
	if !ok {
		return nil
	}
	cur, err := f.Stat()
	if err != nil {
		return err
	}
	if cu, cg, ok := fileOwner(cur); ok && cu == uid && cg == gid {
		return nil
	}
	err = f.Chown(int(uid), int(gid))
	if errors.Is(err, fs.ErrPermission) {
		ops.Logger.Warn("cannot keep file owner",
			zap.String("path", rel), zap.Uint32("uid", uid), zap.Uint32("gid", gid))
		return nil
	}
	return err
}

// swap is a staged entry published at dest, possibly displacing a previous
// entry that is kept aside until commit.
type swap struct {
	ops    *FilesystemOps
	dest   string
	backup string
}

// stage renames staged into dest. With replace, an existing dest is moved
// aside first and put back if the final rename fails.
func (ops *FilesystemOps) stage(staged, dest string, replace bool) (*swap, error) {
	sw := &swap{ops: ops, dest: dest}
	if replace {
		if _, err := os.Lstat(dest); err == nil {
			sw.backup = stagingPath(filepath.Dir(dest), "old")
			if err := ops.rename(dest, sw.backup); err != nil {
				return nil, err
			}
		}
	}
	if err := ops.rename(staged, dest); err != nil {
		if sw.backup != "" {
			if rerr := ops.rename(sw.backup, dest); rerr != nil {
				ops.Logger.Error("failed to restore displaced entry", zap.String("backup", sw.backup), zap.Error(rerr))
			}
		}
		return nil, err
	}
	return sw, nil
}

// commit drops the displaced entry
func (sw *swap) commit() {
	if sw.backup == "" {
		return
	}
	if err := os.RemoveAll(sw.backup); err != nil {
		sw.ops.Logger.Warn("failed to remove displaced entry", zap.String("backup", sw.backup), zap.Error(err))
	}
}

// rollback removes the published entry and restores the displaced one
func (sw *swap) rollback() {
	if err := os.RemoveAll(sw.dest); err != nil {
		sw.ops.Logger.Error("failed to roll back published entry", zap.Error(err))
		return
	}
	if sw.backup != "" {
		if err := os.Rename(sw.backup, sw.dest); err != nil {
			sw.ops.Logger.Error("failed to restore displaced entry", zap.String("backup", sw.backup), zap.Error(err))
		}
	}
}

// publish stages and commits in one step
func (ops *FilesystemOps) publish(staged, dest string, replace bool) error {
	sw, err := ops.stage(staged, dest, replace)
	if err != nil {
		return err
	}
	sw.commit()
	return nil
}

// removeQuietly deletes an in-flight entry, logging failures
func (ops *FilesystemOps) removeQuietly(path string) {
	if err := os.RemoveAll(path); err != nil {
		ops.Logger.Warn("failed to remove staging entry", zap.Error(err))
	}
}
