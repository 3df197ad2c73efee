package filesystem

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

const maxNameLength = 255

// OperationsOps handles create, rename, copy, move and delete
type OperationsOps struct {
	*FilesystemOps
	Meta *MetadataOps
}

// Create makes a new file or directory named name inside parent. It never
// overwrites an existing entry.
func (o *OperationsOps) Create(sb *Sandbox, parent *ResolvedPath, name, fileType string, content *Content) (*FileDescriptor, error) {
	if err := validateName("create", name); err != nil {
		return nil, err
	}
	if _, err := dirTarget("create", parent); err != nil {
		return nil, err
	}
	rp, err := sb.Join(parent, name)
	if err != nil {
		return nil, err
	}
	if rp.Exists {
		return nil, newError(KindAlreadyExists, "create", rp.Rel, "already exists")
	}

	switch fileType {
	case TypeDirectory:
		if content != nil {
			return nil, newError(KindInvalidArgument, "create", rp.Rel, "directories cannot have content")
		}
		if err := os.Mkdir(rp.Abs, 0o755); err != nil {
			return nil, wrapOS("create", rp.Rel, err)
		}
	case TypeFile, "":
		var r io.Reader = strings.NewReader("")
		if content != nil {
			if int64(content.Len()) > o.Limits.MaxUploadSize {
				return nil, newError(KindTooLarge, "create", rp.Rel, "content exceeds %s limit", formatBytes(o.Limits.MaxUploadSize))
			}
			r = bytes.NewReader(content.Bytes())
		}
		if _, err := o.writeAtomic(sb, "create", rp.Rel, rp.Abs, nil, r, o.Limits.MaxUploadSize, false); err != nil {
			return nil, err
		}
	default:
		return nil, newError(KindInvalidArgument, "create", rp.Rel, "unknown type %q", fileType)
	}
	return o.Meta.describe(sb, rp.Abs, false)
}

// Rename gives an entry a new name in the same directory
func (o *OperationsOps) Rename(sb *Sandbox, rp *ResolvedPath, newName string) (*FileDescriptor, error) {
	if rp.IsRoot() {
		return nil, newError(KindInvalidOperation, "rename", rp.Rel, "cannot rename the home directory")
	}
	if err := validateName("rename", newName); err != nil {
		return nil, err
	}
	dest, err := sb.ResolveNew(sb.RelOf(filepath.Dir(rp.Abs)) + "/" + newName)
	if err != nil {
		return nil, err
	}
	if dest.Exists {
		return nil, newError(KindAlreadyExists, "rename", dest.Rel, "already exists")
	}
	if err := o.rename(rp.Abs, dest.Abs); err != nil {
		return nil, wrapOS("rename", rp.Rel, err)
	}
	return o.Meta.describe(sb, dest.Abs, false)
}

// Copy duplicates src at dst. Directories are copied recursively into a hidden
// staging entry first, so dst only ever appears complete.
func (o *OperationsOps) Copy(ctx context.Context, sb *Sandbox, src, dst *ResolvedPath, overwrite bool) (*FileDescriptor, error) {
	if err := o.checkTransfer("copy", src, dst, overwrite); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	staging := stagingPath(filepath.Dir(dst.Abs), "copy")
	if err := o.copyTree(src.Abs, staging); err != nil {
		o.removeQuietly(staging)
		return nil, o.copyError(sb, "copy", src, dst, staging, err)
	}
	if err := ctx.Err(); err != nil {
		o.removeQuietly(staging)
		return nil, err
	}
	if err := o.publish(staging, dst.Abs, overwrite); err != nil {
		o.removeQuietly(staging)
		return nil, wrapOS("copy", dst.Rel, err)
	}
	return o.Meta.describe(sb, dst.Abs, false)
}

// Move relocates src to dst with a rename, falling back to copy then delete
// when the two sit on different filesystems. If the copy fails, src is left
// untouched and dst is not created.
func (o *OperationsOps) Move(ctx context.Context, sb *Sandbox, src, dst *ResolvedPath, overwrite bool) (*FileDescriptor, error) {
	if err := o.checkTransfer("move", src, dst, overwrite); err != nil {
		return nil, err
	}

	err := o.publish(src.Abs, dst.Abs, overwrite)
	if err == nil {
		return o.Meta.describe(sb, dst.Abs, false)
	}
	if !errors.Is(err, syscall.EXDEV) {
		return nil, wrapOS("move", src.Rel, err)
	}

	o.Logger.Debug("cross-device move, copying instead",
		zap.String("source", src.Rel),
		zap.String("destination", dst.Rel))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	staging := stagingPath(filepath.Dir(dst.Abs), "move")
	if err := o.copyTree(src.Abs, staging); err != nil {
		o.removeQuietly(staging)
		return nil, o.copyError(sb, "move", src, dst, staging, err)
	}
	if err := o.publish(staging, dst.Abs, overwrite); err != nil {
		o.removeQuietly(staging)
		return nil, wrapOS("move", dst.Rel, err)
	}
	if err := os.RemoveAll(src.Abs); err != nil {
		o.Logger.Error("moved entry but source removal failed",
			zap.String("source", src.Rel),
			zap.Error(err))
		return nil, newError(KindIOFailure, "move", src.Rel, "copied to %s but the source could not be fully removed", dst.Rel)
	}
	return o.Meta.describe(sb, dst.Abs, false)
}

// Delete removes an entry. A symlink is removed itself, never its target.
func (o *OperationsOps) Delete(sb *Sandbox, rp *ResolvedPath, recursive bool) error {
	if rp.IsRoot() {
		return newError(KindInvalidOperation, "delete", rp.Rel, "cannot delete the home directory")
	}
	info, err := os.Lstat(rp.Abs)
	if err != nil {
		return wrapOS("delete", rp.Rel, err)
	}

	if !info.IsDir() || recursive {
		if info.IsDir() {
			err = os.RemoveAll(rp.Abs)
		} else {
			err = os.Remove(rp.Abs)
		}
		return wrapOS("delete", rp.Rel, err)
	}

	empty, err := isEmptyDir(rp.Abs)
	if err != nil {
		return wrapOS("delete", rp.Rel, err)
	}
	if !empty {
		return newError(KindDirectoryNotEmpty, "delete", rp.Rel, "directory not empty")
	}
	return wrapOS("delete", rp.Rel, os.Remove(rp.Abs))
}

// checkTransfer applies the collision and self-containment rules shared by copy and move
func (o *OperationsOps) checkTransfer(op string, src, dst *ResolvedPath, overwrite bool) error {
	if src.IsRoot() && op == "move" {
		return newError(KindInvalidOperation, op, src.Rel, "cannot move the home directory")
	}
	if dst.IsRoot() {
		return newError(KindInvalidOperation, op, dst.Rel, "destination cannot be the home directory")
	}
	if dst.Abs == src.Abs || strings.HasPrefix(dst.Abs, src.Abs+string(filepath.Separator)) {
		return newError(KindInvalidOperation, op, dst.Rel, "destination is inside the source")
	}
	if dst.Exists && !overwrite {
		return newError(KindAlreadyExists, op, dst.Rel, "destination already exists")
	}
	return nil
}

// copyError reports which sandbox-relative entry a recursive copy failed on
func (o *OperationsOps) copyError(sb *Sandbox, op string, src, dst *ResolvedPath, staging string, err error) error {
	rel := src.Rel
	var pe *fs.PathError
	if errors.As(err, &pe) {
		switch {
		case strings.HasPrefix(pe.Path, staging):
			rel = dst.Rel + filepath.ToSlash(strings.TrimPrefix(pe.Path, staging))
		case sb.Contains(pe.Path):
			rel = sb.RelOf(pe.Path)
		}
	}
	return wrapOS(op, rel, err)
}

func isEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

// validateName accepts a single path segment only
func validateName(op, name string) error {
	switch {
	case name == "":
		return newError(KindInvalidName, op, "", "name cannot be empty")
	case name == "." || name == "..":
		return newError(KindInvalidName, op, "", "name %q is reserved", name)
	case len(name) > maxNameLength:
		return newError(KindInvalidName, op, "", "name exceeds %d bytes", maxNameLength)
	case strings.ContainsAny(name, "/\\\x00"):
		return newError(KindInvalidName, op, "", "name cannot contain path separators")
	}
	return nil
}
