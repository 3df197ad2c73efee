package filesystem

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirectoryOps enumerates directory contents
type DirectoryOps struct {
	*FilesystemOps
	Meta *MetadataOps
}

// Listing is the result of a directory listing
type Listing struct {
	Path       string            `json:"path"`
	Entries    []*FileDescriptor `json:"entries"`
	TotalItems int               `json:"total_items"`
	TotalSize  int64             `json:"total_size"`
}

// List returns the direct children of a directory. Order is unspecified;
// entries vanishing between readdir and stat are skipped.
func (d *DirectoryOps) List(ctx context.Context, sb *Sandbox, rp *ResolvedPath, showHidden bool) (*Listing, error) {
	dir, err := dirTarget("list", rp)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, wrapOS("list", rp.Rel, err)
	}

	listing := &Listing{Path: rp.Rel, Entries: make([]*FileDescriptor, 0, len(entries))}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		if !showHidden && strings.HasPrefix(name, ".") {
			continue
		}

		abs := filepath.Join(dir, name)
		info, err := os.Lstat(abs)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, wrapOS("list", sb.RelOf(abs), err)
		}

		desc := d.Meta.fromInfo(sb, abs, info)
		listing.Entries = append(listing.Entries, desc)
		listing.TotalSize += desc.Size
	}
	listing.TotalItems = len(listing.Entries)
	return listing, nil
}

// dirTarget returns the canonical directory rp refers to
func dirTarget(op string, rp *ResolvedPath) (string, error) {
	if rp.Target == "" {
		return "", newError(KindNotFound, op, rp.Rel, "no such file or directory")
	}
	info, err := os.Stat(rp.Target)
	if err != nil {
		return "", wrapOS(op, rp.Rel, err)
	}
	if !info.IsDir() {
		return "", newError(KindNotADirectory, op, rp.Rel, "not a directory")
	}
	return rp.Target, nil
}
