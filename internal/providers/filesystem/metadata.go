package filesystem

import (
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// MetadataOps turns resolved paths into FileDescriptors
type MetadataOps struct {
	*FilesystemOps
}

// Describe stats the entry fresh and reports it without following a symlink leaf
func (m *MetadataOps) Describe(sb *Sandbox, rp *ResolvedPath) (*FileDescriptor, error) {
	return m.describe(sb, rp.Abs, false)
}

// DescribeDetailed is Describe plus content-based MIME detection for regular files
func (m *MetadataOps) DescribeDetailed(sb *Sandbox, rp *ResolvedPath) (*FileDescriptor, error) {
	return m.describe(sb, rp.Abs, true)
}

func (m *MetadataOps) describe(sb *Sandbox, abs string, detect bool) (*FileDescriptor, error) {
	rel := sb.RelOf(abs)

	info, err := os.Lstat(abs)
	if err != nil {
		return nil, wrapOS("stat", rel, err)
	}
	desc := m.fromInfo(sb, abs, info)

	if detect && info.Mode().IsRegular() {
		if mtype, err := mimetype.DetectFile(abs); err == nil {
			desc.MimeType = mtype.String()
		}
	}
	return desc, nil
}

// fromInfo builds a descriptor from an Lstat result
func (m *MetadataOps) fromInfo(sb *Sandbox, abs string, info fs.FileInfo) *FileDescriptor {
	name := info.Name()
	if abs == sb.Root() {
		name = filepath.Base(abs)
	}

	desc := &FileDescriptor{
		Name:        name,
		Path:        sb.RelOf(abs),
		FileType:    fileType(info.Mode()),
		Size:        info.Size(),
		SizeHuman:   formatBytes(info.Size()),
		Permissions: info.Mode().Perm().String()[1:],
		Mode:        octalMode(info.Mode()),
		Modified:    info.ModTime(),
		Hidden:      strings.HasPrefix(name, "."),
	}
	desc.Accessed, desc.Created = fileTimes(abs, info)

	if desc.FileType != TypeDirectory {
		desc.Extension = strings.TrimPrefix(strings.ToLower(filepath.Ext(strings.TrimPrefix(name, "."))), ".")
	}

	if uid, gid, ok := fileOwner(info); ok {
		desc.Owner = m.owners.user(uid)
		desc.Group = m.owners.group(gid)
	}

	if desc.FileType == TypeSymlink {
		if target, err := filepath.EvalSymlinks(abs); err == nil && sb.Contains(target) {
			desc.LinkTarget = sb.RelOf(target)
		}
	}
	return desc
}

func fileType(mode fs.FileMode) string {
	switch {
	case mode&fs.ModeSymlink != 0:
		return TypeSymlink
	case mode.IsDir():
		return TypeDirectory
	default:
		return TypeFile
	}
}

// octalMode renders permission bits including setuid, setgid and sticky as 4 digits
func octalMode(mode fs.FileMode) string {
	bits := uint32(mode.Perm())
	if mode&fs.ModeSetuid != 0 {
		bits |= 0o4000
	}
	if mode&fs.ModeSetgid != 0 {
		bits |= 0o2000
	}
	if mode&fs.ModeSticky != 0 {
		bits |= 0o1000
	}
	return fmt.Sprintf("%04o", bits)
}

// ownerCache memoizes uid/gid to name lookups; unknown ids render numerically
type ownerCache struct {
	users  sync.Map
	groups sync.Map
}

func newOwnerCache() *ownerCache {
	return &ownerCache{}
}

func (c *ownerCache) user(uid uint32) string {
	if v, ok := c.users.Load(uid); ok {
		return v.(string)
	}
	id := strconv.FormatUint(uint64(uid), 10)
	name := id
	if u, err := user.LookupId(id); err == nil {
		name = u.Username
	}
	c.users.Store(uid, name)
	return name
}

func (c *ownerCache) group(gid uint32) string {
	if v, ok := c.groups.Load(gid); ok {
		return v.(string)
	}
	id := strconv.FormatUint(uint64(gid), 10)
	name := id
	if g, err := user.LookupGroupId(id); err == nil {
		name = g.Name
	}
	c.groups.Store(gid, name)
	return name
}

// formatBytes formats bytes to human-readable size
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.2f %s", float64(bytes)/float64(div), units[exp])
}
