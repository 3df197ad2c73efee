package filesystem

import (
	"os"
	"time"

	cp "github.com/otiai10/copy"
	"go.uber.org/zap"
)

// File types reported in FileDescriptor.FileType
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
	TypeSymlink   = "symlink"
)

// FileDescriptor describes one filesystem entry as seen from inside a sandbox
type FileDescriptor struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	FileType    string    `json:"file_type"`
	Size        int64     `json:"size"`
	SizeHuman   string    `json:"size_human"`
	Permissions string    `json:"permissions"`
	Mode        string    `json:"mode"`
	Owner       string    `json:"owner"`
	Group       string    `json:"group"`
	Modified    time.Time `json:"modified"`
	Accessed    time.Time `json:"accessed"`
	Created     time.Time `json:"created"`
	Hidden      bool      `json:"is_hidden"`
	Extension   string    `json:"extension,omitempty"`
	MimeType    string    `json:"mime_type,omitempty"`
	LinkTarget  string    `json:"link_target,omitempty"`
}

// IsDir reports whether the descriptor is a directory
func (d *FileDescriptor) IsDir() bool {
	return d.FileType == TypeDirectory
}

// Limits bounds the resources a single operation may consume
type Limits struct {
	MaxReadSize    int64
	MaxUploadSize  int64
	MaxExtractSize int64
	SearchLimit    int
	MaxSearchLimit int
}

// DefaultLimits returns the limits used when none are configured
func DefaultLimits() Limits {
	return Limits{
		MaxReadSize:    10 << 20,
		MaxUploadSize:  100 << 20,
		MaxExtractSize: 1 << 30,
		SearchLimit:    50,
		MaxSearchLimit: 1000,
	}
}

// FilesystemOps provides the shared state and helpers behind every operation
type FilesystemOps struct {
	Limits Limits
	Logger *zap.Logger

	// no-clobber rename and recursive copy; swappable for tests that
	// simulate cross-device moves and failing copies
	rename   func(oldpath, newpath string) error
	copyTree func(src, dst string) error

	owners *ownerCache
}

// NewFilesystemOps creates the shared operation state
func NewFilesystemOps(limits Limits, logger *zap.Logger) *FilesystemOps {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilesystemOps{
		Limits:   limits,
		Logger:   logger,
		rename:   renameNoReplace,
		copyTree: copyTree,
		owners:   newOwnerCache(),
	}
}

// copyTree copies src to dst recursively, recreating symlinks rather than
// following them so nothing outside the sandbox is pulled in. Sockets, FIFOs
// and device nodes below src are left out; none of them can be read safely.
func copyTree(src, dst string) error {
	return cp.Copy(src, dst, cp.Options{
		OnSymlink: func(string) cp.SymlinkAction {
			return cp.Shallow
		},
		Skip: func(info os.FileInfo, _, _ string) (bool, error) {
			mode := info.Mode()
			return !mode.IsRegular() && !mode.IsDir() && mode&os.ModeSymlink == 0, nil
		},
		PreserveTimes: true,
		Sync:          true,
	})
}
