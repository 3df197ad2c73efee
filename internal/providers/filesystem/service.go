package filesystem

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// checkRequest runs struct validation and reports the first failing field
func checkRequest(op string, req any) error {
	err := requestValidator().Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return newError(KindInvalidArgument, op, "", "field %s failed %s validation", strings.ToLower(fe.Field()), fe.Tag())
	}
	return newError(KindInvalidArgument, op, "", "%v", err)
}

// ListRequest lists a directory
type ListRequest struct {
	Path       string `json:"path" form:"path" validate:"max=4096"`
	ShowHidden bool   `json:"show_hidden" form:"show_hidden"`
}

// StatRequest describes one entry
type StatRequest struct {
	Path string `json:"path" form:"path" validate:"max=4096"`
}

// ReadRequest loads file content
type ReadRequest struct {
	Path     string `json:"path" form:"path" validate:"max=4096"`
	Encoding string `json:"encoding" form:"encoding" validate:"omitempty,oneof=utf8 base64"`
}

// WriteRequest replaces file content
type WriteRequest struct {
	Path              string `json:"path" validate:"max=4096"`
	Content           string `json:"content"`
	Encoding          string `json:"encoding" validate:"omitempty,oneof=utf8 base64"`
	CreateIfNotExists bool   `json:"create_if_not_exists"`
}

// CreateRequest makes a file or directory inside Path
type CreateRequest struct {
	Path     string  `json:"path" validate:"max=4096"`
	Name     string  `json:"name" validate:"required,max=255"`
	Type     string  `json:"type" validate:"omitempty,oneof=file directory"`
	Content  *string `json:"content"`
	Encoding string  `json:"encoding" validate:"omitempty,oneof=utf8 base64"`
}

// RenameRequest renames an entry in place
type RenameRequest struct {
	Path    string `json:"path" validate:"max=4096"`
	NewName string `json:"new_name" validate:"required,max=255"`
}

// TransferRequest is shared by copy and move
type TransferRequest struct {
	Source      string `json:"source" validate:"max=4096"`
	Destination string `json:"destination" validate:"max=4096"`
	Overwrite   bool   `json:"overwrite"`
}

// DeleteRequest removes an entry
type DeleteRequest struct {
	Path      string `json:"path" validate:"max=4096"`
	Recursive bool   `json:"recursive"`
}

// CompressRequest archives Paths. ArchiveName is either a bare name, placed
// beside the sources, or a sandbox path.
type CompressRequest struct {
	Paths       []string `json:"paths" validate:"required,min=1,max=1000,dive,max=4096"`
	ArchiveName string   `json:"archive_name" validate:"required,max=4096"`
	Format      string   `json:"format" validate:"omitempty,oneof=zip tar.gz tgz tar.zst tzst"`
}

// ExtractRequest unpacks an archive; an empty Destination means the archive's directory
type ExtractRequest struct {
	Path        string `json:"path" validate:"max=4096"`
	Destination string `json:"destination" validate:"max=4096"`
	Overwrite   bool   `json:"overwrite"`
}

// SearchRequest finds entries by name under Path
type SearchRequest struct {
	Path       string `json:"path" form:"path" validate:"max=4096"`
	Query      string `json:"query" form:"query" validate:"required_without=Pattern,max=255"`
	Pattern    string `json:"pattern" form:"pattern" validate:"max=1024"`
	Limit      int    `json:"limit" form:"limit" validate:"gte=0"`
	ShowHidden bool   `json:"show_hidden" form:"show_hidden"`
}

// UploadRequest streams a new file into the directory Path
type UploadRequest struct {
	Path      string `json:"path" form:"path" validate:"max=4096"`
	Name      string `json:"name" form:"name" validate:"required,max=255"`
	Overwrite bool   `json:"overwrite" form:"overwrite"`
}

// Service is the entry point the route layer calls. Every request is
// validated, then every path is resolved through the sandbox before any I/O.
type Service struct {
	*FilesystemOps

	meta     *MetadataOps
	dirs     *DirectoryOps
	content  *BasicOps
	mutate   *OperationsOps
	archives *ArchivesOps
	finder   *SearchOps
}

// NewService wires the components around one shared FilesystemOps
func NewService(limits Limits, logger *zap.Logger) *Service {
	return newService(NewFilesystemOps(limits, logger))
}

func newService(ops *FilesystemOps) *Service {
	meta := &MetadataOps{FilesystemOps: ops}
	return &Service{
		FilesystemOps: ops,
		meta:          meta,
		dirs:          &DirectoryOps{FilesystemOps: ops, Meta: meta},
		content:       &BasicOps{FilesystemOps: ops, Meta: meta},
		mutate:        &OperationsOps{FilesystemOps: ops, Meta: meta},
		archives:      &ArchivesOps{FilesystemOps: ops, Meta: meta},
		finder:        &SearchOps{FilesystemOps: ops, Meta: meta},
	}
}

// List returns the entries of a directory
func (s *Service) List(ctx context.Context, sb *Sandbox, req ListRequest) (*Listing, error) {
	if err := checkRequest("list", req); err != nil {
		return nil, err
	}
	rp, err := sb.Resolve(req.Path)
	if err != nil {
		return nil, err
	}
	return s.dirs.List(ctx, sb, rp, req.ShowHidden)
}

// Stat describes a single entry
func (s *Service) Stat(ctx context.Context, sb *Sandbox, req StatRequest) (*FileDescriptor, error) {
	if err := checkRequest("stat", req); err != nil {
		return nil, err
	}
	rp, err := sb.Resolve(req.Path)
	if err != nil {
		return nil, err
	}
	return s.meta.DescribeDetailed(sb, rp)
}

// Read loads file content in the requested encoding
func (s *Service) Read(ctx context.Context, sb *Sandbox, req ReadRequest) (*ReadResult, error) {
	if err := checkRequest("read", req); err != nil {
		return nil, err
	}
	enc, err := ParseEncoding(req.Encoding)
	if err != nil {
		return nil, err
	}
	rp, err := sb.Resolve(req.Path)
	if err != nil {
		return nil, err
	}
	return s.content.Read(sb, rp, enc)
}

// Write replaces file content atomically
func (s *Service) Write(ctx context.Context, sb *Sandbox, req WriteRequest) (*FileDescriptor, error) {
	if err := checkRequest("write", req); err != nil {
		return nil, err
	}
	enc, err := ParseEncoding(req.Encoding)
	if err != nil {
		return nil, err
	}
	content, err := s.content.Decode(enc, req.Content)
	if err != nil {
		return nil, err
	}
	rp, err := sb.ResolveNew(req.Path)
	if err != nil {
		return nil, err
	}
	return s.content.Write(sb, rp, content, req.CreateIfNotExists)
}

// Create makes a new file or directory
func (s *Service) Create(ctx context.Context, sb *Sandbox, req CreateRequest) (*FileDescriptor, error) {
	if err := checkRequest("create", req); err != nil {
		return nil, err
	}
	var content *Content
	if req.Content != nil {
		enc, err := ParseEncoding(req.Encoding)
		if err != nil {
			return nil, err
		}
		c, err := s.content.Decode(enc, *req.Content)
		if err != nil {
			return nil, err
		}
		content = &c
	}
	parent, err := sb.Resolve(req.Path)
	if err != nil {
		return nil, err
	}
	return s.mutate.Create(sb, parent, req.Name, req.Type, content)
}

// Rename renames an entry in place
func (s *Service) Rename(ctx context.Context, sb *Sandbox, req RenameRequest) (*FileDescriptor, error) {
	if err := checkRequest("rename", req); err != nil {
		return nil, err
	}
	rp, err := sb.Resolve(req.Path)
	if err != nil {
		return nil, err
	}
	return s.mutate.Rename(sb, rp, req.NewName)
}

// Copy duplicates an entry
func (s *Service) Copy(ctx context.Context, sb *Sandbox, req TransferRequest) (*FileDescriptor, error) {
	src, dst, err := s.resolveTransfer("copy", sb, req)
	if err != nil {
		return nil, err
	}
	return s.mutate.Copy(ctx, sb, src, dst, req.Overwrite)
}

// Move relocates an entry
func (s *Service) Move(ctx context.Context, sb *Sandbox, req TransferRequest) (*FileDescriptor, error) {
	src, dst, err := s.resolveTransfer("move", sb, req)
	if err != nil {
		return nil, err
	}
	return s.mutate.Move(ctx, sb, src, dst, req.Overwrite)
}

func (s *Service) resolveTransfer(op string, sb *Sandbox, req TransferRequest) (*ResolvedPath, *ResolvedPath, error) {
	if err := checkRequest(op, req); err != nil {
		return nil, nil, err
	}
	src, err := sb.Resolve(req.Source)
	if err != nil {
		return nil, nil, err
	}
	dst, err := sb.ResolveNew(req.Destination)
	if err != nil {
		return nil, nil, err
	}
	return src, dst, nil
}

// Delete removes an entry
func (s *Service) Delete(ctx context.Context, sb *Sandbox, req DeleteRequest) error {
	if err := checkRequest("delete", req); err != nil {
		return err
	}
	rp, err := sb.Resolve(req.Path)
	if err != nil {
		return err
	}
	return s.mutate.Delete(sb, rp, req.Recursive)
}

// Compress archives a set of entries
func (s *Service) Compress(ctx context.Context, sb *Sandbox, req CompressRequest) (*FileDescriptor, error) {
	if err := checkRequest("compress", req); err != nil {
		return nil, err
	}
	format, err := ParseArchiveFormat(req.Format)
	if err != nil {
		return nil, err
	}

	sources := make([]*ResolvedPath, 0, len(req.Paths))
	for _, p := range req.Paths {
		rp, err := sb.Resolve(p)
		if err != nil {
			return nil, err
		}
		sources = append(sources, rp)
	}

	name := req.ArchiveName
	if !strings.HasSuffix(strings.ToLower(name), format.Extension()) {
		name += format.Extension()
	}
	if !strings.Contains(name, "/") {
		if err := validateName("compress", name); err != nil {
			return nil, err
		}
		parent := commonParent(sources)
		if !sb.Contains(parent) {
			parent = sb.Root()
		}
		name = path.Join(sb.RelOf(parent), name)
	}
	dst, err := sb.ResolveNew(name)
	if err != nil {
		return nil, err
	}
	return s.archives.Compress(ctx, sb, sources, dst, format)
}

// Extract unpacks an archive
func (s *Service) Extract(ctx context.Context, sb *Sandbox, req ExtractRequest) ([]*FileDescriptor, error) {
	if err := checkRequest("extract", req); err != nil {
		return nil, err
	}
	archive, err := sb.Resolve(req.Path)
	if err != nil {
		return nil, err
	}
	destPath := req.Destination
	if destPath == "" {
		destPath = sb.RelOf(filepath.Dir(archive.Abs))
	}
	dest, err := sb.Resolve(destPath)
	if err != nil {
		return nil, err
	}
	return s.archives.Extract(ctx, sb, archive, dest, req.Overwrite)
}

// Search finds entries by name
func (s *Service) Search(ctx context.Context, sb *Sandbox, req SearchRequest) (*SearchResult, error) {
	if err := checkRequest("search", req); err != nil {
		return nil, err
	}
	root, err := sb.Resolve(req.Path)
	if err != nil {
		return nil, err
	}
	return s.finder.Search(ctx, sb, root, SearchQuery{
		Name:       req.Query,
		Pattern:    req.Pattern,
		Limit:      req.Limit,
		ShowHidden: req.ShowHidden,
	})
}

// Upload streams r into a new file
func (s *Service) Upload(ctx context.Context, sb *Sandbox, req UploadRequest, r io.Reader) (*FileDescriptor, error) {
	if err := checkRequest("upload", req); err != nil {
		return nil, err
	}
	dir, err := sb.Resolve(req.Path)
	if err != nil {
		return nil, err
	}
	return s.content.Upload(sb, dir, req.Name, r, req.Overwrite)
}

// Open returns a read handle for a download; the caller closes it
func (s *Service) Open(ctx context.Context, sb *Sandbox, req StatRequest) (*os.File, *FileDescriptor, error) {
	if err := checkRequest("download", req); err != nil {
		return nil, nil, err
	}
	rp, err := sb.Resolve(req.Path)
	if err != nil {
		return nil, nil, err
	}
	return s.content.Open(sb, rp)
}
