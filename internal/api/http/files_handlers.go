package http

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nusapanel/panel/backend/internal/providers/filesystem"
)

// multipart text fields are short; anything longer is rejected
const maxFormFieldSize = 4096

// ReadResponse is the wire form of a content read
type ReadResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	Lossy    bool   `json:"lossy"`
	Charset  string `json:"charset,omitempty"`
}

// List returns the entries of a directory
func (h *Handlers) List(c *gin.Context) {
	var req filesystem.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, badRequest(err))
		return
	}
	sb, found := h.sandbox(c)
	if !found {
		return
	}

	done := h.metrics.TrackOperation(c, "list", req.Path)
	listing, err := h.service.List(c.Request.Context(), sb, req)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	succeed(c, listing)
}

// Stat describes one entry
func (h *Handlers) Stat(c *gin.Context) {
	var req filesystem.StatRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, badRequest(err))
		return
	}
	sb, found := h.sandbox(c)
	if !found {
		return
	}

	done := h.metrics.TrackOperation(c, "stat", req.Path)
	desc, err := h.service.Stat(c.Request.Context(), sb, req)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	succeed(c, desc)
}

// Read returns file content as utf8 text or base64
func (h *Handlers) Read(c *gin.Context) {
	var req filesystem.ReadRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, badRequest(err))
		return
	}
	sb, found := h.sandbox(c)
	if !found {
		return
	}

	done := h.metrics.TrackOperation(c, "read", req.Path)
	res, err := h.service.Read(c.Request.Context(), sb, req)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	h.metrics.AddBytesRead(res.Size)
	succeed(c, ReadResponse{
		Content:  res.Content.Encoded(),
		Encoding: string(res.Content.Encoding),
		Size:     res.Size,
		MimeType: res.MimeType,
		Lossy:    res.Lossy,
		Charset:  res.Charset,
	})
}

// Write replaces file content
func (h *Handlers) Write(c *gin.Context) {
	var req filesystem.WriteRequest
	if err := h.bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	sb, found := h.sandbox(c)
	if !found {
		return
	}

	done := h.metrics.TrackOperation(c, "write", req.Path)
	desc, err := h.service.Write(c.Request.Context(), sb, req)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	h.metrics.AddBytesWritten(desc.Size)
	succeed(c, desc)
}

// Create makes a file or directory
func (h *Handlers) Create(c *gin.Context) {
	var req filesystem.CreateRequest
	if err := h.bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	sb, found := h.sandbox(c)
	if !found {
		return
	}

	done := h.metrics.TrackOperation(c, "create", req.Path)
	desc, err := h.service.Create(c.Request.Context(), sb, req)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	h.metrics.AddBytesWritten(desc.Size)
	created(c, desc)
}

// Rename renames an entry in place
func (h *Handlers) Rename(c *gin.Context) {
	var req filesystem.RenameRequest
	if err := h.bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	sb, found := h.sandbox(c)
	if !found {
		return
	}

	done := h.metrics.TrackOperation(c, "rename", req.Path)
	desc, err := h.service.Rename(c.Request.Context(), sb, req)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	succeed(c, desc)
}

// Copy duplicates an entry
func (h *Handlers) Copy(c *gin.Context) {
	h.transfer(c, "copy", h.service.Copy)
}

// Move relocates an entry
func (h *Handlers) Move(c *gin.Context) {
	h.transfer(c, "move", h.service.Move)
}

type transferFunc func(ctx context.Context, sb *filesystem.Sandbox, req filesystem.TransferRequest) (*filesystem.FileDescriptor, error)

func (h *Handlers) transfer(c *gin.Context, op string, fn transferFunc) {
	var req filesystem.TransferRequest
	if err := h.bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	sb, found := h.sandbox(c)
	if !found {
		return
	}

	done := h.metrics.TrackOperation(c, op, req.Source+" -> "+req.Destination)
	desc, err := fn(c.Request.Context(), sb, req)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	succeed(c, desc)
}

// Delete removes an entry
func (h *Handlers) Delete(c *gin.Context) {
	var req filesystem.DeleteRequest
	if err := h.bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	sb, found := h.sandbox(c)
	if !found {
		return
	}

	done := h.metrics.TrackOperation(c, "delete", req.Path)
	err := h.service.Delete(c.Request.Context(), sb, req)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	succeed(c, gin.H{"path": req.Path, "deleted": true})
}

// Compress archives entries into a new archive
func (h *Handlers) Compress(c *gin.Context) {
	var req filesystem.CompressRequest
	if err := h.bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	sb, found := h.sandbox(c)
	if !found {
		return
	}

	done := h.metrics.TrackOperation(c, "compress", req.ArchiveName)
	desc, err := h.service.Compress(c.Request.Context(), sb, req)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	h.metrics.AddBytesWritten(desc.Size)
	created(c, desc)
}

// Extract unpacks an archive
func (h *Handlers) Extract(c *gin.Context) {
	var req filesystem.ExtractRequest
	if err := h.bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	sb, found := h.sandbox(c)
	if !found {
		return
	}

	done := h.metrics.TrackOperation(c, "extract", req.Path)
	entries, err := h.service.Extract(c.Request.Context(), sb, req)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	succeed(c, gin.H{"entries": entries, "count": len(entries)})
}

// Search finds entries by name
func (h *Handlers) Search(c *gin.Context) {
	var req filesystem.SearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, badRequest(err))
		return
	}
	sb, found := h.sandbox(c)
	if !found {
		return
	}

	done := h.metrics.TrackOperation(c, "search", req.Path)
	res, err := h.service.Search(c.Request.Context(), sb, req)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	succeed(c, res)
}

// Upload streams a multipart file part straight into the sandbox. The text
// fields path, name and overwrite may come as query parameters or as parts
// sent before the file part.
func (h *Handlers) Upload(c *gin.Context) {
	sb, found := h.sandbox(c)
	if !found {
		return
	}
	var req filesystem.UploadRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, badRequest(err))
		return
	}

	mr, err := c.Request.MultipartReader()
	if err != nil {
		respondError(c, badRequest(err))
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			respondError(c, badRequest(err))
			return
		}

		switch part.FormName() {
		case "path", "name", "overwrite":
			value, err := readField(part)
			part.Close()
			if err != nil {
				respondError(c, badRequest(err))
				return
			}
			if err := applyUploadField(&req, part.FormName(), value); err != nil {
				respondError(c, badRequest(err))
				return
			}
		case "file":
			if req.Name == "" {
				req.Name = part.FileName()
			}
			done := h.metrics.TrackOperation(c, "upload", req.Path)
			desc, err := h.service.Upload(c.Request.Context(), sb, req, part)
			part.Close()
			done(err)
			if err != nil {
				respondError(c, err)
				return
			}
			h.metrics.AddBytesWritten(desc.Size)
			created(c, desc)
			return
		default:
			part.Close()
		}
	}
	respondError(c, badRequest(errors.New("missing file part")))
}

func readField(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxFormFieldSize+1))
	if err != nil {
		return "", err
	}
	if len(b) > maxFormFieldSize {
		return "", errors.New("form field too long")
	}
	return string(b), nil
}

func applyUploadField(req *filesystem.UploadRequest, name, value string) error {
	switch name {
	case "path":
		req.Path = value
	case "name":
		req.Name = value
	case "overwrite":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return errors.New("overwrite must be a boolean")
		}
		req.Overwrite = v
	}
	return nil
}

// Download streams a file as an attachment, honoring range requests
func (h *Handlers) Download(c *gin.Context) {
	var req filesystem.StatRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, badRequest(err))
		return
	}
	sb, found := h.sandbox(c)
	if !found {
		return
	}

	done := h.metrics.TrackOperation(c, "download", req.Path)
	f, desc, err := h.service.Open(c.Request.Context(), sb, req)
	done(err)
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": desc.Name}))
	c.Header("X-Content-Type-Options", "nosniff")
	http.ServeContent(c.Writer, c.Request, desc.Name, desc.Modified, f)
	h.metrics.AddBytesRead(desc.Size)
}
