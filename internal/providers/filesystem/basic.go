package filesystem

import (
	"bytes"
	"encoding/base64"
	"io"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
)

// Encoding tags how content crosses the API boundary
type Encoding string

const (
	EncodingUTF8   Encoding = "utf8"
	EncodingBase64 Encoding = "base64"
)

// ParseEncoding validates an encoding tag; empty means utf8
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(s)) {
	case "", EncodingUTF8:
		return EncodingUTF8, nil
	case EncodingBase64:
		return EncodingBase64, nil
	}
	return "", newError(KindInvalidArgument, "encoding", "", "unknown encoding %q", s)
}

// Content is either utf8 text or raw bytes carried as base64
type Content struct {
	Encoding Encoding
	text     string
	binary   []byte
}

// TextContent wraps utf8 text
func TextContent(s string) Content {
	return Content{Encoding: EncodingUTF8, text: s}
}

// BinaryContent wraps raw bytes
func BinaryContent(b []byte) Content {
	return Content{Encoding: EncodingBase64, binary: b}
}

// Bytes returns the raw bytes to store
func (c Content) Bytes() []byte {
	if c.Encoding == EncodingBase64 {
		return c.binary
	}
	return []byte(c.text)
}

// Len returns the number of raw bytes
func (c Content) Len() int {
	if c.Encoding == EncodingBase64 {
		return len(c.binary)
	}
	return len(c.text)
}

// Encoded renders the content in its wire form
func (c Content) Encoded() string {
	if c.Encoding == EncodingBase64 {
		return base64.StdEncoding.EncodeToString(c.binary)
	}
	return c.text
}

// ReadResult carries file content plus detection hints
type ReadResult struct {
	Content  Content
	Size     int64
	MimeType string
	// Lossy is set when utf8 decoding had to replace invalid sequences
	Lossy   bool
	Charset string
}

// BasicOps reads and writes file content
type BasicOps struct {
	*FilesystemOps
	Meta *MetadataOps
}

// Decode turns wire data into Content, rejecting payloads over the upload
// limit before the decoded buffer is allocated.
func (b *BasicOps) Decode(enc Encoding, data string) (Content, error) {
	limit := b.Limits.MaxUploadSize
	switch enc {
	case EncodingBase64:
		if int64(base64.StdEncoding.DecodedLen(len(data))) > limit+2 {
			return Content{}, newError(KindTooLarge, "write", "", "content exceeds %s limit", formatBytes(limit))
		}
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return Content{}, newError(KindInvalidArgument, "write", "", "invalid base64 content")
		}
		if int64(len(raw)) > limit {
			return Content{}, newError(KindTooLarge, "write", "", "content exceeds %s limit", formatBytes(limit))
		}
		return BinaryContent(raw), nil
	case EncodingUTF8, "":
		if int64(len(data)) > limit {
			return Content{}, newError(KindTooLarge, "write", "", "content exceeds %s limit", formatBytes(limit))
		}
		return TextContent(data), nil
	}
	return Content{}, newError(KindInvalidArgument, "write", "", "unknown encoding %q", enc)
}

// Read loads a file. Invalid utf8 is replaced with U+FFFD and flagged as lossy.
func (b *BasicOps) Read(sb *Sandbox, rp *ResolvedPath, enc Encoding) (*ReadResult, error) {
	if rp.Target == "" {
		return nil, newError(KindNotFound, "read", rp.Rel, "no such file or directory")
	}
	info, err := os.Stat(rp.Target)
	if err != nil {
		return nil, wrapOS("read", rp.Rel, err)
	}
	if err := regularFile("read", rp.Rel, info); err != nil {
		return nil, err
	}
	limit := b.Limits.MaxReadSize
	if info.Size() > limit {
		return nil, newError(KindTooLarge, "read", rp.Rel, "file exceeds %s read limit", formatBytes(limit))
	}

	f, err := openRegular(sb, "read", rp)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, wrapOS("read", rp.Rel, err)
	}
	if int64(len(data)) > limit {
		return nil, newError(KindTooLarge, "read", rp.Rel, "file exceeds %s read limit", formatBytes(limit))
	}

	res := &ReadResult{Size: int64(len(data)), MimeType: mimetype.Detect(data).String()}
	if enc == EncodingBase64 {
		res.Content = BinaryContent(data)
		return res, nil
	}

	if !utf8.Valid(data) {
		res.Lossy = true
		if best, err := chardet.NewTextDetector().DetectBest(data); err == nil {
			res.Charset = best.Charset
		}
		data = bytes.ToValidUTF8(data, []byte(string(utf8.RuneError)))
	}
	res.Content = TextContent(string(data))
	return res, nil
}

// Write truncates and rewrites a file atomically. A symlink leaf is written
// through to its target.
func (b *BasicOps) Write(sb *Sandbox, rp *ResolvedPath, content Content, create bool) (*FileDescriptor, error) {
	limit := b.Limits.MaxUploadSize
	if int64(content.Len()) > limit {
		return nil, newError(KindTooLarge, "write", rp.Rel, "content exceeds %s limit", formatBytes(limit))
	}

	dest, prev, err := writeDest("write", rp, create)
	if err != nil {
		return nil, err
	}
	if _, err := b.writeAtomic(sb, "write", rp.Rel, dest, prev, bytes.NewReader(content.Bytes()), limit, true); err != nil {
		return nil, err
	}
	return b.Meta.describe(sb, dest, false)
}

// Upload streams r into name under dir without buffering it in memory
func (b *BasicOps) Upload(sb *Sandbox, dir *ResolvedPath, name string, r io.Reader, overwrite bool) (*FileDescriptor, error) {
	if err := validateName("upload", name); err != nil {
		return nil, err
	}
	if _, err := dirTarget("upload", dir); err != nil {
		return nil, err
	}
	rp, err := sb.Join(dir, name)
	if err != nil {
		return nil, err
	}
	if rp.Exists && !overwrite {
		return nil, newError(KindAlreadyExists, "upload", rp.Rel, "file already exists")
	}

	dest, prev, err := writeDest("upload", rp, true)
	if err != nil {
		return nil, err
	}
	if _, err := b.writeAtomic(sb, "upload", rp.Rel, dest, prev, r, b.Limits.MaxUploadSize, overwrite); err != nil {
		return nil, err
	}
	return b.Meta.describe(sb, dest, true)
}

// Open returns a read handle for streaming a file to the client
func (b *BasicOps) Open(sb *Sandbox, rp *ResolvedPath) (*os.File, *FileDescriptor, error) {
	if rp.Target == "" {
		return nil, nil, newError(KindNotFound, "download", rp.Rel, "no such file or directory")
	}
	info, err := os.Stat(rp.Target)
	if err != nil {
		return nil, nil, wrapOS("download", rp.Rel, err)
	}
	if err := regularFile("download", rp.Rel, info); err != nil {
		return nil, nil, err
	}
	f, err := openRegular(sb, "download", rp)
	if err != nil {
		return nil, nil, err
	}
	info, err = f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, wrapOS("download", rp.Rel, err)
	}
	desc := b.Meta.fromInfo(sb, rp.Target, info)
	return f, desc, nil
}

// openRegular opens the target without blocking on special files and checks
// that what was opened is still a regular file
func openRegular(sb *Sandbox, op string, rp *ResolvedPath) (*os.File, error) {
	f, err := sb.openFile(op, rp.Target, os.O_RDONLY|openNonBlock, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapOS(op, rp.Rel, err)
	}
	if err := regularFile(op, rp.Rel, info); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// regularFile rejects directories, FIFOs, sockets and device nodes
func regularFile(op, rel string, info fs.FileInfo) error {
	switch {
	case info.IsDir():
		return newError(KindIsADirectory, op, rel, "is a directory")
	case !info.Mode().IsRegular():
		return newError(KindInvalidOperation, op, rel, "not a regular file")
	}
	return nil
}

// writeDest picks the file a content write lands on. prev describes the file
// being replaced and is nil for a new one.
func writeDest(op string, rp *ResolvedPath, create bool) (string, fs.FileInfo, error) {
	if !rp.Exists {
		if !create {
			return "", nil, newError(KindNotFound, op, rp.Rel, "no such file")
		}
		return rp.Abs, nil, nil
	}
	if rp.Target == "" {
		return "", nil, newError(KindNotFound, op, rp.Rel, "symlink target does not exist")
	}
	info, err := os.Stat(rp.Target)
	if err != nil {
		return "", nil, wrapOS(op, rp.Rel, err)
	}
	if err := regularFile(op, rp.Rel, info); err != nil {
		return "", nil, err
	}
	return rp.Target, info, nil
}
