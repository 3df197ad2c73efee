package filesystem

import (
	"archive/tar"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// archiveWriter appends entries to an archive container
type archiveWriter interface {
	AddDir(name string, info fs.FileInfo) error
	AddFile(name string, info fs.FileInfo, r io.Reader) error
	Close() error
}

func newArchiveWriter(format ArchiveFormat, w io.Writer) (archiveWriter, error) {
	switch format {
	case FormatZip, "":
		return &zipWriter{zw: zip.NewWriter(w)}, nil
	case FormatTarGz:
		gz := gzip.NewWriter(w)
		return &tarWriter{tw: tar.NewWriter(gz), compressor: gz}, nil
	case FormatTarZst:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, err
		}
		return &tarWriter{tw: tar.NewWriter(zw), compressor: zw}, nil
	}
	return nil, newError(KindInvalidArgument, "compress", "", "unsupported archive format %q", format)
}

type zipWriter struct {
	zw *zip.Writer
}

func (z *zipWriter) AddDir(name string, info fs.FileInfo) error {
	h, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	h.Name = name + "/"
	h.Method = zip.Store
	_, err = z.zw.CreateHeader(h)
	return err
}

func (z *zipWriter) AddFile(name string, info fs.FileInfo, r io.Reader) error {
	h, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	h.Name = name
	h.Method = zip.Deflate
	w, err := z.zw.CreateHeader(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	return err
}

func (z *zipWriter) Close() error {
	return z.zw.Close()
}

type tarWriter struct {
	tw         *tar.Writer
	compressor io.WriteCloser
}

func (t *tarWriter) AddDir(name string, info fs.FileInfo) error {
	h, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	h.Name = name + "/"
	return t.tw.WriteHeader(h)
}

func (t *tarWriter) AddFile(name string, info fs.FileInfo, r io.Reader) error {
	h, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	h.Name = name
	if err := t.tw.WriteHeader(h); err != nil {
		return err
	}
	_, err = io.CopyN(t.tw, r, h.Size)
	return err
}

func (t *tarWriter) Close() error {
	if err := t.tw.Close(); err != nil {
		t.compressor.Close()
		return err
	}
	return t.compressor.Close()
}

// entryHeader is what a reader reports for each member before its body
type entryHeader struct {
	archiveEntry
	// skip marks metadata-only members such as pax global headers
	skip bool
	// special marks links, devices and fifos, which are never extracted
	special bool
}

// archiveReader iterates members of an archive in stored order
type archiveReader interface {
	Next() (*entryHeader, io.Reader, error)
	Close() error
}

func openArchive(format ArchiveFormat, path string) (archiveReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatZip:
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		zr, err := zip.NewReader(f, info.Size())
		if err != nil {
			f.Close()
			return nil, err
		}
		return &zipReader{f: f, zr: zr}, nil
	case FormatTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &tarReader{f: f, tr: tar.NewReader(gz), decompressor: gz}, nil
	case FormatTarZst:
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &tarReader{f: f, tr: tar.NewReader(zr), decompressor: zstdCloser{zr}}, nil
	}
	f.Close()
	return nil, errors.New("unsupported archive format")
}

type zipReader struct {
	f    *os.File
	zr   *zip.Reader
	next int
	body io.ReadCloser
}

func (z *zipReader) Next() (*entryHeader, io.Reader, error) {
	if z.body != nil {
		z.body.Close()
		z.body = nil
	}
	if z.next >= len(z.zr.File) {
		return nil, nil, io.EOF
	}
	zf := z.zr.File[z.next]
	z.next++

	mode := zf.Mode()
	h := &entryHeader{archiveEntry: archiveEntry{
		name: zf.Name,
		dir:  mode.IsDir() || strings.HasSuffix(zf.Name, "/"),
		mode: mode,
		size: int64(zf.UncompressedSize64),
	}}
	if !h.dir && !mode.IsRegular() {
		h.special = true
		return h, nil, nil
	}
	if h.dir {
		return h, nil, nil
	}

	body, err := zf.Open()
	if err != nil {
		return nil, nil, err
	}
	z.body = body
	return h, body, nil
}

func (z *zipReader) Close() error {
	if z.body != nil {
		z.body.Close()
	}
	return z.f.Close()
}

type tarReader struct {
	f            *os.File
	tr           *tar.Reader
	decompressor io.Closer
}

func (t *tarReader) Next() (*entryHeader, io.Reader, error) {
	hdr, err := t.tr.Next()
	// insecure names are rejected by the caller with a more precise error
	if err != nil && (hdr == nil || !errors.Is(err, tar.ErrInsecurePath)) {
		return nil, nil, err
	}

	h := &entryHeader{archiveEntry: archiveEntry{
		name: hdr.Name,
		mode: hdr.FileInfo().Mode(),
		size: hdr.Size,
	}}
	switch hdr.Typeflag {
	case tar.TypeDir:
		h.dir = true
	case tar.TypeReg, '\x00':
	case tar.TypeXGlobalHeader:
		h.skip = true
	default:
		h.special = true
	}
	return h, t.tr, nil
}

func (t *tarReader) Close() error {
	t.decompressor.Close()
	return t.f.Close()
}

// zstdCloser adapts zstd.Decoder, whose Close returns nothing
type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}
