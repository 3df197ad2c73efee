package filesystem

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWriteReadRoundTrip(t *testing.T) {
	svc, sb := newTestService(t)
	ctx := context.Background()

	binary := []byte{0x00, 0xff, 0x10, 0x80, 'P', 'K', 0x03, 0x04}
	tests := []struct {
		name     string
		encoding string
		content  string
	}{
		{"utf8 text", "utf8", "<?php echo 1;\n// ünïcödé ✓"},
		{"empty text", "utf8", ""},
		{"default encoding", "", "plain"},
		{"base64 binary", "base64", base64.StdEncoding.EncodeToString(binary)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "rt-" + strings.ReplaceAll(tt.name, " ", "-")
			desc, err := svc.Write(ctx, sb, WriteRequest{
				Path:              path,
				Content:           tt.content,
				Encoding:          tt.encoding,
				CreateIfNotExists: true,
			})
			require.NoError(t, err)
			assert.Equal(t, TypeFile, desc.FileType)

			res, err := svc.Read(ctx, sb, ReadRequest{Path: path, Encoding: tt.encoding})
			require.NoError(t, err)
			assert.Equal(t, tt.content, res.Content.Encoded())
			assert.False(t, res.Lossy)
		})
	}
}

func TestReadBinaryAsText(t *testing.T) {
	svc, sb := newTestService(t)
	writeTree(t, sb, map[string]string{"latin1.txt": "caf\xe9 cr\xe8me"})

	res, err := svc.Read(context.Background(), sb, ReadRequest{Path: "latin1.txt"})
	require.NoError(t, err)
	assert.True(t, res.Lossy)
	assert.Equal(t, "caf� cr�me", res.Content.Encoded())

	res, err = svc.Read(context.Background(), sb, ReadRequest{Path: "latin1.txt", Encoding: "base64"})
	require.NoError(t, err)
	assert.Equal(t, []byte("caf\xe9 cr\xe8me"), res.Content.Bytes())
}

func TestReadErrors(t *testing.T) {
	sb := newTestSandbox(t)
	limits := DefaultLimits()
	limits.MaxReadSize = 8
	svc := NewService(limits, zaptest.NewLogger(t))
	ctx := context.Background()
	writeTree(t, sb, map[string]string{"big.txt": "0123456789", "dir/x": "x"})

	_, err := svc.Read(ctx, sb, ReadRequest{Path: "big.txt"})
	requireKind(t, err, KindTooLarge)

	_, err = svc.Read(ctx, sb, ReadRequest{Path: "dir"})
	requireKind(t, err, KindIsADirectory)

	_, err = svc.Read(ctx, sb, ReadRequest{Path: "missing"})
	requireKind(t, err, KindNotFound)

	_, err = svc.Read(ctx, sb, ReadRequest{Path: "dir/x", Encoding: "latin1"})
	requireKind(t, err, KindInvalidArgument)
}

func TestWriteSemantics(t *testing.T) {
	svc, sb := newTestService(t)
	ctx := context.Background()
	writeTree(t, sb, map[string]string{"conf/app.ini": "old", "dir/x": "x"})
	require.NoError(t, os.Chmod(filepath.Join(sb.Root(), "conf", "app.ini"), 0o600))

	t.Run("absent without create", func(t *testing.T) {
		_, err := svc.Write(ctx, sb, WriteRequest{Path: "conf/new.ini", Content: "x"})
		requireKind(t, err, KindNotFound)
		assert.False(t, exists(sb, "conf/new.ini"))
	})

	t.Run("directory target", func(t *testing.T) {
		_, err := svc.Write(ctx, sb, WriteRequest{Path: "dir", Content: "x", CreateIfNotExists: true})
		requireKind(t, err, KindIsADirectory)
	})

	t.Run("overwrite keeps mode and leaves no temp files", func(t *testing.T) {
		desc, err := svc.Write(ctx, sb, WriteRequest{Path: "conf/app.ini", Content: "new"})
		require.NoError(t, err)
		assert.Equal(t, "0600", desc.Mode)
		assert.Equal(t, "new", readFile(t, sb, "conf/app.ini"))

		entries, err := os.ReadDir(filepath.Join(sb.Root(), "conf"))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("write through symlink updates target", func(t *testing.T) {
		require.NoError(t, os.Symlink("app.ini", filepath.Join(sb.Root(), "conf", "link.ini")))
		_, err := svc.Write(ctx, sb, WriteRequest{Path: "conf/link.ini", Content: "via link"})
		require.NoError(t, err)
		assert.Equal(t, "via link", readFile(t, sb, "conf/app.ini"))

		info, err := os.Lstat(filepath.Join(sb.Root(), "conf", "link.ini"))
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&os.ModeSymlink)
	})

	t.Run("missing parent", func(t *testing.T) {
		_, err := svc.Write(ctx, sb, WriteRequest{Path: "nope/file", Content: "x", CreateIfNotExists: true})
		requireKind(t, err, KindNotFound)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := svc.Write(ctx, sb, WriteRequest{Path: "conf/app.ini", Content: "%%%", Encoding: "base64"})
		requireKind(t, err, KindInvalidArgument)
		assert.Equal(t, "via link", readFile(t, sb, "conf/app.ini"))
	})
}

func TestWriteTooLarge(t *testing.T) {
	sb := newTestSandbox(t)
	limits := DefaultLimits()
	limits.MaxUploadSize = 4
	svc := NewService(limits, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := svc.Write(ctx, sb, WriteRequest{Path: "f", Content: "12345", CreateIfNotExists: true})
	requireKind(t, err, KindTooLarge)

	big := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 64))
	_, err = svc.Write(ctx, sb, WriteRequest{Path: "f", Content: big, Encoding: "base64", CreateIfNotExists: true})
	requireKind(t, err, KindTooLarge)
	assert.False(t, exists(sb, "f"))
}

func TestUploadAndOpen(t *testing.T) {
	svc, sb := newTestService(t)
	ctx := context.Background()
	writeTree(t, sb, map[string]string{"uploads/keep.txt": "original"})

	desc, err := svc.Upload(ctx, sb, UploadRequest{Path: "uploads", Name: "photo.bin"}, bytes.NewReader([]byte("payload")))
	require.NoError(t, err)
	assert.Equal(t, "/uploads/photo.bin", desc.Path)
	assert.Equal(t, int64(7), desc.Size)

	_, err = svc.Upload(ctx, sb, UploadRequest{Path: "uploads", Name: "keep.txt"}, strings.NewReader("x"))
	requireKind(t, err, KindAlreadyExists)
	assert.Equal(t, "original", readFile(t, sb, "uploads/keep.txt"))

	_, err = svc.Upload(ctx, sb, UploadRequest{Path: "uploads", Name: "keep.txt", Overwrite: true}, strings.NewReader("replaced"))
	require.NoError(t, err)
	assert.Equal(t, "replaced", readFile(t, sb, "uploads/keep.txt"))

	_, err = svc.Upload(ctx, sb, UploadRequest{Path: "uploads", Name: "../escape"}, strings.NewReader("x"))
	requireKind(t, err, KindInvalidName)

	f, info, err := svc.Open(ctx, sb, StatRequest{Path: "uploads/photo.bin"})
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "photo.bin", info.Name)

	_, _, err = svc.Open(ctx, sb, StatRequest{Path: "uploads"})
	requireKind(t, err, KindIsADirectory)
}

func TestUploadTooLarge(t *testing.T) {
	sb := newTestSandbox(t)
	limits := DefaultLimits()
	limits.MaxUploadSize = 10
	svc := NewService(limits, zaptest.NewLogger(t))

	_, err := svc.Upload(context.Background(), sb, UploadRequest{Name: "big"}, strings.NewReader(strings.Repeat("x", 11)))
	requireKind(t, err, KindTooLarge)
	assert.False(t, exists(sb, "big"))

	entries, err := os.ReadDir(sb.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseEncoding(t *testing.T) {
	enc, err := ParseEncoding("")
	require.NoError(t, err)
	assert.Equal(t, EncodingUTF8, enc)

	enc, err = ParseEncoding("BASE64")
	require.NoError(t, err)
	assert.Equal(t, EncodingBase64, enc)

	_, err = ParseEncoding("hex")
	requireKind(t, err, KindInvalidArgument)
}
