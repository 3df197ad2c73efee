package filesystem

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type member struct {
	name string
	body string
}

func writeZip(t *testing.T, path string, members ...member) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(m.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func writeTarGz(t *testing.T, path string, headers ...*tar.Header) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, h := range headers {
		require.NoError(t, tw.WriteHeader(h))
		if h.Size > 0 {
			_, err := tw.Write(bytes.Repeat([]byte("x"), int(h.Size)))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestCompressExtractRoundTrip(t *testing.T) {
	for _, format := range []string{"zip", "tar.gz", "tar.zst"} {
		t.Run(format, func(t *testing.T) {
			svc, sb := newTestService(t)
			ctx := context.Background()
			writeTree(t, sb, map[string]string{
				"www/site/index.html":    "<h1>hi</h1>",
				"www/site/css/style.css": "body{}",
				"www/site/empty/.keep":   "",
				"www/readme.md":          "# readme",
				"www/unrelated.txt":      "skip me",
			})
			require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(sb.Root(), "www", "site", "evil-link")))

			desc, err := svc.Compress(ctx, sb, CompressRequest{
				Paths:       []string{"www/site", "www/readme.md"},
				ArchiveName: "bundle",
				Format:      format,
			})
			require.NoError(t, err)
			assert.Equal(t, "/www/bundle."+format, desc.Path)
			assertNoStaging(t, sb, "www")

			require.NoError(t, os.Mkdir(filepath.Join(sb.Root(), "out"), 0o755))
			tops, err := svc.Extract(ctx, sb, ExtractRequest{Path: desc.Path, Destination: "out"})
			require.NoError(t, err)

			names := make([]string, 0, len(tops))
			for _, d := range tops {
				names = append(names, d.Name)
			}
			assert.ElementsMatch(t, []string{"site", "readme.md"}, names)

			assert.Equal(t, "<h1>hi</h1>", readFile(t, sb, "out/site/index.html"))
			assert.Equal(t, "body{}", readFile(t, sb, "out/site/css/style.css"))
			assert.Equal(t, "# readme", readFile(t, sb, "out/readme.md"))
			assert.True(t, exists(sb, "out/site/empty"))
			assert.False(t, exists(sb, "out/site/evil-link"))
			assert.False(t, exists(sb, "out/unrelated.txt"))
			assertNoStaging(t, sb, "out")
		})
	}
}

func TestCompressErrors(t *testing.T) {
	svc, sb := newTestService(t)
	ctx := context.Background()
	writeTree(t, sb, map[string]string{"a.txt": "a", "taken.zip": "zip"})

	_, err := svc.Compress(ctx, sb, CompressRequest{Paths: []string{"a.txt"}, ArchiveName: "taken.zip"})
	requireKind(t, err, KindAlreadyExists)
	assert.Equal(t, "zip", readFile(t, sb, "taken.zip"))

	_, err = svc.Compress(ctx, sb, CompressRequest{Paths: []string{"a.txt", "missing"}, ArchiveName: "x"})
	requireKind(t, err, KindNotFound)
	assert.False(t, exists(sb, "x.zip"))

	_, err = svc.Compress(ctx, sb, CompressRequest{Paths: []string{"../outside"}, ArchiveName: "x"})
	requireKind(t, err, KindPathTraversal)

	_, err = svc.Compress(ctx, sb, CompressRequest{Paths: []string{"a.txt"}, ArchiveName: "../x.zip"})
	requireKind(t, err, KindPathTraversal)

	_, err = svc.Compress(ctx, sb, CompressRequest{Paths: []string{"a.txt"}, ArchiveName: "x", Format: "rar"})
	requireKind(t, err, KindInvalidArgument)

	_, err = svc.Compress(ctx, sb, CompressRequest{ArchiveName: "x"})
	requireKind(t, err, KindInvalidArgument)

	require.NoError(t, os.Symlink("a.txt", filepath.Join(sb.Root(), "link")))
	_, err = svc.Compress(ctx, sb, CompressRequest{Paths: []string{"link"}, ArchiveName: "links"})
	requireKind(t, err, KindInvalidOperation)
	assert.False(t, exists(sb, "links.zip"))
}

func TestCompressVanishedSourceLeavesNoArchive(t *testing.T) {
	sb := newTestSandbox(t)
	writeTree(t, sb, map[string]string{"a.txt": "a", "b.txt": "b"})
	ops := NewFilesystemOps(DefaultLimits(), zaptest.NewLogger(t))
	archives := &ArchivesOps{FilesystemOps: ops, Meta: &MetadataOps{FilesystemOps: ops}}

	a, err := sb.Resolve("a.txt")
	require.NoError(t, err)
	b, err := sb.Resolve("b.txt")
	require.NoError(t, err)
	dst, err := sb.ResolveNew("out.zip")
	require.NoError(t, err)
	require.NoError(t, os.Remove(b.Abs))

	_, err = archives.Compress(context.Background(), sb, []*ResolvedPath{a, b}, dst, FormatZip)
	requireKind(t, err, KindNotFound)
	assert.False(t, exists(sb, "out.zip"))
	assertNoStaging(t, sb, "")
}

func TestExtractZipSlip(t *testing.T) {
	tests := []struct {
		name    string
		members []member
	}{
		{"parent escape", []member{{"ok.txt", "fine"}, {"../../evil", "pwned"}}},
		{"nested escape", []member{{"dir/ok.txt", "fine"}, {"dir/../../evil", "pwned"}}},
		{"absolute", []member{{"ok.txt", "fine"}, {"/tmp/evil", "pwned"}}},
		{"backslash escape", []member{{"ok.txt", "fine"}, {`..\..\evil`, "pwned"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, sb := newTestService(t)
			require.NoError(t, os.MkdirAll(filepath.Join(sb.Root(), "uploads", "dest"), 0o755))
			writeZip(t, filepath.Join(sb.Root(), "uploads", "slip.zip"), tt.members...)

			_, err := svc.Extract(context.Background(), sb, ExtractRequest{Path: "uploads/slip.zip", Destination: "uploads/dest"})
			requireKind(t, err, KindPathTraversal)
			assert.Equal(t, "extract: access denied", err.Error())

			entries, err := os.ReadDir(filepath.Join(sb.Root(), "uploads", "dest"))
			require.NoError(t, err)
			assert.Empty(t, entries)
			assert.False(t, exists(sb, "evil"))
			assert.False(t, exists(sb, "uploads/evil"))
			_, err = os.Lstat(filepath.Join(filepath.Dir(sb.Root()), "evil"))
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestExtractRejectsLinksAndCorruption(t *testing.T) {
	svc, sb := newTestService(t)
	ctx := context.Background()

	writeTarGz(t, filepath.Join(sb.Root(), "links.tar.gz"),
		&tar.Header{Name: "ok.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: 2},
		&tar.Header{Name: "passwd", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd", Mode: 0o777},
	)
	_, err := svc.Extract(ctx, sb, ExtractRequest{Path: "links.tar.gz"})
	requireKind(t, err, KindInvalidArchive)
	assert.False(t, exists(sb, "ok.txt"))
	assert.False(t, exists(sb, "passwd"))

	writeTree(t, sb, map[string]string{"broken.zip": "this is not a zip archive"})
	_, err = svc.Extract(ctx, sb, ExtractRequest{Path: "broken.zip"})
	requireKind(t, err, KindInvalidArchive)

	writeTree(t, sb, map[string]string{"mystery.bin": "plain text"})
	_, err = svc.Extract(ctx, sb, ExtractRequest{Path: "mystery.bin"})
	requireKind(t, err, KindInvalidArchive)

	writeTree(t, sb, map[string]string{"dir/x": "x"})
	_, err = svc.Extract(ctx, sb, ExtractRequest{Path: "dir"})
	requireKind(t, err, KindIsADirectory)
	assertNoStaging(t, sb, "")
}

func TestExtractSniffsFormatWithoutExtension(t *testing.T) {
	svc, sb := newTestService(t)
	writeZip(t, filepath.Join(sb.Root(), "download"), member{"hello.txt", "hello"})

	tops, err := svc.Extract(context.Background(), sb, ExtractRequest{Path: "download"})
	require.NoError(t, err)
	require.Len(t, tops, 1)
	assert.Equal(t, "/hello.txt", tops[0].Path)
	assert.Equal(t, "hello", readFile(t, sb, "hello.txt"))
}

func TestExtractCollisions(t *testing.T) {
	svc, sb := newTestService(t)
	ctx := context.Background()
	writeTree(t, sb, map[string]string{"site/old.html": "old", "keep.txt": "keep"})
	writeZip(t, filepath.Join(sb.Root(), "deploy.zip"),
		member{"site/index.html", "new"},
		member{"fresh.txt", "fresh"},
	)

	_, err := svc.Extract(ctx, sb, ExtractRequest{Path: "deploy.zip"})
	requireKind(t, err, KindAlreadyExists)
	assert.Equal(t, "old", readFile(t, sb, "site/old.html"))
	assert.False(t, exists(sb, "fresh.txt"))

	tops, err := svc.Extract(ctx, sb, ExtractRequest{Path: "deploy.zip", Overwrite: true})
	require.NoError(t, err)
	assert.Len(t, tops, 2)
	assert.Equal(t, "new", readFile(t, sb, "site/index.html"))
	assert.False(t, exists(sb, "site/old.html"))
	assert.Equal(t, "fresh", readFile(t, sb, "fresh.txt"))
	assert.Equal(t, "keep", readFile(t, sb, "keep.txt"))
	assertNoStaging(t, sb, "")
}

func TestExtractSizeLimit(t *testing.T) {
	sb := newTestSandbox(t)
	limits := DefaultLimits()
	limits.MaxExtractSize = 16
	svc := NewService(limits, zaptest.NewLogger(t))

	writeZip(t, filepath.Join(sb.Root(), "bomb.zip"), member{"big.txt", string(bytes.Repeat([]byte("A"), 1024))})
	_, err := svc.Extract(context.Background(), sb, ExtractRequest{Path: "bomb.zip"})
	requireKind(t, err, KindTooLarge)
	assert.False(t, exists(sb, "big.txt"))
	assertNoStaging(t, sb, "")
}

func TestParseArchiveFormat(t *testing.T) {
	tests := []struct {
		in   string
		want ArchiveFormat
	}{
		{"", FormatZip},
		{"ZIP", FormatZip},
		{"tgz", FormatTarGz},
		{".tar.gz", FormatTarGz},
		{"tar.zst", FormatTarZst},
	}
	for _, tt := range tests {
		got, err := ParseArchiveFormat(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseArchiveFormat("7z")
	requireKind(t, err, KindInvalidArgument)
}

func TestCleanEntryName(t *testing.T) {
	parts, err := cleanEntryName("/a.zip", "./dir//sub/../file.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"dir", "file.txt"}, parts)

	_, err = cleanEntryName("/a.zip", "dir/../../x")
	requireKind(t, err, KindPathTraversal)

	_, err = cleanEntryName("/a.zip", "bad\x00name")
	requireKind(t, err, KindInvalidArchive)
}
