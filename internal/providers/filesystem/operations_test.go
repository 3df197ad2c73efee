package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func strPtr(s string) *string { return &s }

func TestProjectScenario(t *testing.T) {
	svc, sb := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, sb, CreateRequest{Name: "projects", Type: "directory"})
	require.NoError(t, err)

	desc, err := svc.Create(ctx, sb, CreateRequest{Path: "projects", Name: "app.php", Type: "file", Content: strPtr("<?php echo 1;")})
	require.NoError(t, err)
	assert.Equal(t, "/projects/app.php", desc.Path)

	res, err := svc.Read(ctx, sb, ReadRequest{Path: "projects/app.php"})
	require.NoError(t, err)
	assert.Equal(t, "<?php echo 1;", res.Content.Encoded())

	listing, err := svc.List(ctx, sb, ListRequest{Path: "projects"})
	require.NoError(t, err)
	require.Len(t, listing.Entries, 1)
	assert.Equal(t, "app.php", listing.Entries[0].Name)
	assert.Equal(t, TypeFile, listing.Entries[0].FileType)

	_, err = svc.Rename(ctx, sb, RenameRequest{Path: "projects/app.php", NewName: "index.php"})
	require.NoError(t, err)
	listing, err = svc.List(ctx, sb, ListRequest{Path: "projects"})
	require.NoError(t, err)
	assert.Equal(t, []string{"index.php"}, entryNames(listing))

	err = svc.Delete(ctx, sb, DeleteRequest{Path: "projects"})
	requireKind(t, err, KindDirectoryNotEmpty)
	assert.True(t, exists(sb, "projects/index.php"))

	require.NoError(t, svc.Delete(ctx, sb, DeleteRequest{Path: "projects", Recursive: true}))
	listing, err = svc.List(ctx, sb, ListRequest{})
	require.NoError(t, err)
	assert.NotContains(t, entryNames(listing), "projects")
}

func TestCreate(t *testing.T) {
	svc, sb := newTestService(t)
	ctx := context.Background()
	writeTree(t, sb, map[string]string{"taken": "x"})

	_, err := svc.Create(ctx, sb, CreateRequest{Name: "taken"})
	requireKind(t, err, KindAlreadyExists)
	assert.Equal(t, "x", readFile(t, sb, "taken"))

	_, err = svc.Create(ctx, sb, CreateRequest{Name: "taken", Type: "directory"})
	requireKind(t, err, KindAlreadyExists)

	for _, name := range []string{"a/b", "..", ".", `a\b`, strings.Repeat("n", 256)} {
		_, err = svc.Create(ctx, sb, CreateRequest{Name: name})
		if len(name) > 255 {
			requireKind(t, err, KindInvalidArgument)
			continue
		}
		requireKind(t, err, KindInvalidName)
	}

	_, err = svc.Create(ctx, sb, CreateRequest{Name: "x", Type: "socket"})
	requireKind(t, err, KindInvalidArgument)

	_, err = svc.Create(ctx, sb, CreateRequest{Path: "missing", Name: "x"})
	requireKind(t, err, KindNotFound)

	_, err = svc.Create(ctx, sb, CreateRequest{Path: "taken", Name: "x"})
	requireKind(t, err, KindNotADirectory)

	desc, err := svc.Create(ctx, sb, CreateRequest{Name: "empty.txt"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), desc.Size)
	assert.Equal(t, "0644", desc.Mode)
}

func TestRename(t *testing.T) {
	svc, sb := newTestService(t)
	ctx := context.Background()
	writeTree(t, sb, map[string]string{"a.txt": "a", "b.txt": "b"})

	_, err := svc.Rename(ctx, sb, RenameRequest{Path: "a.txt", NewName: "b.txt"})
	requireKind(t, err, KindAlreadyExists)
	assert.Equal(t, "a", readFile(t, sb, "a.txt"))

	_, err = svc.Rename(ctx, sb, RenameRequest{Path: "a.txt", NewName: "../a.txt"})
	requireKind(t, err, KindInvalidName)

	_, err = svc.Rename(ctx, sb, RenameRequest{Path: "missing", NewName: "c.txt"})
	requireKind(t, err, KindNotFound)

	_, err = svc.Rename(ctx, sb, RenameRequest{Path: "", NewName: "c"})
	requireKind(t, err, KindInvalidOperation)
}

func TestCopy(t *testing.T) {
	svc, sb := newTestService(t)
	ctx := context.Background()
	writeTree(t, sb, map[string]string{
		"site/index.html":     "home",
		"site/css/style.css":  "body{}",
		"backup/site/old.txt": "old",
		"note.txt":            "note",
	})
	require.NoError(t, os.Symlink("index.html", filepath.Join(sb.Root(), "site", "current")))

	t.Run("file", func(t *testing.T) {
		desc, err := svc.Copy(ctx, sb, TransferRequest{Source: "note.txt", Destination: "note-copy.txt"})
		require.NoError(t, err)
		assert.Equal(t, "/note-copy.txt", desc.Path)
		assert.Equal(t, "note", readFile(t, sb, "note.txt"))
		assert.Equal(t, "note", readFile(t, sb, "note-copy.txt"))
	})

	t.Run("directory recursive with shallow symlinks", func(t *testing.T) {
		_, err := svc.Copy(ctx, sb, TransferRequest{Source: "site", Destination: "site2"})
		require.NoError(t, err)
		assert.Equal(t, "body{}", readFile(t, sb, "site2/css/style.css"))

		info, err := os.Lstat(filepath.Join(sb.Root(), "site2", "current"))
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&os.ModeSymlink)
	})

	t.Run("collision", func(t *testing.T) {
		_, err := svc.Copy(ctx, sb, TransferRequest{Source: "site", Destination: "backup/site"})
		requireKind(t, err, KindAlreadyExists)
		assert.Equal(t, "old", readFile(t, sb, "backup/site/old.txt"))
	})

	t.Run("overwrite replaces destination", func(t *testing.T) {
		_, err := svc.Copy(ctx, sb, TransferRequest{Source: "site", Destination: "backup/site", Overwrite: true})
		require.NoError(t, err)
		assert.False(t, exists(sb, "backup/site/old.txt"))
		assert.Equal(t, "home", readFile(t, sb, "backup/site/index.html"))
		assertNoStaging(t, sb, "backup")
	})

	t.Run("self containment", func(t *testing.T) {
		_, err := svc.Copy(ctx, sb, TransferRequest{Source: "site", Destination: "site/sub"})
		requireKind(t, err, KindInvalidOperation)
		_, err = svc.Copy(ctx, sb, TransferRequest{Source: "site", Destination: "site"})
		requireKind(t, err, KindInvalidOperation)
		assert.False(t, exists(sb, "site/sub"))
		assertNoStaging(t, sb, "site")
	})

	t.Run("traversal on either side", func(t *testing.T) {
		_, err := svc.Copy(ctx, sb, TransferRequest{Source: "../x", Destination: "y"})
		requireKind(t, err, KindPathTraversal)
		_, err = svc.Copy(ctx, sb, TransferRequest{Source: "note.txt", Destination: "../../tmp/x"})
		requireKind(t, err, KindPathTraversal)
	})
}

func TestCopyFailureLeavesNoDestination(t *testing.T) {
	svc, sb := newTestService(t)
	writeTree(t, sb, map[string]string{"src/a.txt": "a", "src/b.txt": "b"})

	svc.copyTree = func(src, dst string) error {
		require.NoError(t, os.MkdirAll(dst, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dst, "a.txt"), []byte("a"), 0o644))
		return &os.PathError{Op: "open", Path: filepath.Join(dst, "b.txt"), Err: syscall.ENOSPC}
	}

	_, err := svc.Copy(context.Background(), sb, TransferRequest{Source: "src", Destination: "dst"})
	requireKind(t, err, KindIOFailure)
	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "/dst/b.txt", fe.Path)
	assert.NotContains(t, err.Error(), sb.Root())

	assert.False(t, exists(sb, "dst"))
	assertNoStaging(t, sb, "")
}

func TestMove(t *testing.T) {
	svc, sb := newTestService(t)
	ctx := context.Background()
	writeTree(t, sb, map[string]string{
		"inbox/mail.txt": "hello",
		"dirA/sub/x":     "x",
		"existing.txt":   "keep",
	})

	desc, err := svc.Move(ctx, sb, TransferRequest{Source: "inbox/mail.txt", Destination: "mail.txt"})
	require.NoError(t, err)
	assert.Equal(t, "/mail.txt", desc.Path)
	assert.False(t, exists(sb, "inbox/mail.txt"))
	assert.Equal(t, "hello", readFile(t, sb, "mail.txt"))

	_, err = svc.Move(ctx, sb, TransferRequest{Source: "mail.txt", Destination: "existing.txt"})
	requireKind(t, err, KindAlreadyExists)
	assert.Equal(t, "keep", readFile(t, sb, "existing.txt"))

	_, err = svc.Move(ctx, sb, TransferRequest{Source: "mail.txt", Destination: "existing.txt", Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, "hello", readFile(t, sb, "existing.txt"))
	assertNoStaging(t, sb, "")

	_, err = svc.Move(ctx, sb, TransferRequest{Source: "dirA", Destination: "dirA/sub"})
	requireKind(t, err, KindInvalidOperation)
	_, err = svc.Move(ctx, sb, TransferRequest{Source: "dirA", Destination: "dirA/sub/deeper"})
	requireKind(t, err, KindInvalidOperation)
	assert.Equal(t, "x", readFile(t, sb, "dirA/sub/x"))

	_, err = svc.Move(ctx, sb, TransferRequest{Source: "", Destination: "elsewhere"})
	requireKind(t, err, KindInvalidOperation)
}

// crossDevice makes every rename of src fail with EXDEV
func crossDevice(svc *Service, src string) {
	svc.rename = func(oldpath, newpath string) error {
		if oldpath == src {
			return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
		}
		return renameNoReplace(oldpath, newpath)
	}
}

func TestMoveCrossDeviceFallback(t *testing.T) {
	svc, sb := newTestService(t)
	writeTree(t, sb, map[string]string{"a/one.txt": "1", "a/deep/two.txt": "2", "b/.keep": ""})
	crossDevice(svc, filepath.Join(sb.Root(), "a"))

	desc, err := svc.Move(context.Background(), sb, TransferRequest{Source: "a", Destination: "b/a"})
	require.NoError(t, err)
	assert.Equal(t, "/b/a", desc.Path)
	assert.False(t, exists(sb, "a"))
	assert.Equal(t, "2", readFile(t, sb, "b/a/deep/two.txt"))
	assertNoStaging(t, sb, "b")
}

func TestMoveCrossDeviceCopyFailureKeepsSource(t *testing.T) {
	svc, sb := newTestService(t)
	writeTree(t, sb, map[string]string{"src/data.txt": "precious"})
	crossDevice(svc, filepath.Join(sb.Root(), "src"))
	svc.copyTree = func(src, dst string) error {
		require.NoError(t, os.MkdirAll(dst, 0o755))
		return errors.New("disk full")
	}

	_, err := svc.Move(context.Background(), sb, TransferRequest{Source: "src", Destination: "dst"})
	requireKind(t, err, KindIOFailure)

	assert.Equal(t, "precious", readFile(t, sb, "src/data.txt"))
	assert.False(t, exists(sb, "dst"))
	assertNoStaging(t, sb, "")
}

func TestMoveCrossDeviceOverwriteRestoresOnPublishFailure(t *testing.T) {
	sb := newTestSandbox(t)
	svc := NewService(DefaultLimits(), zaptest.NewLogger(t))
	writeTree(t, sb, map[string]string{"src.txt": "new", "dst.txt": "old"})

	src := filepath.Join(sb.Root(), "src.txt")
	svc.rename = func(oldpath, newpath string) error {
		switch {
		case oldpath == src:
			return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
		case strings.Contains(filepath.Base(oldpath), "-move-"):
			return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EIO}
		}
		return renameNoReplace(oldpath, newpath)
	}

	_, err := svc.Move(context.Background(), sb, TransferRequest{Source: "src.txt", Destination: "dst.txt", Overwrite: true})
	requireKind(t, err, KindIOFailure)
	assert.Equal(t, "new", readFile(t, sb, "src.txt"))
	assert.Equal(t, "old", readFile(t, sb, "dst.txt"))
	assertNoStaging(t, sb, "")
}

func TestDelete(t *testing.T) {
	svc, sb := newTestService(t)
	ctx := context.Background()
	writeTree(t, sb, map[string]string{"file.txt": "x", "full/a": "a", "keep/target.txt": "t"})
	require.NoError(t, os.Mkdir(filepath.Join(sb.Root(), "empty"), 0o755))
	require.NoError(t, os.Symlink("keep", filepath.Join(sb.Root(), "link")))

	require.NoError(t, svc.Delete(ctx, sb, DeleteRequest{Path: "file.txt"}))
	assert.False(t, exists(sb, "file.txt"))

	require.NoError(t, svc.Delete(ctx, sb, DeleteRequest{Path: "empty"}))
	assert.False(t, exists(sb, "empty"))

	err := svc.Delete(ctx, sb, DeleteRequest{Path: "full"})
	requireKind(t, err, KindDirectoryNotEmpty)

	err = svc.Delete(ctx, sb, DeleteRequest{Path: "file.txt"})
	requireKind(t, err, KindNotFound)

	require.NoError(t, svc.Delete(ctx, sb, DeleteRequest{Path: "link", Recursive: true}))
	assert.False(t, exists(sb, "link"))
	assert.Equal(t, "t", readFile(t, sb, "keep/target.txt"))

	err = svc.Delete(ctx, sb, DeleteRequest{Path: "/", Recursive: true})
	requireKind(t, err, KindInvalidOperation)
	assert.True(t, exists(sb, "keep"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, validateName("create", "index.php"))
	assert.NoError(t, validateName("create", ".htaccess"))
	assert.NoError(t, validateName("create", "..."))

	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "a\x00b", strings.Repeat("x", 256)} {
		err := validateName("create", name)
		requireKind(t, err, KindInvalidName)
		assert.ErrorIs(t, err, ErrInvalidName)
	}
}

// assertNoStaging fails if any in-flight staging entry is left in dir
func assertNoStaging(t *testing.T, sb *Sandbox, dir string) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(sb.Root(), filepath.FromSlash(dir)))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), stagingPrefix), "leftover %s", e.Name())
	}
}
