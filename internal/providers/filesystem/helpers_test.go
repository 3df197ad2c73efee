package filesystem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestSandbox creates an empty tenant home named u1
func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	root := filepath.Join(t.TempDir(), "u1")
	require.NoError(t, os.Mkdir(root, 0o755))
	sb, err := NewSandbox(root)
	require.NoError(t, err)
	return sb
}

func newTestService(t *testing.T) (*Service, *Sandbox) {
	t.Helper()
	return NewService(DefaultLimits(), zaptest.NewLogger(t)), newTestSandbox(t)
}

// writeTree creates files (and their parents) under the sandbox root
func writeTree(t *testing.T, sb *Sandbox, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		abs := filepath.Join(sb.Root(), filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
}

func readFile(t *testing.T, sb *Sandbox, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(sb.Root(), filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func exists(sb *Sandbox, rel string) bool {
	_, err := os.Lstat(filepath.Join(sb.Root(), filepath.FromSlash(rel)))
	return err == nil
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "unexpected error: %v", err)
}
