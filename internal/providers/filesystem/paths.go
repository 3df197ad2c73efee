package filesystem

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Sandbox confines path resolution to one tenant root
type Sandbox struct {
	root string
}

// ResolvedPath is a canonical location verified to lie inside a sandbox.
//
// Abs addresses the entry itself: the parent chain is canonical, the leaf is
// not dereferenced. Target is the fully canonical path the entry points to and
// differs from Abs only for symlinks; it is empty for a dangling link or an
// entry that does not exist yet.
type ResolvedPath struct {
	Abs     string
	Target  string
	Rel     string
	Exists  bool
	Symlink bool
}

// Name returns the leaf name of the entry
func (p *ResolvedPath) Name() string {
	return filepath.Base(p.Abs)
}

// IsRoot reports whether the path is the sandbox root itself
func (p *ResolvedPath) IsRoot() bool {
	return p.Rel == "/"
}

// NewSandbox binds a sandbox to root, which must be an existing directory
// other than the filesystem root.
func NewSandbox(root string) (*Sandbox, error) {
	if root == "" {
		return nil, newError(KindInvalidArgument, "sandbox", "", "sandbox root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, wrapOS("sandbox", "", err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, wrapOS("sandbox", "", err)
	}
	if filepath.Dir(canon) == canon {
		return nil, newError(KindInvalidArgument, "sandbox", "", "sandbox root cannot be the filesystem root")
	}
	info, err := os.Stat(canon)
	if err != nil {
		return nil, wrapOS("sandbox", "", err)
	}
	if !info.IsDir() {
		return nil, newError(KindNotADirectory, "sandbox", "", "sandbox root is not a directory")
	}
	return &Sandbox{root: canon}, nil
}

// Root returns the canonical sandbox root
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve canonicalizes input and requires the entry to exist
func (s *Sandbox) Resolve(input string) (*ResolvedPath, error) {
	return s.resolve("resolve", input, true)
}

// ResolveNew canonicalizes input for an entry that may not exist yet.
// The parent chain must exist and resolve inside the sandbox.
func (s *Sandbox) ResolveNew(input string) (*ResolvedPath, error) {
	return s.resolve("resolve", input, false)
}

// Join resolves name as a child of parent, leaf optional
func (s *Sandbox) Join(parent *ResolvedPath, name string) (*ResolvedPath, error) {
	return s.ResolveNew(parent.Rel + "/" + name)
}

// Contains reports whether abs is the root or a descendant of it
func (s *Sandbox) Contains(abs string) bool {
	return abs == s.root || strings.HasPrefix(abs, s.root+string(filepath.Separator))
}

// RelOf renders an absolute path inside the sandbox in client form
func (s *Sandbox) RelOf(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}

// openFile opens abs through an os.Root bound to the sandbox. The kernel
// walk refuses any component that leaves the root, so a directory swapped
// for a symlink after resolution cannot redirect the I/O.
func (s *Sandbox) openFile(op, abs string, flag int, perm fs.FileMode) (*os.File, error) {
	rel := s.RelOf(abs)
	if !s.Contains(abs) {
		return nil, traversal(op, rel)
	}
	name, err := filepath.Rel(s.root, abs)
	if err != nil {
		return nil, wrapOS(op, rel, err)
	}
	root, err := os.OpenRoot(s.root)
	if err != nil {
		return nil, wrapOS(op, rel, err)
	}
	defer root.Close()

	f, err := root.OpenFile(name, flag, perm)
	if err != nil {
		if escapesRoot(err) {
			return nil, traversal(op, rel)
		}
		return nil, wrapOS(op, rel, err)
	}
	return f, nil
}

// escapesRoot reports the os.Root refusal for a path leaving the root
func escapesRoot(err error) bool {
	var pe *fs.PathError
	return errors.As(err, &pe) && pe.Err != nil && strings.Contains(pe.Err.Error(), "escapes from parent")
}

func (s *Sandbox) resolve(op, input string, mustExist bool) (*ResolvedPath, error) {
	if strings.ContainsRune(input, 0) {
		return nil, newError(KindInvalidArgument, op, "", "path contains a NUL byte")
	}

	parts, ok := splitClean(input)
	if !ok {
		return nil, traversal(op, input)
	}
	lexical := "/" + strings.Join(parts, "/")

	if len(parts) == 0 {
		return &ResolvedPath{Abs: s.root, Target: s.root, Rel: "/", Exists: true}, nil
	}

	parent, err := s.canonicalDir(op, lexical, parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}

	leaf := filepath.Join(parent, parts[len(parts)-1])
	rp := &ResolvedPath{Abs: leaf, Rel: s.RelOf(leaf)}

	info, err := os.Lstat(leaf)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if mustExist {
				return nil, newError(KindNotFound, op, rp.Rel, "no such file or directory")
			}
			return rp, nil
		}
		return nil, wrapOS(op, rp.Rel, err)
	}
	rp.Exists = true

	if info.Mode()&fs.ModeSymlink == 0 {
		rp.Target = leaf
		return rp, nil
	}

	rp.Symlink = true
	target, err := filepath.EvalSymlinks(leaf)
	if err != nil {
		if s.linkEscapes(leaf) {
			return nil, traversal(op, rp.Rel)
		}
		// dangling link inside the sandbox: the link itself is still addressable
		return rp, nil
	}
	if !s.Contains(target) {
		return nil, traversal(op, rp.Rel)
	}
	rp.Target = target
	return rp, nil
}

// canonicalDir resolves the directory chain parts under the root
func (s *Sandbox) canonicalDir(op, rel string, parts []string) (string, error) {
	dir := filepath.Join(append([]string{s.root}, parts...)...)

	canon, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if s.chainEscapes(parts) {
			return "", traversal(op, rel)
		}
		return "", wrapOS(op, rel, err)
	}
	if !s.Contains(canon) {
		return "", traversal(op, rel)
	}

	info, err := os.Stat(canon)
	if err != nil {
		return "", wrapOS(op, rel, err)
	}
	if !info.IsDir() {
		return "", newError(KindNotADirectory, op, rel, "parent is not a directory")
	}
	return canon, nil
}

// chainEscapes finds the deepest prefix of parts that still canonicalizes and
// checks whether it, or the link that breaks the chain, leaves the sandbox.
// Without it a link to a missing outside path would report NotFound.
func (s *Sandbox) chainEscapes(parts []string) bool {
	for i := len(parts); i >= 0; i-- {
		prefix := filepath.Join(append([]string{s.root}, parts[:i]...)...)
		canon, err := filepath.EvalSymlinks(prefix)
		if err != nil {
			continue
		}
		if !s.Contains(canon) {
			return true
		}
		if i == len(parts) {
			return false
		}
		return s.linkEscapes(filepath.Join(canon, parts[i]))
	}
	return false
}

// linkEscapes reports whether a symlink at path points lexically outside the sandbox
func (s *Sandbox) linkEscapes(path string) bool {
	dest, err := os.Readlink(path)
	if err != nil {
		return false
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(path), dest)
	}
	return !s.Contains(filepath.Clean(dest))
}

// splitClean collapses "." and ".." lexically. It fails when ".." would climb
// above the root. Leading slashes are treated as relative to the root.
func splitClean(input string) ([]string, bool) {
	var parts []string
	for _, seg := range strings.Split(input, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(parts) == 0 {
				return nil, false
			}
			parts = parts[:len(parts)-1]
		default:
			parts = append(parts, seg)
		}
	}
	return parts, true
}
