package filesystem

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// ArchiveFormat names a supported archive container
type ArchiveFormat string

const (
	FormatZip    ArchiveFormat = "zip"
	FormatTarGz  ArchiveFormat = "tar.gz"
	FormatTarZst ArchiveFormat = "tar.zst"
)

// ParseArchiveFormat validates a format tag; empty means zip
func ParseArchiveFormat(s string) (ArchiveFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "zip":
		return FormatZip, nil
	case "tar.gz", "tgz":
		return FormatTarGz, nil
	case "tar.zst", "tzst":
		return FormatTarZst, nil
	}
	return "", newError(KindInvalidArgument, "compress", "", "unsupported archive format %q", s)
}

// Extension returns the conventional file suffix including the dot
func (f ArchiveFormat) Extension() string {
	return "." + string(f)
}

// formatFromName infers the format from a file name suffix
func formatFromName(name string) (ArchiveFormat, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, true
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, true
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatTarZst, true
	}
	return "", false
}

// formatFromContent sniffs the container type
func formatFromContent(path string) (ArchiveFormat, bool) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", false
	}
	for m := mtype; m != nil; m = m.Parent() {
		switch {
		case m.Is("application/zip"):
			return FormatZip, true
		case m.Is("application/gzip"):
			return FormatTarGz, true
		case m.Is("application/zstd"):
			return FormatTarZst, true
		}
	}
	return "", false
}

// ArchivesOps compresses and extracts archives
type ArchivesOps struct {
	*FilesystemOps
	Meta *MetadataOps
}

// sourceEntry is one filesystem entry queued for an archive
type sourceEntry struct {
	abs  string
	name string
	dir  bool
}

// Compress writes sources into a new archive at dst. Entry names are relative
// to the sources' common parent. Symlinks are not archived. The archive is
// written to a temp file and only renamed into place once complete.
func (a *ArchivesOps) Compress(ctx context.Context, sb *Sandbox, sources []*ResolvedPath, dst *ResolvedPath, format ArchiveFormat) (*FileDescriptor, error) {
	if len(sources) == 0 {
		return nil, newError(KindInvalidArgument, "compress", "", "no sources given")
	}
	if dst.Exists {
		return nil, newError(KindAlreadyExists, "compress", dst.Rel, "archive already exists")
	}

	base := commonParent(sources)
	tmpName := stagingPath(filepath.Dir(dst.Abs), "archive")
	tmp, err := sb.openFile("compress", tmpName, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*FileDescriptor, error) {
		tmp.Close()
		a.removeQuietly(tmpName)
		return nil, err
	}

	entries, err := a.collect(ctx, sb, sources, base, tmpName, dst.Abs)
	if err != nil {
		return fail(err)
	}

	w, err := newArchiveWriter(format, tmp)
	if err != nil {
		return fail(err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			w.Close()
			return fail(err)
		}
		if err := a.addEntry(sb, w, e); err != nil {
			w.Close()
			return fail(err)
		}
	}
	if err := w.Close(); err != nil {
		return fail(wrapOS("compress", dst.Rel, err))
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail(wrapOS("compress", dst.Rel, err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(wrapOS("compress", dst.Rel, err))
	}
	if err := tmp.Close(); err != nil {
		return fail(wrapOS("compress", dst.Rel, err))
	}
	if err := a.rename(tmpName, dst.Abs); err != nil {
		a.removeQuietly(tmpName)
		return nil, wrapOS("compress", dst.Rel, err)
	}

	a.Logger.Debug("archive created",
		zap.String("archive", dst.Rel),
		zap.String("format", string(format)),
		zap.Int("entries", len(entries)))
	return a.Meta.describe(sb, dst.Abs, true)
}

// collect enumerates every source without following symlinks. The walk runs
// concurrently, so entries are gathered under a lock and sorted afterwards.
func (a *ArchivesOps) collect(ctx context.Context, sb *Sandbox, sources []*ResolvedPath, base string, skip ...string) ([]sourceEntry, error) {
	var (
		mu      sync.Mutex
		entries []sourceEntry
	)
	add := func(abs string, dir bool) error {
		for _, s := range skip {
			if abs == s {
				return nil
			}
		}
		name, err := filepath.Rel(base, abs)
		if err != nil {
			return wrapOS("compress", sb.RelOf(abs), err)
		}
		mu.Lock()
		entries = append(entries, sourceEntry{abs: abs, name: filepath.ToSlash(name), dir: dir})
		mu.Unlock()
		return nil
	}

	for _, src := range sources {
		info, err := os.Lstat(src.Abs)
		if err != nil {
			return nil, wrapOS("compress", src.Rel, err)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return nil, newError(KindInvalidOperation, "compress", src.Rel, "cannot archive a symbolic link")
		}
		if !info.IsDir() {
			if !info.Mode().IsRegular() {
				return nil, newError(KindInvalidOperation, "compress", src.Rel, "not a regular file")
			}
			if err := add(src.Abs, false); err != nil {
				return nil, err
			}
			continue
		}

		conf := fastwalk.Config{Follow: false}
		err = fastwalk.Walk(&conf, src.Abs, func(path string, d fs.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err != nil {
				return wrapOS("compress", sb.RelOf(path), err)
			}
			if d.Type()&fs.ModeSymlink != 0 || strings.HasPrefix(d.Name(), stagingPrefix) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() && !d.Type().IsRegular() {
				return nil
			}
			return add(path, d.IsDir())
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	return entries, nil
}

func (a *ArchivesOps) addEntry(sb *Sandbox, w archiveWriter, e sourceEntry) error {
	rel := sb.RelOf(e.abs)
	info, err := os.Lstat(e.abs)
	if err != nil {
		return wrapOS("compress", rel, err)
	}
	if e.dir {
		return wrapOS("compress", rel, w.AddDir(e.name, info))
	}

	f, err := sb.openFile("compress", e.abs, os.O_RDONLY|openNonBlock, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return wrapOS("compress", rel, w.AddFile(e.name, info, f))
}

// commonParent returns the deepest directory containing every source
func commonParent(sources []*ResolvedPath) string {
	base := filepath.Dir(sources[0].Abs)
	for _, src := range sources[1:] {
		dir := filepath.Dir(src.Abs)
		for base != dir && !strings.HasPrefix(dir, base+string(filepath.Separator)) {
			parent := filepath.Dir(base)
			if parent == base {
				break
			}
			base = parent
		}
	}
	return base
}

// archiveEntry is a normalized member of an archive being extracted
type archiveEntry struct {
	name  string
	parts []string
	dir   bool
	mode  fs.FileMode
	size  int64
}

// Extract unpacks archive into dest and returns the new top-level entries.
//
// Every entry name is validated before anything is written: one escaping
// the destination fails the whole extraction with PathTraversal. Entries are
// then unpacked into a hidden staging directory, each target re-resolved
// through the sandbox, and finally the top-level entries are renamed into
// place, rolling back already published ones if a later rename fails.
func (a *ArchivesOps) Extract(ctx context.Context, sb *Sandbox, archive, dest *ResolvedPath, overwrite bool) ([]*FileDescriptor, error) {
	if archive.Target == "" {
		return nil, newError(KindNotFound, "extract", archive.Rel, "no such file")
	}
	info, err := os.Stat(archive.Target)
	if err != nil {
		return nil, wrapOS("extract", archive.Rel, err)
	}
	if err := regularFile("extract", archive.Rel, info); err != nil {
		return nil, err
	}
	destDir, err := dirTarget("extract", dest)
	if err != nil {
		return nil, err
	}

	format, ok := formatFromName(archive.Name())
	if !ok {
		if format, ok = formatFromContent(archive.Target); !ok {
			return nil, newError(KindInvalidArchive, "extract", archive.Rel, "unrecognized archive format")
		}
	}

	entries, err := a.scan(archive, format)
	if err != nil {
		return nil, err
	}
	tops, err := a.plan(sb, dest, entries, overwrite)
	if err != nil {
		return nil, err
	}

	staging := stagingPath(destDir, "extract")
	if err := os.Mkdir(staging, 0o700); err != nil {
		return nil, wrapOS("extract", dest.Rel, err)
	}
	defer a.removeQuietly(staging)

	if err := a.unpack(ctx, sb, archive, format, staging); err != nil {
		return nil, err
	}

	swaps := make([]*swap, 0, len(tops))
	rollback := func() {
		for i := len(swaps) - 1; i >= 0; i-- {
			swaps[i].rollback()
		}
	}
	for _, top := range tops {
		final, err := sb.ResolveNew(dest.Rel + "/" + top)
		if err != nil {
			rollback()
			return nil, err
		}
		sw, err := a.stage(filepath.Join(staging, top), final.Abs, overwrite)
		if err != nil {
			rollback()
			return nil, wrapOS("extract", final.Rel, err)
		}
		swaps = append(swaps, sw)
	}

	out := make([]*FileDescriptor, 0, len(swaps))
	for _, sw := range swaps {
		sw.commit()
		desc, err := a.Meta.describe(sb, sw.dest, false)
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, nil
}

// scan reads every header once and normalizes entry names without writing anything
func (a *ArchivesOps) scan(archive *ResolvedPath, format ArchiveFormat) ([]archiveEntry, error) {
	r, err := openArchive(format, archive.Target)
	if err != nil {
		return nil, archiveError(archive.Rel, err)
	}
	defer r.Close()

	var (
		entries []archiveEntry
		total   int64
	)
	for {
		h, _, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, archiveError(archive.Rel, err)
		}
		if h.skip {
			continue
		}

		parts, err := cleanEntryName(archive.Rel, h.name)
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			continue
		}
		if h.special {
			return nil, newError(KindInvalidArchive, "extract", archive.Rel, "entry %q is a link or special file", h.name)
		}

		total += h.size
		if total > a.Limits.MaxExtractSize {
			return nil, newError(KindTooLarge, "extract", archive.Rel, "archive expands beyond %s", formatBytes(a.Limits.MaxExtractSize))
		}
		h.parts = parts
		entries = append(entries, h.archiveEntry)
	}
	return entries, nil
}

// plan checks every top-level target for escapes and collisions
func (a *ArchivesOps) plan(sb *Sandbox, dest *ResolvedPath, entries []archiveEntry, overwrite bool) ([]string, error) {
	seen := make(map[string]bool)
	var tops []string
	for _, e := range entries {
		top := e.parts[0]
		if seen[top] {
			continue
		}
		seen[top] = true

		target, err := sb.ResolveNew(dest.Rel + "/" + top)
		if err != nil {
			return nil, err
		}
		if target.Exists && !overwrite {
			return nil, newError(KindAlreadyExists, "extract", target.Rel, "already exists")
		}
		tops = append(tops, top)
	}
	sort.Strings(tops)
	return tops, nil
}

// unpack writes every entry beneath staging, re-resolving each target
func (a *ArchivesOps) unpack(ctx context.Context, sb *Sandbox, archive *ResolvedPath, format ArchiveFormat, staging string) error {
	r, err := openArchive(format, archive.Target)
	if err != nil {
		return archiveError(archive.Rel, err)
	}
	defer r.Close()

	stagingRel := sb.RelOf(staging)
	budget := a.Limits.MaxExtractSize
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, body, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return archiveError(archive.Rel, err)
		}
		if h.skip {
			continue
		}
		parts, err := cleanEntryName(archive.Rel, h.name)
		if err != nil {
			return err
		}
		if len(parts) == 0 {
			continue
		}

		if err := a.ensureDirs(sb, stagingRel, parts[:len(parts)-1]); err != nil {
			return err
		}
		target, err := sb.ResolveNew(stagingRel + "/" + strings.Join(parts, "/"))
		if err != nil {
			return err
		}
		if !strings.HasPrefix(target.Abs, staging+string(filepath.Separator)) {
			return traversal("extract", archive.Rel)
		}

		if h.dir {
			if !target.Exists {
				if err := os.Mkdir(target.Abs, dirMode(h.mode)); err != nil {
					return wrapOS("extract", archive.Rel, err)
				}
			}
			continue
		}

		n, err := writeEntry(target.Abs, fileMode(h.mode), body, budget)
		if err != nil {
			var re *archiveReadError
			if errors.As(err, &re) {
				return archiveError(archive.Rel, re.err)
			}
			if errors.Is(err, errBudget) {
				return newError(KindTooLarge, "extract", archive.Rel, "archive expands beyond %s", formatBytes(a.Limits.MaxExtractSize))
			}
			return wrapOS("extract", archive.Rel, err)
		}
		budget -= n
	}
}

// ensureDirs creates missing intermediate directories under the staging root
func (a *ArchivesOps) ensureDirs(sb *Sandbox, stagingRel string, parts []string) error {
	for i := range parts {
		rp, err := sb.ResolveNew(stagingRel + "/" + strings.Join(parts[:i+1], "/"))
		if err != nil {
			return err
		}
		if rp.Exists {
			if rp.Symlink {
				return traversal("extract", stagingRel)
			}
			continue
		}
		if err := os.Mkdir(rp.Abs, 0o755); err != nil {
			return wrapOS("extract", rp.Rel, err)
		}
	}
	return nil
}

var errBudget = errors.New("extract budget exceeded")

// archiveReadError marks failures reading the archive stream as opposed to writing to disk
type archiveReadError struct{ err error }

func (e *archiveReadError) Error() string { return e.err.Error() }

type taggedReader struct{ r io.Reader }

func (t taggedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &archiveReadError{err: err}
	}
	return n, err
}

func writeEntry(path string, mode fs.FileMode, body io.Reader, budget int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, io.LimitReader(taggedReader{r: body}, budget+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if n > budget {
		return n, errBudget
	}
	return n, nil
}

// cleanEntryName splits an archive member name into safe segments. Absolute
// names and names climbing out of the destination are rejected.
func cleanEntryName(archiveRel, name string) ([]string, error) {
	if strings.ContainsRune(name, 0) {
		return nil, newError(KindInvalidArchive, "extract", archiveRel, "entry name contains a NUL byte")
	}
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") || filepath.VolumeName(name) != "" {
		return nil, traversal("extract", archiveRel)
	}
	parts, ok := splitClean(name)
	if !ok {
		return nil, traversal("extract", archiveRel)
	}
	return parts, nil
}

func archiveError(rel string, err error) error {
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return wrapOS("extract", rel, err)
	}
	return &Error{Kind: KindInvalidArchive, Op: "extract", Path: rel, Err: scrub(err)}
}

func dirMode(m fs.FileMode) fs.FileMode {
	return (m.Perm() | 0o700) & 0o755
}

func fileMode(m fs.FileMode) fs.FileMode {
	perm := m.Perm()
	if perm == 0 {
		return 0o644
	}
	return (perm | 0o600) & 0o755
}
