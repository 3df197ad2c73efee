package filesystem

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

// SearchOps finds entries by name
type SearchOps struct {
	*FilesystemOps
	Meta *MetadataOps
}

// asksForHidden reports a query naming dot entries itself, such as
// ".htaccess" or "**/.env"
func asksForHidden(q SearchQuery) bool {
	return strings.HasPrefix(q.Name, ".") ||
		strings.HasPrefix(q.Pattern, ".") ||
		strings.Contains(q.Pattern, "/.")
}

// SearchQuery selects entries beneath a root
type SearchQuery struct {
	// Name is matched as a case-insensitive substring of the entry name
	Name string
	// Pattern is an optional doublestar glob over the path relative to the search root
	Pattern    string
	Limit      int
	ShowHidden bool
}

// SearchResult is a bounded set of matches
type SearchResult struct {
	Root      string            `json:"root"`
	Query     string            `json:"query"`
	Results   []*FileDescriptor `json:"results"`
	Count     int               `json:"count"`
	Truncated bool              `json:"truncated"`
}

var errLimitReached = errors.New("search limit reached")

// Search walks the subtree under root without following symlinks and stops
// once the limit is reached. Results are sorted by path.
func (s *SearchOps) Search(ctx context.Context, sb *Sandbox, root *ResolvedPath, q SearchQuery) (*SearchResult, error) {
	dir, err := dirTarget("search", root)
	if err != nil {
		return nil, err
	}
	if q.Name == "" && q.Pattern == "" {
		return nil, newError(KindInvalidArgument, "search", root.Rel, "query or pattern is required")
	}
	if q.Pattern != "" && !doublestar.ValidatePattern(q.Pattern) {
		return nil, newError(KindInvalidArgument, "search", root.Rel, "invalid pattern %q", q.Pattern)
	}
	limit := s.clampLimit(q.Limit)
	needle := strings.ToLower(q.Name)
	showHidden := q.ShowHidden || asksForHidden(q)

	var (
		mu        sync.Mutex
		results   []*FileDescriptor
		truncated bool
	)

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			// entries vanishing mid-walk or unreadable subtrees are skipped
			if path != dir {
				return nil
			}
			return wrapOS("search", root.Rel, err)
		}
		if path == dir {
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") && !showHidden {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.matches(dir, path, name, needle, q.Pattern) {
			return nil
		}

		info, err := os.Lstat(path)
		if err != nil {
			return nil
		}
		desc := s.Meta.fromInfo(sb, path, info)

		mu.Lock()
		defer mu.Unlock()
		if len(results) >= limit {
			truncated = true
			return errLimitReached
		}
		results = append(results, desc)
		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return nil, wrapOS("search", root.Rel, err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return &SearchResult{
		Root:      root.Rel,
		Query:     q.Name,
		Results:   results,
		Count:     len(results),
		Truncated: truncated,
	}, nil
}

func (s *SearchOps) matches(dir, path, name, needle, pattern string) bool {
	if needle != "" && !strings.Contains(strings.ToLower(name), needle) {
		return false
	}
	if pattern == "" {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	ok, err := doublestar.Match(pattern, filepath.ToSlash(rel))
	return err == nil && ok
}

// clampLimit applies the default and the configured ceiling
func (s *SearchOps) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.Limits.SearchLimit
	}
	if s.Limits.MaxSearchLimit > 0 && limit > s.Limits.MaxSearchLimit {
		limit = s.Limits.MaxSearchLimit
	}
	if limit <= 0 {
		limit = DefaultLimits().SearchLimit
	}
	return limit
}
