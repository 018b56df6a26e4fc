// Package walker enumerates the files of a source tree in the order they are
// packed.
package walker

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dlclark/regexp2"
)

type Options struct {
	// SkipFolders limits the walk to the immediate contents of the root.
	SkipFolders bool
	// DontStrip keeps the root prefix on emitted paths.
	DontStrip bool
	// Exclude drops files whose full path matches. Use CompileExclude.
	Exclude *regexp2.Regexp
}

type Entry struct {
	Path     string // slash separated, relative to the root unless DontStrip
	FullPath string // root joined path used for opening
	Size     int64
}

type Result struct {
	Folders []string // only populated for recursive walks
	Files   []Entry
}

// CompileExclude compiles a Perl style pattern that must match a whole path.
// An empty pattern returns nil, which excludes nothing.
func CompileExclude(expr string) (*regexp2.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp2.Compile(`\A(?:`+expr+`)\z`, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("invalid exclusion pattern %q: %w", expr, err)
	}
	return re, nil
}

// Walk lists root. Folders and files are each sorted by path, comparing one
// path element at a time, so the order is stable across runs and platforms.
func Walk(root string, opts Options) (Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Result{}, err
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("%s is not a directory", root)
	}

	var res Result
	visit := func(rel string, d fs.DirEntry) error {
		full := filepath.Join(root, rel)
		if d.IsDir() {
			if !opts.SkipFolders {
				res.Folders = append(res.Folders, emitted(rel, full, opts.DontStrip))
			}
			return nil
		}
		size, ok, err := regularSize(full, d)
		if err != nil || !ok {
			return err
		}
		excluded, err := matches(opts.Exclude, matchPath(root, rel))
		if err != nil || excluded {
			return err
		}
		res.Files = append(res.Files, Entry{
			Path:     emitted(rel, full, opts.DontStrip),
			FullPath: full,
			Size:     size,
		})
		return nil
	}

	if opts.SkipFolders {
		entries, err := os.ReadDir(root)
		if err != nil {
			return Result{}, err
		}
		for _, d := range entries {
			if d.IsDir() {
				continue
			}
			if err := visit(d.Name(), d); err != nil {
				return Result{}, err
			}
		}
	} else {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if path == root {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			return visit(rel, d)
		})
		if err != nil {
			return Result{}, err
		}
	}

	sort.SliceStable(res.Folders, func(i, j int) bool {
		return ComparePaths(res.Folders[i], res.Folders[j]) < 0
	})
	sort.SliceStable(res.Files, func(i, j int) bool {
		return ComparePaths(res.Files[i].Path, res.Files[j].Path) < 0
	})
	return res, nil
}

// regularSize reports the size of a regular file. Symlinks are resolved, so
// a link to a regular file counts as one; dangling links and links to
// anything else are skipped.
func regularSize(full string, d fs.DirEntry) (int64, bool, error) {
	switch {
	case d.Type().IsRegular():
		fi, err := d.Info()
		if err != nil {
			return 0, false, err
		}
		return fi.Size(), true, nil
	case d.Type()&fs.ModeSymlink != 0:
		fi, err := os.Stat(full)
		if err != nil || !fi.Mode().IsRegular() {
			return 0, false, nil
		}
		return fi.Size(), true, nil
	default:
		return 0, false, nil
	}
}

// matchPath is the path exclusion patterns see: the root exactly as given,
// a separator, then the relative path.
func matchPath(root, rel string) string {
	if strings.HasSuffix(root, string(filepath.Separator)) || strings.HasSuffix(root, "/") {
		return root + rel
	}
	return root + string(filepath.Separator) + rel
}

func emitted(rel, full string, dontStrip bool) string {
	if dontStrip {
		return filepath.ToSlash(full)
	}
	return filepath.ToSlash(rel)
}

func matches(re *regexp2.Regexp, path string) (bool, error) {
	if re == nil {
		return false, nil
	}
	ok, err := re.MatchString(path)
	if err != nil {
		return false, fmt.Errorf("match %s: %w", path, err)
	}
	return ok, nil
}

// ComparePaths orders slash separated paths element by element, so "a/b"
// sorts before "a.txt" even though '/' > '.'.
func ComparePaths(a, b string) int {
	for {
		ha, ra, moreA := strings.Cut(a, "/")
		hb, rb, moreB := strings.Cut(b, "/")
		if c := strings.Compare(ha, hb); c != 0 {
			return c
		}
		switch {
		case !moreA && !moreB:
			return 0
		case !moreA:
			return -1
		case !moreB:
			return 1
		}
		a, b = ra, rb
	}
}
