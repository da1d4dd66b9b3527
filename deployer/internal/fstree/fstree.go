// Package fstree lists the regular files of a directory tree. Symbolic links
// are followed; a link that leads back into a directory already on the
// current descent is not entered again.
package fstree

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
)

type File struct {
	RelativePath string // slash-separated, relative to the walked root
	AbsPath      string
}

// EntryError is an entry that could not be inspected, such as a link whose
// target no longer exists. Err already names the path.
type EntryError struct {
	RelativePath string
	Err          error
}

func (e EntryError) Error() string { return e.Err.Error() }

func (e EntryError) Unwrap() error { return e.Err }

// Walk returns every regular file under root sorted by RelativePath, and the
// entries it had to skip. The error is reserved for an unusable root; a
// missing root wraps fs.ErrNotExist.
func Walk(root string) ([]File, []EntryError, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, err
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%s is not a directory", root)
	}
	w := &walker{active: map[string]bool{}}
	w.walk(root, "")
	sort.Slice(w.files, func(i, j int) bool { return w.files[i].RelativePath < w.files[j].RelativePath })
	sort.Slice(w.skipped, func(i, j int) bool { return w.skipped[i].RelativePath < w.skipped[j].RelativePath })
	return w.files, w.skipped, nil
}

type walker struct {
	// active holds the resolved directories on the current descent path.
	active  map[string]bool
	files   []File
	skipped []EntryError
}

func (w *walker) walk(dir, rel string) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		w.skip(rel, err)
		return
	}
	if w.active[resolved] {
		return
	}
	w.active[resolved] = true
	defer delete(w.active, resolved)

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.skip(rel, err)
		return
	}
	for _, e := range entries {
		abs := filepath.Join(dir, e.Name())
		relPath := path.Join(rel, e.Name())
		info, err := os.Stat(abs)
		if err != nil {
			w.skip(relPath, err)
			continue
		}
		switch {
		case info.IsDir():
			w.walk(abs, relPath)
		case info.Mode().IsRegular():
			w.files = append(w.files, File{RelativePath: relPath, AbsPath: abs})
		}
	}
}

func (w *walker) skip(rel string, err error) {
	w.skipped = append(w.skipped, EntryError{RelativePath: rel, Err: err})
}
