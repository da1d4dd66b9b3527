// Package assets synchronises a built artifact tree into object storage.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"path"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/fstree"
)

// ErrMissingRoot is returned by Walk when the root directory does not exist.
var ErrMissingRoot = errors.New("artifact root does not exist")

// Artifact is one regular file produced by the build. Content is read lazily
// from AbsPath; nothing mutates it during a run.
type Artifact struct {
	RelativePath string // slash-separated, relative to the walked root
	AbsPath      string
	ContentType  string // empty when the extension is unknown
}

// ContentTypeFor derives a content type from the file extension.
func ContentTypeFor(relativePath string) string {
	return mime.TypeByExtension(path.Ext(relativePath))
}

// WalkError lists the entries Walk skipped because they could not be
// inspected. It is returned together with every artifact that was found.
type WalkError struct {
	Skipped []fstree.EntryError
}

func (e *WalkError) Error() string {
	if len(e.Skipped) == 1 {
		return "skipped " + e.Skipped[0].Error()
	}
	return fmt.Sprintf("skipped %d entries, first: %v", len(e.Skipped), e.Skipped[0])
}

// Walk enumerates every regular file under root, including dotfiles and files
// reached through symbolic links. Directory cycles introduced by links are cut.
// The result is sorted by RelativePath. Entries that cannot be inspected, such
// as dangling links, are reported in a *WalkError next to the artifacts.
func Walk(root string) ([]Artifact, error) {
	files, skipped, err := fstree.Walk(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingRoot, root)
		}
		return nil, fmt.Errorf("artifact root: %w", err)
	}
	out := make([]Artifact, 0, len(files))
	for _, f := range files {
		out = append(out, Artifact{
			RelativePath: f.RelativePath,
			AbsPath:      f.AbsPath,
			ContentType:  ContentTypeFor(f.RelativePath),
		})
	}
	if len(skipped) > 0 {
		return out, &WalkError{Skipped: skipped}
	}
	return out, nil
}
