package compute

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/fstree"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/hasher"
)

// ErrNoBundle is returned when a unit's code directory is missing.
var ErrNoBundle = errors.New("function bundle not found")

// zipEpoch is stamped on every entry so identical trees zip to identical bytes.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Package is one unit's zipped code. Digest covers the bundle's paths and
// contents, so an unchanged bundle keeps its key.
type Package struct {
	Unit   UnitName
	Data   []byte
	Digest string
	Files  int
}

// Key is where the package is stored: code/<unit>/<digest>.zip.
func (p Package) Key() string {
	return path.Join("code", string(p.Unit), p.Digest+".zip")
}

// PackageDir zips dir deterministically: sorted entries, fixed timestamps and
// normalised permissions. Linked files and directories are packaged as the
// content they point at. An entry that cannot be read fails the package.
func PackageDir(unit UnitName, dir string) (Package, error) {
	files, skipped, err := fstree.Walk(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Package{}, fmt.Errorf("%w: %s", ErrNoBundle, dir)
		}
		return Package{}, fmt.Errorf("%w: %v", ErrNoBundle, err)
	}
	if len(skipped) > 0 {
		errs := make([]error, 0, len(skipped))
		for _, e := range skipped {
			errs = append(errs, e)
		}
		return Package{}, fmt.Errorf("package %s: %w", unit, errors.Join(errs...))
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		hdr := &zip.FileHeader{
			Name:     f.RelativePath,
			Method:   zip.Deflate,
			Modified: zipEpoch,
		}
		hdr.SetMode(0o644)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return Package{}, fmt.Errorf("zip %s: %w", f.RelativePath, err)
		}
		if err := copyFile(w, f.AbsPath); err != nil {
			return Package{}, err
		}
	}
	if err := zw.Close(); err != nil {
		return Package{}, fmt.Errorf("close zip: %w", err)
	}
	digest, err := hasher.HashFiles(files)
	if err != nil {
		return Package{}, fmt.Errorf("digest %s: %w", dir, err)
	}
	return Package{Unit: unit, Data: buf.Bytes(), Digest: digest, Files: len(files)}, nil
}

func copyFile(w io.Writer, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("zip copy %s: %w", p, err)
	}
	return nil
}
