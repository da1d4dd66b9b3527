// Package hasher produces the fixed-length fingerprints used to name stored
// objects and packaged code. It is not a security primitive.
package hasher

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/fstree"
)

// Size is the length, in hex characters, of every digest returned by this package.
const Size = 64

// Hash returns the hex-encoded BLAKE3-256 digest of b.
func Hash(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashString hashes the bytes of s.
func HashString(s string) string {
	return Hash([]byte(s))
}

// HashReader streams r through the hasher.
func HashReader(r io.Reader) (string, error) {
	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsDigest reports whether s looks like a digest produced by Hash.
func IsDigest(s string) bool {
	if len(s) != Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// HashTree digests every regular file under root together with its
// slash-separated relative path, in lexical order. Links are followed, so a
// change under a linked directory changes the digest. Renaming a file changes
// the digest even when its bytes do not. An entry that cannot be read fails
// the digest.
func HashTree(root string) (string, error) {
	files, skipped, err := fstree.Walk(root)
	if err != nil {
		return "", err
	}
	if len(skipped) > 0 {
		return "", skipped[0]
	}
	return HashFiles(files)
}

// HashFiles digests an already listed tree the way HashTree does.
func HashFiles(files []fstree.File) (string, error) {
	h := blake3.New()
	for _, f := range files {
		fmt.Fprintf(h, "%s\x00", f.RelativePath)
		if err := copyInto(h, f.AbsPath); err != nil {
			return "", err
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyInto(w io.Writer, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
