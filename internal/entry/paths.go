package entry

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ArtifactExtension is the extension of compiled artifacts in the shadow directory.
const ArtifactExtension = ".html"

// Normalize cleans a slash-separated logical path and converts it to NFC, so
// that names produced by filesystems that store decomposed forms match names
// decoded from request URLs.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		p = ""
	}
	return norm.NFC.String(p)
}

// LogicalPath converts an absolute filesystem path under root into the
// logical path used as the cache key.
func LogicalPath(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", abs, root)
	}
	return Normalize(filepath.ToSlash(rel)), nil
}

// SourcePath converts a logical path back into a filesystem path under root.
func SourcePath(root, logical string) string {
	return filepath.Join(root, filepath.FromSlash(Normalize(logical)))
}

// ArtifactPath is the shadow file for a logical path: the same relative
// location under outputDir with the document extension replaced by .html.
func ArtifactPath(outputDir, logical string) string {
	logical = Normalize(logical)
	ext := path.Ext(logical)
	return filepath.Join(outputDir, filepath.FromSlash(strings.TrimSuffix(logical, ext)+ArtifactExtension))
}

// TitleFromPath derives a title from the file name stem.
func TitleFromPath(logical string) string {
	base := path.Base(Normalize(logical))
	return strings.TrimSuffix(base, path.Ext(base))
}

// IsDocument reports whether p carries the document extension. The match is
// case-sensitive: the resolver appends the extension verbatim, so "Note.MD"
// could never be requested.
func IsDocument(p, ext string) bool {
	return filepath.Ext(p) == ext
}

// Dir returns the logical directory of a logical path ("" for the root).
func Dir(logical string) string {
	d := path.Dir(Normalize(logical))
	if d == "." {
		return ""
	}
	return d
}

// IsHidden reports whether any segment of a logical path starts with a dot.
func IsHidden(logical string) bool {
	for _, seg := range strings.Split(Normalize(logical), "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
