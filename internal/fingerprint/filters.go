package fingerprint

import (
	"io/fs"
	"path"
	"strings"
)

// Filter decides whether an entry takes part in a fingerprint. rel is the
// slash-separated path relative to the scanned root.
type Filter func(rel string, d fs.DirEntry) bool

// NoHiddenFilter skips dotfiles and dot-directories.
func NoHiddenFilter(rel string, _ fs.DirEntry) bool {
	return !strings.HasPrefix(path.Base(rel), ".")
}

// NoEditorTempFilter skips swap and backup files left behind by editors.
func NoEditorTempFilter(rel string, d fs.DirEntry) bool {
	if d != nil && d.IsDir() {
		return true
	}
	base := path.Base(rel)
	switch {
	case strings.HasSuffix(base, "~"):
		return false
	case strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"):
		return false
	case strings.HasSuffix(base, ".swp"), strings.HasSuffix(base, ".swx"):
		return false
	}

	return true
}

// ExtensionFilter keeps only files with one of the given extensions.
// Directories always pass so the walk can descend into them.
func ExtensionFilter(exts ...string) Filter {
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = struct{}{}
	}

	return func(rel string, d fs.DirEntry) bool {
		if d != nil && d.IsDir() {
			return true
		}
		_, ok := allowed[strings.ToLower(path.Ext(rel))]
		return ok
	}
}
