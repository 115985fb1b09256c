package ra

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
)

const (
	schemeFile = "file"
	schemeMem  = "mem"
)

// location is a parsed repository URL.
type location struct {
	scheme string
	// name is the in-memory repository name or the absolute filesystem
	// path of the URL.
	name string
	// path is the part of a mem:// URL below the repository.
	path string
}

func parseURL(raw string) (location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return location{}, apperrors.Validation("invalid repository url %q: %v", raw, err)
	}
	path := strings.Trim(u.Path, "/")
	switch u.Scheme {
	case schemeMem:
		if u.Host == "" {
			return location{}, apperrors.Validation("repository url %q has no name", raw)
		}
		if err := delta.ValidateRelpath(path); err != nil {
			return location{}, apperrors.Validation("repository url %q: %v", raw, err)
		}
		return location{scheme: schemeMem, name: u.Host, path: path}, nil
	case schemeFile:
		if u.Host != "" && u.Host != "localhost" {
			return location{}, apperrors.Validation("file url %q names a remote host", raw)
		}
		return location{scheme: schemeFile, name: filepath.Clean("/" + path)}, nil
	default:
		return location{}, apperrors.Validation("unsupported repository url %q: use file:// or mem://", raw)
	}
}

func (l location) rootURL() string {
	if l.scheme == schemeMem {
		return "mem://" + l.name
	}
	return "file://" + filepath.ToSlash(l.name)
}

// isRepository reports whether dir holds a badger database.
func isRepository(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "MANIFEST"))
	return err == nil && !info.IsDir()
}

// findRoot walks up from a file:// location to the directory holding the
// repository and returns it with the path below it.
func findRoot(name string) (string, string, bool) {
	var below []string
	for dir := name; ; dir = filepath.Dir(dir) {
		if isRepository(dir) {
			for i, j := 0, len(below)-1; i < j; i, j = i+1, j-1 {
				below[i], below[j] = below[j], below[i]
			}
			return dir, strings.Join(below, "/"), true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", false
		}
		below = append(below, filepath.Base(dir))
	}
}

// relative returns url relative to root, or false when url lies outside.
func relative(root, raw string) (string, bool) {
	raw = strings.TrimSuffix(raw, "/")
	if raw == root {
		return "", true
	}
	if !strings.HasPrefix(raw, root+"/") {
		return "", false
	}
	rel, err := url.PathUnescape(raw[len(root)+1:])
	if err != nil || delta.ValidateRelpath(rel) != nil {
		return "", false
	}
	return rel, true
}
