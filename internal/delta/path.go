package delta

import (
	"fmt"
	"strings"
)

// Join is a fast alternative to path.Join for edit-root-relative paths.
// The leaf must be non-empty.
func Join(base, leaf string) string {
	if leaf == "" {
		panic("empty leaf name")
	}
	if base == "" {
		return leaf
	}
	return base + "/" + leaf
}

// Dirname returns the parent of a relative path; the parent of a top-level
// entry is the edit root "". Dirname of the root is the root.
func Dirname(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i == -1 {
		return ""
	}
	return path[:i]
}

// Basename returns the last component of a relative path.
func Basename(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}

// IsAncestor reports whether ancestor is path or one of its parents.
func IsAncestor(ancestor, path string) bool {
	if ancestor == "" || ancestor == path {
		return true
	}
	return strings.HasPrefix(path, ancestor) && path[len(ancestor)] == '/'
}

// SkipAncestor returns path relative to ancestor, and false if ancestor is
// not an ancestor of path.
func SkipAncestor(ancestor, path string) (string, bool) {
	if !IsAncestor(ancestor, path) {
		return "", false
	}
	if ancestor == path {
		return "", true
	}
	if ancestor == "" {
		return path, true
	}
	return path[len(ancestor)+1:], true
}

// Components splits a relative path; the root has no components.
func Components(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// PathLess reports whether first comes before second in depth-first
// traversal order: a parent precedes its children, and all of a directory's
// descendants precede its later siblings.
func PathLess(first, second string) bool {
	if first == second {
		return false
	} else if first == "" {
		return true
	} else if second == "" {
		return false
	}

	for {
		firstSlash := strings.IndexByte(first, '/')
		firstFront := first
		if firstSlash != -1 {
			firstFront = first[:firstSlash]
		}

		secondSlash := strings.IndexByte(second, '/')
		secondFront := second
		if secondSlash != -1 {
			secondFront = second[:secondSlash]
		}

		if firstFront < secondFront {
			return true
		} else if secondFront < firstFront {
			return false
		}

		if firstSlash == -1 {
			return true
		} else if secondSlash == -1 {
			return false
		}
		first = first[firstSlash+1:]
		second = second[secondSlash+1:]
	}
}

// ValidateRelpath checks that path is a canonical relative path.
func ValidateRelpath(path string) error {
	if path == "" {
		return nil
	}
	if strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return fmt.Errorf("path %q is not relative", path)
	}
	for _, c := range strings.Split(path, "/") {
		switch c {
		case "":
			return fmt.Errorf("path %q has an empty component", path)
		case ".", "..":
			return fmt.Errorf("path %q is not canonical", path)
		}
	}
	return nil
}

// ValidateBasename checks a single path component.
func ValidateBasename(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') {
		return fmt.Errorf("invalid entry name %q", name)
	}
	return nil
}
