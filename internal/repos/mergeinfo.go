package repos

import (
	"errors"
	"fmt"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/mergeinfo"
	"svnlite/internal/props"
)

// Inherit selects how mergeinfo is looked up.
type Inherit int

const (
	// Explicit reports only mergeinfo set on the path itself.
	Explicit Inherit = iota
	// Inherited falls back to the nearest ancestor's inheritable ranges.
	Inherited
	// NearestAncestor reports only what an ancestor would pass down.
	NearestAncestor
)

// Mergeinfo returns the mergeinfo of each path in rev. Paths without any
// are left out of the result.
func (r *Repository) Mergeinfo(paths []string, rev delta.Revnum, inherit Inherit) (map[string]mergeinfo.Mergeinfo, error) {
	root, err := r.Root(rev)
	if err != nil {
		return nil, err
	}
	out := make(map[string]mergeinfo.Mergeinfo)
	for _, path := range paths {
		if !r.authz.Allowed(path) {
			return nil, apperrors.Unauthorized("mergeinfo: access to '/%s' denied", path)
		}
		if _, err := root.Node(path); err != nil {
			return nil, err
		}
		info, err := root.mergeinfoFor(path, inherit)
		if err != nil {
			return nil, err
		}
		if len(info) > 0 {
			out[path] = info
		}
	}
	return out, nil
}

func (rt *Root) mergeinfoFor(path string, inherit Inherit) (mergeinfo.Mergeinfo, error) {
	start := path
	if inherit == NearestAncestor {
		if path == "" {
			return nil, nil
		}
		start = delta.Dirname(path)
	}
	for p := start; ; p = delta.Dirname(p) {
		n, err := rt.Node(p)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if value, ok := n.Props[props.Mergeinfo]; ok {
			info, err := mergeinfo.Parse(string(value))
			if err != nil {
				return nil, fmt.Errorf("mergeinfo on '/%s': %w", p, err)
			}
			if p == path {
				return info, nil
			}
			rel, _ := delta.SkipAncestor(p, path)
			return info.Inherit(rel), nil
		}
		if p == "" || inherit == Explicit {
			return nil, nil
		}
	}
}
