// Package mergeinfo reads and writes the svn:mergeinfo property: one
// "path:ranges" line per merge source, ranges separated by commas, each a
// single revision "N" or an inclusive span "N-M", suffixed with "*" when
// the merge does not apply to children.
package mergeinfo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"svnlite/internal/delta"
)

// Range is an inclusive revision span.
type Range struct {
	Start       delta.Revnum `json:"start"`
	End         delta.Revnum `json:"end"`
	Inheritable bool         `json:"inheritable"`
}

func (r Range) String() string {
	var s string
	if r.Start == r.End {
		s = strconv.FormatInt(int64(r.Start), 10)
	} else {
		s = fmt.Sprintf("%d-%d", r.Start, r.End)
	}
	if !r.Inheritable {
		s += "*"
	}
	return s
}

// Contains reports whether rev lies within the range.
func (r Range) Contains(rev delta.Revnum) bool {
	return rev >= r.Start && rev <= r.End
}

// Mergeinfo maps merge source paths to their merged ranges.
type Mergeinfo map[string][]Range

// Parse decodes a property value. The result is normalized as by
// Normalize.
func Parse(text string) (Mergeinfo, error) {
	info := make(Mergeinfo)
	for n, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		// Paths may contain colons; the range list never does.
		i := strings.LastIndexByte(line, ':')
		if i <= 0 {
			return nil, fmt.Errorf("line %d: missing merge source path", n+1)
		}
		source, ranges := line[:i], line[i+1:]
		if !strings.HasPrefix(source, "/") {
			source = "/" + source
		}
		if ranges == "" {
			return nil, fmt.Errorf("line %d: no ranges for %s", n+1, source)
		}
		for _, span := range strings.Split(ranges, ",") {
			r, err := parseRange(span)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n+1, err)
			}
			info[source] = append(info[source], r)
		}
	}
	info.Normalize()
	return info, nil
}

func parseRange(span string) (Range, error) {
	span = strings.TrimSpace(span)
	r := Range{Inheritable: true}
	if strings.HasSuffix(span, "*") {
		r.Inheritable = false
		span = strings.TrimSuffix(span, "*")
	}

	lo, hi, isSpan := strings.Cut(span, "-")
	start, err := strconv.ParseInt(lo, 10, 64)
	if err != nil || start < 0 {
		return Range{}, fmt.Errorf("invalid revision range %q", span)
	}
	end := start
	if isSpan {
		if end, err = strconv.ParseInt(hi, 10, 64); err != nil || end < start {
			return Range{}, fmt.Errorf("invalid revision range %q", span)
		}
	}
	r.Start, r.End = delta.Revnum(start), delta.Revnum(end)
	return r, nil
}

// Normalize sorts every range list and joins mergeable neighbours. Where
// an inheritable range overlaps a non-inheritable one the inheritable
// range wins and the other keeps only the revisions outside it.
func (m Mergeinfo) Normalize() {
	for source, revs := range m {
		var inh, non []Range
		for _, r := range revs {
			if r.Inheritable {
				inh = append(inh, r)
			} else {
				non = append(non, r)
			}
		}
		inh = join(inh)
		out := append([]Range(nil), inh...)
		for _, r := range join(non) {
			out = append(out, subtract(r, inh)...)
		}
		if len(out) == 0 {
			delete(m, source)
			continue
		}
		sortRanges(out)
		m[source] = out
	}
}

func sortRanges(rs []Range) {
	sort.Slice(rs, func(i, j int) bool {
		return rs[i].Start < rs[j].Start ||
			(rs[i].Start == rs[j].Start && rs[i].End < rs[j].End)
	})
}

// join sorts rs, which share one inheritability, and merges overlapping
// or adjacent spans.
func join(rs []Range) []Range {
	if len(rs) == 0 {
		return nil
	}
	sortRanges(rs)
	last := 0
	for i := 1; i < len(rs); i++ {
		if rs[i].Start <= rs[last].End+1 {
			if rs[last].End < rs[i].End {
				rs[last].End = rs[i].End
			}
		} else {
			last++
			rs[last] = rs[i]
		}
	}
	return rs[:last+1]
}

// subtract returns the parts of r not covered by the sorted, disjoint
// ranges in cover.
func subtract(r Range, cover []Range) []Range {
	var out []Range
	for _, c := range cover {
		if c.End < r.Start || c.Start > r.End {
			continue
		}
		if c.Start > r.Start {
			out = append(out, Range{Start: r.Start, End: c.Start - 1, Inheritable: r.Inheritable})
		}
		if c.End >= r.End {
			return out
		}
		r.Start = c.End + 1
	}
	return append(out, r)
}

// Sources returns the merge source paths, sorted.
func (m Mergeinfo) Sources() []string {
	sources := make([]string, 0, len(m))
	for s := range m {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources
}

// String encodes m in property form with sources sorted.
func (m Mergeinfo) String() string {
	var b strings.Builder
	for i, source := range m.Sources() {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(source)
		b.WriteByte(':')
		for j, r := range m[source] {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(r.String())
		}
	}
	return b.String()
}

// Merged reports whether rev from source is recorded as merged.
func (m Mergeinfo) Merged(source string, rev delta.Revnum) bool {
	for _, r := range m[source] {
		if r.Contains(rev) {
			return true
		}
	}
	return false
}

// Inherit returns the mergeinfo a child at relpath below the owner of m
// inherits: non-inheritable ranges are dropped and every source path is
// extended by relpath.
func (m Mergeinfo) Inherit(relpath string) Mergeinfo {
	out := make(Mergeinfo)
	for source, revs := range m {
		var kept []Range
		for _, r := range revs {
			if r.Inheritable {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			continue
		}
		if relpath != "" {
			source = strings.TrimSuffix(source, "/") + "/" + relpath
		}
		out[source] = kept
	}
	return out
}
