package utils

import (
	"fmt"
	"strconv"
	"strings"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
)

// ParseRevision accepts a revision number, "rN" or HEAD.
func ParseRevision(s string) (delta.Revnum, error) {
	rev, err := delta.ParseRevnum(s)
	if err != nil {
		return delta.InvalidRevnum, apperrors.Validation("%v", err)
	}
	return rev, nil
}

// ParseRange parses "A:B" or a single revision N, which means N-1:N.
func ParseRange(s string) (delta.Revnum, delta.Revnum, error) {
	from, to, ok := strings.Cut(s, ":")
	if !ok {
		rev, err := ParseRevision(s)
		if err != nil {
			return 0, 0, err
		}
		if !rev.IsValid() || rev == 0 {
			return 0, 0, apperrors.Validation("a single revision range must name a revision above 0")
		}
		return rev - 1, rev, nil
	}
	start, err := ParseRevision(from)
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseRevision(to)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// FormatRange renders a range the way ParseRange reads it.
func FormatRange(from, to delta.Revnum) string {
	return fmt.Sprintf("%s:%s", revString(from), revString(to))
}

func revString(r delta.Revnum) string {
	if !r.IsValid() {
		return "HEAD"
	}
	return strconv.FormatInt(int64(r), 10)
}
