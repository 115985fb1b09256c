package repos

import (
	"context"
	"time"

	"svnlite/internal/delta"
	"svnlite/internal/props"
)

// LogEntry describes one revision in a log listing.
type LogEntry struct {
	Revision     delta.Revnum  `json:"revision"`
	Author       string        `json:"author,omitempty"`
	Date         time.Time     `json:"date"`
	Message      string        `json:"message,omitempty"`
	ChangedPaths []ChangedPath `json:"changed_paths,omitempty"`
	Revprops     delta.Props   `json:"revprops,omitempty"`
}

// LogOptions selects revisions for Log.
type LogOptions struct {
	// Paths restricts the log to revisions touching one of them; empty
	// means every revision.
	Paths []string
	// Start and End bound the range, both inclusive; Start > End walks
	// backwards. InvalidRevnum means the youngest revision.
	Start, End delta.Revnum
	Limit      int
	// ChangedPaths includes the change lists.
	ChangedPaths bool
	// Revprops selects revision properties to report; nil means all.
	Revprops []string
}

// Log calls fn for every selected revision in order.
func (r *Repository) Log(ctx context.Context, opts LogOptions, fn func(LogEntry) error) error {
	youngest, err := r.Youngest()
	if err != nil {
		return err
	}
	start, end := opts.Start, opts.End
	if !start.IsValid() {
		start = youngest
	}
	if !end.IsValid() {
		end = youngest
	}
	for _, rev := range []delta.Revnum{start, end} {
		if rev > youngest {
			if _, err := r.Revision(rev); err != nil {
				return err
			}
		}
	}

	step := delta.Revnum(1)
	if start > end {
		step = -1
	}
	sent := 0
	for rev := start; ; rev += step {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := r.Revision(rev)
		if err != nil {
			return err
		}
		if touches(record, opts.Paths) {
			if err := fn(logEntry(record, opts)); err != nil {
				return err
			}
			sent++
			if opts.Limit > 0 && sent >= opts.Limit {
				return nil
			}
		}
		if rev == end {
			return nil
		}
	}
}

func touches(record *Revision, paths []string) bool {
	if len(paths) == 0 {
		return true
	}
	for _, c := range record.Changes {
		for _, p := range paths {
			if delta.IsAncestor(p, c.Path) || delta.IsAncestor(c.Path, p) {
				return true
			}
		}
	}
	return false
}

func logEntry(record *Revision, opts LogOptions) LogEntry {
	entry := LogEntry{
		Revision: record.Number,
		Author:   record.Author,
		Date:     record.Date,
		Message:  string(record.Props[props.RevLog]),
	}
	if opts.ChangedPaths {
		entry.ChangedPaths = record.Changes
	}
	if opts.Revprops == nil {
		entry.Revprops = record.Props
	} else {
		entry.Revprops = delta.Props{}
		for _, name := range opts.Revprops {
			if v, ok := record.Props[name]; ok {
				entry.Revprops[name] = v
			}
		}
	}
	return entry
}

// RevisionProps returns the properties of a revision.
func (r *Repository) RevisionProps(rev delta.Revnum) (delta.Props, error) {
	record, err := r.Revision(rev)
	if err != nil {
		return nil, err
	}
	out := record.Props.Clone()
	if out == nil {
		out = delta.Props{}
	}
	out[props.RevDate] = []byte(record.Date.Format(time.RFC3339Nano))
	return out, nil
}
