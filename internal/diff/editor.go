package diff

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/props"

	"github.com/fatih/color"
)

// Action is the letter a change is summarized with.
type Action string

const (
	Added    Action = "A"
	Modified Action = "M"
	Deleted  Action = "D"
	Replaced Action = "R"
)

// Change is one path of a tree diff.
type Change struct {
	Path     string       `json:"path"`
	Action   Action       `json:"action"`
	Kind     delta.Kind   `json:"kind"`
	CopyFrom string       `json:"copy_from,omitempty"`
	Props    []PropChange `json:"props,omitempty"`
	Text     *Result      `json:"text,omitempty"`
}

// PropChange is a regular property difference.
type PropChange struct {
	Name string  `json:"name"`
	Old  *string `json:"old,omitempty"`
	New  *string `json:"new,omitempty"`
}

type Options struct {
	// Out receives the rendered diff on Complete; nil renders nothing.
	Out io.Writer
	// Summarize renders one "A  path" line per change.
	Summarize bool
	// Context is the number of unchanged lines around a hunk; 0 means 3.
	Context int
	// Prefix is prepended to every rendered path.
	Prefix    string
	OldRev    delta.Revnum
	NewRev    delta.Revnum
	Color     bool
	FetchBase delta.BaseFetcher
	// FetchProps supplies the old properties of altered nodes.
	FetchProps delta.PropsFetcher
}

// Editor collects a tree delta and renders it as a diff when the drive
// completes.
type Editor struct {
	opts   Options
	engine *Engine

	mu      sync.Mutex
	changes map[string]*Change

	add, del, hunk *color.Color
}

func NewEditor(opts Options) *Editor {
	if opts.Context <= 0 {
		opts.Context = 3
	}
	e := &Editor{
		opts:    opts,
		engine:  NewEngine(opts.Context),
		changes: make(map[string]*Change),
		add:     color.New(color.FgGreen),
		del:     color.New(color.FgRed),
		hunk:    color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{e.add, e.del, e.hunk} {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return e
}

// Changes returns the collected changes in depth-first order.
func (e *Editor) Changes() []Change {
	e.mu.Lock()
	defer e.mu.Unlock()
	paths := make([]string, 0, len(e.changes))
	for p := range e.changes {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return delta.PathLess(paths[i], paths[j]) })
	out := make([]Change, 0, len(paths))
	for _, p := range paths {
		out = append(out, *e.changes[p])
	}
	return out
}

func (e *Editor) record(c *Change) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.changes[c.Path]; ok && prev.Action == Deleted && c.Action == Added {
		c.Action = Replaced
	}
	e.changes[c.Path] = c
}

func addAction(replaces delta.Revnum) Action {
	if replaces.IsValid() {
		return Replaced
	}
	return Added
}

func propChanges(old, new delta.Props) []PropChange {
	old, new = props.Regular(old), props.Regular(new)
	var out []PropChange
	for _, c := range props.Diff(old, new) {
		pc := PropChange{Name: c.Name}
		if v, ok := old[c.Name]; ok {
			s := string(v)
			pc.Old = &s
		}
		if c.Value != nil {
			s := string(c.Value)
			pc.New = &s
		}
		out = append(out, pc)
	}
	return out
}

func (e *Editor) oldProps(ctx context.Context, path string) (delta.Props, error) {
	if e.opts.FetchProps == nil {
		return nil, nil
	}
	p, _, err := e.opts.FetchProps(ctx, path)
	return p, err
}

// oldText returns the base text of path; ok is false when there is none.
func (e *Editor) oldText(ctx context.Context, path string) ([]byte, bool, error) {
	if e.opts.FetchBase == nil {
		return nil, false, nil
	}
	rc, _, err := e.opts.FetchBase(ctx, path)
	if apperrors.Is(err, apperrors.ErrValidation) || apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer rc.Close()
	text, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, apperrors.Transport(err, "reading base of %s", path)
	}
	return text, true, nil
}

func (e *Editor) label(path string) string {
	if e.opts.Prefix == "" {
		return path
	}
	if path == "" {
		return e.opts.Prefix
	}
	return e.opts.Prefix + "/" + path
}

func revLabel(rev delta.Revnum) string {
	if !rev.IsValid() {
		return "(working copy)"
	}
	return fmt.Sprintf("(revision %d)", rev)
}

func (e *Editor) textDiff(path string, old, new []byte, newProps delta.Props) (*Result, error) {
	if BinaryMimeType(newProps) {
		return &Result{Binary: true}, nil
	}
	oldRev := revLabel(e.opts.OldRev)
	if old == nil {
		oldRev = "(nonexistent)"
	}
	newRev := revLabel(e.opts.NewRev)
	if new == nil {
		newRev = "(nonexistent)"
	}
	return e.engine.Diff(old, new, Labels{
		OldPath: e.label(path), OldRev: oldRev,
		NewPath: e.label(path), NewRev: newRev,
	})
}

func (e *Editor) AddDirectory(ctx context.Context, path string, children []string, p delta.Props, replaces delta.Revnum) error {
	e.record(&Change{Path: path, Action: addAction(replaces), Kind: delta.KindDir, Props: propChanges(nil, p)})
	return nil
}

func (e *Editor) AddFile(ctx context.Context, path string, checksum delta.Checksum, contents io.Reader, p delta.Props, replaces delta.Revnum) error {
	text, err := io.ReadAll(contents)
	if err != nil {
		return apperrors.Transport(err, "add-file %s", path)
	}
	var old []byte
	if replaces.IsValid() {
		if old, _, err = e.oldText(ctx, path); err != nil {
			return err
		}
	}
	if text == nil {
		text = []byte{}
	}
	result, err := e.textDiff(path, old, text, p)
	if err != nil {
		return err
	}
	e.record(&Change{Path: path, Action: addAction(replaces), Kind: delta.KindFile, Props: propChanges(nil, p), Text: result})
	return nil
}

func (e *Editor) AddSymlink(ctx context.Context, path string, target string, p delta.Props, replaces delta.Revnum) error {
	result, err := e.textDiff(path, nil, []byte("link "+target), nil)
	if err != nil {
		return err
	}
	e.record(&Change{Path: path, Action: addAction(replaces), Kind: delta.KindSymlink, Props: propChanges(nil, p), Text: result})
	return nil
}

// AddAbsent paths are not readable and so never show up in a diff.
func (e *Editor) AddAbsent(ctx context.Context, path string, kind delta.Kind, replaces delta.Revnum) error {
	return nil
}

func (e *Editor) AlterDirectory(ctx context.Context, path string, rev delta.Revnum, children []string, p delta.Props) error {
	if p == nil {
		return nil
	}
	old, err := e.oldProps(ctx, path)
	if err != nil {
		return err
	}
	if changes := propChanges(old, p); len(changes) > 0 {
		e.record(&Change{Path: path, Action: Modified, Kind: delta.KindDir, Props: changes})
	}
	return nil
}

func (e *Editor) AlterFile(ctx context.Context, path string, rev delta.Revnum, checksum *delta.Checksum, contents io.Reader, p delta.Props) error {
	c := &Change{Path: path, Action: Modified, Kind: delta.KindFile}
	if p != nil {
		old, err := e.oldProps(ctx, path)
		if err != nil {
			return err
		}
		c.Props = propChanges(old, p)
	}
	if contents != nil {
		text, err := io.ReadAll(contents)
		if err != nil {
			return apperrors.Transport(err, "alter-file %s", path)
		}
		old, _, err := e.oldText(ctx, path)
		if err != nil {
			return err
		}
		if old == nil {
			old = []byte{}
		}
		if c.Text, err = e.textDiff(path, old, text, p); err != nil {
			return err
		}
		if c.Text.Unified == "" && !c.Text.Binary {
			c.Text = nil
		}
	}
	if c.Text == nil && len(c.Props) == 0 {
		return nil
	}
	e.record(c)
	return nil
}

func (e *Editor) AlterSymlink(ctx context.Context, path string, rev delta.Revnum, target *string, p delta.Props) error {
	c := &Change{Path: path, Action: Modified, Kind: delta.KindSymlink}
	if p != nil {
		old, err := e.oldProps(ctx, path)
		if err != nil {
			return err
		}
		c.Props = propChanges(old, p)
	}
	if target != nil {
		old, _, err := e.oldText(ctx, path)
		if err != nil {
			return err
		}
		if c.Text, err = e.textDiff(path, old, []byte("link "+*target), nil); err != nil {
			return err
		}
	}
	if c.Text == nil && len(c.Props) == 0 {
		return nil
	}
	e.record(c)
	return nil
}

func (e *Editor) Delete(ctx context.Context, path string, rev delta.Revnum) error {
	c := &Change{Path: path, Action: Deleted, Kind: delta.KindUnknown}
	old, ok, err := e.oldText(ctx, path)
	if err != nil {
		return err
	}
	if ok {
		c.Kind = delta.KindFile
		if c.Text, err = e.textDiff(path, old, nil, nil); err != nil {
			return err
		}
	}
	e.record(c)
	return nil
}

func (e *Editor) Copy(ctx context.Context, srcPath string, srcRev delta.Revnum, dstPath string, replaces delta.Revnum) error {
	e.record(&Change{Path: dstPath, Action: addAction(replaces), Kind: delta.KindUnknown, CopyFrom: fmt.Sprintf("%s@%d", srcPath, srcRev)})
	return nil
}

func (e *Editor) Move(ctx context.Context, srcPath string, srcRev delta.Revnum, dstPath string, replaces delta.Revnum) error {
	e.record(&Change{Path: srcPath, Action: Deleted, Kind: delta.KindUnknown})
	return e.Copy(ctx, srcPath, srcRev, dstPath, replaces)
}

// Complete renders the collected changes.
func (e *Editor) Complete(ctx context.Context) error {
	if e.opts.Out == nil {
		return nil
	}
	var b strings.Builder
	for _, c := range e.Changes() {
		if e.opts.Summarize {
			fmt.Fprintf(&b, "%-2s %s\n", c.Action, e.label(c.Path))
			continue
		}
		e.render(&b, c)
	}
	if _, err := io.WriteString(e.opts.Out, b.String()); err != nil {
		return apperrors.Transport(err, "writing diff")
	}
	return nil
}

func (e *Editor) render(b *strings.Builder, c Change) {
	path := e.label(c.Path)
	if c.Text != nil {
		fmt.Fprintf(b, "Index: %s\n%s\n", path, strings.Repeat("=", 67))
		switch {
		case c.Text.Binary:
			b.WriteString("Cannot display: file marked as a binary type.\n")
		case c.Text.Unified != "":
			for _, line := range strings.SplitAfter(c.Text.Unified, "\n") {
				switch {
				case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
					b.WriteString(line)
				case strings.HasPrefix(line, "+"):
					b.WriteString(e.add.Sprint(line))
				case strings.HasPrefix(line, "-"):
					b.WriteString(e.del.Sprint(line))
				case strings.HasPrefix(line, "@@"):
					b.WriteString(e.hunk.Sprint(line))
				default:
					b.WriteString(line)
				}
			}
		}
	} else if c.Action == Deleted || c.CopyFrom != "" {
		fmt.Fprintf(b, "%s    %s", c.Action, path)
		if c.CopyFrom != "" {
			fmt.Fprintf(b, " (from %s)", c.CopyFrom)
		}
		b.WriteByte('\n')
	}

	if len(c.Props) == 0 {
		return
	}
	fmt.Fprintf(b, "\nProperty changes on: %s\n%s\n", path, strings.Repeat("_", 67))
	for _, pc := range c.Props {
		switch {
		case pc.Old == nil:
			fmt.Fprintf(b, "Added: %s\n%s", pc.Name, e.add.Sprintf("+%s\n", *pc.New))
		case pc.New == nil:
			fmt.Fprintf(b, "Deleted: %s\n%s", pc.Name, e.del.Sprintf("-%s\n", *pc.Old))
		default:
			fmt.Fprintf(b, "Modified: %s\n%s%s", pc.Name, e.del.Sprintf("-%s\n", *pc.Old), e.add.Sprintf("+%s\n", *pc.New))
		}
	}
}

// Abort drops everything collected.
func (e *Editor) Abort(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changes = make(map[string]*Change)
	return nil
}

var _ delta.Editor = (*Editor)(nil)
