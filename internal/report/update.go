package report

import (
	"context"
	"sort"
	"strconv"
	"time"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/logging"
	"svnlite/internal/props"
	"svnlite/internal/repos"

	"go.uber.org/zap"
)

// UpdateOptions configures an update drive. Report paths are relative to
// Anchor/Target; editor paths are relative to Anchor.
type UpdateOptions struct {
	Repo   *repos.Repository
	Anchor string
	// Target is a single path component below Anchor, or "" when the
	// anchor itself is updated.
	Target string
	// Revision to update to; InvalidRevnum means HEAD.
	Revision delta.Revnum
	// Depth limits the drive; DepthUnknown keeps the reported depths.
	Depth delta.Depth
	// SwitchPath is the repository path the target is brought to. Empty
	// means Anchor/Target.
	SwitchPath string
	// ResolveURL maps a linked URL to a repository path.
	ResolveURL func(url string) (string, error)
	Logger     *zap.Logger
}

// UpdateDriver compares the reported working copy with a repository
// revision and drives an editor with the difference.
type UpdateDriver struct {
	editor delta.Editor
	opts   UpdateOptions
	logger *zap.Logger

	states map[string]PathState
	paths  []string
	roots  map[delta.Revnum]*repos.Root
	revs   map[delta.Revnum]*repos.Revision
}

func NewUpdateDriver(editor delta.Editor, opts UpdateOptions) *UpdateDriver {
	return &UpdateDriver{
		editor: editor,
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
		roots:  make(map[delta.Revnum]*repos.Root),
		revs:   make(map[delta.Revnum]*repos.Revision),
	}
}

// source is what the working copy has at a path.
type source struct {
	root       *repos.Root
	path       string
	depth      delta.Depth
	startEmpty bool
	lockToken  string
	node       *repos.NodeRev
}

func (s *source) rev() delta.Revnum {
	if s == nil || s.root == nil {
		return delta.InvalidRevnum
	}
	return s.root.Revision()
}

func (d *UpdateDriver) Abort(ctx context.Context) error {
	return d.editor.Abort(ctx)
}

func (d *UpdateDriver) Drive(ctx context.Context, states []PathState) (delta.Revnum, error) {
	rev, err := d.drive(ctx, states)
	if err != nil {
		if abortErr := d.editor.Abort(ctx); abortErr != nil {
			d.logger.Warn("aborting update drive", zap.Error(abortErr))
		}
		return delta.InvalidRevnum, err
	}
	if err := d.editor.Complete(ctx); err != nil {
		if abortErr := d.editor.Abort(ctx); abortErr != nil {
			d.logger.Warn("aborting update drive", zap.Error(abortErr))
		}
		return delta.InvalidRevnum, err
	}
	return rev, nil
}

func (d *UpdateDriver) drive(ctx context.Context, states []PathState) (delta.Revnum, error) {
	if len(states) == 0 || states[0].Path != "" {
		return delta.InvalidRevnum, apperrors.Sequence("update: the report does not describe its target")
	}
	d.states = make(map[string]PathState, len(states))
	rootState := states[0]
	for _, s := range states[1:] {
		if s.Path == "" {
			// A second report on the target switches or removes it.
			rootState.Deleted = s.Deleted
			rootState.LinkURL = s.LinkURL
			if !s.Deleted {
				rootState.Revision, rootState.Depth = s.Revision, s.Depth
				rootState.StartEmpty, rootState.LockToken = s.StartEmpty, s.LockToken
			}
			continue
		}
		d.states[s.Path] = s
		d.paths = append(d.paths, s.Path)
	}
	d.states[""] = rootState

	target, err := d.opts.Repo.Root(d.opts.Revision)
	if err != nil {
		return delta.InvalidRevnum, err
	}
	d.roots[target.Revision()] = target

	tgtPath := d.opts.SwitchPath
	if tgtPath == "" {
		tgtPath = d.anchored(d.opts.Target)
	}
	tgtKind, err := target.Kind(tgtPath)
	if err != nil {
		return delta.InvalidRevnum, err
	}

	src, err := d.stateSource(rootState, d.anchored(d.opts.Target))
	if err != nil {
		return delta.InvalidRevnum, err
	}

	tgtDepth := d.opts.Depth
	if tgtDepth == delta.DepthUnknown {
		tgtDepth = rootState.Depth
	}

	d.logger.Debug("update drive",
		zap.String("anchor", d.opts.Anchor),
		zap.String("target", d.opts.Target),
		zap.String("to", tgtPath),
		zap.Int64("rev", int64(target.Revision())),
		zap.Stringer("depth", tgtDepth))

	if d.opts.Target == "" {
		// The edit root is updated in place; it can be neither added nor
		// deleted.
		if tgtKind != delta.KindDir {
			return delta.InvalidRevnum, apperrors.NotFound("'/" + tgtPath + "' is not a directory in " + target.Revision().String())
		}
		tgtNode, err := target.Node(tgtPath)
		if err != nil {
			return delta.InvalidRevnum, err
		}
		if src != nil && src.node != nil && src.node.Kind != delta.KindDir {
			src = nil
		}
		if err := d.directory(ctx, "", "", src, target, tgtPath, tgtNode, tgtDepth); err != nil {
			return delta.InvalidRevnum, err
		}
		return target.Revision(), nil
	}

	var tgtNode *repos.NodeRev
	if tgtKind != delta.KindNone {
		if tgtNode, err = target.Node(tgtPath); err != nil {
			return delta.InvalidRevnum, err
		}
	}
	if err := d.entry(ctx, d.opts.Target, "", src, target, tgtPath, tgtNode, tgtDepth); err != nil {
		return delta.InvalidRevnum, err
	}
	return target.Revision(), nil
}

func (d *UpdateDriver) anchored(path string) string {
	switch {
	case path == "":
		return d.opts.Anchor
	case d.opts.Anchor == "":
		return path
	}
	return delta.Join(d.opts.Anchor, path)
}

func join(base, leaf string) string {
	if leaf == "" {
		return base
	}
	return delta.Join(base, leaf)
}

func sortedNames(names []string) []string {
	sort.Strings(names)
	return names
}

func (d *UpdateDriver) root(rev delta.Revnum) (*repos.Root, error) {
	if rt, ok := d.roots[rev]; ok {
		return rt, nil
	}
	rt, err := d.opts.Repo.Root(rev)
	if err != nil {
		return nil, err
	}
	d.roots[rev] = rt
	return rt, nil
}

// lookup returns the node at path in rt, nil when it does not exist.
func lookup(rt *repos.Root, path string) (*repos.NodeRev, error) {
	n, err := rt.Node(path)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return n, err
}

// stateSource builds the source described by an explicit report entry;
// nil means the working copy lacks the path.
func (d *UpdateDriver) stateSource(s PathState, path string) (*source, error) {
	if s.Deleted {
		return nil, nil
	}
	if s.LinkURL != "" {
		if d.opts.ResolveURL == nil {
			return nil, apperrors.Validation("link-path %q: linked URLs are not supported here", s.Path)
		}
		linked, err := d.opts.ResolveURL(s.LinkURL)
		if err != nil {
			return nil, err
		}
		path = linked
	}
	rt, err := d.root(s.Revision)
	if err != nil {
		return nil, err
	}
	n, err := lookup(rt, path)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}
	return &source{root: rt, path: path, depth: s.Depth, startEmpty: s.StartEmpty, lockToken: s.LockToken, node: n}, nil
}

// childSource returns what the working copy has at name below parent.
// excluded is true when the child must not be touched at all.
func (d *UpdateDriver) childSource(parent *source, rp, name string) (child *source, excluded bool, err error) {
	crp := join(rp, name)
	if s, ok := d.states[crp]; ok {
		if s.Depth == delta.DepthExclude {
			return nil, true, nil
		}
		path := ""
		if parent != nil {
			path = delta.Join(parent.path, name)
		} else {
			path = delta.Join(d.anchored(d.opts.Target), name)
		}
		child, err = d.stateSource(s, path)
		return child, false, err
	}
	if parent == nil || parent.startEmpty || parent.node == nil || parent.node.Kind != delta.KindDir {
		return nil, false, nil
	}
	if _, ok := parent.node.Entries[name]; !ok {
		return nil, false, nil
	}
	path := delta.Join(parent.path, name)
	n, err := lookup(parent.root, path)
	if err != nil || n == nil {
		return nil, false, err
	}
	if !parent.depth.Covers(n.Kind) {
		return nil, false, nil
	}
	return &source{
		root:  parent.root,
		path:  path,
		depth: parent.depth.ChildDepth(),
		node:  n,
	}, false, nil
}

// reportedBelow reports whether any path at or below rp was reported.
func (d *UpdateDriver) reportedBelow(rp string) bool {
	for _, p := range d.paths {
		if delta.IsAncestor(rp, p) {
			return true
		}
	}
	return false
}

func (d *UpdateDriver) childDepth(tgtDepth delta.Depth, child *source) delta.Depth {
	if d.opts.Depth == delta.DepthUnknown && child != nil {
		return child.depth
	}
	return tgtDepth.ChildDepth()
}

// directory brings the directory at ep from src to tgt.
func (d *UpdateDriver) directory(ctx context.Context, ep, rp string, src *source, target *repos.Root, tgtPath string, tgt *repos.NodeRev, depth delta.Depth) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := target.Entries(tgt)
	if err != nil {
		return err
	}
	type pair struct {
		name     string
		src      *source
		tgt      *repos.NodeRev
		excluded bool
	}

	var (
		pairs    []pair
		children []string
		changed  bool
	)
	seen := make(map[string]bool)
	tgtByName := make(map[string]*repos.NodeRev, len(entries))
	for _, e := range entries {
		tgtByName[e.Name] = e.Node
		if depth.Covers(e.Node.Kind) {
			children = append(children, e.Name)
		}
	}

	var srcNames []string
	if src != nil && src.node != nil {
		srcNames = src.node.EntryNames()
	}
	for _, name := range srcNames {
		seen[name] = true
	}
	for _, e := range entries {
		if !seen[e.Name] {
			srcNames = append(srcNames, e.Name)
			seen[e.Name] = true
		}
	}
	// Reported children that exist in neither tree still need a delete
	// when the working copy has them.
	for _, p := range d.paths {
		if delta.Dirname(p) == rp && p != rp && !seen[delta.Basename(p)] {
			srcNames = append(srcNames, delta.Basename(p))
			seen[delta.Basename(p)] = true
		}
	}

	for _, name := range sortedNames(srcNames) {
		child, excluded, err := d.childSource(src, rp, name)
		if err != nil {
			return err
		}
		tn := tgtByName[name]
		if excluded {
			continue
		}
		// Out of the requested depth: leave whatever is there alone.
		if tn != nil && !depth.Covers(tn.Kind) {
			continue
		}
		if child != nil && child.node != nil && !depth.Covers(child.node.Kind) {
			continue
		}
		if child == nil && tn == nil {
			continue
		}
		if child == nil || tn == nil || child.node.Kind != tn.Kind ||
			(!unchanged(child, tn) && !d.opts.Repo.Authz().Allowed(delta.Join(tgtPath, name))) {
			changed = true
		}
		pairs = append(pairs, pair{name: name, src: child, tgt: tn})
	}

	sendProps := src == nil || src.node == nil || src.node.ID != tgt.ID || d.lockBroken(ctx, src, tgtPath)
	if sendProps || changed {
		var p delta.Props
		if sendProps {
			if p, err = d.fullProps(ctx, tgt, tgtPath); err != nil {
				return err
			}
		}
		if children == nil {
			children = []string{}
		}
		if err := d.editor.AlterDirectory(ctx, ep, src.rev(), children, p); err != nil {
			return err
		}
	}

	for _, pr := range pairs {
		if err := d.entry(ctx, delta.Join(ep, pr.name), join(rp, pr.name), pr.src, target, delta.Join(tgtPath, pr.name), pr.tgt, d.childDepth(depth, pr.src)); err != nil {
			return err
		}
	}
	return nil
}

// unchanged reports whether src already holds the node-revision tgt.
func unchanged(src *source, tgt *repos.NodeRev) bool {
	return src != nil && src.node != nil && tgt != nil && src.node.ID == tgt.ID
}

// entry brings the node at ep from src to tgt; either may be nil.
func (d *UpdateDriver) entry(ctx context.Context, ep, rp string, src *source, target *repos.Root, tgtPath string, tgt *repos.NodeRev, depth delta.Depth) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch {
	case tgt == nil:
		if src == nil {
			return nil
		}
		return d.editor.Delete(ctx, ep, src.rev())
	case !d.opts.Repo.Authz().Allowed(tgtPath):
		if unchanged(src, tgt) {
			return nil
		}
		return d.editor.AddAbsent(ctx, ep, tgt.Kind, src.rev())
	case src == nil:
		return d.add(ctx, ep, target, tgtPath, tgt, depth, delta.InvalidRevnum)
	case src.node.Kind != tgt.Kind:
		return d.add(ctx, ep, target, tgtPath, tgt, depth, src.rev())
	}

	if src.node.ID == tgt.ID && !src.startEmpty && !d.reportedBelow(rp) && !d.lockBroken(ctx, src, tgtPath) &&
		(tgt.Kind != delta.KindDir || src.depth == depth) {
		return nil
	}

	switch tgt.Kind {
	case delta.KindDir:
		return d.directory(ctx, ep, rp, src, target, tgtPath, tgt, depth)
	case delta.KindFile:
		return d.alterFile(ctx, ep, src, tgtPath, tgt)
	default:
		if src.node.ID == tgt.ID && !d.lockBroken(ctx, src, tgtPath) {
			return nil
		}
		p, err := d.fullProps(ctx, tgt, tgtPath)
		if err != nil {
			return err
		}
		var linkTarget *string
		if src.node.Target != tgt.Target {
			linkTarget = &tgt.Target
		}
		return d.editor.AlterSymlink(ctx, ep, src.rev(), linkTarget, p)
	}
}

func (d *UpdateDriver) alterFile(ctx context.Context, ep string, src *source, tgtPath string, tgt *repos.NodeRev) error {
	if src.node.ID == tgt.ID && !d.lockBroken(ctx, src, tgtPath) {
		return nil
	}
	p, err := d.fullProps(ctx, tgt, tgtPath)
	if err != nil {
		return err
	}
	if src.node.TextHash == tgt.TextHash {
		return d.editor.AlterFile(ctx, ep, src.rev(), nil, nil, p)
	}

	repo := d.opts.Repo
	sum, err := repo.Checksum(tgt, delta.ChecksumSHA1)
	if err != nil {
		return err
	}
	rc, err := repo.OpenContents(tgt)
	if err != nil {
		return err
	}
	defer rc.Close()
	return d.editor.AlterFile(ctx, ep, src.rev(), &sum, rc, p)
}

// add sends the subtree at tgtPath, limited to depth.
func (d *UpdateDriver) add(ctx context.Context, ep string, target *repos.Root, tgtPath string, n *repos.NodeRev, depth delta.Depth, replaces delta.Revnum) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.opts.Repo.Authz().Allowed(tgtPath) {
		return d.editor.AddAbsent(ctx, ep, n.Kind, replaces)
	}
	p, err := d.fullProps(ctx, n, tgtPath)
	if err != nil {
		return err
	}

	switch n.Kind {
	case delta.KindDir:
		entries, err := target.Entries(n)
		if err != nil {
			return err
		}
		children := []string{}
		for _, e := range entries {
			if depth.Covers(e.Node.Kind) {
				children = append(children, e.Name)
			}
		}
		if err := d.editor.AddDirectory(ctx, ep, children, p, replaces); err != nil {
			return err
		}
		for _, e := range entries {
			if !depth.Covers(e.Node.Kind) {
				continue
			}
			if err := d.add(ctx, delta.Join(ep, e.Name), target, delta.Join(tgtPath, e.Name), e.Node, depth.ChildDepth(), delta.InvalidRevnum); err != nil {
				return err
			}
		}
		return nil
	case delta.KindFile:
		repo := d.opts.Repo
		sum, err := repo.Checksum(n, delta.ChecksumSHA1)
		if err != nil {
			return err
		}
		rc, err := repo.OpenContents(n)
		if err != nil {
			return err
		}
		defer rc.Close()
		return d.editor.AddFile(ctx, ep, sum, rc, p, replaces)
	default:
		return d.editor.AddSymlink(ctx, ep, n.Target, p, replaces)
	}
}

// lockBroken reports whether the working copy holds a lock token the
// repository no longer knows.
func (d *UpdateDriver) lockBroken(ctx context.Context, src *source, tgtPath string) bool {
	if src == nil || src.lockToken == "" {
		return false
	}
	l, err := d.opts.Repo.LockOn(ctx, tgtPath)
	return err != nil || l == nil || l.Token != src.lockToken
}

// fullProps returns n's properties plus the entry bookkeeping an update
// carries.
func (d *UpdateDriver) fullProps(ctx context.Context, n *repos.NodeRev, tgtPath string) (delta.Props, error) {
	rec, ok := d.revs[n.CreatedRev]
	if !ok {
		var err error
		if rec, err = d.opts.Repo.Revision(n.CreatedRev); err != nil {
			return nil, err
		}
		d.revs[n.CreatedRev] = rec
	}

	p := n.Props.Clone()
	if p == nil {
		p = delta.Props{}
	}
	p[props.EntryCommittedRev] = []byte(strconv.FormatInt(int64(n.CreatedRev), 10))
	p[props.EntryCommittedDate] = []byte(rec.Date.UTC().Format(time.RFC3339Nano))
	if rec.Author != "" {
		p[props.EntryLastAuthor] = []byte(rec.Author)
	}
	p[props.EntryUUID] = []byte(d.opts.Repo.UUID())
	if l, err := d.opts.Repo.LockOn(ctx, tgtPath); err == nil && l != nil {
		p[props.EntryLockToken] = []byte(l.Token)
	}
	return p, nil
}

var _ Driver = (*UpdateDriver)(nil)
