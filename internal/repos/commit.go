package repos

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"svnlite/internal/delta"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/locks"
	"svnlite/internal/props"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Callbacks let the creator of a commit editor supply base information
// instead of the repository reading it. Paths are relative to the edit
// root. Any of them may be nil.
type Callbacks struct {
	// FetchBase returns the text the caller's alteration is based on.
	// Unchanged text is not stored again.
	FetchBase delta.BaseFetcher
	// FetchProps returns the properties the caller's alteration is based
	// on. An alteration that changes no regular property leaves the node's
	// properties alone.
	FetchProps delta.PropsFetcher
	// FetchKind resolves copy sources.
	FetchKind delta.KindFetcher
}

// CommitOptions configures a commit editor.
type CommitOptions struct {
	// Base is the repository path the edit is rooted at.
	Base string
	// Revprops become the new revision's properties; svn:author and
	// svn:log are honoured, svn:date is set by the repository.
	Revprops   delta.Props
	Author     string
	Callback   delta.CommitCallback
	Callbacks  Callbacks
	LockTokens locks.Tokens
	// KeepLocks leaves the presented locks in place after the commit.
	KeepLocks bool
}

// CommitEditor applies an edit drive to a transaction on the youngest
// revision and commits it on Complete. It trusts its caller to follow the
// editor protocol; wrap it in a delta.CheckedEditor.
type CommitEditor struct {
	repo   *Repository
	opts   CommitOptions
	logger *zap.Logger

	mu      sync.Mutex
	id      string
	baseRev delta.Revnum
	tree    *txnTree
	changes map[string]*ChangedPath
	closed  bool
}

// CommitEditor begins a transaction on the youngest revision.
func (r *Repository) CommitEditor(ctx context.Context, opts CommitOptions) (*CommitEditor, error) {
	if err := delta.ValidateRelpath(opts.Base); err != nil {
		return nil, apperrors.Validation("%v", err)
	}
	root, err := r.Root(delta.InvalidRevnum)
	if err != nil {
		return nil, err
	}
	if kind, err := root.Kind(opts.Base); err != nil {
		return nil, err
	} else if kind != delta.KindDir {
		return nil, apperrors.NotFound(fmt.Sprintf("commit base '/%s' is not a directory in revision %d", opts.Base, root.rev))
	}

	e := &CommitEditor{
		repo:    r,
		opts:    opts,
		id:      uuid.NewString(),
		baseRev: root.rev,
		tree:    newTxnTree(r, root.root),
		changes: make(map[string]*ChangedPath),
	}
	e.logger = r.logger.With(zap.String("txn", e.id), zap.Int64("base", int64(e.baseRev)))
	e.logger.Debug("transaction begun", zap.String("root", "/"+opts.Base))
	return e, nil
}

// BaseRevision is the revision the transaction was begun on.
func (e *CommitEditor) BaseRevision() delta.Revnum {
	return e.baseRev
}

func (e *CommitEditor) repoPath(path string) string {
	if e.opts.Base == "" {
		return path
	}
	if path == "" {
		return e.opts.Base
	}
	return e.opts.Base + "/" + path
}

// check runs the checks shared by every operation on a repository path.
func (e *CommitEditor) check(ctx context.Context, op, rpath string, lockRecursive bool) error {
	if e.closed {
		return apperrors.Sequence("%s: transaction %s is closed", op, e.id)
	}
	if !e.repo.authz.Allowed(rpath) {
		return apperrors.Unauthorized("%s: access to '/%s' denied", op, rpath)
	}
	if err := locks.Check(ctx, e.repo.locks, rpath, e.opts.LockTokens, lockRecursive); err != nil {
		var held *locks.HeldError
		if apperrors.As(err, &held) {
			return apperrors.Locked("%s: path '/%s' is locked by %s", op, held.Lock.Path, held.Lock.Owner)
		}
		return err
	}
	return nil
}

// checkRev enforces that the caller's idea of a node is not older than the
// node's last change. Nodes committed before this transaction need a
// revision between their created revision and the base revision; nodes
// added in it, or below a node added in it, take any revision.
func (e *CommitEditor) checkRev(op, rpath string, n *txnNode, chain []*txnNode, rev delta.Revnum) error {
	if n == nil {
		return apperrors.OutOfDate("%s: path '/%s' not found", op, rpath)
	}
	if n.added {
		return nil
	}
	for _, a := range chain {
		if a.added {
			return nil
		}
	}
	if !rev.IsValid() {
		return apperrors.OutOfDate("%s: '/%s' exists in r%d; a base revision is required", op, rpath, e.baseRev)
	}
	if rev > e.baseRev {
		return apperrors.OutOfDate("%s: '/%s' based on r%d, which is newer than the transaction base r%d", op, rpath, rev, e.baseRev)
	}
	if created := n.createdRev(); created.IsValid() && rev < created {
		return apperrors.OutOfDate("%s: '/%s' is out of date; based on r%d, changed in r%d", op, rpath, rev, created)
	}
	return nil
}

// checkReplaces validates an add against what currently occupies path.
func (e *CommitEditor) checkReplaces(op, rpath string, replaces delta.Revnum) (bool, error) {
	existing, chain, err := e.tree.lookup(rpath)
	if err != nil {
		return false, err
	}
	if existing == nil {
		if replaces.IsValid() {
			return false, apperrors.OutOfDate("%s: '/%s' to be replaced does not exist", op, rpath)
		}
		return false, nil
	}
	if !replaces.IsValid() {
		return false, apperrors.OutOfDate("%s: path '/%s' already exists", op, rpath)
	}
	if err := e.checkRev(op, rpath, existing, chain, replaces); err != nil {
		return false, err
	}
	return true, nil
}

func (e *CommitEditor) record(rpath string, action Action, kind delta.Kind, from *CopySource) {
	if prev, ok := e.changes[rpath]; ok {
		switch {
		case prev.Action == ActionDelete && action != ActionDelete:
			action = ActionReplace
		case prev.Action == ActionAdd || prev.Action == ActionReplace:
			if action == ActionModify {
				return
			}
		}
	}
	e.changes[rpath] = &ChangedPath{Path: rpath, Action: action, Kind: kind, CopyFrom: from}
}

func addAction(replaced bool) Action {
	if replaced {
		return ActionReplace
	}
	return ActionAdd
}

func (e *CommitEditor) AddDirectory(ctx context.Context, path string, children []string, p delta.Props, replaces delta.Revnum) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rpath := e.repoPath(path)
	if err := e.check(ctx, "add-directory", rpath, true); err != nil {
		return err
	}
	replaced, err := e.checkReplaces("add-directory", rpath, replaces)
	if err != nil {
		return err
	}
	n := &txnNode{
		kind:    delta.KindDir,
		props:   props.Regular(p),
		entries: make(map[string]*txnNode),
		loaded:  true,
		added:   true,
	}
	if err := e.tree.put(rpath, n); err != nil {
		return err
	}
	e.record(rpath, addAction(replaced), delta.KindDir, nil)
	return nil
}

// storeText reads contents, verifies it against checksum and stores it.
func (e *CommitEditor) storeText(op, rpath string, checksum delta.Checksum, contents io.Reader) (string, int64, error) {
	text, err := io.ReadAll(contents)
	if err != nil {
		return "", 0, apperrors.Transport(err, "%s: reading contents of '/%s'", op, rpath)
	}
	if _, err := delta.NewHash(checksum.Kind); err != nil {
		return "", 0, apperrors.Validation("%s: %v", op, err)
	}
	if got := delta.ChecksumBytes(checksum.Kind, text); got.Digest != checksum.Digest {
		return "", 0, apperrors.Validation("%s: checksum mismatch for '/%s': expected %s, got %s", op, rpath, checksum, got)
	}
	meta, err := e.repo.texts.Store(text)
	if err != nil {
		return "", 0, err
	}
	return meta.Hash, meta.Size, nil
}

func (e *CommitEditor) AddFile(ctx context.Context, path string, checksum delta.Checksum, contents io.Reader, p delta.Props, replaces delta.Revnum) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rpath := e.repoPath(path)
	if err := e.check(ctx, "add-file", rpath, true); err != nil {
		return err
	}
	replaced, err := e.checkReplaces("add-file", rpath, replaces)
	if err != nil {
		return err
	}
	hash, size, err := e.storeText("add-file", rpath, checksum, contents)
	if err != nil {
		return err
	}
	n := &txnNode{kind: delta.KindFile, props: props.Regular(p), text: hash, size: size, added: true}
	if err := e.tree.put(rpath, n); err != nil {
		return err
	}
	e.record(rpath, addAction(replaced), delta.KindFile, nil)
	return nil
}

func (e *CommitEditor) AddSymlink(ctx context.Context, path string, target string, p delta.Props, replaces delta.Revnum) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.repo.SymlinksEnabled() {
		return apperrors.NotImplemented("add-symlink: symlinks are not supported by this repository")
	}
	rpath := e.repoPath(path)
	if err := e.check(ctx, "add-symlink", rpath, true); err != nil {
		return err
	}
	replaced, err := e.checkReplaces("add-symlink", rpath, replaces)
	if err != nil {
		return err
	}
	n := &txnNode{kind: delta.KindSymlink, props: props.Regular(p), target: target, added: true}
	if err := e.tree.put(rpath, n); err != nil {
		return err
	}
	e.record(rpath, addAction(replaced), delta.KindSymlink, nil)
	return nil
}

func (e *CommitEditor) AddAbsent(ctx context.Context, path string, kind delta.Kind, replaces delta.Revnum) error {
	return apperrors.NotImplemented("add-absent: absent nodes cannot be committed")
}

// alterProps applies a property alteration; it reports whether the node's
// regular properties changed.
func (e *CommitEditor) alterProps(ctx context.Context, path string, n *txnNode, p delta.Props) (bool, error) {
	if p == nil {
		return false, nil
	}
	regular := props.Regular(p)
	unchanged := props.Regular(n.props).Equal(regular)
	if e.opts.Callbacks.FetchProps != nil && !n.added {
		base, _, err := e.opts.Callbacks.FetchProps(ctx, path)
		if err != nil {
			return false, fmt.Errorf("fetching base properties of %q: %w", path, err)
		}
		unchanged = !props.HasRegularChanges(base, regular)
	}
	if unchanged {
		return false, nil
	}
	n.props = regular
	return true, nil
}

func (e *CommitEditor) AlterDirectory(ctx context.Context, path string, rev delta.Revnum, children []string, p delta.Props) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rpath := e.repoPath(path)
	if err := e.check(ctx, "alter-directory", rpath, false); err != nil {
		return err
	}
	n, chain, err := e.tree.lookup(rpath)
	if err != nil {
		return err
	}
	if err := e.checkRev("alter-directory", rpath, n, chain, rev); err != nil {
		return err
	}
	if n.kind != delta.KindDir {
		return apperrors.OutOfDate("alter-directory: '/%s' is a %s", rpath, n.kind)
	}
	changed, err := e.alterProps(ctx, path, n, p)
	if err != nil {
		return err
	}
	if changed {
		if err := e.tree.modified(rpath); err != nil {
			return err
		}
		e.record(rpath, ActionModify, delta.KindDir, nil)
	}
	return nil
}

// sameText reports whether the incoming checksum matches the node's base
// text, consulting FetchBase when the caller supplied it.
func (e *CommitEditor) sameText(ctx context.Context, path string, n *txnNode, checksum delta.Checksum) (bool, error) {
	if e.opts.Callbacks.FetchBase != nil && !n.added {
		rc, _, err := e.opts.Callbacks.FetchBase(ctx, path)
		if err != nil {
			return false, fmt.Errorf("fetching base text of %q: %w", path, err)
		}
		defer rc.Close()
		h, err := checksum.NewHash()
		if err != nil {
			return false, apperrors.Validation("%v", err)
		}
		if _, err := io.Copy(h, rc); err != nil {
			return false, apperrors.Transport(err, "reading base text of %q", path)
		}
		return checksum.Matches(h), nil
	}
	if n.text == "" {
		return false, nil
	}
	meta, err := e.repo.texts.Meta(n.text)
	if err != nil {
		return false, err
	}
	return meta.Checksum(checksum.Kind).Digest == checksum.Digest, nil
}

func (e *CommitEditor) AlterFile(ctx context.Context, path string, rev delta.Revnum, checksum *delta.Checksum, contents io.Reader, p delta.Props) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rpath := e.repoPath(path)
	if err := e.check(ctx, "alter-file", rpath, false); err != nil {
		return err
	}
	n, chain, err := e.tree.lookup(rpath)
	if err != nil {
		return err
	}
	if err := e.checkRev("alter-file", rpath, n, chain, rev); err != nil {
		return err
	}
	if n.kind != delta.KindFile {
		return apperrors.OutOfDate("alter-file: '/%s' is a %s", rpath, n.kind)
	}

	changed := false
	if checksum != nil {
		same, err := e.sameText(ctx, path, n, *checksum)
		if err != nil {
			return err
		}
		if same {
			if _, err := io.Copy(io.Discard, contents); err != nil {
				return apperrors.Transport(err, "alter-file: reading contents of '/%s'", rpath)
			}
		} else {
			hash, size, err := e.storeText("alter-file", rpath, *checksum, contents)
			if err != nil {
				return err
			}
			if hash != n.text {
				n.text, n.size = hash, size
				changed = true
			}
		}
	}
	propsChanged, err := e.alterProps(ctx, path, n, p)
	if err != nil {
		return err
	}
	if changed || propsChanged {
		if err := e.tree.modified(rpath); err != nil {
			return err
		}
		e.record(rpath, ActionModify, delta.KindFile, nil)
	}
	return nil
}

func (e *CommitEditor) AlterSymlink(ctx context.Context, path string, rev delta.Revnum, target *string, p delta.Props) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.repo.SymlinksEnabled() {
		return apperrors.NotImplemented("alter-symlink: symlinks are not supported by this repository")
	}
	rpath := e.repoPath(path)
	if err := e.check(ctx, "alter-symlink", rpath, false); err != nil {
		return err
	}
	n, chain, err := e.tree.lookup(rpath)
	if err != nil {
		return err
	}
	if err := e.checkRev("alter-symlink", rpath, n, chain, rev); err != nil {
		return err
	}
	if n.kind != delta.KindSymlink {
		return apperrors.OutOfDate("alter-symlink: '/%s' is a %s", rpath, n.kind)
	}

	changed := false
	if target != nil && *target != n.target {
		n.target = *target
		changed = true
	}
	propsChanged, err := e.alterProps(ctx, path, n, p)
	if err != nil {
		return err
	}
	if changed || propsChanged {
		if err := e.tree.modified(rpath); err != nil {
			return err
		}
		e.record(rpath, ActionModify, delta.KindSymlink, nil)
	}
	return nil
}

func (e *CommitEditor) Delete(ctx context.Context, path string, rev delta.Revnum) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rpath := e.repoPath(path)
	if rpath == e.opts.Base {
		return apperrors.Validation("delete: cannot delete the edit root")
	}
	if err := e.check(ctx, "delete", rpath, true); err != nil {
		return err
	}
	n, chain, err := e.tree.lookup(rpath)
	if err != nil {
		return err
	}
	if err := e.checkRev("delete", rpath, n, chain, rev); err != nil {
		return err
	}
	if _, err := e.tree.remove(rpath); err != nil {
		return err
	}
	e.record(rpath, ActionDelete, n.kind, nil)
	return nil
}

// copySource resolves the committed node a copy or move starts from.
func (e *CommitEditor) copySource(ctx context.Context, op, srcPath string, srcRev delta.Revnum) (*NodeRev, delta.Revnum, error) {
	if !srcRev.IsValid() {
		srcRev = e.baseRev
	}
	if srcRev > e.baseRev {
		return nil, srcRev, apperrors.NotFound(fmt.Sprintf("%s: no such revision %d", op, srcRev))
	}
	rsrc := e.repoPath(srcPath)
	if !e.repo.authz.Allowed(rsrc) {
		return nil, srcRev, apperrors.Unauthorized("%s: access to '/%s' denied", op, rsrc)
	}
	if e.opts.Callbacks.FetchKind != nil {
		kind, err := e.opts.Callbacks.FetchKind(ctx, srcPath, srcRev)
		if err != nil {
			return nil, srcRev, fmt.Errorf("%s: resolving kind of %q: %w", op, srcPath, err)
		}
		if kind == delta.KindNone {
			return nil, srcRev, apperrors.NotFound(fmt.Sprintf("%s: source '/%s@%d' does not exist", op, rsrc, srcRev))
		}
	}
	root, err := e.repo.Root(srcRev)
	if err != nil {
		return nil, srcRev, err
	}
	n, err := root.Node(rsrc)
	if err != nil {
		return nil, srcRev, err
	}
	return n, srcRev, nil
}

func (e *CommitEditor) Copy(ctx context.Context, srcPath string, srcRev delta.Revnum, dstPath string, replaces delta.Revnum) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rdst := e.repoPath(dstPath)
	if err := e.check(ctx, "copy", rdst, true); err != nil {
		return err
	}
	src, srcRev, err := e.copySource(ctx, "copy", srcPath, srcRev)
	if err != nil {
		return err
	}
	replaced, err := e.checkReplaces("copy", rdst, replaces)
	if err != nil {
		return err
	}
	from := &CopySource{Path: e.repoPath(srcPath), Rev: srcRev}
	n := fromNodeRev(src)
	n.added = true
	n.copyFrom = from
	if err := e.tree.put(rdst, n); err != nil {
		return err
	}
	e.record(rdst, addAction(replaced), src.Kind, from)
	return nil
}

func (e *CommitEditor) Move(ctx context.Context, srcPath string, srcRev delta.Revnum, dstPath string, replaces delta.Revnum) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rsrc, rdst := e.repoPath(srcPath), e.repoPath(dstPath)
	if err := e.check(ctx, "move", rsrc, true); err != nil {
		return err
	}
	if err := e.check(ctx, "move", rdst, true); err != nil {
		return err
	}
	n, chain, err := e.tree.lookup(rsrc)
	if err != nil {
		return err
	}
	if err := e.checkRev("move", rsrc, n, chain, srcRev); err != nil {
		return err
	}
	replaced, err := e.checkReplaces("move", rdst, replaces)
	if err != nil {
		return err
	}
	if _, err := e.tree.remove(rsrc); err != nil {
		return err
	}
	var from *CopySource
	if !n.added {
		from = &CopySource{Path: rsrc, Rev: srcRev}
		n.copyFrom = from
		n.added = true
	}
	if err := e.tree.put(rdst, n); err != nil {
		return err
	}
	e.record(rsrc, ActionDelete, n.kind, nil)
	e.record(rdst, addAction(replaced), n.kind, from)
	return nil
}

func (e *CommitEditor) sortedChanges() []ChangedPath {
	out := make([]ChangedPath, 0, len(e.changes))
	for _, c := range e.changes {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return delta.PathLess(out[i].Path, out[j].Path) })
	return out
}

// Complete commits the transaction. An edit that changed nothing produces
// no revision and does not invoke the commit callback.
func (e *CommitEditor) Complete(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return apperrors.Sequence("complete: transaction %s is closed", e.id)
	}

	info, committed, err := e.commit()
	if err != nil {
		return err
	}
	e.closed = true
	if !committed {
		e.logger.Info("commit changed nothing; no revision created")
		return nil
	}

	if !e.opts.KeepLocks {
		e.releaseLocks(ctx)
	}

	if e.opts.Callback != nil {
		if err := e.opts.Callback(ctx, info); err != nil {
			e.logger.Warn("commit callback failed", zap.Int64("rev", int64(info.Revision)), zap.Error(err))
			return apperrors.CommitCallback(err, info)
		}
	}
	return nil
}

func (e *CommitEditor) commit() (delta.CommitInfo, bool, error) {
	if !e.tree.root.dirty {
		return delta.CommitInfo{}, false, nil
	}

	e.repo.commitMu.Lock()
	defer e.repo.commitMu.Unlock()

	youngest, err := e.repo.Youngest()
	if err != nil {
		return delta.CommitInfo{}, false, err
	}
	if youngest != e.baseRev {
		return delta.CommitInfo{}, false, apperrors.OutOfDate("transaction %s is out of date: based on r%d, youngest is r%d", e.id, e.baseRev, youngest)
	}

	newRev := youngest + 1
	author := e.opts.Author
	if a, ok := e.opts.Revprops[props.RevAuthor]; ok {
		author = string(a)
	}
	revprops := e.opts.Revprops.Clone()
	if revprops == nil {
		revprops = delta.Props{}
	}
	delete(revprops, props.RevDate)
	if author != "" {
		revprops[props.RevAuthor] = []byte(author)
	}

	record := &Revision{
		Number:  newRev,
		Author:  author,
		Date:    nowUTC(),
		Props:   revprops,
		Changes: e.sortedChanges(),
	}

	err = e.repo.db.Update(func(txn *badger.Txn) error {
		w := &writer{repo: e.repo, txn: txn, rev: newRev}
		rootID, err := w.write("", e.tree.root)
		if err != nil {
			return err
		}
		record.Root = rootID
		if err := e.repo.revs.PutTxn(txn, revKey(newRev), record); err != nil {
			return err
		}
		return e.repo.meta.PutTxn(txn, metaYoungest, newRev)
	})
	if err != nil {
		return delta.CommitInfo{}, false, fmt.Errorf("writing revision %d: %w", newRev, err)
	}

	e.logger.Info("committed revision",
		zap.Int64("rev", int64(newRev)),
		zap.String("author", author),
		zap.Int("changes", len(record.Changes)))
	return delta.CommitInfo{Revision: newRev, Author: author, Date: record.Date}, true, nil
}

func (e *CommitEditor) releaseLocks(ctx context.Context) {
	for path, token := range e.opts.LockTokens {
		if err := e.repo.locks.Delete(ctx, path, token, false); err != nil {
			e.logger.Debug("lock not released", zap.String("path", path), zap.Error(err))
		}
	}
}

// Abort discards the transaction.
func (e *CommitEditor) Abort(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		e.logger.Debug("transaction aborted")
	}
	e.closed = true
	e.tree = nil
	return nil
}

var _ delta.Editor = (*CommitEditor)(nil)
