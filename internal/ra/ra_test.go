package ra

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"svnlite/internal/authz"
	"svnlite/internal/config"
	"svnlite/internal/delta"
	"svnlite/internal/diff"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/repos"
	"svnlite/internal/tree"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testURL = "mem://test"

func newClient(t *testing.T, cfg *config.Config) *Client {
	t.Helper()
	c := NewClient(cfg, nil)
	require.NoError(t, c.Init(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func open(t *testing.T, c *Client, url string) *Session {
	t.Helper()
	s, err := c.Open(context.Background(), url)
	require.NoError(t, err)
	return s
}

func addFile(ctx context.Context, e delta.Editor, path, text string) error {
	sum := delta.ChecksumBytes(delta.ChecksumSHA1, []byte(text))
	return e.AddFile(ctx, path, sum, strings.NewReader(text), nil, delta.InvalidRevnum)
}

// commit runs edit through a commit editor on s and returns the callback's
// result, or nil when nothing was committed.
func commit(t *testing.T, s *Session, edit func(ctx context.Context, e delta.Editor) error) *delta.CommitInfo {
	t.Helper()
	ctx := context.Background()
	var info *delta.CommitInfo
	e, err := s.CommitEditor(ctx, CommitParams{
		Revprops: delta.Props{"svn:author": []byte("alice"), "svn:log": []byte("test")},
		Callback: func(_ context.Context, ci delta.CommitInfo) error {
			require.Nil(t, info, "callback runs once")
			info = &ci
			return nil
		},
	})
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, edit(ctx, e))
	require.NoError(t, e.Complete(ctx))
	return info
}

// seed creates
//
//	r1: trunk/{README, lib/a.c}, branches/b1/README
//	r2: trunk/README changed, trunk/lib/b.c added
func seed(t *testing.T, s *Session) {
	commit(t, s, func(ctx context.Context, e delta.Editor) error {
		steps := []func() error{
			func() error { return e.AddDirectory(ctx, "trunk", []string{"README", "lib"}, nil, delta.InvalidRevnum) },
			func() error { return addFile(ctx, e, "trunk/README", "hello\n") },
			func() error { return e.AddDirectory(ctx, "trunk/lib", []string{"a.c"}, nil, delta.InvalidRevnum) },
			func() error { return addFile(ctx, e, "trunk/lib/a.c", "int a;\n") },
			func() error { return e.AddDirectory(ctx, "branches", []string{"b1"}, nil, delta.InvalidRevnum) },
			func() error { return e.AddDirectory(ctx, "branches/b1", []string{"README"}, nil, delta.InvalidRevnum) },
			func() error { return addFile(ctx, e, "branches/b1/README", "branch\n") },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	})
	commit(t, s, func(ctx context.Context, e delta.Editor) error {
		sum := delta.ChecksumBytes(delta.ChecksumSHA1, []byte("hello again\n"))
		if err := e.AlterFile(ctx, "trunk/README", 1, &sum, strings.NewReader("hello again\n"), nil); err != nil {
			return err
		}
		if err := e.AlterDirectory(ctx, "trunk/lib", 1, []string{"a.c", "b.c"}, nil); err != nil {
			return err
		}
		return addFile(ctx, e, "trunk/lib/b.c", "int b;\n")
	})
}

func seeded(t *testing.T) (*Client, *Session) {
	t.Helper()
	c := newClient(t, nil)
	require.NoError(t, c.Create(context.Background(), testURL))
	s := open(t, c, testURL)
	seed(t, s)
	return c, s
}

func load(t *testing.T, c *Client, rev delta.Revnum, path string) *tree.Tree {
	t.Helper()
	root, err := c.repos[testURL].Root(rev)
	require.NoError(t, err)
	tr, err := tree.Load(root, path)
	require.NoError(t, err)
	return tr
}

func TestClientLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewClient(nil, nil)

	_, err := c.Open(ctx, testURL)
	assert.ErrorIs(t, err, apperrors.ErrSequence, "open before init")
	assert.ErrorIs(t, c.Create(ctx, testURL), apperrors.ErrSequence)

	require.NoError(t, c.Init(ctx))
	assert.ErrorIs(t, c.Init(ctx), apperrors.ErrSequence)

	_, err = c.Open(ctx, testURL)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, c.Create(ctx, testURL))
	assert.ErrorIs(t, c.Create(ctx, testURL), apperrors.ErrValidation)
	_, err = c.Open(ctx, "svn://example.com/repo")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = c.Open(ctx, testURL+"/trunk")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	s := open(t, c, testURL)
	other := open(t, c, testURL)
	uuid1, err := s.UUID(ctx)
	require.NoError(t, err)
	uuid2, err := other.UUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uuid1, uuid2, "sessions share the repository")

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = c.Open(ctx, testURL)
	assert.ErrorIs(t, err, apperrors.ErrSequence)
	_, err = s.LatestRevision(ctx)
	assert.ErrorIs(t, err, apperrors.ErrSequence, "closing the client closes its sessions")
}

func TestFileRepository(t *testing.T) {
	ctx := context.Background()
	url := "file://" + filepath.ToSlash(filepath.Join(t.TempDir(), "repo"))

	c := NewClient(nil, nil)
	require.NoError(t, c.Init(ctx))
	require.NoError(t, c.Create(ctx, url))
	seed(t, open(t, c, url))
	require.NoError(t, c.Close())

	c = newClient(t, nil)
	s := open(t, c, url+"/trunk/lib")

	root, err := s.RootURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, url, root)
	sessionURL, err := s.SessionURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, url+"/trunk/lib", sessionURL)

	youngest, err := s.LatestRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, delta.Revnum(2), youngest)

	var buf bytes.Buffer
	_, _, err = s.GetFile(ctx, "b.c", delta.InvalidRevnum, &buf)
	require.NoError(t, err)
	assert.Equal(t, "int b;\n", buf.String())
}

func TestCommit(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, nil)
	require.NoError(t, c.Create(ctx, testURL))
	s := open(t, c, testURL)

	before, err := s.LatestRevision(ctx)
	require.NoError(t, err)
	info := commit(t, s, func(ctx context.Context, e delta.Editor) error {
		return addFile(ctx, e, "readme.txt", "hello")
	})
	require.NotNil(t, info)
	assert.Greater(t, info.Revision, before)
	assert.Equal(t, "alice", info.Author)

	t.Run("NoOp", func(t *testing.T) {
		info := commit(t, s, func(ctx context.Context, e delta.Editor) error { return nil })
		assert.Nil(t, info, "a commit that changes nothing runs no callback")
	})

	t.Run("OutOfDate", func(t *testing.T) {
		e, err := s.CommitEditor(ctx, CommitParams{})
		require.NoError(t, err)
		defer e.Close()
		sum := delta.ChecksumBytes(delta.ChecksumSHA1, []byte("x"))
		err = e.AlterFile(ctx, "readme.txt", 0, &sum, strings.NewReader("x"), nil)
		assert.ErrorIs(t, err, apperrors.ErrOutOfDate)
		require.NoError(t, e.Abort(ctx))
	})

	t.Run("DeleteThenAdd", func(t *testing.T) {
		e, err := s.CommitEditor(ctx, CommitParams{})
		require.NoError(t, err)
		defer e.Close()
		require.NoError(t, e.Delete(ctx, "readme.txt", info.Revision))
		assert.ErrorIs(t, addFile(ctx, e, "readme.txt", "again"), apperrors.ErrSequence)
		require.NoError(t, e.Abort(ctx))
		assert.ErrorIs(t, e.Complete(ctx), apperrors.ErrSequence)
	})

	t.Run("Subtree", func(t *testing.T) {
		commit(t, s, func(ctx context.Context, e delta.Editor) error {
			return e.AddDirectory(ctx, "sub", []string{}, nil, delta.InvalidRevnum)
		})
		sub := open(t, c, testURL+"/sub")
		info := commit(t, sub, func(ctx context.Context, e delta.Editor) error {
			return addFile(ctx, e, "inner.txt", "inside")
		})
		require.NotNil(t, info)
		kind, err := s.CheckPath(ctx, "sub/inner.txt", delta.InvalidRevnum)
		require.NoError(t, err)
		assert.Equal(t, delta.KindFile, kind)
	})
}

func TestSessionBusy(t *testing.T) {
	ctx := context.Background()
	_, s := seeded(t)

	e, err := s.CommitEditor(ctx, CommitParams{})
	require.NoError(t, err)

	_, err = s.LatestRevision(ctx)
	assert.ErrorIs(t, err, apperrors.ErrSequence)
	_, err = s.CommitEditor(ctx, CommitParams{})
	assert.ErrorIs(t, err, apperrors.ErrSequence)
	_, err = s.DoUpdate(ctx, delta.InvalidRevnum, "", delta.DepthInfinity, tree.NewEditor(tree.New(), tree.EditorOptions{}))
	assert.ErrorIs(t, err, apperrors.ErrSequence)

	require.NoError(t, e.Abort(ctx))
	_, err = s.LatestRevision(ctx)
	assert.NoError(t, err, "the terminal call releases the session")

	t.Run("CallbackReentry", func(t *testing.T) {
		var inner error
		e, err := s.CommitEditor(ctx, CommitParams{
			Callback: func(ctx context.Context, info delta.CommitInfo) error {
				_, inner = s.LatestRevision(ctx)
				return inner
			},
		})
		require.NoError(t, err)
		require.NoError(t, addFile(ctx, e, "new.txt", "new"))

		err = e.Complete(ctx)
		assert.ErrorIs(t, err, apperrors.ErrCommitCallback)
		assert.ErrorIs(t, inner, apperrors.ErrSequence)
		assert.True(t, e.Done(), "the commit landed")

		youngest, err := s.LatestRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, delta.Revnum(3), youngest)
	})

	t.Run("Report", func(t *testing.T) {
		rep, err := s.DoUpdate(ctx, delta.InvalidRevnum, "", delta.DepthInfinity, tree.NewEditor(tree.New(), tree.EditorOptions{}))
		require.NoError(t, err)
		_, err = s.UUID(ctx)
		assert.ErrorIs(t, err, apperrors.ErrSequence)

		require.NoError(t, rep.AbortReport(ctx))
		_, err = s.UUID(ctx)
		assert.NoError(t, err)
	})
}

func TestSessionClose(t *testing.T) {
	ctx := context.Background()
	c, s := seeded(t)

	e, err := s.CommitEditor(ctx, CommitParams{})
	require.NoError(t, err)
	require.NoError(t, addFile(ctx, e, "lost.txt", "never committed"))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, e.Done(), "closing the session aborts its drive")
	assert.ErrorIs(t, e.Complete(ctx), apperrors.ErrSequence)

	_, err = s.LatestRevision(ctx)
	assert.ErrorIs(t, err, apperrors.ErrSequence)

	other := open(t, c, testURL)
	youngest, err := other.LatestRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, delta.Revnum(2), youngest)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	_, s := seeded(t)

	e, err := s.CommitEditor(ctx, CommitParams{})
	require.NoError(t, err)
	require.NoError(t, addFile(ctx, e, "one.txt", "1"))

	s.Cancel()
	assert.ErrorIs(t, addFile(ctx, e, "two.txt", "2"), context.Canceled)
	require.NoError(t, e.Abort(ctx))

	e, err = s.CommitEditor(ctx, CommitParams{})
	require.NoError(t, err)
	assert.NoError(t, addFile(ctx, e, "two.txt", "2"), "a new drive starts uncancelled")
	require.NoError(t, e.Abort(ctx))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	c, _ := seeded(t)
	s := open(t, c, testURL+"/trunk")

	core, logs := observer.New(zapcore.DebugLevel)
	tr := tree.New()
	editor := delta.NewCheckedEditor(tree.NewEditor(tr, tree.EditorOptions{Revision: 2}), delta.CheckedOptions{Logger: zap.New(core)})

	rep, err := s.DoUpdate(ctx, delta.InvalidRevnum, "", delta.DepthInfinity, editor)
	require.NoError(t, err)
	require.NoError(t, rep.SetPath(ctx, "", 0, delta.DepthInfinity, true, ""))
	rev, err := rep.FinishReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, delta.Revnum(2), rev)

	assert.Equal(t, load(t, c, 2, "trunk").Dump(), tr.Dump())
	assert.NotEmpty(t, logs.FilterMessage("editor operation").All())

	_, err = rep.FinishReport(ctx)
	assert.ErrorIs(t, err, apperrors.ErrSequence)
	_, err = s.LatestRevision(ctx)
	assert.NoError(t, err, "finishing the report releases the session")

	t.Run("BadTarget", func(t *testing.T) {
		_, err := s.DoUpdate(ctx, delta.InvalidRevnum, "lib/a.c", delta.DepthInfinity, editor)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		_, err = s.LatestRevision(ctx)
		assert.NoError(t, err)
	})

	t.Run("Target", func(t *testing.T) {
		tr := tree.New()
		rep, err := s.DoUpdate(ctx, 1, "lib", delta.DepthInfinity, tree.NewEditor(tr, tree.EditorOptions{Revision: 1}))
		require.NoError(t, err)
		require.NoError(t, rep.SetPath(ctx, "", 0, delta.DepthInfinity, true, ""))
		_, err = rep.FinishReport(ctx)
		require.NoError(t, err)
		assert.NotNil(t, tr.Lookup("lib/a.c"))
		assert.Nil(t, tr.Lookup("lib/b.c"))
		assert.Nil(t, tr.Lookup("README"), "only the target is updated")
	})
}

func TestSwitch(t *testing.T) {
	ctx := context.Background()
	c, _ := seeded(t)
	s := open(t, c, testURL+"/trunk")

	tr := load(t, c, 2, "trunk")

	rep, err := s.DoSwitch(ctx, delta.InvalidRevnum, "", delta.DepthInfinity, testURL+"/branches/b1", tree.NewEditor(tr, tree.EditorOptions{}))
	require.NoError(t, err)
	require.NoError(t, rep.SetPath(ctx, "", 2, delta.DepthInfinity, false, ""))
	_, err = rep.FinishReport(ctx)
	require.NoError(t, err)

	assert.Equal(t, load(t, c, 2, "branches/b1").Dump(), tr.Dump())
	assert.Equal(t, "branch\n", string(tr.Lookup("README").Text))

	_, err = s.DoSwitch(ctx, delta.InvalidRevnum, "", delta.DepthInfinity, "mem://other/trunk", tree.NewEditor(tr, tree.EditorOptions{}))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = s.UUID(ctx)
	assert.NoError(t, err, "a drive that fails to start leaves the session free")
}

func TestDiff(t *testing.T) {
	ctx := context.Background()
	c, _ := seeded(t)
	s := open(t, c, testURL+"/trunk")

	fetch, err := s.Fetchers(ctx, 1)
	require.NoError(t, err)
	var out bytes.Buffer
	editor := diff.NewEditor(diff.Options{Out: &out, Summarize: true, FetchBase: fetch.Base, FetchProps: fetch.Props})

	rep, err := s.DoDiff(ctx, 2, "", delta.DepthInfinity, "", editor)
	require.NoError(t, err)
	require.NoError(t, rep.SetPath(ctx, "", 1, delta.DepthInfinity, false, ""))
	_, err = rep.FinishReport(ctx)
	require.NoError(t, err)

	assert.Equal(t, "M  README\nA  lib/b.c\n", out.String())

	t.Run("Unified", func(t *testing.T) {
		out.Reset()
		editor := diff.NewEditor(diff.Options{Out: &out, OldRev: 1, NewRev: 2, FetchBase: fetch.Base, FetchProps: fetch.Props})
		rep, err := s.DoDiff(ctx, 2, "", delta.DepthInfinity, "", editor)
		require.NoError(t, err)
		require.NoError(t, rep.SetPath(ctx, "", 1, delta.DepthInfinity, false, ""))
		_, err = rep.FinishReport(ctx)
		require.NoError(t, err)
		assert.Contains(t, out.String(), "-hello\n+hello again\n")
	})

	t.Run("Kind", func(t *testing.T) {
		kind, err := fetch.Kind(ctx, "lib/b.c", 1)
		require.NoError(t, err)
		assert.Equal(t, delta.KindNone, kind)
		kind, err = fetch.Kind(ctx, "lib/b.c", 2)
		require.NoError(t, err)
		assert.Equal(t, delta.KindFile, kind)
	})
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	c, s := seeded(t)

	t.Run("CheckPath", func(t *testing.T) {
		kind, err := s.CheckPath(ctx, "trunk/lib/b.c", 1)
		require.NoError(t, err)
		assert.Equal(t, delta.KindNone, kind)
		kind, err = s.CheckPath(ctx, "trunk/lib", delta.InvalidRevnum)
		require.NoError(t, err)
		assert.Equal(t, delta.KindDir, kind)
	})

	t.Run("Stat", func(t *testing.T) {
		d, err := s.Stat(ctx, "trunk/README", delta.InvalidRevnum)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, delta.Revnum(2), d.CreatedRev)
		assert.Equal(t, "alice", d.Author)
		assert.Equal(t, int64(len("hello again\n")), d.Size)

		d, err = s.Stat(ctx, "missing", delta.InvalidRevnum)
		require.NoError(t, err)
		assert.Nil(t, d)
	})

	t.Run("List", func(t *testing.T) {
		trunk := open(t, c, testURL+"/trunk")
		entries, _, err := trunk.List(ctx, "lib", delta.InvalidRevnum)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "a.c", entries[0].Name)
		assert.Equal(t, "lib/b.c", entries[1].Path)

		_, _, err = trunk.List(ctx, "README", delta.InvalidRevnum)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("GetFile", func(t *testing.T) {
		var buf bytes.Buffer
		_, rev, err := s.GetFile(ctx, "trunk/README", 1, &buf)
		require.NoError(t, err)
		assert.Equal(t, delta.Revnum(1), rev)
		assert.Equal(t, "hello\n", buf.String())

		_, _, err = s.GetFile(ctx, "trunk", 1, &buf)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("Log", func(t *testing.T) {
		trunk := open(t, c, testURL+"/trunk/lib")
		var revs []delta.Revnum
		err := trunk.Log(ctx, repos.LogOptions{Start: delta.InvalidRevnum, End: 0}, func(e repos.LogEntry) error {
			revs = append(revs, e.Revision)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []delta.Revnum{2, 1}, revs)

		props, err := s.RevisionProps(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "test", string(props["svn:log"]))
	})

	t.Run("Capabilities", func(t *testing.T) {
		for _, capability := range []string{CapDepth, CapMergeinfo, CapLogRevprops, CapCommitRevprops, CapAtomicRevprops, CapSymlinks} {
			ok, err := s.HasCapability(ctx, capability)
			require.NoError(t, err)
			assert.True(t, ok, capability)
		}
		_, err := s.HasCapability(ctx, "telepathy")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("Reparent", func(t *testing.T) {
		s := open(t, c, testURL)
		require.NoError(t, s.Reparent(ctx, testURL+"/branches/b1"))
		url, err := s.SessionURL(ctx)
		require.NoError(t, err)
		assert.Equal(t, testURL+"/branches/b1", url)

		kind, err := s.CheckPath(ctx, "README", delta.InvalidRevnum)
		require.NoError(t, err)
		assert.Equal(t, delta.KindFile, kind)

		assert.ErrorIs(t, s.Reparent(ctx, "mem://elsewhere"), apperrors.ErrValidation)
		assert.ErrorIs(t, s.Reparent(ctx, testURL+"/tags"), apperrors.ErrNotFound)

		rel, err := s.ReposRelativePath(ctx, testURL+"/trunk/lib")
		require.NoError(t, err)
		assert.Equal(t, "trunk/lib", rel)
	})
}

func TestLocks(t *testing.T) {
	ctx := context.Background()
	_, s := seeded(t)

	lock, err := s.Lock(ctx, "trunk/README", repos.LockOptions{Owner: "alice", Comment: "editing"})
	require.NoError(t, err)
	_, err = s.Lock(ctx, "trunk/lib/a.c", repos.LockOptions{Owner: "bob"})
	require.NoError(t, err)

	all, err := s.GetLocks(ctx, "", delta.DepthInfinity)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	top, err := s.GetLocks(ctx, "trunk", delta.DepthImmediates)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "trunk/README", top[0].Path)

	none, err := s.GetLocks(ctx, "trunk/nonexistent", delta.DepthInfinity)
	require.NoError(t, err, "a missing path is not an error")
	assert.Empty(t, none)

	_, err = s.Lock(ctx, "trunk/README", repos.LockOptions{Owner: "bob"})
	assert.ErrorIs(t, err, apperrors.ErrLocked)

	t.Run("CommitNeedsToken", func(t *testing.T) {
		alter := func(ctx context.Context, e delta.Editor) error {
			sum := delta.ChecksumBytes(delta.ChecksumSHA1, []byte("locked\n"))
			return e.AlterFile(ctx, "trunk/README", 2, &sum, strings.NewReader("locked\n"), nil)
		}
		e, err := s.CommitEditor(ctx, CommitParams{})
		require.NoError(t, err)
		assert.ErrorIs(t, alter(ctx, e), apperrors.ErrLocked)
		require.NoError(t, e.Abort(ctx))

		e, err = s.CommitEditor(ctx, CommitParams{LockTokens: map[string]string{"trunk/README": lock.Token}})
		require.NoError(t, err)
		require.NoError(t, alter(ctx, e))
		require.NoError(t, e.Complete(ctx))

		left, err := s.GetLocks(ctx, "trunk/README", delta.DepthEmpty)
		require.NoError(t, err)
		assert.Empty(t, left, "committing releases the presented locks")
	})

	require.NoError(t, s.Unlock(ctx, "trunk/lib/a.c", "", true))
	assert.ErrorIs(t, s.Unlock(ctx, "trunk/lib/a.c", "", true), apperrors.ErrNotFound)
}

func TestRedisLocks(t *testing.T) {
	ctx := context.Background()
	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	cfg := config.Default()
	cfg.Locks.Backend = "redis"
	cfg.Locks.RedisAddr = mini.Addr()
	c := newClient(t, cfg)
	require.NoError(t, c.Create(ctx, testURL))
	s := open(t, c, testURL)
	seed(t, s)

	_, err = s.Lock(ctx, "trunk/README", repos.LockOptions{Owner: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, mini.Keys())

	found, err := s.GetLocks(ctx, "trunk", delta.DepthInfinity)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "alice", found[0].Owner)
}

func TestMergeinfo(t *testing.T) {
	ctx := context.Background()
	c, s := seeded(t)

	commit(t, s, func(ctx context.Context, e delta.Editor) error {
		return e.AlterDirectory(ctx, "trunk", 2, nil, delta.Props{"svn:mergeinfo": []byte("/branches/b1:1-2")})
	})

	trunk := open(t, c, testURL+"/trunk")
	info, err := trunk.GetMergeinfo(ctx, []string{"", "lib"}, delta.InvalidRevnum, repos.Inherited)
	require.NoError(t, err)
	require.Contains(t, info, "")
	assert.Equal(t, "/branches/b1:1-2", info[""].String())
	require.Contains(t, info, "lib")

	explicit, err := trunk.GetMergeinfo(ctx, []string{"lib"}, delta.InvalidRevnum, repos.Explicit)
	require.NoError(t, err)
	assert.Empty(t, explicit)
}

func TestAuthz(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Authz.Deny = []string{"/trunk/lib"}
	c := newClient(t, cfg)
	require.NoError(t, c.Create(ctx, testURL))
	s := open(t, c, testURL)

	c.Policy().Set(nil)
	seed(t, s)
	rules, err := authz.Compile(cfg.Authz.Deny)
	require.NoError(t, err)
	c.Policy().Set(rules)

	kind, err := s.CheckPath(ctx, "trunk/lib/a.c", delta.InvalidRevnum)
	require.NoError(t, err)
	assert.Equal(t, delta.KindNone, kind)

	entries, _, err := s.List(ctx, "trunk", delta.InvalidRevnum)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "README", entries[0].Name)

	_, _, err = s.GetFile(ctx, "trunk/lib/a.c", delta.InvalidRevnum, nil)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
