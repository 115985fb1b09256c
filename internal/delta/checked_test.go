package delta

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"svnlite/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingEditor records calls and optionally keeps content readers around
// past the end of the call.
type recordingEditor struct {
	calls       []string
	kept        io.Reader
	keepReader  bool
	readNothing bool
	completeErr error
	aborts      int
}

func (r *recordingEditor) record(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recordingEditor) AddDirectory(ctx context.Context, path string, children []string, props Props, replaces Revnum) error {
	r.record("add-dir %s %v", path, children)
	return nil
}

func (r *recordingEditor) AddFile(ctx context.Context, path string, checksum Checksum, contents io.Reader, props Props, replaces Revnum) error {
	if r.keepReader {
		r.kept = contents
	}
	if r.readNothing {
		r.record("add-file %s", path)
		return nil
	}
	data, err := io.ReadAll(contents)
	if err != nil {
		return err
	}
	r.record("add-file %s %s", path, data)
	return nil
}

func (r *recordingEditor) AddSymlink(ctx context.Context, path string, target string, props Props, replaces Revnum) error {
	r.record("add-symlink %s %s", path, target)
	return nil
}

func (r *recordingEditor) AddAbsent(ctx context.Context, path string, kind Kind, replaces Revnum) error {
	r.record("add-absent %s %s", path, kind)
	return nil
}

func (r *recordingEditor) AlterDirectory(ctx context.Context, path string, rev Revnum, children []string, props Props) error {
	r.record("alter-dir %s", path)
	return nil
}

func (r *recordingEditor) AlterFile(ctx context.Context, path string, rev Revnum, checksum *Checksum, contents io.Reader, props Props) error {
	r.record("alter-file %s", path)
	return nil
}

func (r *recordingEditor) AlterSymlink(ctx context.Context, path string, rev Revnum, target *string, props Props) error {
	r.record("alter-symlink %s", path)
	return nil
}

func (r *recordingEditor) Delete(ctx context.Context, path string, rev Revnum) error {
	r.record("delete %s", path)
	return nil
}

func (r *recordingEditor) Copy(ctx context.Context, src string, srcRev Revnum, dst string, replaces Revnum) error {
	r.record("copy %s %s", src, dst)
	return nil
}

func (r *recordingEditor) Move(ctx context.Context, src string, srcRev Revnum, dst string, replaces Revnum) error {
	r.record("move %s %s", src, dst)
	return nil
}

func (r *recordingEditor) Complete(ctx context.Context) error {
	r.record("complete")
	return r.completeErr
}

func (r *recordingEditor) Abort(ctx context.Context) error {
	r.aborts++
	r.record("abort")
	return nil
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func hello() (Checksum, *closeTracker) {
	return ChecksumBytes(ChecksumSHA1, []byte("hello")), &closeTracker{Reader: strings.NewReader("hello")}
}

func TestCheckedEditorTerminalState(t *testing.T) {
	ctx := context.Background()

	t.Run("AfterComplete", func(t *testing.T) {
		closes := 0
		e := NewCheckedEditor(&recordingEditor{}, CheckedOptions{OnClose: func() { closes++ }})
		require.NoError(t, e.Complete(ctx))

		assert.ErrorIs(t, e.AddDirectory(ctx, "a", []string{}, nil, InvalidRevnum), errors.ErrSequence)
		assert.ErrorIs(t, e.Delete(ctx, "a", 1), errors.ErrSequence)
		assert.ErrorIs(t, e.Complete(ctx), errors.ErrSequence)
		assert.ErrorIs(t, e.Abort(ctx), errors.ErrSequence)
		assert.NoError(t, e.Close())
		assert.True(t, e.Done())
		assert.Equal(t, 1, closes)
	})

	t.Run("AfterAbort", func(t *testing.T) {
		inner := &recordingEditor{}
		e := NewCheckedEditor(inner, CheckedOptions{})
		require.NoError(t, e.Abort(ctx))

		sum, contents := hello()
		assert.ErrorIs(t, e.AddFile(ctx, "f", sum, contents, nil, InvalidRevnum), errors.ErrSequence)
		assert.True(t, contents.closed)
		assert.ErrorIs(t, e.Complete(ctx), errors.ErrSequence)
		assert.NoError(t, e.Abort(ctx))
		assert.NoError(t, e.Close())
		assert.Equal(t, 1, inner.aborts)
	})

	t.Run("CloseAbortsLiveDrive", func(t *testing.T) {
		inner := &recordingEditor{}
		e := NewCheckedEditor(inner, CheckedOptions{})
		require.NoError(t, e.AddDirectory(ctx, "a", []string{}, nil, InvalidRevnum))
		require.NoError(t, e.Close())
		require.NoError(t, e.Close())
		assert.Equal(t, 1, inner.aborts)
	})

	t.Run("CommitCallbackFailureIsTerminal", func(t *testing.T) {
		inner := &recordingEditor{completeErr: errors.CommitCallback(fmt.Errorf("boom"), nil)}
		e := NewCheckedEditor(inner, CheckedOptions{})
		err := e.Complete(ctx)
		assert.ErrorIs(t, err, errors.ErrCommitCallback)
		assert.True(t, e.Done())
		assert.ErrorIs(t, e.Delete(ctx, "x", 1), errors.ErrSequence)
	})

	t.Run("FailedCompleteAllowsAbort", func(t *testing.T) {
		inner := &recordingEditor{completeErr: errors.OutOfDate("stale")}
		e := NewCheckedEditor(inner, CheckedOptions{})
		assert.ErrorIs(t, e.Complete(ctx), errors.ErrOutOfDate)
		assert.False(t, e.Done())
		assert.ErrorIs(t, e.AddSymlink(ctx, "l", "t", nil, InvalidRevnum), errors.ErrSequence)
		assert.NoError(t, e.Abort(ctx))
		assert.Equal(t, 1, inner.aborts)
	})
}

func TestCheckedEditorDeleteThenAdd(t *testing.T) {
	ctx := context.Background()
	e := NewCheckedEditor(&recordingEditor{}, CheckedOptions{})

	require.NoError(t, e.Delete(ctx, "a", 1))
	sum, contents := hello()
	err := e.AddFile(ctx, "a", sum, contents, Props{}, InvalidRevnum)
	assert.ErrorIs(t, err, errors.ErrSequence)

	assert.ErrorIs(t, e.AddDirectory(ctx, "a", []string{}, nil, 1), errors.ErrSequence)
	assert.ErrorIs(t, e.AddSymlink(ctx, "a/b", "x", nil, InvalidRevnum), errors.ErrSequence)
	assert.ErrorIs(t, e.AlterDirectory(ctx, "a", 1, nil, Props{}), errors.ErrSequence)
	assert.ErrorIs(t, e.Delete(ctx, "a", 1), errors.ErrSequence)
	assert.ErrorIs(t, e.Copy(ctx, "b", 1, "a", InvalidRevnum), errors.ErrSequence)
}

func TestCheckedEditorAlterAfterAdd(t *testing.T) {
	ctx := context.Background()
	inner := &recordingEditor{}
	e := NewCheckedEditor(inner, CheckedOptions{})

	require.NoError(t, e.AddDirectory(ctx, "d", []string{}, nil, InvalidRevnum))
	assert.ErrorIs(t, e.AlterDirectory(ctx, "d", InvalidRevnum, nil, Props{"k": []byte("v")}), errors.ErrSequence)
	require.NoError(t, e.AddSymlink(ctx, "l", "d", nil, InvalidRevnum))
	target := "elsewhere"
	assert.ErrorIs(t, e.AlterSymlink(ctx, "l", InvalidRevnum, &target, nil), errors.ErrSequence)

	require.NoError(t, e.Copy(ctx, "src", 1, "c", InvalidRevnum))
	require.NoError(t, e.AlterDirectory(ctx, "c", InvalidRevnum, nil, Props{"k": []byte("v")}))
	require.NoError(t, e.Complete(ctx))

	assert.Equal(t, []string{"add-dir d []", "add-symlink l d", "copy src c", "alter-dir c", "complete"}, inner.calls)
}

func TestCheckedEditorChildren(t *testing.T) {
	ctx := context.Background()

	t.Run("NilChildren", func(t *testing.T) {
		inner := &recordingEditor{}
		e := NewCheckedEditor(inner, CheckedOptions{})
		assert.ErrorIs(t, e.AddDirectory(ctx, "d", nil, nil, InvalidRevnum), errors.ErrValidation)
		assert.Empty(t, inner.calls)
	})

	t.Run("EmptyChildrenRejectsLaterAdds", func(t *testing.T) {
		e := NewCheckedEditor(&recordingEditor{}, CheckedOptions{})
		require.NoError(t, e.AddDirectory(ctx, "d", []string{}, nil, InvalidRevnum))
		assert.ErrorIs(t, e.AddDirectory(ctx, "d/x", []string{}, nil, InvalidRevnum), errors.ErrSequence)
		require.NoError(t, e.Complete(ctx))
	})

	t.Run("DeclaredChildrenMustArrive", func(t *testing.T) {
		e := NewCheckedEditor(&recordingEditor{}, CheckedOptions{})
		require.NoError(t, e.AddDirectory(ctx, "d", []string{"a", "b"}, nil, InvalidRevnum))
		sum, contents := hello()
		require.NoError(t, e.AddFile(ctx, "d/a", sum, contents, nil, InvalidRevnum))
		assert.ErrorIs(t, e.AddFile(ctx, "d/c", sum, strings.NewReader("hello"), nil, InvalidRevnum), errors.ErrSequence)

		err := e.Complete(ctx)
		assert.ErrorIs(t, err, errors.ErrSequence)
		assert.Contains(t, err.Error(), "d/b")

		require.NoError(t, e.AddAbsent(ctx, "d/b", KindDir, InvalidRevnum))
		assert.ErrorIs(t, e.AddFile(ctx, "d/b/x", sum, strings.NewReader("hello"), nil, InvalidRevnum), errors.ErrSequence)
		require.NoError(t, e.Complete(ctx))
	})

	t.Run("DuplicateChild", func(t *testing.T) {
		e := NewCheckedEditor(&recordingEditor{}, CheckedOptions{})
		assert.ErrorIs(t, e.AddDirectory(ctx, "d", []string{"a", "a"}, nil, InvalidRevnum), errors.ErrValidation)
		assert.ErrorIs(t, e.AlterDirectory(ctx, "", 1, []string{"../x"}, nil), errors.ErrValidation)
	})

	t.Run("AlterDeclaresChildren", func(t *testing.T) {
		e := NewCheckedEditor(&recordingEditor{}, CheckedOptions{})
		require.NoError(t, e.AlterDirectory(ctx, "", 3, []string{"keep", "new"}, nil))
		require.NoError(t, e.AddDirectory(ctx, "new", []string{}, nil, InvalidRevnum))
		assert.ErrorIs(t, e.AddDirectory(ctx, "other", []string{}, nil, InvalidRevnum), errors.ErrSequence)
		assert.ErrorIs(t, e.AlterDirectory(ctx, "", 3, nil, Props{}), errors.ErrSequence)
	})
}

func TestCheckedEditorArguments(t *testing.T) {
	ctx := context.Background()
	e := NewCheckedEditor(&recordingEditor{}, CheckedOptions{})
	sum, contents := hello()

	assert.ErrorIs(t, e.AddFile(ctx, "f", Checksum{}, contents, nil, InvalidRevnum), errors.ErrValidation)
	assert.True(t, contents.closed)
	assert.ErrorIs(t, e.AddFile(ctx, "f", sum, nil, nil, InvalidRevnum), errors.ErrValidation)
	assert.ErrorIs(t, e.AlterFile(ctx, "f", 1, &sum, nil, nil), errors.ErrValidation)
	assert.ErrorIs(t, e.AlterFile(ctx, "f", 1, nil, strings.NewReader("x"), nil), errors.ErrValidation)
	assert.ErrorIs(t, e.AlterSymlink(ctx, "l", 1, nil, nil), errors.ErrValidation)
	assert.ErrorIs(t, e.AddDirectory(ctx, "/abs", []string{}, nil, InvalidRevnum), errors.ErrValidation)
	assert.ErrorIs(t, e.AddDirectory(ctx, "", []string{}, nil, InvalidRevnum), errors.ErrValidation)
	assert.ErrorIs(t, e.Delete(ctx, "", 1), errors.ErrValidation)
	assert.ErrorIs(t, e.AddAbsent(ctx, "x", KindNone, InvalidRevnum), errors.ErrValidation)
	assert.ErrorIs(t, e.Move(ctx, "a", 1, "a/b", InvalidRevnum), errors.ErrValidation)

	require.NoError(t, e.AlterFile(ctx, "f", 1, nil, nil, Props{"k": []byte("v")}))
	assert.ErrorIs(t, e.AlterFile(ctx, "f", 1, nil, nil, Props{}), errors.ErrSequence)
}

func TestCheckedEditorMove(t *testing.T) {
	ctx := context.Background()
	inner := &recordingEditor{}
	e := NewCheckedEditor(inner, CheckedOptions{})

	require.NoError(t, e.Move(ctx, "a", 2, "b", InvalidRevnum))
	assert.ErrorIs(t, e.Move(ctx, "a", 2, "c", InvalidRevnum), errors.ErrSequence)
	assert.ErrorIs(t, e.AddDirectory(ctx, "a", []string{}, nil, InvalidRevnum), errors.ErrSequence)
	// Adds below a copied or moved directory are allowed.
	require.NoError(t, e.AddDirectory(ctx, "b/sub", []string{}, nil, InvalidRevnum))
	require.NoError(t, e.Complete(ctx))

	assert.Equal(t, []string{"move a b", "add-dir b/sub []", "complete"}, inner.calls)
}

func TestCheckedEditorContentScope(t *testing.T) {
	ctx := context.Background()

	t.Run("ReaderInvalidatedAfterCall", func(t *testing.T) {
		inner := &recordingEditor{keepReader: true}
		e := NewCheckedEditor(inner, CheckedOptions{})
		sum, contents := hello()
		require.NoError(t, e.AddFile(ctx, "f", sum, contents, nil, InvalidRevnum))
		assert.True(t, contents.closed)

		_, err := inner.kept.Read(make([]byte, 1))
		assert.ErrorIs(t, err, ErrStreamReleased)
	})

	t.Run("UnreadContentStillVerified", func(t *testing.T) {
		inner := &recordingEditor{readNothing: true}
		e := NewCheckedEditor(inner, CheckedOptions{})
		sum := ChecksumBytes(ChecksumSHA1, []byte("other"))
		err := e.AddFile(ctx, "f", sum, bytes.NewReader([]byte("hello")), nil, InvalidRevnum)
		assert.ErrorIs(t, err, errors.ErrValidation)
	})

	t.Run("MismatchNeverReachesInner", func(t *testing.T) {
		inner := &recordingEditor{}
		e := NewCheckedEditor(inner, CheckedOptions{})
		sum := ChecksumBytes(ChecksumSHA1, []byte("expected"))
		contents := &closeTracker{Reader: strings.NewReader("corrupted")}
		err := e.AddFile(ctx, "f", sum, contents, nil, InvalidRevnum)
		assert.ErrorIs(t, err, errors.ErrValidation)
		assert.True(t, contents.closed)
		assert.Empty(t, inner.calls)
	})

	t.Run("LargeContentSpooled", func(t *testing.T) {
		inner := &recordingEditor{readNothing: true}
		e := NewCheckedEditor(inner, CheckedOptions{})
		big := bytes.Repeat([]byte("0123456789abcdef"), spoolMemory/16+1)
		sum := ChecksumBytes(ChecksumSHA256, big)
		require.NoError(t, e.AddFile(ctx, "big", sum, bytes.NewReader(big), nil, InvalidRevnum))
		assert.Equal(t, []string{"add-file big"}, inner.calls)
	})

	t.Run("ChecksumMismatch", func(t *testing.T) {
		e := NewCheckedEditor(&recordingEditor{}, CheckedOptions{})
		sum := ChecksumBytes(ChecksumSHA256, []byte("nope"))
		err := e.AlterFile(ctx, "f", 1, &sum, strings.NewReader("hello"), nil)
		assert.ErrorIs(t, err, errors.ErrValidation)
	})
}

func TestCheckedEditorCancellation(t *testing.T) {
	cancelled := false
	e := NewCheckedEditor(&recordingEditor{}, CheckedOptions{Cancelled: func() bool { return cancelled }})

	require.NoError(t, e.AddDirectory(context.Background(), "a", []string{}, nil, InvalidRevnum))
	cancelled = true
	assert.ErrorIs(t, e.AddDirectory(context.Background(), "b", []string{}, nil, InvalidRevnum), context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cancelled = false
	assert.ErrorIs(t, e.Delete(ctx, "c", 1), context.Canceled)
}
