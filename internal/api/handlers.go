// Package api serves one repository over HTTP. Every request runs on its
// own session.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"svnlite/internal/delta"
	"svnlite/internal/diff"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/logging"
	"svnlite/internal/ra"
	"svnlite/internal/repos"
	"svnlite/internal/validation"
	"svnlite/shared/types"
	"svnlite/shared/utils"

	"go.uber.org/zap"
)

type Handler struct {
	client *ra.Client
	url    string
	logger *logging.Logger
}

func NewHandler(client *ra.Client, url string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = &logging.Logger{Logger: zap.NewNop()}
	}
	return &Handler{client: client, url: url, logger: logger}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/info", h.Info)
	mux.HandleFunc("GET /api/log", h.Log)
	mux.HandleFunc("GET /api/ls", h.List)
	mux.HandleFunc("GET /api/cat", h.Cat)
	mux.HandleFunc("POST /api/commits", h.Commit)
	mux.HandleFunc("GET /api/locks", h.Locks)
	mux.HandleFunc("POST /api/locks", h.Lock)
	mux.HandleFunc("DELETE /api/locks", h.Unlock)
	mux.HandleFunc("GET /api/diff", h.Diff)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.StatusCode(err)
	body := types.Error{Type: string(apperrors.TypeOf(err)), Message: err.Error()}
	var appErr *apperrors.Error
	if apperrors.As(err, &appErr) {
		body.Details = appErr.Details
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithRequestID(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

// session opens a session rooted at the repository.
func (h *Handler) session(ctx context.Context) (*ra.Session, error) {
	return h.client.Open(ctx, h.url)
}

func queryRev(r *http.Request, name string) (delta.Revnum, error) {
	return utils.ParseRevision(r.URL.Query().Get(name))
}

func queryPath(r *http.Request) (string, error) {
	path := r.URL.Query().Get("path")
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if err := delta.ValidateRelpath(path); err != nil {
		return "", apperrors.Validation("%v", err)
	}
	return path, nil
}

func queryBool(r *http.Request, name string) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return ok
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.Health{Status: "healthy"})
}

func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := queryPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.session(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer s.Close()

	info := types.Info{Path: path, Capabilities: make(map[string]bool)}
	if info.RootURL, err = s.RootURL(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}
	info.URL = info.RootURL
	if path != "" {
		info.URL += "/" + path
	}
	if info.UUID, err = s.UUID(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}
	if info.Youngest, err = s.LatestRevision(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}
	if info.LastChanged, err = s.Stat(ctx, path, delta.InvalidRevnum); err != nil {
		h.writeError(w, r, err)
		return
	}
	if info.LastChanged == nil {
		h.writeError(w, r, apperrors.NotFound("path '/"+path+"' not found"))
		return
	}
	info.Kind = info.LastChanged.Kind
	for _, c := range []string{ra.CapDepth, ra.CapMergeinfo, ra.CapLogRevprops, ra.CapCommitRevprops, ra.CapAtomicRevprops, ra.CapSymlinks} {
		if info.Capabilities[c], err = s.HasCapability(ctx, c); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) Log(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := queryPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	opts := repos.LogOptions{Paths: []string{path}, ChangedPaths: queryBool(r, "changed"), End: 0}
	if opts.Start, err = queryRev(r, "start"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if end := r.URL.Query().Get("end"); end != "" {
		if opts.End, err = utils.ParseRevision(end); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if opts.Limit, err = strconv.Atoi(limit); err != nil || opts.Limit < 0 {
			h.writeError(w, r, apperrors.Validation("invalid limit %q", limit))
			return
		}
	}

	s, err := h.session(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer s.Close()

	out := types.Log{Entries: []repos.LogEntry{}}
	err = s.Log(ctx, opts, func(e repos.LogEntry) error {
		out.Entries = append(out.Entries, e)
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := queryPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rev, err := queryRev(r, "rev")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.session(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer s.Close()

	if !rev.IsValid() {
		if rev, err = s.LatestRevision(ctx); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	entries, _, err := s.List(ctx, path, rev)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.Listing{Path: path, Rev: rev, Entries: entries})
}

func (h *Handler) Cat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := queryPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rev, err := queryRev(r, "rev")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.session(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer s.Close()

	var buf bytes.Buffer
	_, got, err := s.GetFile(ctx, path, rev, &buf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Revision", strconv.FormatInt(int64(got), 10))
	w.Write(buf.Bytes())
}

// Commit applies the edit script in the body as one revision.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sc, err := validation.ValidateCommitRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	s, err := h.session(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer s.Close()

	result := types.CommitResult{Revision: delta.InvalidRevnum}
	editor, err := s.CommitEditor(ctx, ra.CommitParams{
		Revprops:   sc.RevisionProps(),
		LockTokens: sc.LockTokens,
		Callback: func(_ context.Context, info delta.CommitInfo) error {
			result = types.CommitResult{Revision: info.Revision, Author: info.Author, Date: info.Date}
			return nil
		},
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer editor.Close()

	if err := sc.Replay(ctx, editor); err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if !result.Revision.IsValid() {
		status = http.StatusOK
	}
	h.logger.WithRequestID(ctx).Info("edit script applied",
		zap.Int("ops", len(sc.Ops)),
		zap.Int64("rev", int64(result.Revision)))
	writeJSON(w, status, result)
}

func (h *Handler) Locks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := queryPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	depth := delta.DepthInfinity
	if d := r.URL.Query().Get("depth"); d != "" {
		if depth, err = delta.ParseDepth(d); err != nil {
			h.writeError(w, r, apperrors.Validation("%v", err))
			return
		}
	}
	s, err := h.session(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer s.Close()

	found, err := s.GetLocks(ctx, path, depth)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.Locks{Locks: found})
}

func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, opts, err := validation.ValidateLockRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	s, err := h.session(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer s.Close()

	lock, err := s.Lock(ctx, req.Path, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lock)
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := queryPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token := r.URL.Query().Get("token")
	force := queryBool(r, "force")
	if token == "" && !force {
		h.writeError(w, r, apperrors.Validation("unlock needs a token or force"))
		return
	}
	s, err := h.session(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer s.Close()

	if err := s.Unlock(ctx, path, token, force); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Diff compares a directory between the revisions of the "r" range.
func (h *Handler) Diff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path, err := queryPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	from, to, err := utils.ParseRange(r.URL.Query().Get("r"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	s, err := h.client.Open(ctx, h.url+pathSuffix(path))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer s.Close()

	if !from.IsValid() || !to.IsValid() {
		youngest, err := s.LatestRevision(ctx)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if !from.IsValid() {
			from = youngest
		}
		if !to.IsValid() {
			to = youngest
		}
	}

	result, err := Compare(ctx, s, from, to, diff.Options{Summarize: queryBool(r, "summarize")})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func pathSuffix(path string) string {
	if path == "" {
		return ""
	}
	return "/" + path
}

// Compare diffs the session's directory between two revisions. Rendered
// output goes to opts.Out when set and into the result otherwise.
func Compare(ctx context.Context, s *ra.Session, from, to delta.Revnum, opts diff.Options) (*types.Diff, error) {
	fetch, err := s.Fetchers(ctx, from)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if opts.Out == nil {
		opts.Out = &out
	}
	opts.OldRev, opts.NewRev = from, to
	opts.FetchBase, opts.FetchProps = fetch.Base, fetch.Props
	editor := diff.NewEditor(opts)
	rep, err := s.DoDiff(ctx, to, "", delta.DepthInfinity, "", editor)
	if err != nil {
		return nil, err
	}
	defer rep.Close()
	if err := rep.SetPath(ctx, "", from, delta.DepthInfinity, false, ""); err != nil {
		return nil, err
	}
	if _, err := rep.FinishReport(ctx); err != nil {
		return nil, err
	}
	return &types.Diff{From: from, To: to, Changes: editor.Changes(), Unified: out.String()}, nil
}
