// Package ra is repository access: a Client that owns open repositories and
// the Sessions through which commits, updates and queries run.
package ra

import (
	"context"
	"errors"
	"os"
	"sync"

	"svnlite/internal/authz"
	"svnlite/internal/config"
	apperrors "svnlite/internal/errors"
	"svnlite/internal/locks"
	"svnlite/internal/logging"
	"svnlite/internal/repos"

	"go.uber.org/zap"
)

type clientState int

const (
	clientNew clientState = iota
	clientReady
	clientClosed
)

// Client opens repositories and hands out sessions on them. It must be
// initialized with Init before use and released with Close.
type Client struct {
	cfg    *config.Config
	logger *zap.Logger

	mu        sync.Mutex
	state     clientState
	repos     map[string]*repos.Repository
	policy    *authz.Policy
	stopWatch context.CancelFunc
	sessions  map[*Session]struct{}
}

// NewClient returns an uninitialized client. A nil cfg uses config.Default.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Client{
		cfg:      cfg,
		logger:   logging.OrNop(logger),
		repos:    make(map[string]*repos.Repository),
		sessions: make(map[*Session]struct{}),
	}
}

// Init loads the read policy and starts watching its file, if any.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case clientReady:
		return apperrors.Sequence("client is already initialized")
	case clientClosed:
		return apperrors.Sequence("client is closed")
	}

	rules, err := authz.Compile(c.cfg.Authz.Deny)
	if err != nil {
		return apperrors.Validation("authz: %v", err)
	}
	if file := c.cfg.Authz.File; file != "" {
		if rules, err = authz.Load(file); err != nil {
			return apperrors.Validation("authz: %v", err)
		}
	}
	c.policy = authz.NewPolicy(rules)

	if file := c.cfg.Authz.File; file != "" {
		watchCtx, cancel := context.WithCancel(context.Background())
		err := c.policy.Watch(watchCtx, file, c.logger, func(r *authz.Rules) {
			c.logger.Info("authz rules reloaded", zap.Strings("deny", r.Patterns()))
		})
		if err != nil {
			cancel()
			return err
		}
		c.stopWatch = cancel
	}

	c.state = clientReady
	c.logger.Debug("client initialized", zap.Int("authz_rules", len(rules.Patterns())))
	return nil
}

func (c *Client) ready(op string) error {
	switch c.state {
	case clientNew:
		return apperrors.Sequence("%s: client is not initialized", op)
	case clientClosed:
		return apperrors.Sequence("%s: client is closed", op)
	}
	return nil
}

// Policy is the read policy shared by every repository the client opens.
func (c *Client) Policy() *authz.Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

func (c *Client) repoOptions(root string) (repos.Options, error) {
	opts := repos.Options{
		CacheSize:       c.cfg.Repository.CacheSize,
		CompressMinSize: c.cfg.Repository.CompressMinSize,
		DisableSymlinks: !c.cfg.Repository.SymlinksEnabled(),
		Authz:           c.policy,
		Logger:          c.logger.With(zap.String("repository", root)),
	}
	if c.cfg.Locks.Backend == "redis" {
		store, err := locks.NewRedisStore(locks.RedisConfig{
			Addr:      c.cfg.Locks.RedisAddr,
			Database:  c.cfg.Locks.RedisDB,
			Namespace: "svnlite:" + root,
		})
		if err != nil {
			return repos.Options{}, apperrors.Transport(err, "opening lock table")
		}
		opts.Locks = store
	}
	return opts, nil
}

// Create makes a new, empty repository at url.
func (c *Client) Create(ctx context.Context, rawURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready("create"); err != nil {
		return err
	}
	loc, err := parseURL(rawURL)
	if err != nil {
		return err
	}
	root := loc.rootURL()
	if loc.path != "" {
		return apperrors.Validation("create: %q is not a repository root", rawURL)
	}
	if _, ok := c.repos[root]; ok {
		return apperrors.Validation("create: repository %s already exists", root)
	}

	dir := ""
	if loc.scheme == schemeFile {
		dir = loc.name
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.Transport(err, "create %s", dir)
		}
	}
	opts, err := c.repoOptions(root)
	if err != nil {
		return err
	}
	repo, err := repos.Create(dir, opts)
	if err != nil {
		if opts.Locks != nil {
			opts.Locks.Close()
		}
		return err
	}
	c.repos[root] = repo
	c.logger.Info("repository created", zap.String("url", root), zap.String("uuid", repo.UUID()))
	return nil
}

// open returns the shared repository holding loc and the path of loc
// inside it.
func (c *Client) open(loc location) (*repos.Repository, string, string, error) {
	if loc.scheme == schemeMem {
		root := loc.rootURL()
		repo, ok := c.repos[root]
		if !ok {
			return nil, "", "", apperrors.NotFound("no repository at " + root)
		}
		return repo, root, loc.path, nil
	}

	dir, below, ok := findRoot(loc.name)
	if !ok {
		return nil, "", "", apperrors.NotFound("no repository at file://" + loc.name)
	}
	root := location{scheme: schemeFile, name: dir}.rootURL()
	if repo, ok := c.repos[root]; ok {
		return repo, root, below, nil
	}
	opts, err := c.repoOptions(root)
	if err != nil {
		return nil, "", "", err
	}
	repo, err := repos.OpenDir(dir, opts)
	if err != nil {
		if opts.Locks != nil {
			opts.Locks.Close()
		}
		return nil, "", "", err
	}
	c.repos[root] = repo
	return repo, root, below, nil
}

// Open starts a session rooted at url. Sessions on the same repository
// share it.
func (c *Client) Open(ctx context.Context, rawURL string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready("open"); err != nil {
		return nil, err
	}
	loc, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	repo, root, path, err := c.open(loc)
	if err != nil {
		return nil, err
	}

	rootNode, err := repo.Root(-1)
	if err != nil {
		return nil, err
	}
	if _, err := rootNode.Node(path); err != nil {
		return nil, err
	}

	s := newSession(c, repo, root, path)
	c.sessions[s] = struct{}{}
	s.logger.Debug("session opened")
	return s, nil
}

func (c *Client) forget(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, s)
}

// Close closes every session and repository. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == clientClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = clientClosed
	sessions := make([]*Session, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		errs = append(errs, s.Close())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopWatch != nil {
		c.stopWatch()
	}
	for root, repo := range c.repos {
		if err := repo.Close(); err != nil {
			errs = append(errs, err)
			c.logger.Warn("closing repository", zap.String("url", root), zap.Error(err))
		}
	}
	c.repos = nil
	return errors.Join(errs...)
}
