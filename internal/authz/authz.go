// Package authz decides which repository paths a session may read. Rules
// are doublestar globs; a denied node shows up in tree drives as absent.
package authz

import (
	"fmt"
	"os"
	pathpkg "path"
	"strings"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

type pattern struct {
	negated   bool
	matchLeaf bool
	glob      string
}

func newPattern(p string) (*pattern, error) {
	if p == "" || p == "!" {
		return nil, fmt.Errorf("empty pattern")
	}

	negated := false
	if p[0] == '!' {
		negated = true
		p = p[1:]
	}

	absolute := false
	if p[0] == '/' {
		absolute = true
		p = p[1:]
	}
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return nil, fmt.Errorf("pattern matches the repository root")
	}

	if _, err := doublestar.Match(p, "a"); err != nil {
		return nil, fmt.Errorf("unable to validate pattern: %w", err)
	}

	return &pattern{
		negated:   negated,
		matchLeaf: !absolute && !strings.Contains(p, "/"),
		glob:      p,
	}, nil
}

func (p *pattern) matches(path string) bool {
	if match, _ := doublestar.Match(p.glob, path); match {
		return true
	}
	if p.matchLeaf && path != "" {
		match, _ := doublestar.Match(p.glob, pathpkg.Base(path))
		return match
	}
	return false
}

// Rules is a compiled deny list. Later patterns win; a pattern starting
// with "!" re-allows what an earlier one denied. Patterns without a slash
// also match any base name.
type Rules struct {
	patterns []*pattern
	source   []string
}

// Compile parses deny patterns.
func Compile(deny []string) (*Rules, error) {
	r := &Rules{source: append([]string(nil), deny...)}
	for _, d := range deny {
		p, err := newPattern(d)
		if err != nil {
			return nil, fmt.Errorf("invalid authz pattern %q: %w", d, err)
		}
		r.patterns = append(r.patterns, p)
	}
	return r, nil
}

// Patterns returns the source patterns.
func (r *Rules) Patterns() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.source...)
}

func (r *Rules) denies(path string) bool {
	denied := false
	for _, p := range r.patterns {
		if p.matches(path) {
			denied = !p.negated
		}
	}
	return denied
}

// Allowed reports whether path and every parent of it is readable. A nil
// Rules allows everything.
func (r *Rules) Allowed(path string) bool {
	if r == nil || len(r.patterns) == 0 || path == "" {
		return true
	}
	for p := path; p != "" && p != "."; p = pathpkg.Dir(p) {
		if r.denies(p) {
			return false
		}
	}
	return true
}

type file struct {
	Deny []string `yaml:"deny" json:"deny"`
}

// Load reads a rules file: a YAML (or JSON) document with a "deny" list.
func Load(name string) (*Rules, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading authz file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing authz file: %w", err)
	}
	return Compile(f.Deny)
}

// Policy holds the current rules and can be swapped while sessions use it.
type Policy struct {
	rules atomic.Pointer[Rules]
}

func NewPolicy(rules *Rules) *Policy {
	p := &Policy{}
	p.rules.Store(rules)
	return p
}

// Allowed checks path against the current rules. A nil Policy allows
// everything.
func (p *Policy) Allowed(path string) bool {
	if p == nil {
		return true
	}
	return p.rules.Load().Allowed(path)
}

func (p *Policy) Rules() *Rules {
	return p.rules.Load()
}

func (p *Policy) Set(rules *Rules) {
	p.rules.Store(rules)
}
