// Package scope derives the affinity keys used for process placement and
// decides which scopes must never share a process with another worker.
package scope

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// Origin returns the scheme://host[:port] part of rawURL, the affinity
// grouping a new process is created under.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse script url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("script url %q has no origin", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Default returns the scope a script registers under when none is given:
// the URL of the directory containing the script.
func Default(scriptURL string) (string, error) {
	u, err := url.Parse(scriptURL)
	if err != nil {
		return "", fmt.Errorf("parse script url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("script url %q has no origin", scriptURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	if i := strings.LastIndex(u.Path, "/"); i >= 0 {
		u.Path = u.Path[:i+1]
	} else {
		u.Path = "/"
	}
	return u.String(), nil
}

// Policy lists scopes whose workers always get a dedicated process.
// The zero value isolates nothing.
type Policy struct {
	patterns []string
	globs    []glob.Glob
}

// NewPolicy compiles the isolation patterns. Patterns use glob syntax with
// '/' as separator, so "https://*.example.com/**" isolates every scope on
// any subdomain of example.com.
func NewPolicy(patterns []string) (*Policy, error) {
	p := &Policy{}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid isolation pattern %q: %w", pattern, err)
		}
		p.patterns = append(p.patterns, pattern)
		p.globs = append(p.globs, g)
	}
	return p, nil
}

// Isolated reports whether scope matches any isolation pattern.
func (p *Policy) Isolated(scope string) bool {
	if p == nil {
		return false
	}
	for _, g := range p.globs {
		if g.Match(scope) {
			return true
		}
	}
	return false
}

// AllowReuse applies the policy to a caller's reuse preference.
func (p *Policy) AllowReuse(scope string, requested bool) bool {
	return requested && !p.Isolated(scope)
}

// Patterns returns the configured patterns.
func (p *Policy) Patterns() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.patterns...)
}
