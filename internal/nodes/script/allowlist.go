// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package script

import (
	"net/url"
	"strings"

	"github.com/rapidaai/streamkit/pkg/commons"
)

// AllowlistRule names one permitted fetch target: a URL pattern of the form
// scheme://host[:port]/path, with "*" wildcards allowed in the host and
// path segments, and the HTTP methods it permits.
type AllowlistRule struct {
	URLPattern string
	Methods    []string
}

// compiledRule is an AllowlistRule with its pattern pre-split for matching.
type compiledRule struct {
	scheme  string
	host    string // may contain "*" wildcard segments
	path    string // may contain "*" wildcard segments
	methods map[string]bool
}

// compileAllowlist parses every rule, dropping (and logging) any with an
// unparseable pattern rather than failing the whole node.
func compileAllowlist(rules []AllowlistRule, logger commons.Logger) []compiledRule {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		c, ok := compileRule(r)
		if !ok {
			if logger != nil {
				logger.Warnw("ignoring invalid fetch allowlist pattern", "pattern", r.URLPattern)
			}
			continue
		}
		compiled = append(compiled, c)
	}
	return compiled
}

func compileRule(r AllowlistRule) (compiledRule, bool) {
	parts := strings.SplitN(r.URLPattern, "://", 2)
	if len(parts) != 2 {
		return compiledRule{}, false
	}
	scheme := strings.ToLower(parts[0])
	rest := parts[1]
	slash := strings.IndexByte(rest, '/')
	host := rest
	path := "/*"
	if slash >= 0 {
		host = rest[:slash]
		path = rest[slash:]
	}
	host = strings.ToLower(host)
	if scheme == "" || host == "" {
		return compiledRule{}, false
	}
	methods := make(map[string]bool, len(r.Methods))
	for _, m := range r.Methods {
		methods[strings.ToUpper(m)] = true
	}
	return compiledRule{scheme: scheme, host: host, path: path, methods: methods}, true
}

// allows reports whether (rawURL, method) matches any compiled rule. An
// empty allowlist blocks everything — callers must opt in explicitly.
func allows(rules []compiledRule, rawURL, method string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	method = strings.ToUpper(method)
	for _, r := range rules {
		if len(r.methods) > 0 && !r.methods[method] {
			continue
		}
		if r.scheme != "*" && r.scheme != u.Scheme {
			continue
		}
		if !wildcardMatch(r.host, strings.ToLower(u.Host)) {
			continue
		}
		if !wildcardMatch(r.path, u.Path) {
			continue
		}
		return true
	}
	return false
}

// wildcardMatch implements the "*" segment wildcard used by host and path
// patterns: "*" matches any run of characters (including none).
func wildcardMatch(pattern, s string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, segments[0]) {
		return false
	}
	s = s[len(segments[0]):]
	for i := 1; i < len(segments)-1; i++ {
		idx := strings.Index(s, segments[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(segments[i]):]
	}
	last := segments[len(segments)-1]
	return strings.HasSuffix(s, last)
}
