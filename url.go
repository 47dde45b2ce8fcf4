// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import (
	"net/url"
	"path"
	"strings"
)

// virtualBase is prepended to resource paths to form the absolute lock URLs
// the comparator operates on. The host part is never dereferenced.
const virtualBase = "http://localhost"

// CompareResult classifies the relation between two scoped lock URLs.
type CompareResult uint8

const (
	// NoMatch means the two scopes do not touch.
	NoMatch CompareResult = iota
	// Reference means the two URLs name the same resource.
	Reference
	// LeftIsParent means the left URL is a recursive ancestor of the right.
	LeftIsParent
	// RightIsParent means the right URL is a recursive ancestor of the left.
	RightIsParent
)

func (r CompareResult) String() string {
	switch r {
	case Reference:
		return "reference"
	case LeftIsParent:
		return "left-is-parent"
	case RightIsParent:
		return "right-is-parent"
	default:
		return "no-match"
	}
}

// RewriteFunc further canonicalizes a normalized path, for example to map a
// user-visible mount prefix onto a canonical root. It must be deterministic
// and idempotent: rewrite(rewrite(p)) == rewrite(p).
type RewriteFunc func(string) string

// PathResolver turns resource paths into the absolute, normalized lock URLs
// stored on ActiveLock records and fed to Compare.
type PathResolver struct {
	rewrite RewriteFunc
}

// NewPathResolver returns a resolver with an optional rewrite hook.
func NewPathResolver(rewrite RewriteFunc) *PathResolver {
	return &PathResolver{rewrite: rewrite}
}

var defaultResolver = NewPathResolver(nil)

// NormalizePath cleans a resource path while preserving a trailing slash,
// which marks the path as a collection. The result always begins with "/".
func NormalizePath(p string) string {
	trailing := strings.HasSuffix(p, "/")
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	p = path.Clean(p)
	if trailing && p != "/" {
		p += "/"
	}
	return p
}

// BuildURL forms the absolute lock URL for a resource path. When collection
// is true the path gains a trailing slash so that subtree prefix relations
// hold at segment boundaries.
func (pr *PathResolver) BuildURL(p string, collection bool) string {
	p = NormalizePath(p)
	if collection && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	if pr.rewrite != nil {
		p = pr.rewrite(p)
	}
	return virtualBase + p
}

// PathOf is the inverse of BuildURL for reporting: it strips the virtual
// base from a lock URL. Arbitrary absolute URLs (client Coded-URL resource
// tags) are reduced to their path component.
func (pr *PathResolver) PathOf(lockURL string) string {
	if rest, ok := strings.CutPrefix(lockURL, virtualBase); ok {
		return NormalizePath(rest)
	}
	if u, err := url.Parse(lockURL); err == nil && u.Path != "" {
		return NormalizePath(u.Path)
	}
	return NormalizePath(lockURL)
}

// Compare computes the four-valued relation between two scoped URLs. A URL
// only parents another when its own scope is recursive; depth-0 locks never
// cover descendants.
func Compare(left string, leftRecursive bool, right string, rightRecursive bool) CompareResult {
	if left == right {
		return Reference
	}
	if leftRecursive && isURLBase(left, right) {
		return LeftIsParent
	}
	if rightRecursive && isURLBase(right, left) {
		return RightIsParent
	}
	return NoMatch
}

// isURLBase reports whether base strictly contains sub at a path segment
// boundary. A collection URL ends in "/", so the boundary check reduces to
// a prefix test against base with a separating slash.
func isURLBase(base, sub string) bool {
	if len(sub) <= len(base) {
		return false
	}
	if strings.HasSuffix(base, "/") {
		return strings.HasPrefix(sub, base)
	}
	return strings.HasPrefix(sub, base+"/")
}

// EqualResource reports whether two lock URLs name the same resource while
// tolerating the trailing-slash collection marker on either side. Clients
// routinely name a collection without the slash its lock was stored with.
func EqualResource(a, b string) bool {
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}
