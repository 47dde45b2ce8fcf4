// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import (
	"fmt"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	testCases := []struct {
		in       string
		expected string
	}{
		{in: "", expected: "/"},
		{in: "/", expected: "/"},
		{in: "a", expected: "/a"},
		{in: "/a", expected: "/a"},
		{in: "/a/", expected: "/a/"},
		{in: "/a//b", expected: "/a/b"},
		{in: "/a/./b", expected: "/a/b"},
		{in: "/a/b/../c", expected: "/a/c"},
		{in: "/a/b/../c/", expected: "/a/c/"},
		{in: "//", expected: "/"},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("in:%q", tc.in), func(t *testing.T) {
			if got := NormalizePath(tc.in); got != tc.expected {
				t.Errorf("NormalizePath(%q) = %q; want %q", tc.in, got, tc.expected)
			}
		})
	}
}

func TestBuildURL(t *testing.T) {
	pr := NewPathResolver(nil)

	testCases := []struct {
		path       string
		collection bool
		expected   string
	}{
		{path: "/a", collection: false, expected: "http://localhost/a"},
		{path: "/a", collection: true, expected: "http://localhost/a/"},
		{path: "/a/", collection: false, expected: "http://localhost/a/"},
		{path: "a/b", collection: false, expected: "http://localhost/a/b"},
		{path: "/", collection: true, expected: "http://localhost/"},
	}

	for _, tc := range testCases {
		if got := pr.BuildURL(tc.path, tc.collection); got != tc.expected {
			t.Errorf("BuildURL(%q, %v) = %q; want %q", tc.path, tc.collection, got, tc.expected)
		}
	}
}

func TestBuildURLRewriteHook(t *testing.T) {
	pr := NewPathResolver(func(p string) string {
		return "/root" + p
	})
	if got := pr.BuildURL("/a", false); got != "http://localhost/root/a" {
		t.Errorf("rewritten URL = %q; want %q", got, "http://localhost/root/a")
	}
}

func TestPathOf(t *testing.T) {
	pr := NewPathResolver(nil)

	testCases := []struct {
		in       string
		expected string
	}{
		{in: "http://localhost/a/b", expected: "/a/b"},
		{in: "http://localhost/", expected: "/"},
		{in: "http://localhost", expected: "/"},
		{in: "http://example.com/x/y", expected: "/x/y"},
		{in: "/plain/path", expected: "/plain/path"},
	}

	for _, tc := range testCases {
		if got := pr.PathOf(tc.in); got != tc.expected {
			t.Errorf("PathOf(%q) = %q; want %q", tc.in, got, tc.expected)
		}
	}
}

func TestCompare(t *testing.T) {
	const base = "http://localhost"

	testCases := []struct {
		name           string
		left           string
		leftRecursive  bool
		right          string
		rightRecursive bool
		expected       CompareResult
	}{
		{name: "identical", left: base + "/a", right: base + "/a", expected: Reference},
		{name: "identical collections", left: base + "/a/", right: base + "/a/", expected: Reference},
		{name: "left parent recursive", left: base + "/a/", leftRecursive: true, right: base + "/a/b", expected: LeftIsParent},
		{name: "left parent not recursive", left: base + "/a/", right: base + "/a/b", expected: NoMatch},
		{name: "right parent recursive", left: base + "/a/b", right: base + "/a/", rightRecursive: true, expected: RightIsParent},
		{name: "right parent not recursive", left: base + "/a/b", right: base + "/a/", expected: NoMatch},
		{name: "siblings", left: base + "/a/b", leftRecursive: true, right: base + "/a/c", rightRecursive: true, expected: NoMatch},
		{name: "segment boundary", left: base + "/a", leftRecursive: true, right: base + "/ab", expected: NoMatch},
		{name: "root covers all", left: base + "/", leftRecursive: true, right: base + "/x/y/z", expected: LeftIsParent},
		{name: "deep ancestor", left: base + "/a/", leftRecursive: true, right: base + "/a/b/c/d", expected: LeftIsParent},
		{name: "no slash parent at boundary", left: base + "/a", leftRecursive: true, right: base + "/a/b", expected: LeftIsParent},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Compare(tc.left, tc.leftRecursive, tc.right, tc.rightRecursive)
			if got != tc.expected {
				t.Errorf("Compare(%q, %v, %q, %v) = %v; want %v",
					tc.left, tc.leftRecursive, tc.right, tc.rightRecursive, got, tc.expected)
			}
		})
	}
}

// The comparator must be antisymmetric: whenever the left side parents the
// right, flipping the arguments must report the right side as parent.
func TestCompareAntisymmetry(t *testing.T) {
	const base = "http://localhost"
	pairs := [][2]string{
		{base + "/a/", base + "/a/b"},
		{base + "/", base + "/x"},
		{base + "/a/b/", base + "/a/b/c/d"},
	}

	for _, p := range pairs {
		if got := Compare(p[0], true, p[1], true); got != LeftIsParent {
			t.Errorf("Compare(%q, %q) = %v; want LeftIsParent", p[0], p[1], got)
		}
		if got := Compare(p[1], true, p[0], true); got != RightIsParent {
			t.Errorf("Compare(%q, %q) = %v; want RightIsParent", p[1], p[0], got)
		}
	}
}

func TestEqualResource(t *testing.T) {
	testCases := []struct {
		a, b     string
		expected bool
	}{
		{a: "http://localhost/a", b: "http://localhost/a/", expected: true},
		{a: "http://localhost/a/", b: "http://localhost/a/", expected: true},
		{a: "http://localhost/a", b: "http://localhost/b", expected: false},
		{a: "http://localhost/a", b: "http://localhost/a/b", expected: false},
	}
	for _, tc := range testCases {
		if got := EqualResource(tc.a, tc.b); got != tc.expected {
			t.Errorf("EqualResource(%q, %q) = %v; want %v", tc.a, tc.b, got, tc.expected)
		}
	}
}
