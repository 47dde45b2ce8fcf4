// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOSFSSelect(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "file.txt"), []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}

	fs, err := NewOSFS(dir)
	if err != nil {
		t.Fatalf("NewOSFS: %v", err)
	}

	res, err := fs.Select(ctx, "/file.txt")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res == nil {
		t.Fatal("Select returned nil for an existing file")
	}
	etag, ok, err := res.EntityTag(ctx)
	if err != nil || !ok {
		t.Fatalf("EntityTag = %q, %v, %v; want a tag", etag, ok, err)
	}
	if !strings.HasPrefix(etag, `"`) || !strings.HasSuffix(etag, `"`) {
		t.Errorf("EntityTag %q is not quoted", etag)
	}

	missing, err := fs.Select(ctx, "/nope.txt")
	if err != nil {
		t.Fatalf("Select(missing): %v", err)
	}
	if missing != nil {
		t.Error("Select returned an entry for a missing file")
	}

	// Directories exist but carry no tag.
	root, err := fs.Select(ctx, "/")
	if err != nil || root == nil {
		t.Fatalf("Select(/) = %v, %v", root, err)
	}
	if _, ok, _ := root.EntityTag(ctx); ok {
		t.Error("directory unexpectedly has an entity tag")
	}
}

func TestOSFSTraversalCleaned(t *testing.T) {
	fs, err := NewOSFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewOSFS: %v", err)
	}
	// ".." segments are normalized away before the path touches the disk.
	res, err := fs.Select(context.Background(), "/../../etc/passwd")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res != nil {
		t.Error("traversal escaped the root")
	}
}
