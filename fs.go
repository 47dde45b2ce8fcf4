// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSystem is the resource-store collaborator. The lock core consults it
// only for existence and entity tags while evaluating If conditions; it
// never reads or writes resource data.
type FileSystem interface {
	// Select resolves a resource path. A missing resource is (nil, nil),
	// not an error.
	Select(ctx context.Context, name string) (Resource, error)
}

// Resource is one entry of the resource store.
type Resource interface {
	// EntityTag returns the resource's entity tag in wire form (quotes
	// included). ok is false when the store defines no tag for the entry.
	EntityTag(ctx context.Context) (etag string, ok bool, err error)
}

// OSFS serves entity tags from a local directory tree.
type OSFS struct {
	RootDir string
}

// NewOSFS creates an OSFS rooted at rootDir.
func NewOSFS(rootDir string) (*OSFS, error) {
	rootDir, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}
	return &OSFS{RootDir: rootDir}, nil
}

// resolve maps a lock path into the root directory. NormalizePath has
// already cleaned away any ".." segments, so the result cannot escape.
func (fs *OSFS) resolve(name string) string {
	name = strings.TrimPrefix(NormalizePath(name), "/")
	return filepath.Join(fs.RootDir, filepath.FromSlash(name))
}

// Select implements FileSystem over os.Stat.
func (fs *OSFS) Select(ctx context.Context, name string) (Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(fs.resolve(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &osResource{info: info}, nil
}

type osResource struct {
	info os.FileInfo
}

// EntityTag derives a tag from modification time and size, the convention
// of file-backed WebDAV stores. Directories carry no tag.
func (r *osResource) EntityTag(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if r.info.IsDir() {
		return "", false, nil
	}
	return fmt.Sprintf("\"%x%x\"", r.info.ModTime().UnixNano(), r.info.Size()), true, nil
}
